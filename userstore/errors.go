package userstore

import "fmt"

type (
	RecordNotFound struct {
		Key string
	}

	DuplicateRecord struct {
		Identity string
	}

	UnsupportedDSN struct {
		DSN string
	}
)

func (r RecordNotFound) Error() string {
	return fmt.Sprintf("record %v not found", r.Key)
}

func (d DuplicateRecord) Error() string {
	return fmt.Sprintf("a record for %v already exists", d.Identity)
}

func (u UnsupportedDSN) Error() string {
	return fmt.Sprintf("unable to pick a database driver for %q", u.DSN)
}
