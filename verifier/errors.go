package verifier

import "fmt"

type (
	DuplicateIdentity struct {
		Identity string
	}

	// Rejected is the only failure a login ever reports. Unknown identities,
	// wrong secrets and unreadable stored credentials all look the same.
	Rejected struct{}

	InvalidInput struct {
		Field string
	}
)

func (d DuplicateIdentity) Error() string {
	return fmt.Sprintf("identity %v is already registered", d.Identity)
}

func (Rejected) Error() string {
	return "invalid credentials"
}

func (i InvalidInput) Error() string {
	return fmt.Sprintf("%v cannot be empty", i.Field)
}
