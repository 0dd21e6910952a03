package credential

import "fmt"

type (
	UnknownKind struct {
		Name string
	}

	MissingKey struct {
		Kind Kind
	}

	MalformedCredential struct {
		Kind   Kind
		Reason string
	}
)

func (u UnknownKind) Error() string {
	return fmt.Sprintf("unknown credential strategy %q", u.Name)
}

func (m MissingKey) Error() string {
	return fmt.Sprintf("strategy %v requires an encryption key", m.Kind)
}

func (m MalformedCredential) Error() string {
	return fmt.Sprintf("stored credential is not a valid %v value: %v", m.Kind, m.Reason)
}
