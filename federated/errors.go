package federated

import "fmt"

type (
	UnknownProvider struct {
		Name string
	}

	// InvalidState is returned when the state echoed by the provider was not
	// issued by this server, expired or names another provider.
	InvalidState struct {
		Reason string
	}

	ProviderFailure struct {
		Provider string
		Step     string
		Cause    error
	}
)

func (u UnknownProvider) Error() string {
	return fmt.Sprintf("federated: unknown provider %q", u.Name)
}

func (i InvalidState) Error() string {
	return fmt.Sprintf("federated: invalid state, %v", i.Reason)
}

func (p ProviderFailure) Error() string {
	return fmt.Sprintf("federated: unable to %v with %v, cause %v", p.Step, p.Provider, p.Cause)
}

func (p ProviderFailure) Unwrap() error {
	return p.Cause
}
