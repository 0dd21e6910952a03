// Package verifier decides who gets in.
//
// It creates records at registration, checks (identity, secret) pairs at
// login and does find-or-create for identities asserted by a federated
// provider. Hashing and encryption are delegated to a credential.Strategy,
// persistence to a Store.
//
// A login attempt goes through Received, Lookup and Verify and ends either
// Accepted or Rejected. Every rejection returns the same Rejected error, the
// reason (unknown identity, wrong secret, unreadable credential) only reaches
// the logs.
package verifier

import (
	"context"
	"errors"
	"fmt"

	"github.com/andrebq/secrets/credential"
	"github.com/andrebq/secrets/internal/logutil"
	"github.com/andrebq/secrets/userstore"
)

type (
	Store interface {
		FindByIdentity(ctx context.Context, identity string) (userstore.Record, error)
		FindByFederatedID(ctx context.Context, provider, federatedID string) (userstore.Record, error)
		FindByID(ctx context.Context, id string) (userstore.Record, error)
		Insert(ctx context.Context, r *userstore.Record) error
		Update(ctx context.Context, r userstore.Record) error
		ListSecrets(ctx context.Context) ([]string, error)
	}

	Verifier struct {
		store    Store
		strategy credential.Strategy
		// decoy is verified when the identity is unknown, so that path
		// costs about as much as a wrong secret
		decoy string
	}
)

func New(store Store, strategy credential.Strategy) (*Verifier, error) {
	decoy, err := strategy.Encode("decoy credential, never matches a real login")
	if err != nil {
		return nil, fmt.Errorf("unable to prepare verifier, cause %w", err)
	}
	return &Verifier{store: store, strategy: strategy, decoy: decoy}, nil
}

func (v *Verifier) Strategy() credential.Kind {
	return v.strategy.Kind()
}

// Register creates the record for identity. The identity must not exist yet.
func (v *Verifier) Register(ctx context.Context, identity, secret string) (userstore.Record, error) {
	if identity == "" {
		return userstore.Record{}, InvalidInput{Field: "identity"}
	}
	if secret == "" {
		return userstore.Record{}, InvalidInput{Field: "secret"}
	}
	// cheap check first, hashing is the expensive part;
	// Insert below stays the authority on uniqueness
	_, err := v.store.FindByIdentity(ctx, identity)
	if err == nil {
		return userstore.Record{}, DuplicateIdentity{Identity: identity}
	} else if !errors.As(err, &userstore.RecordNotFound{}) {
		return userstore.Record{}, err
	}
	encoded, err := v.strategy.Encode(secret)
	if err != nil {
		return userstore.Record{}, err
	}
	rec := userstore.Record{
		Identity:   identity,
		Credential: encoded,
		Strategy:   v.strategy.Kind().String(),
	}
	err = v.store.Insert(ctx, &rec)
	if errors.As(err, &userstore.DuplicateRecord{}) {
		return userstore.Record{}, DuplicateIdentity{Identity: identity}
	} else if err != nil {
		return userstore.Record{}, err
	}
	log := logutil.GetOrDefault(ctx)
	log.Info().Str("user.id", rec.ID).Str("strategy", rec.Strategy).Msg("Identity registered")
	return rec, nil
}

// Login accepts the attempt only when identity exists and secret verifies
// against its stored credential.
func (v *Verifier) Login(ctx context.Context, identity, secret string) (userstore.Record, error) {
	log := logutil.GetOrDefault(ctx).With().Str("strategy", v.strategy.Kind().String()).Logger()
	rec, err := v.store.FindByIdentity(ctx, identity)
	if errors.As(err, &userstore.RecordNotFound{}) {
		v.strategy.Verify(secret, v.decoy)
		log.Debug().Str("reason", "unknown identity").Msg("Login rejected")
		return userstore.Record{}, Rejected{}
	} else if err != nil {
		return userstore.Record{}, err
	}
	if reason := v.check(rec, secret); reason != "" {
		log.Debug().Str("user.id", rec.ID).Str("reason", reason).Msg("Login rejected")
		return userstore.Record{}, Rejected{}
	}
	log.Debug().Str("user.id", rec.ID).Msg("Login accepted")
	return rec, nil
}

func (v *Verifier) check(rec userstore.Record, secret string) string {
	switch {
	case rec.Credential == "":
		// federated records never had a local secret
		v.strategy.Verify(secret, v.decoy)
		return "no local credential"
	case rec.Strategy != v.strategy.Kind().String():
		v.strategy.Verify(secret, v.decoy)
		return fmt.Sprintf("credential stored with strategy %v", rec.Strategy)
	case !v.strategy.Verify(secret, rec.Credential):
		if err := v.strategy.Inspect(rec.Credential); err != nil {
			return err.Error()
		}
		return "secret mismatch"
	}
	return ""
}

// FederatedLogin trusts the provider's assertion: the record for
// (provider, subject) is returned, and created on first sight.
// created reports whether this call inserted it.
func (v *Verifier) FederatedLogin(ctx context.Context, provider, subject string) (rec userstore.Record, created bool, err error) {
	if provider == "" {
		return userstore.Record{}, false, InvalidInput{Field: "provider"}
	}
	if subject == "" {
		return userstore.Record{}, false, InvalidInput{Field: "subject"}
	}
	rec, err = v.store.FindByFederatedID(ctx, provider, subject)
	if err == nil {
		return rec, false, nil
	} else if !errors.As(err, &userstore.RecordNotFound{}) {
		return userstore.Record{}, false, err
	}
	rec = userstore.Record{
		Identity:    FederatedIdentity(provider, subject),
		Provider:    provider,
		FederatedID: subject,
	}
	err = v.store.Insert(ctx, &rec)
	if errors.As(err, &userstore.DuplicateRecord{}) {
		// lost a race with a concurrent first login, use the winner
		rec, err = v.store.FindByFederatedID(ctx, provider, subject)
		if err != nil {
			return userstore.Record{}, false, fmt.Errorf("unable to resolve federated identity %v, cause %w", FederatedIdentity(provider, subject), err)
		}
		return rec, false, nil
	} else if err != nil {
		return userstore.Record{}, false, err
	}
	log := logutil.GetOrDefault(ctx)
	log.Info().Str("user.id", rec.ID).Str("provider", provider).Msg("Federated identity created")
	return rec, true, nil
}

// FederatedIdentity is the identity given to records created by a provider.
func FederatedIdentity(provider, subject string) string {
	return provider + ":" + subject
}

func (v *Verifier) Lookup(ctx context.Context, recordID string) (userstore.Record, error) {
	return v.store.FindByID(ctx, recordID)
}

// SubmitSecret stores text as the secret shared by recordID.
func (v *Verifier) SubmitSecret(ctx context.Context, recordID, text string) error {
	if text == "" {
		return InvalidInput{Field: "secret"}
	}
	rec, err := v.store.FindByID(ctx, recordID)
	if err != nil {
		return err
	}
	rec.SecretText = text
	return v.store.Update(ctx, rec)
}

func (v *Verifier) Secrets(ctx context.Context) ([]string, error) {
	return v.store.ListSecrets(ctx)
}
