package verifier_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/andrebq/secrets/credential"
	"github.com/andrebq/secrets/internal/testutil"
	"github.com/andrebq/secrets/userstore"
	"github.com/andrebq/secrets/verifier"
	"github.com/stretchr/testify/require"
)

var kinds = []credential.Kind{
	credential.Plaintext,
	credential.Encrypted,
	credential.Digest,
	credential.Bcrypt,
	credential.Delegated,
}

func TestRegisterThenLogin(t *testing.T) {
	for _, kind := range kinds {
		t.Run(kind.String(), func(t *testing.T) {
			ctx := context.Background()
			v, _, cleanup := testutil.AcquireVerifier(ctx, t, kind)
			defer cleanup()

			rec, err := v.Register(ctx, "a@x.com", "p1")
			require.NoError(t, err)
			require.Equal(t, kind.String(), rec.Strategy)

			got, err := v.Login(ctx, "a@x.com", "p1")
			require.NoError(t, err)
			require.Equal(t, rec.ID, got.ID)

			_, err = v.Login(ctx, "a@x.com", "wrong")
			require.True(t, errors.Is(err, verifier.Rejected{}), "got %v", err)

			_, err = v.Login(ctx, "b@x.com", "p1")
			require.True(t, errors.Is(err, verifier.Rejected{}), "got %v", err)
		})
	}
}

func TestStoredCredentialIsEncoded(t *testing.T) {
	for _, kind := range kinds {
		if kind == credential.Plaintext {
			continue
		}
		t.Run(kind.String(), func(t *testing.T) {
			ctx := context.Background()
			v, store, cleanup := testutil.AcquireVerifier(ctx, t, kind)
			defer cleanup()
			_, err := v.Register(ctx, "a@x.com", "p1")
			require.NoError(t, err)
			rec, err := store.FindByIdentity(ctx, "a@x.com")
			require.NoError(t, err)
			require.NotEqual(t, "p1", rec.Credential)
			require.Equal(t, kind.String(), rec.Strategy)
			require.NoError(t, testutil.Strategy(t, kind).Inspect(rec.Credential))
		})
	}
}

func TestUnknownAndWrongSecretLookAlike(t *testing.T) {
	ctx := context.Background()
	v, _, cleanup := testutil.AcquireVerifier(ctx, t, credential.Bcrypt)
	defer cleanup()
	_, err := v.Register(ctx, "a@x.com", "p1")
	require.NoError(t, err)

	_, unknown := v.Login(ctx, "nobody@x.com", "p1")
	_, wrong := v.Login(ctx, "a@x.com", "p2")
	require.Equal(t, unknown, wrong)
	require.Equal(t, unknown.Error(), wrong.Error())
}

func TestDuplicateRegistration(t *testing.T) {
	ctx := context.Background()
	v, store, cleanup := testutil.AcquireVerifier(ctx, t, credential.Delegated)
	defer cleanup()

	first, err := v.Register(ctx, "a@x.com", "p1")
	require.NoError(t, err)

	_, err = v.Register(ctx, "a@x.com", "p2")
	require.True(t, errors.Is(err, verifier.DuplicateIdentity{Identity: "a@x.com"}), "got %v", err)

	rec, err := store.FindByIdentity(ctx, "a@x.com")
	require.NoError(t, err)
	require.Equal(t, first.Credential, rec.Credential)

	_, err = v.Login(ctx, "a@x.com", "p1")
	require.NoError(t, err)
	_, err = v.Login(ctx, "a@x.com", "p2")
	require.True(t, errors.Is(err, verifier.Rejected{}))
}

func TestConcurrentRegistration(t *testing.T) {
	ctx := context.Background()
	v, _, cleanup := testutil.AcquireVerifier(ctx, t, credential.Digest)
	defer cleanup()

	var wg sync.WaitGroup
	errs := make([]error, 6)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = v.Register(ctx, "race@x.com", "p1")
		}(i)
	}
	wg.Wait()
	var ok int
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		require.True(t, errors.Is(err, verifier.DuplicateIdentity{Identity: "race@x.com"}), "got %v", err)
	}
	require.Equal(t, 1, ok)
}

func TestInvalidInput(t *testing.T) {
	ctx := context.Background()
	v, _, cleanup := testutil.AcquireVerifier(ctx, t, credential.Plaintext)
	defer cleanup()

	_, err := v.Register(ctx, "", "p1")
	require.True(t, errors.Is(err, verifier.InvalidInput{Field: "identity"}))
	_, err = v.Register(ctx, "a@x.com", "")
	require.True(t, errors.Is(err, verifier.InvalidInput{Field: "secret"}))
	_, _, err = v.FederatedLogin(ctx, "google", "")
	require.True(t, errors.Is(err, verifier.InvalidInput{Field: "subject"}))
}

func TestFederatedFindOrCreate(t *testing.T) {
	ctx := context.Background()
	v, _, cleanup := testutil.AcquireVerifier(ctx, t, credential.Bcrypt)
	defer cleanup()

	rec, created, err := v.FederatedLogin(ctx, "google", "1234")
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, "google:1234", rec.Identity)
	require.Empty(t, rec.Credential)

	require.NoError(t, v.SubmitSecret(ctx, rec.ID, "I like pineapple on pizza"))

	again, created, err := v.FederatedLogin(ctx, "google", "1234")
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, rec.ID, again.ID)
	require.Equal(t, "I like pineapple on pizza", again.SecretText, "a returning login must not reset the record")

	other, created, err := v.FederatedLogin(ctx, "facebook", "1234")
	require.NoError(t, err)
	require.True(t, created)
	require.NotEqual(t, rec.ID, other.ID)
}

func TestLocalLoginAgainstFederatedRecord(t *testing.T) {
	ctx := context.Background()
	v, _, cleanup := testutil.AcquireVerifier(ctx, t, credential.Plaintext)
	defer cleanup()

	_, _, err := v.FederatedLogin(ctx, "google", "1234")
	require.NoError(t, err)
	// plaintext compares the empty stored credential verbatim
	_, err = v.Login(ctx, "google:1234", "")
	require.True(t, errors.Is(err, verifier.Rejected{}))
}

func TestStrategyMismatchIsRejected(t *testing.T) {
	ctx := context.Background()
	store, cleanup := testutil.AcquireStore(ctx, t)
	defer cleanup()

	plain, err := verifier.New(store, testutil.Strategy(t, credential.Plaintext))
	require.NoError(t, err)
	_, err = plain.Register(ctx, "a@x.com", "p1")
	require.NoError(t, err)

	digest, err := verifier.New(store, testutil.Strategy(t, credential.Digest))
	require.NoError(t, err)
	_, err = digest.Login(ctx, "a@x.com", "p1")
	require.True(t, errors.Is(err, verifier.Rejected{}))
}

func TestSecrets(t *testing.T) {
	ctx := context.Background()
	v, _, cleanup := testutil.AcquireVerifier(ctx, t, credential.Digest)
	defer cleanup()

	a, err := v.Register(ctx, "a@x.com", "p1")
	require.NoError(t, err)
	_, err = v.Register(ctx, "b@x.com", "p1")
	require.NoError(t, err)

	require.True(t, errors.Is(v.SubmitSecret(ctx, a.ID, ""), verifier.InvalidInput{Field: "secret"}))
	require.True(t, errors.Is(v.SubmitSecret(ctx, "missing", "text"), userstore.RecordNotFound{Key: "missing"}))

	require.NoError(t, v.SubmitSecret(ctx, a.ID, "first"))
	require.NoError(t, v.SubmitSecret(ctx, a.ID, "second"))
	secrets, err := v.Secrets(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"second"}, secrets)

	found, err := v.Lookup(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, "second", found.SecretText)
}
