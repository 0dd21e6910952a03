package testutil

import (
	"context"
	"path/filepath"

	"github.com/andrebq/secrets/credential"
	"github.com/andrebq/secrets/userstore"
	"github.com/andrebq/secrets/verifier"
	"golang.org/x/crypto/bcrypt"
)

type (
	TestLog interface {
		Fatal(...interface{})
		Log(...interface{})
		TempDir() string
	}
)

// TestSecret is the static secret used to derive encryption keys in tests.
const TestSecret = "Thisisourlittlesecret."

// AcquireStore opens a fresh sqlite backed userstore inside a temp dir.
func AcquireStore(ctx context.Context, t TestLog) (*userstore.Store, func()) {
	s, err := userstore.Open(ctx, filepath.Join(t.TempDir(), "users.db"))
	if err != nil {
		t.Fatal(err)
	}
	return s, func() {
		err := s.Close()
		if err != nil {
			t.Log("unable to close store", err)
		}
	}
}

// Strategy returns a strategy of the given kind tuned to be cheap, tests
// would take minutes with production bcrypt and pbkdf2 parameters.
func Strategy(t TestLog, kind credential.Kind) credential.Strategy {
	s, err := credential.New(kind,
		credential.WithKey(credential.DeriveKey([]byte(TestSecret))),
		credential.WithBcryptCost(bcrypt.MinCost),
		credential.WithIterations(1000))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

// AcquireVerifier combines AcquireStore and Strategy.
func AcquireVerifier(ctx context.Context, t TestLog, kind credential.Kind) (*verifier.Verifier, *userstore.Store, func()) {
	store, cleanup := AcquireStore(ctx, t)
	v, err := verifier.New(store, Strategy(t, kind))
	if err != nil {
		cleanup()
		t.Fatal(err)
	}
	return v, store, cleanup
}
