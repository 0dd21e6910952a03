package credential

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/argon2"
)

const (
	SecretEnvVar = "SECRETS_CREDENTIAL_SECRET"

	keyDerivationSalt = "secrets/credential/encryption/v1"
)

type Key [32]byte

func (k *Key) Zero() {
	for i := range k {
		k[i] = 0
	}
}

// DeriveKey stretches a shared secret of any length into an encryption key.
// The derivation is deterministic so every process started with the same
// secret can read what the others wrote.
func DeriveKey(secret []byte) *Key {
	var k Key
	// 7 passes over 10 MB should be a good replacement
	// for 1 pass over 64 MB of ram.
	// parallelism is fixed because it changes the output.
	buf := argon2.IDKey(secret, []byte(keyDerivationSalt), 7, 10*1024, 4, uint32(len(k)))
	copy(k[:], buf)
	return &k
}

// KeyFromEnv reads the shared secret from varname, derives the key and wipes
// the variable.
func KeyFromEnv(varname string, getfn func(string) string, setfn func(string, string) error) (*Key, error) {
	if getfn == nil {
		getfn = os.Getenv
	}
	if setfn == nil {
		setfn = os.Setenv
	}
	val := getfn(varname)
	if err := setfn(varname, ""); err != nil {
		return nil, fmt.Errorf("credential: unable to clear %v, cause %w", varname, err)
	}
	if len(val) == 0 {
		return nil, errors.New("credential: missing shared secret in " + varname)
	}
	secret := []byte(val)
	k := DeriveKey(secret)
	for i := range secret {
		secret[i] = 0
	}
	return k, nil
}
