package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/andrebq/secrets/credential"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "secrets.lua")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.Equal(t, "delegated", cfg.Strategy)
	require.Empty(t, cfg.Providers())
}

func TestLuaFile(t *testing.T) {
	cfg := Default()
	err := LoadFile(&cfg, writeFile(t, `
local port = 8000 + 80
return {
	bind = "0.0.0.0:" .. tostring(port),
	strategy = "bcrypt",
	bcrypt_cost = 12,
	session_ttl = "90m",
	insecure_cookie = true,
	google = {
		client_id = "google-client",
		client_secret = "google-secret",
		redirect_url = "http://localhost:8080/auth/google/callback",
	},
}`))
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:8080", cfg.Bind)
	require.Equal(t, "bcrypt", cfg.Strategy)
	require.Equal(t, 12, cfg.BcryptCost)
	require.Equal(t, 90*time.Minute, cfg.SessionTTL)
	require.True(t, cfg.InsecureCookie)
	require.Equal(t, "google-client", cfg.Google.ClientID)
	// untouched keys keep their defaults
	require.Equal(t, Default().DatabaseDSN, cfg.DatabaseDSN)

	providers := cfg.Providers()
	require.Len(t, providers, 1)
	require.Equal(t, "google", providers[0].Name)
}

func TestLuaFileErrors(t *testing.T) {
	for name, content := range map[string]string{
		"no table":     `return 42`,
		"unknown key":  `return { bnd = ":3000" }`,
		"bad duration": `return { session_ttl = "forever" }`,
		"syntax":       `return {`,
		"sandboxed io": `local f = io.open("/etc/passwd") return {}`,
		"sandboxed os": `os.exit(1) return {}`,
		"no dofile":    `dofile("/etc/passwd") return {}`,
	} {
		cfg := Default()
		require.Error(t, LoadFile(&cfg, writeFile(t, content)), name)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	cfg := Default()
	require.NoError(t, LoadFile(&cfg, writeFile(t, `return { bind = ":4000", strategy = "md5" }`)))
	require.NoError(t, LoadEnv(&cfg, map[string]string{
		"SECRETS_BIND":                   ":5000",
		"SECRETS_SESSION_TTL":            "30m",
		"SECRETS_SESSION_BACKEND":        "redis",
		"SECRETS_REDIS_URL":              "redis://localhost:6379/0",
		"SECRETS_FACEBOOK_CLIENT_ID":     "fb",
		"SECRETS_FACEBOOK_CLIENT_SECRET": "fb-secret",
	}))
	require.Equal(t, ":5000", cfg.Bind)
	require.Equal(t, "md5", cfg.Strategy, "file values survive when the environment is silent")
	require.Equal(t, 30*time.Minute, cfg.SessionTTL)
	require.NoError(t, cfg.Validate())
	require.Equal(t, "facebook", cfg.Providers()[0].Name)
}

func TestValidate(t *testing.T) {
	for _, tc := range []struct {
		field  string
		change func(*Config)
	}{
		{"strategy", func(c *Config) { c.Strategy = "rot13" }},
		{"session_backend", func(c *Config) { c.SessionBackend = "memcached" }},
		{"redis_url", func(c *Config) { c.SessionBackend = SessionRedis }},
		{"session_ttl", func(c *Config) { c.SessionTTL = 0 }},
		{"bind", func(c *Config) { c.Bind = "" }},
	} {
		cfg := Default()
		tc.change(&cfg)
		var invalid InvalidConfig
		err := cfg.Validate()
		require.True(t, errors.As(err, &invalid), "%v: got %v", tc.field, err)
		require.Equal(t, tc.field, invalid.Field)
	}
}

func TestCredentialStrategy(t *testing.T) {
	env := map[string]string{credential.SecretEnvVar: "Thisisourlittlesecret."}
	get := func(k string) string { return env[k] }
	set := func(k, v string) error { env[k] = v; return nil }

	cfg := Default()
	cfg.Strategy = "encryption"
	s, err := cfg.CredentialStrategy(get, set)
	require.NoError(t, err)
	require.Equal(t, credential.Encrypted, s.Kind())
	require.Empty(t, env[credential.SecretEnvVar])

	_, err = cfg.CredentialStrategy(get, set)
	require.Error(t, err, "the secret was already consumed")

	cfg.Strategy = "md5"
	s, err = cfg.CredentialStrategy(get, set)
	require.NoError(t, err)
	require.Equal(t, credential.Digest, s.Kind())
}

func TestStateKey(t *testing.T) {
	env := map[string]string{StateKeyEnvVar: "0123456789abcdef0123456789abcdef"}
	get := func(k string) string { return env[k] }
	set := func(k, v string) error { env[k] = v; return nil }
	key, err := Default().StateKey(get, set)
	require.NoError(t, err)
	require.Len(t, key, 32)
	require.Empty(t, env[StateKeyEnvVar])

	_, err = Default().StateKey(get, set)
	require.Error(t, err)

	env[StateKeyEnvVar] = "0123456789abcdef0123456789abcdef"
	readOnly := func(k, v string) error { return errors.New("read only environment") }
	_, err = Default().StateKey(get, readOnly)
	require.Error(t, err, "a key that cannot be wiped must not be used")
}
