// Package config assembles the server configuration from, in order of
// precedence: command line flags, SECRETS_* environment variables, an
// optional Lua file and the built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/andrebq/secrets/credential"
	"github.com/andrebq/secrets/federated"
	"github.com/caarlos0/env/v11"
)

type (
	Config struct {
		Bind        string `lua:"bind" env:"BIND"`
		DatabaseDSN string `lua:"database" env:"DATABASE_DSN"`
		LogLevel    string `lua:"log_level" env:"LOG_LEVEL"`

		Strategy   string `lua:"strategy" env:"STRATEGY"`
		BcryptCost int    `lua:"bcrypt_cost" env:"BCRYPT_COST"`
		Iterations int    `lua:"pbkdf2_iterations" env:"PBKDF2_ITERATIONS"`
		// SecretEnvVar names the variable holding the encryption secret,
		// the secret itself never goes through the config.
		SecretEnvVar   string `lua:"secret_envvar" env:"SECRET_ENVVAR"`
		StateKeyEnvVar string `lua:"state_key_envvar" env:"STATE_KEY_ENVVAR"`

		SessionBackend string        `lua:"session_backend" env:"SESSION_BACKEND"`
		SessionTTL     time.Duration `lua:"-" env:"SESSION_TTL"`
		RedisURL       string        `lua:"redis_url" env:"REDIS_URL"`
		InsecureCookie bool          `lua:"insecure_cookie" env:"INSECURE_COOKIE"`

		Google   federated.Settings `lua:"google" envPrefix:"GOOGLE_"`
		Facebook federated.Settings `lua:"facebook" envPrefix:"FACEBOOK_"`
	}

	InvalidConfig struct {
		Field  string
		Reason string
	}
)

const (
	EnvPrefix = "SECRETS_"

	StateKeyEnvVar = "SECRETS_STATE_KEY"

	SessionMemory = "memory"
	SessionRedis  = "redis"
)

func (i InvalidConfig) Error() string {
	return fmt.Sprintf("config: invalid %v, %v", i.Field, i.Reason)
}

func Default() Config {
	return Config{
		Bind:           "127.0.0.1:3000",
		DatabaseDSN:    "sqlite3://./data/users.db",
		LogLevel:       "info",
		Strategy:       credential.Delegated.String(),
		BcryptCost:     credential.DefaultBcryptCost,
		Iterations:     credential.DefaultIterations,
		SecretEnvVar:   credential.SecretEnvVar,
		StateKeyEnvVar: StateKeyEnvVar,
		SessionBackend: SessionMemory,
		SessionTTL:     24 * time.Hour,
	}
}

// Load returns the defaults overlaid with file (when not empty) and with
// the process environment.
func Load(file string) (Config, error) {
	cfg := Default()
	if file != "" {
		if err := LoadFile(&cfg, file); err != nil {
			return Config{}, err
		}
	}
	if err := LoadEnv(&cfg, nil); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadEnv overlays SECRETS_* variables on cfg. A nil environ means the
// process environment. Unset variables leave the current value alone.
func LoadEnv(cfg *Config, environ map[string]string) error {
	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return fmt.Errorf("unable to read configuration from environment, cause %w", err)
	}
	return nil
}

func (c Config) Validate() error {
	if c.Bind == "" {
		return InvalidConfig{Field: "bind", Reason: "cannot be empty"}
	}
	if c.DatabaseDSN == "" {
		return InvalidConfig{Field: "database", Reason: "cannot be empty"}
	}
	if _, err := credential.ParseKind(c.Strategy); err != nil {
		return InvalidConfig{Field: "strategy", Reason: err.Error()}
	}
	if c.SessionTTL <= 0 {
		return InvalidConfig{Field: "session_ttl", Reason: "must be positive"}
	}
	switch c.SessionBackend {
	case SessionMemory:
	case SessionRedis:
		if c.RedisURL == "" {
			return InvalidConfig{Field: "redis_url", Reason: "required by the redis session backend"}
		}
	default:
		return InvalidConfig{Field: "session_backend", Reason: fmt.Sprintf("%q is not one of memory, redis", c.SessionBackend)}
	}
	return nil
}

// CredentialStrategy builds the configured strategy. The encryption
// key is only derived (and its variable wiped) for the encryption strategy.
func (c Config) CredentialStrategy(getenv func(string) string, setenv func(string, string) error) (credential.Strategy, error) {
	kind, err := credential.ParseKind(c.Strategy)
	if err != nil {
		return credential.Strategy{}, err
	}
	opts := []credential.Option{
		credential.WithBcryptCost(c.BcryptCost),
		credential.WithIterations(c.Iterations),
	}
	if kind == credential.Encrypted {
		key, err := credential.KeyFromEnv(c.SecretEnvVar, getenv, setenv)
		if err != nil {
			return credential.Strategy{}, err
		}
		opts = append(opts, credential.WithKey(key))
	}
	return credential.New(kind, opts...)
}

// StateKey reads the key that signs oauth state values and wipes it from
// the environment.
func (c Config) StateKey(getenv func(string) string, setenv func(string, string) error) ([]byte, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	if setenv == nil {
		setenv = os.Setenv
	}
	val := getenv(c.StateKeyEnvVar)
	if err := setenv(c.StateKeyEnvVar, ""); err != nil {
		return nil, fmt.Errorf("config: unable to clear %v, cause %w", c.StateKeyEnvVar, err)
	}
	if len(val) < 32 {
		return nil, errors.New("config: state key must have at least 32 characters")
	}
	return []byte(val), nil
}

// Providers returns the federated providers with client credentials.
func (c Config) Providers() []federated.Provider {
	var out []federated.Provider
	if c.Google.Enabled() {
		out = append(out, federated.Google(c.Google))
	}
	if c.Facebook.Enabled() {
		out = append(out, federated.Facebook(c.Facebook))
	}
	return out
}
