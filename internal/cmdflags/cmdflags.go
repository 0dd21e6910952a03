// Package cmdflags holds the flags shared by the secrets commands and turns
// them into the last layer of the configuration.
package cmdflags

import (
	"context"
	"os"

	"github.com/andrebq/secrets/internal/config"
	"github.com/andrebq/secrets/internal/logutil"
	"github.com/urfave/cli/v2"
)

const (
	configFlag         = "config"
	databaseFlag       = "database"
	strategyFlag       = "strategy"
	logLevelFlag       = "log-level"
	bindFlag           = "bind"
	sessionBackendFlag = "session-backend"
	redisURLFlag       = "redis-url"
	insecureCookieFlag = "insecure-cookie"
)

// Global flags are accepted by every command.
func Global() []cli.Flag {
	def := config.Default()
	return []cli.Flag{
		&cli.StringFlag{
			Name:    configFlag,
			Aliases: []string{"c"},
			Usage:   "Path to a Lua configuration file",
			EnvVars: []string{config.EnvPrefix + "CONFIG"},
		},
		&cli.StringFlag{
			Name:    databaseFlag,
			Aliases: []string{"db"},
			Usage:   "Database DSN, postgres://... or a sqlite file path",
			Value:   def.DatabaseDSN,
		},
		&cli.StringFlag{
			Name:  strategyFlag,
			Usage: "Credential strategy: plaintext, encryption, md5, bcrypt or delegated",
			Value: def.Strategy,
		},
		&cli.StringFlag{
			Name:  logLevelFlag,
			Usage: "Minimum log level (debug, info, warn, error)",
			Value: def.LogLevel,
		},
	}
}

// Server flags are only accepted by serve.
func Server() []cli.Flag {
	def := config.Default()
	return []cli.Flag{
		&cli.StringFlag{
			Name:  bindFlag,
			Usage: "Address to bind the web application",
			Value: def.Bind,
		},
		&cli.StringFlag{
			Name:  sessionBackendFlag,
			Usage: "Where sessions are kept: memory or redis",
			Value: def.SessionBackend,
		},
		&cli.StringFlag{
			Name:  redisURLFlag,
			Usage: "Redis URL used by the redis session backend",
		},
		&cli.BoolFlag{
			Name:  insecureCookieFlag,
			Usage: "Allow session cookies over plain HTTP (development only)",
		},
	}
}

// Load resolves the configuration: defaults, the Lua file, the environment
// and finally the flags the operator actually typed. Flag defaults never
// override the other layers.
func Load(c *cli.Context) (config.Config, error) {
	cfg, err := config.Load(c.String(configFlag))
	if err != nil {
		return config.Config{}, err
	}
	apply(c, &cfg)
	return cfg, cfg.Validate()
}

func apply(c *cli.Context, cfg *config.Config) {
	for name, dst := range map[string]*string{
		databaseFlag:       &cfg.DatabaseDSN,
		strategyFlag:       &cfg.Strategy,
		logLevelFlag:       &cfg.LogLevel,
		bindFlag:           &cfg.Bind,
		sessionBackendFlag: &cfg.SessionBackend,
		redisURLFlag:       &cfg.RedisURL,
	} {
		if c.IsSet(name) {
			*dst = c.String(name)
		}
	}
	if c.IsSet(insecureCookieFlag) {
		cfg.InsecureCookie = c.Bool(insecureCookieFlag)
	}
}

// Setup loads the configuration and returns a context carrying the logger
// built from it.
func Setup(c *cli.Context) (context.Context, config.Config, error) {
	cfg, err := Load(c)
	if err != nil {
		return nil, config.Config{}, err
	}
	logger, err := logutil.New(os.Stderr, cfg.LogLevel)
	if err != nil {
		return nil, config.Config{}, config.InvalidConfig{Field: "log_level", Reason: err.Error()}
	}
	return logutil.WithLogger(c.Context, logger), cfg, nil
}
