package serve

import (
	"context"
	"net/http"
	"os"

	"github.com/andrebq/secrets/federated"
	"github.com/andrebq/secrets/internal/cmdflags"
	"github.com/andrebq/secrets/internal/config"
	"github.com/andrebq/secrets/internal/httpserver"
	"github.com/andrebq/secrets/internal/logutil"
	"github.com/andrebq/secrets/session"
	"github.com/andrebq/secrets/userstore"
	"github.com/andrebq/secrets/verifier"
	"github.com/andrebq/secrets/webapp"
	"github.com/urfave/cli/v2"
)

func Cmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the web application",
		Flags: cmdflags.Server(),
		Action: func(c *cli.Context) error {
			ctx, cfg, err := cmdflags.Setup(c)
			if err != nil {
				return err
			}
			return run(ctx, cfg)
		},
	}
}

func run(ctx context.Context, cfg config.Config) error {
	handler, cleanup, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()
	return httpserver.Serve(ctx, cfg.Bind, handler)
}

// build wires the web application described by cfg. cleanup releases the
// database and session connections, it is valid only when err is nil.
func build(ctx context.Context, cfg config.Config) (handler http.Handler, cleanup func(), err error) {
	log := logutil.GetOrDefault(ctx)
	var closers []func() error
	release := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				log.Warn().Err(err).Msg("Unable to release resource")
			}
		}
	}
	defer func() {
		if err != nil {
			release()
		}
	}()

	strategy, err := cfg.CredentialStrategy(os.Getenv, os.Setenv)
	if err != nil {
		return nil, nil, err
	}
	store, err := userstore.Open(ctx, cfg.DatabaseDSN)
	if err != nil {
		return nil, nil, err
	}
	closers = append(closers, store.Close)
	v, err := verifier.New(store, strategy)
	if err != nil {
		return nil, nil, err
	}

	sessions, closeSessions, err := openSessions(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	closers = append(closers, closeSessions)
	realm := session.NewRealm(sessions, cfg.SessionTTL, cfg.InsecureCookie)

	var fed webapp.Federation
	if providers := cfg.Providers(); len(providers) > 0 {
		key, err := cfg.StateKey(os.Getenv, os.Setenv)
		if err != nil {
			return nil, nil, err
		}
		broker, err := federated.NewBroker(key, providers...)
		if err != nil {
			return nil, nil, err
		}
		fed = broker
	}

	handler, err = webapp.AsHandler(ctx, v, realm, fed)
	if err != nil {
		return nil, nil, err
	}
	log.Info().
		Str("strategy", strategy.Kind().String()).
		Str("sessions", cfg.SessionBackend).
		Strs("providers", providerNames(cfg)).
		Msg("Web application ready")
	return handler, release, nil
}

func openSessions(ctx context.Context, cfg config.Config) (session.Store, func() error, error) {
	switch cfg.SessionBackend {
	case config.SessionRedis:
		client, err := session.DialRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return session.Redis(client, cfg.SessionTTL), client.Close, nil
	default:
		store, err := session.InMemory(ctx, cfg.SessionTTL)
		if err != nil {
			return nil, nil, err
		}
		// the cache janitor stops with ctx
		return store, func() error { return nil }, nil
	}
}

func providerNames(cfg config.Config) []string {
	var names []string
	for _, p := range cfg.Providers() {
		names = append(names, p.Name)
	}
	return names
}
