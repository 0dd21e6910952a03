package serve

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/andrebq/secrets/internal/config"
	"github.com/steinfletcher/apitest"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) config.Config {
	cfg := config.Default()
	cfg.Bind = "127.0.0.1:0"
	cfg.DatabaseDSN = filepath.Join(t.TempDir(), "users.db")
	cfg.Strategy = "md5"
	return cfg
}

func TestBuild(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	handler, cleanup, err := build(ctx, testConfig(t))
	require.NoError(t, err)
	defer cleanup()

	apitest.Handler(handler).Post("/register").
		FormData("username", "a@x.com").
		FormData("password", "p1").
		Expect(t).
		Status(http.StatusSeeOther).
		End()
	apitest.Handler(handler).Get("/auth/google").Expect(t).Status(http.StatusNotFound).End()
}

func TestBuildWithRedisAndProviders(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.SessionBackend = config.SessionRedis
	cfg.RedisURL = "redis://" + mr.Addr()
	cfg.Google.ClientID = "client"
	cfg.Google.ClientSecret = "secret"
	t.Setenv(cfg.StateKeyEnvVar, "0123456789abcdef0123456789abcdef")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	handler, cleanup, err := build(ctx, cfg)
	require.NoError(t, err)
	defer cleanup()

	apitest.Handler(handler).Post("/register").
		FormData("username", "a@x.com").
		FormData("password", "p1").
		Expect(t).
		Status(http.StatusSeeOther).
		End()
	require.NotEmpty(t, mr.Keys(), "the session should live in redis")
	apitest.Handler(handler).Get("/auth/google").Expect(t).Status(http.StatusFound).End()
}

func TestBuildWithoutStateKey(t *testing.T) {
	cfg := testConfig(t)
	cfg.Google.ClientID = "client"
	cfg.Google.ClientSecret = "secret"
	t.Setenv(cfg.StateKeyEnvVar, "")
	_, _, err := build(context.Background(), cfg)
	require.Error(t, err)
}
