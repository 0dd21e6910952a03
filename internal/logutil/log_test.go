package logutil

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestGetOrDefault(t *testing.T) {
	var buf bytes.Buffer
	l := zerolog.New(&buf)
	ctx := WithLogger(context.Background(), l)
	got := GetOrDefault(ctx)
	got.Info().Msg("hello")
	require.Contains(t, buf.String(), `"message":"hello"`)

	require.NotPanics(t, func() {
		log := GetOrDefault(context.Background())
		log.Debug().Msg("default logger")
	})
}

func TestMiddleware(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)
	handler := Middleware(base, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := GetOrDefault(r.Context())
		log.Info().Msg("inside handler")
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/auth/google/callback?code=very-secret", nil))

	require.Equal(t, http.StatusTeapot, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-Id"))
	out := buf.String()
	require.Contains(t, out, `"message":"inside handler"`)
	require.Contains(t, out, `"req.id":"`+rec.Header().Get("X-Request-Id")+`"`)
	require.Contains(t, out, `"http.status":418`)
	require.NotContains(t, out, "very-secret")
}
