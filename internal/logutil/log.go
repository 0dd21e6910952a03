package logutil

import (
	"context"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"
)

type (
	key byte
)

var (
	loggerKey = key(1)
)

func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

func GetOrDefault(ctx context.Context) zerolog.Logger {
	if ctx == nil {
		return log.Logger
	}
	v, ok := ctx.Value(loggerKey).(zerolog.Logger)
	if !ok {
		return log.Logger
	}
	return v
}

// New builds the process logger. Humans get the console writer,
// anything else (files, pipes, log shippers) gets JSON lines.
func New(out *os.File, level string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Logger{}, err
	}
	var w io.Writer = out
	if term.IsTerminal(int(out.Fd())) {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger(), nil
}

// Middleware gives every request its own logger (tagged with a request id)
// reachable through GetOrDefault, and logs one line per served request.
func Middleware(base zerolog.Logger, next http.Handler) http.Handler {
	bridge := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		l := hlog.FromRequest(r)
		next.ServeHTTP(w, r.WithContext(WithLogger(r.Context(), *l)))
	})
	access := hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		// only the path, callback query strings carry oauth codes
		hlog.FromRequest(r).Info().
			Str("http.method", r.Method).
			Str("http.path", r.URL.Path).
			Int("http.status", status).
			Int("http.size", size).
			Dur("http.duration", duration).
			Msg("Request served")
	})
	return hlog.NewHandler(base)(hlog.RequestIDHandler("req.id", "X-Request-Id")(access(bridge)))
}
