package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/andrebq/secrets/internal/logutil"
)

type (
	Timeouts struct {
		Read       time.Duration
		Write      time.Duration
		ReadHeader time.Duration
		Idle       time.Duration
		Shutdown   time.Duration
	}
)

// DefaultTimeouts are used by Serve.
var DefaultTimeouts = Timeouts{
	Read:       time.Minute,
	Write:      time.Minute,
	ReadHeader: 10 * time.Second,
	Idle:       time.Minute * 5,
	Shutdown:   time.Second * 30,
}

// Serve listens on bind and serves handler until ctx is cancelled,
// then shuts the server down gracefully.
func Serve(ctx context.Context, bind string, handler http.Handler) error {
	l, err := net.Listen("tcp", bind)
	if err != nil {
		return fmt.Errorf("unable to listen on %v, cause %w", bind, err)
	}
	return ServeListener(ctx, l, handler, DefaultTimeouts)
}

// ServeListener is Serve with a caller provided listener, which is closed
// when the function returns.
func ServeListener(ctx context.Context, l net.Listener, handler http.Handler, timeouts Timeouts) error {
	server := http.Server{
		Handler:           handler,
		ReadTimeout:       timeouts.Read,
		WriteTimeout:      timeouts.Write,
		ReadHeaderTimeout: timeouts.ReadHeader,
		IdleTimeout:       timeouts.Idle,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	log := logutil.GetOrDefault(ctx).With().Str("server.addr", l.Addr().String()).Logger()

	firstErr := make(chan error, 1)
	go func() {
		defer close(firstErr)
		log.Info().Msg("Starting HTTP server")
		err := server.Serve(l)
		if errors.Is(err, http.ErrServerClosed) {
			// shutdown called,
			// ignore the error
			log.Info().Msg("Server closed")
			return
		}
		firstErr <- err
	}()

	select {
	case err := <-firstErr:
		return err
	case <-ctx.Done():
	}
	log.Info().Msg("Initiating shutdown process")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("unable to shutdown server, cause %w", err)
	}
	log.Info().Msg("Shutdown completed")
	return <-firstErr
}
