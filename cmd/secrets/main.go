package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/andrebq/secrets/cmd/secrets/db"
	"github.com/andrebq/secrets/cmd/secrets/serve"
	"github.com/andrebq/secrets/cmd/secrets/users"
	"github.com/andrebq/secrets/internal/cmdflags"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "secrets",
		Usage: "Share your secrets anonymously, after proving who you are",
		Flags: cmdflags.Global(),
		Commands: []*cli.Command{
			serve.Cmd(),
			users.Cmd(),
			db.Cmd(),
		},
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	err := app.RunContext(ctx, os.Args)
	if err != nil {
		log.Error().Err(err).Msg("Application failed")
		os.Exit(1)
	}
}
