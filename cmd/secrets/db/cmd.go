package db

import (
	"github.com/andrebq/secrets/internal/cmdflags"
	"github.com/andrebq/secrets/internal/logutil"
	"github.com/andrebq/secrets/userstore"
	"github.com/urfave/cli/v2"
)

func Cmd() *cli.Command {
	return &cli.Command{
		Name:  "db",
		Usage: "Database maintenance",
		Subcommands: []*cli.Command{
			migrateCmd(),
		},
	}
}

func migrateCmd() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply pending schema migrations (serve does this on startup as well)",
		Action: func(c *cli.Context) error {
			ctx, cfg, err := cmdflags.Setup(c)
			if err != nil {
				return err
			}
			// Open migrates before returning
			store, err := userstore.Open(ctx, cfg.DatabaseDSN)
			if err != nil {
				return err
			}
			defer store.Close()
			log := logutil.GetOrDefault(ctx)
			log.Info().Msg("Database is up to date")
			return nil
		},
	}
}
