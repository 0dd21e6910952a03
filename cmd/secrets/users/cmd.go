package users

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/andrebq/secrets/internal/cmdflags"
	"github.com/andrebq/secrets/internal/logutil"
	"github.com/andrebq/secrets/userstore"
	"github.com/andrebq/secrets/verifier"
	"github.com/urfave/cli/v2"
	"golang.org/x/term"
)

func Cmd() *cli.Command {
	return &cli.Command{
		Name:  "users",
		Usage: "Manage identities without going through the web application",
		Subcommands: []*cli.Command{
			registerCmd(),
			checkCmd(),
		},
	}
}

func identityFlag(out *string) cli.Flag {
	return &cli.StringFlag{
		Name:        "identity",
		Aliases:     []string{"u", "username"},
		Usage:       "Identity (email) of the user",
		Destination: out,
		Required:    true,
	}
}

func registerCmd() *cli.Command {
	var identity string
	return &cli.Command{
		Name:  "register",
		Usage: "Register a new identity (password is prompted, or read from stdin when piped)",
		Flags: []cli.Flag{identityFlag(&identity)},
		Action: func(c *cli.Context) error {
			return withVerifier(c, func(v *verifier.Verifier) error {
				secret, err := readSecret(os.Stdin, os.Stderr)
				if err != nil {
					return err
				}
				rec, err := v.Register(c.Context, identity, secret)
				if err != nil {
					return err
				}
				fmt.Fprintln(c.App.Writer, rec.ID)
				return nil
			})
		},
	}
}

func checkCmd() *cli.Command {
	var identity string
	return &cli.Command{
		Name:  "check",
		Usage: "Check whether a password is accepted for the given identity",
		Flags: []cli.Flag{identityFlag(&identity)},
		Action: func(c *cli.Context) error {
			return withVerifier(c, func(v *verifier.Verifier) error {
				secret, err := readSecret(os.Stdin, os.Stderr)
				if err != nil {
					return err
				}
				_, err = v.Login(c.Context, identity, secret)
				if errors.Is(err, verifier.Rejected{}) {
					return cli.Exit("rejected", 2)
				} else if err != nil {
					return err
				}
				fmt.Fprintln(c.App.Writer, "accepted")
				return nil
			})
		},
	}
}

func withVerifier(c *cli.Context, fn func(*verifier.Verifier) error) error {
	ctx, cfg, err := cmdflags.Setup(c)
	if err != nil {
		return err
	}
	c.Context = ctx
	strategy, err := cfg.CredentialStrategy(os.Getenv, os.Setenv)
	if err != nil {
		return err
	}
	store, err := userstore.Open(ctx, cfg.DatabaseDSN)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log := logutil.GetOrDefault(ctx)
			log.Warn().Err(err).Msg("Unable to close database")
		}
	}()
	v, err := verifier.New(store, strategy)
	if err != nil {
		return err
	}
	return fn(v)
}

// readSecret prompts without echo on a terminal, otherwise it reads the
// first line of in.
func readSecret(in *os.File, prompt io.Writer) (string, error) {
	if term.IsTerminal(int(in.Fd())) {
		fmt.Fprint(prompt, "Password: ")
		buf, err := term.ReadPassword(int(in.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("unable to read password, cause %w", err)
		}
		return nonEmpty(string(buf))
	}
	return scanSecret(in)
}

func scanSecret(in io.Reader) (string, error) {
	sc := bufio.NewScanner(in)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return "", err
		}
		return "", errors.New("missing password from stdin")
	}
	return nonEmpty(sc.Text())
}

func nonEmpty(secret string) (string, error) {
	secret = strings.TrimRight(secret, "\r\n")
	if secret == "" {
		return "", errors.New("password cannot be empty")
	}
	return secret, nil
}
