// adminctl provisions administrators: role grants, per-admin challenge
// secrets and short-lived access tokens for local testing.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"tradejournal.app/internal/access"
	"tradejournal.app/internal/auth"
	"tradejournal.app/internal/config"
	"tradejournal.app/internal/store/pg"
)

const usage = `usage: adminctl <command> [flags]

commands:
  hash         print the bcrypt hash of a secret read from stdin
  set-secret   store a per-admin challenge secret (--admin)
  grant-admin  grant the admin role (--user)
  token        issue an access token (--user, --ttl)
`

func main() {
	_ = godotenv.Load()
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "adminctl: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, stdout io.Writer) error {
	if len(args) == 0 {
		return errors.New(strings.TrimSpace(usage))
	}
	cmd, args := args[0], args[1:]

	flags := pflag.NewFlagSet("adminctl "+cmd, pflag.ContinueOnError)
	configPath := flags.String("config", "", "Path to a config file")
	user := flags.String("user", "", "Target user id")
	admin := flags.String("admin", "", "Administrator user id")
	ttl := flags.Duration("ttl", time.Hour, "Token lifetime")
	timeout := flags.Duration("timeout", 10*time.Second, "Database timeout")
	if err := flags.Parse(args); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch cmd {
	case "hash":
		secret, err := readSecret(stdin)
		if err != nil {
			return err
		}
		hash, err := auth.HashSecret(secret)
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, hash)
		return nil

	case "set-secret":
		if !access.ValidUserID(*admin) {
			return errors.New("--admin must be a UUID")
		}
		secret, err := readSecret(stdin)
		if err != nil {
			return err
		}
		hash, err := auth.HashSecret(secret)
		if err != nil {
			return err
		}
		return withStore(*configPath, func(s *pg.Store) error {
			return s.SetSecretHash(ctx, *admin, hash)
		})

	case "grant-admin":
		if !access.ValidUserID(*user) {
			return errors.New("--user must be a UUID")
		}
		return withStore(*configPath, func(s *pg.Store) error {
			return s.GrantRole(ctx, *user, access.RoleAdmin)
		})

	case "token":
		if !access.ValidUserID(*user) {
			return errors.New("--user must be a UUID")
		}
		cfg, err := config.LoadFile(*configPath)
		if err != nil {
			return err
		}
		tokens, err := auth.NewTokens(cfg.TokenSecret, cfg.TokenIssuer)
		if err != nil {
			return err
		}
		token, exp, err := tokens.Issue(*user, *ttl)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "%s\n# expires %s\n", token, exp.UTC().Format(time.RFC3339))
		return nil

	default:
		return fmt.Errorf("unknown command %q\n%s", cmd, usage)
	}
}

func withStore(configPath string, fn func(*pg.Store) error) error {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return err
	}
	if cfg.PGDSN == "" {
		return errors.New("pg_dsn is not configured")
	}
	store, err := pg.Open(cfg.PGDSN)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

func readSecret(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	secret := strings.TrimRight(line, "\r\n")
	if secret == "" {
		return "", errors.New("empty secret on stdin")
	}
	return secret, nil
}
