package main

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"tradejournal.app/internal/migrate"
	"tradejournal.app/internal/obs"
	"tradejournal.app/migrations"
)

func main() {
	_ = godotenv.Load()

	var (
		dsn     = pflag.String("dsn", os.Getenv("ADMINGATE_PG_DSN"), "PostgreSQL DSN")
		dir     = pflag.String("dir", "", "Read migrations from this directory instead of the embedded set")
		timeout = pflag.Duration("timeout", 30*time.Second, "Overall timeout")
	)
	pflag.Parse()

	log, err := obs.InitLogger(os.Getenv("ADMINGATE_LOG_LEVEL"), "console")
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via --dsn or ADMINGATE_PG_DSN")
	}
	if pflag.NArg() == 0 {
		log.Fatal("usage: migrate [up|down|seed|status]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatal("open db", zap.Error(err))
	}
	defer db.Close()

	var fsys fs.FS = migrations.FS
	if *dir != "" {
		fsys = os.DirFS(*dir)
	}
	mgr := migrate.NewManager(db, fsys, migrations.MigrationsDir, migrations.SeedsDir)

	cmd := pflag.Arg(0)
	switch cmd {
	case "up":
		var applied []string
		applied, err = mgr.Up(ctx)
		log.Info("migrations applied", zap.Strings("names", applied))
	case "down":
		var name string
		name, err = mgr.Down(ctx)
		if err == nil {
			log.Info("migration rolled back", zap.String("name", name))
		}
	case "seed":
		var applied []string
		applied, err = mgr.Seed(ctx)
		log.Info("seeds applied", zap.Strings("names", applied))
	case "status":
		var history []string
		history, err = mgr.Status(ctx)
		if err == nil {
			for _, item := range history {
				fmt.Println(item)
			}
		}
	default:
		log.Fatal("unknown command", zap.String("command", cmd))
	}
	if err != nil {
		log.Fatal("migrate failed", zap.String("command", cmd), zap.Error(err))
	}
}
