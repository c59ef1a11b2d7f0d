package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tradejournal.app/internal/access"
	"tradejournal.app/internal/audit"
	"tradejournal.app/internal/auth"
	"tradejournal.app/internal/ban"
	"tradejournal.app/internal/challenge"
	"tradejournal.app/internal/config"
	"tradejournal.app/internal/gateway"
	"tradejournal.app/internal/httpapi"
	"tradejournal.app/internal/ipintel"
	"tradejournal.app/internal/obs"
	"tradejournal.app/internal/ratelimit"
	"tradejournal.app/internal/risk"
	"tradejournal.app/internal/store/memory"
	"tradejournal.app/internal/store/pg"
	"tradejournal.app/internal/stream"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// storage is everything the gateway persists.
type storage interface {
	access.RoleStore
	audit.Store
	challenge.AttemptStore
	challenge.SecretStore
	ban.Store
	ban.IdentityProvider
	ban.ProfileStore
	gateway.Repository
	risk.Recorder
}

func main() {
	_ = godotenv.Load()

	configPath := pflag.String("config", "", "Path to a config file (default: ./admingate.yaml when present)")
	pflag.Parse()

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log, err := obs.InitLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	obs.Init()
	build := obs.RecordBuild(version, commit)
	log.Info("admingate starting",
		zap.String("version", build.Version),
		zap.String("commit", build.Commit),
		zap.String("go_version", build.GoVersion),
	)

	if err := run(cfg, log); err != nil {
		log.Fatal("admingate stopped with error", zap.Error(err))
	}
	log.Info("stopped")
}

func run(cfg *config.Config, log *zap.Logger) error {
	var (
		store storage
		db    *sql.DB
	)
	if cfg.PGDSN != "" {
		pgStore, err := pg.Open(cfg.PGDSN)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		defer pgStore.Close()
		store, db = pgStore, pgStore.DB()
	} else {
		log.Warn("ADMINGATE_PG_DSN not set, using in-memory storage")
		store = memory.New()
	}

	var (
		rdb     redis.UniversalClient
		limiter ratelimit.Limiter = ratelimit.NewInMemory(cfg.ChallengeRateMax, cfg.ChallengeRateSpan)
	)
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		limiter = ratelimit.NewRedis(rdb, "admingate:rl", cfg.ChallengeRateMax, cfg.ChallengeRateSpan)
	}

	var intel risk.IntelSource
	if cfg.IPIntelURL != "" {
		client, err := ipintel.New(cfg.IPIntelURL,
			ipintel.WithToken(cfg.IPIntelToken),
			ipintel.WithTimeout(cfg.IPIntelTimeout),
		)
		if err != nil {
			return err
		}
		intel = client
	} else {
		log.Warn("ipintel_url not set, admin connections are scored as degraded")
	}

	tokens, err := auth.NewTokens(cfg.TokenSecret, cfg.TokenIssuer)
	if err != nil {
		return err
	}
	engine, err := risk.NewEngine(cfg.RiskWeights)
	if err != nil {
		return err
	}
	trusted, err := httpapi.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return err
	}
	if len(trusted) == 0 {
		log.Info("no trusted proxies configured, X-Forwarded-For is ignored")
	}

	feed := stream.New[audit.Entry](64)
	auditLog := audit.NewLog(store, audit.WithPublisher(feed))
	authz := access.NewAuthorizer(store)

	api := httpapi.New(httpapi.Deps{
		Tokens: tokens,
		Authz:  authz,
		Audit:  auditLog,
		Challenge: challenge.NewGate(store, auditLog,
			challenge.WithSharedSecret(cfg.ChallengeSecret),
			challenge.WithSecretStore(store),
			challenge.WithLimits(cfg.ChallengeMaxAttempts, cfg.ChallengeLockout),
		),
		Gateway:          gateway.New(authz, auditLog, store),
		Bans:             ban.NewService(authz, auditLog, store, store, store),
		Risk:             risk.NewEvaluator(engine, intel, risk.WithRecorder(store), risk.WithLookupTimeout(cfg.IPIntelTimeout)),
		Feed:             feed,
		ChallengeLimiter: limiter,
		Ready:            httpapi.ReadyProbe{DB: db, Redis: rdb},
		Version:          version,
		UnlockTTL:        cfg.UnlockTTL,
	},
		httpapi.WithRateLimit(cfg.RateBurst, cfg.RatePerSec),
		httpapi.WithMaxBodyBytes(cfg.MaxBodyBytes),
		httpapi.WithAllowedOrigins(cfg.AllowedOrigins),
		httpapi.WithTrustedProxies(trusted),
		httpapi.WithRoleRecheck(cfg.StreamRecheck),
	)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		// no write timeout: the audit stream is long-lived
		IdleTimeout: 60 * time.Second,
	}
	grpcSrv := httpapi.NewGRPCServer(httpapi.ReadyProbe{DB: db, Redis: rdb})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http listening", zap.String("addr", srv.Addr), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		log.Info("grpc listening", zap.String("addr", cfg.GRPCAddr))
		return grpcSrv.Serve(lis)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		grpcSrv.GracefulStop()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
