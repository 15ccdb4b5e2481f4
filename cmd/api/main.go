package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/example/wallet-infra/internal/api"
	"github.com/example/wallet-infra/internal/auth"
	"github.com/example/wallet-infra/internal/config"
	"github.com/example/wallet-infra/internal/engine"
	"github.com/example/wallet-infra/internal/fees"
	"github.com/example/wallet-infra/internal/ledger"
	"github.com/example/wallet-infra/internal/limits"
	"github.com/example/wallet-infra/internal/metrics"
	"github.com/example/wallet-infra/internal/notify"
	"github.com/example/wallet-infra/internal/pin"
	"github.com/example/wallet-infra/internal/security"
	"github.com/example/wallet-infra/pkg/audit"
)

// loadKeySet reads the shared signing key, or generates an ephemeral one
// for development when no path is configured.
func loadKeySet(path string) (*auth.KeySet, error) {
	if path == "" {
		return auth.NewKeySet()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return auth.FromPEM(data)
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	var store ledger.Store
	if cfg.UsePostgres() {
		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to create postgres pool", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		pg := &ledger.PostgresStore{Pool: pool}
		if err := pg.EnsureSchema(context.Background()); err != nil {
			logger.Error("failed to apply schema", "error", err)
			os.Exit(1)
		}
		store = pg
	} else {
		sq, err := ledger.NewSQLiteStore(cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to open sqlite store", "error", err)
			os.Exit(1)
		}
		defer sq.Close()
		store = sq
	}

	var rateLimiter *security.RedisTokenBucket
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		rateLimiter = &security.RedisTokenBucket{
			Redis:      redisClient,
			Prefix:     "wallet_api",
			Capacity:   cfg.RateLimitBurst,
			RefillRate: cfg.RateLimitRPS,
		}
	}

	keySet, err := loadKeySet(cfg.SigningKeyPath)
	if err != nil {
		logger.Error("failed to load keyset", "error", err)
		os.Exit(1)
	}
	jwtValidator := &auth.JWTValidator{KeySet: keySet, Issuer: cfg.TokenIssuer}

	auditSink, err := os.OpenFile(cfg.AuditLogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		logger.Error("failed to open audit log", "error", err)
		os.Exit(1)
	}
	defer auditSink.Close()
	trail := audit.NewTrail(auditSink)

	m := metrics.New()
	dispatcher := notify.NewDispatcher(logger, &notify.LogNotifier{Log: logger})
	defer dispatcher.Close()

	pinGuard := pin.NewGuard(store)
	eng := engine.New(store, pinGuard, limits.DefaultPolicy(),
		fees.Policy{WithdrawalFlat: cfg.WithdrawalFee, CardFundingBps: cfg.CardFundingBps},
		logger,
		engine.WithDispatcher(dispatcher),
		engine.WithMetrics(m),
	)

	router, err := api.NewRouter(api.Dependencies{
		Logger:       logger,
		Engine:       eng,
		PINGuard:     pinGuard,
		JWTValidator: jwtValidator,
		Auditor:      trail,
		RateLimiter:  rateLimiter,
		Metrics:      m,
		Currency:     cfg.Currency,
	})
	if err != nil {
		logger.Error("router setup failed", "error", err.Error())
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api listening", "addr", cfg.ListenAddr, "env", cfg.Environment)
		errCh <- srv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("graceful shutdown failed", "error", err)
			os.Exit(1)
		}
	}
}
