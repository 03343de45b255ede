package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/unimate/roommate/internal/candidate"
	"github.com/unimate/roommate/internal/chat"
	"github.com/unimate/roommate/internal/config"
	"github.com/unimate/roommate/internal/logging"
	"github.com/unimate/roommate/internal/match"
	"github.com/unimate/roommate/internal/matching"
	"github.com/unimate/roommate/internal/messaging"
	"github.com/unimate/roommate/internal/metrics"
	"github.com/unimate/roommate/internal/notify"
	"github.com/unimate/roommate/internal/postgres"
	"github.com/unimate/roommate/internal/ratelimit"
	"github.com/unimate/roommate/internal/session"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve matching requests over NATS",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.LogLevel)
			if err != nil {
				return fmt.Errorf("matchd: logger: %w", err)
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
}

// backends are the storage collaborators selected by config.Store.
type backends struct {
	matches    match.Store
	candidates candidate.Repository
	profiles   candidate.Writer
	notes      notify.Store
	db         *sql.DB
}

func openBackends(ctx context.Context, cfg *config.Config) (*backends, error) {
	switch cfg.Store {
	case config.StoreMemory:
		repo := candidate.NewMemoryRepository()
		return &backends{
			matches:    match.NewMemoryStore(nil),
			candidates: repo,
			profiles:   repo,
			notes:      notify.NewMemoryStore(),
		}, nil
	default:
		db, err := postgres.Open(ctx, cfg.DatabaseDSN)
		if err != nil {
			return nil, err
		}
		repo := candidate.NewPostgresRepository(db)
		return &backends{
			matches:    match.NewPostgresStore(db),
			candidates: repo,
			profiles:   repo,
			notes:      notify.NewPostgresStore(db),
			db:         db,
		}, nil
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("starting matchd", zap.String("store", cfg.Store))

	// Redis setup.
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()
	pingCtx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
	err := rdb.Ping(pingCtx).Err()
	cancel()
	if err != nil {
		return fmt.Errorf("matchd: connect redis %s: %w", cfg.RedisAddr, err)
	}

	// NATS setup.
	natsCfg := messaging.DefaultNATSConfig()
	natsCfg.URL = cfg.NATSURL
	natsCfg.Name = cfg.NATSName
	nc, err := messaging.NewNATSClient(natsCfg, logger)
	if err != nil {
		return fmt.Errorf("matchd: connect nats: %w", err)
	}
	defer nc.Close()

	b, err := openBackends(ctx, cfg)
	if err != nil {
		return err
	}
	if b.db != nil {
		defer b.db.Close()
	}

	candidates := b.candidates
	var cache candidate.Invalidator
	if cfg.CacheEnabled {
		cached := candidate.NewCachedRepository(b.candidates, rdb, cfg.CacheTTL, logger)
		candidates, cache = cached, cached
	}

	sessions := session.NewStore(rdb, cfg.SessionTTL)
	notifier := notify.NewService(b.notes, nc, sessions, logger)

	svc := matching.NewService(matching.Deps{
		Matches:    b.matches,
		Candidates: candidates,
		Profiles:   b.profiles,
		Cache:      cache,
		Chatrooms:  chat.NewStore(rdb),
		Notifier:   notifier,
		Limiter:    ratelimit.NewLimiter(rdb, logger),
		Events:     nc,
		Logger:     logger,
	}, matching.Options{
		RequestTimeout:  cfg.RequestTimeout,
		DispatchTimeout: cfg.DispatchTimeout,
		LikeRule:        ratelimit.RuleLike.WithLimit(cfg.LikeLimit),
		RespondRule:     ratelimit.RuleRespond.WithLimit(cfg.RespondLimit),
	})

	server := matching.NewServer(svc, nc, logger,
		matching.WithInbox(notifier),
		matching.WithRoomTracker(sessions),
		matching.WithWorkers(cfg.RPCWorkers))
	if err := server.Start(); err != nil {
		return fmt.Errorf("matchd: start rpc server: %w", err)
	}
	defer server.Stop()

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := rdb.Ping(r.Context()).Err(); err != nil {
			http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	httpSrv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	httpErr := make(chan error, 1)
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- err
		}
	}()

	logger.Info("matchd running",
		zap.String("redis_addr", cfg.RedisAddr),
		zap.String("nats_url", cfg.NATSURL),
		zap.String("metrics_addr", cfg.MetricsAddr),
		zap.Bool("cache", cfg.CacheEnabled))

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err = <-httpErr:
		logger.Error("metrics server failed", zap.Error(err))
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if sErr := httpSrv.Shutdown(shutdownCtx); sErr != nil {
		logger.Warn("metrics server shutdown", zap.Error(sErr))
	}
	return err
}
