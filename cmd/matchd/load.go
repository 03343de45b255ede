package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/unimate/roommate/internal/config"
	"github.com/unimate/roommate/internal/loadtest"
	"github.com/unimate/roommate/internal/logging"
	"github.com/unimate/roommate/internal/messaging"
	"github.com/unimate/roommate/internal/postgres"
)

func newLoadCmd(configPath *string) *cobra.Command {
	var (
		pairs          int
		firstID        int64
		seed           bool
		concurrency    int
		timeout        time.Duration
		recommend      bool
		metricsURL     string
		scrapeInterval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "load",
		Short: "Drive like, mutual-like and confirm flows against a running matchd",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if pairs <= 0 {
				return fmt.Errorf("matchd: --pairs must be positive")
			}
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

			users := make([]int64, 0, 2*pairs)
			if seed {
				db, err := postgres.Open(ctx, cfg.DatabaseDSN)
				if err != nil {
					return err
				}
				users, err = loadtest.Seed(ctx, db, 2*pairs, time.Now().Format("20060102150405"))
				db.Close()
				if err != nil {
					return err
				}
			} else {
				for i := int64(0); i < int64(2*pairs); i++ {
					users = append(users, firstID+i)
				}
			}

			natsCfg := messaging.DefaultNATSConfig()
			natsCfg.URL = cfg.NATSURL
			natsCfg.Name = "roommate-load"
			nc, err := messaging.NewNATSClient(natsCfg, logger)
			if err != nil {
				return fmt.Errorf("matchd: connect nats: %w", err)
			}
			defer nc.Close()

			collector := loadtest.NewCollector()
			var scraper *loadtest.Scraper
			if metricsURL != "" {
				scraper = loadtest.NewScraper(metricsURL, scrapeInterval)
				collector.SetScraper(scraper)
				scraper.Start(ctx)
			}

			cmd.Printf("Load test: %d pairs, concurrency %d, nats %s\n", pairs, concurrency, cfg.NATSURL)
			res, runErr := loadtest.NewRunner(nc, collector, loadtest.Config{
				Users:       users,
				Concurrency: concurrency,
				Timeout:     timeout,
				Recommend:   recommend,
			}, logger).Run(ctx)

			if scraper != nil {
				scraper.Stop()
			}
			collector.Report(cmd.OutOrStdout())
			cmd.Printf("Pairs: %d  accepted: %d  failed: %d\n", res.Pairs, res.Accepted, res.Failed)
			return runErr
		},
	}

	f := cmd.Flags()
	f.IntVar(&pairs, "pairs", 100, "number of user pairs to drive")
	f.Int64Var(&firstID, "first-id", 1, "first user id when not seeding; pairs use consecutive ids")
	f.BoolVar(&seed, "seed", false, "insert fresh users into database.dsn before the run")
	f.IntVar(&concurrency, "concurrency", 20, "pairs in flight")
	f.DurationVar(&timeout, "timeout", 5*time.Second, "per-request timeout")
	f.BoolVar(&recommend, "recommend", true, "request recommendations before each pair's first like")
	f.StringVar(&metricsURL, "metrics-url", "http://localhost:9102/metrics", "matchd metrics endpoint, empty to disable scraping")
	f.DurationVar(&scrapeInterval, "scrape-interval", 2*time.Second, "interval between metrics scrapes")
	return cmd
}
