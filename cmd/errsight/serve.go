package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/errsight/errsight/internal/archive"
	"github.com/errsight/errsight/internal/bus"
	"github.com/errsight/errsight/internal/cache"
	"github.com/errsight/errsight/internal/config"
	"github.com/errsight/errsight/internal/search"
	"github.com/errsight/errsight/internal/server"
	"github.com/errsight/errsight/internal/service"
	"github.com/errsight/errsight/internal/store"
	"github.com/errsight/errsight/internal/store/memory"
	"github.com/errsight/errsight/internal/store/postgres"
)

var devMode bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the errsight server",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

		cfg, err := config.Load(devMode)
		if err != nil {
			return err
		}

		// Primary store: Postgres, or in-memory in dev mode.
		var st store.Store
		if cfg.DatabaseURL != "" {
			pg, err := postgres.New(cfg.DatabaseURL)
			if err != nil {
				return err
			}
			st = pg
			logger.Info("postgres store connected")
		} else {
			st = memory.New()
			logger.Info("using in-memory store (dev mode)")
		}

		// Search engine: external node, in-memory in dev mode, or none.
		var engine search.Engine
		switch {
		case cfg.SearchNode != "":
			engine = search.NewElastic(cfg.SearchNode, cfg.SearchIndex)
			logger.Info("search engine enabled", "node", cfg.SearchNode, "index", cfg.SearchIndex)
		case devMode:
			engine = search.NewMemory()
			logger.Info("using in-memory search engine (dev mode)")
		default:
			logger.Info("search engine disabled (ERRSIGHT_SEARCH_NODE not set)")
		}
		adapter := search.NewAdapter(engine, st, logger)
		adapter.EnsureIndex(cmd.Context())

		ca := cache.New(cache.NewMemoryStore(), cfg.CachePrefix)

		// Event producer.
		var producer bus.Producer
		if cfg.NATSURL != "" {
			p, err := bus.NewJetStreamProducer(cfg.NATSURL, cfg.Stream, cfg.Topic, cfg.Source)
			if err != nil {
				st.Close()
				return err
			}
			producer = p
			logger.Info("bus producer enabled", "nats_url", cfg.NATSURL, "topic", cfg.Topic)
		} else {
			producer = &bus.NoopProducer{}
			logger.Info("bus disabled (ERRSIGHT_NATS_URL not set)")
		}

		srv := server.New(logger)
		svc := service.New(st, adapter, ca, service.Options{
			Producer: producer,
			Notifier: srv,
			Logger:   logger,
		})
		srv.Attach(svc)

		// Queue-group consumer feeding the same pipeline.
		var consumer bus.Consumer
		if cfg.NATSURL != "" {
			c, err := bus.NewJetStreamConsumer(cfg.NATSURL, cfg.Stream, cfg.Topic, cfg.GroupID,
				svc.Registry(), logger)
			if err != nil {
				logger.Error("failed to create consumer", "err", err)
			} else {
				consumer = c
				if err := c.Start(cmd.Context()); err != nil {
					logger.Error("failed to start consumer", "err", err)
				}
			}
		}

		// Archive scheduler if a destination is configured.
		var scheduler *archive.Scheduler
		if cfg.ArchiveInterval > 0 && cfg.ArchiveS3Bucket != "" {
			dest, err := archive.NewS3Destination(
				context.Background(),
				cfg.ArchiveS3Bucket,
				cfg.ArchiveS3Prefix,
				cfg.ArchiveS3Region,
				cfg.ArchiveEndpoint,
			)
			if err != nil {
				logger.Error("failed to create S3 archive destination", "err", err)
			} else {
				scheduler = archive.NewScheduler(st, []archive.Destination{dest}, cfg.ArchiveInterval, logger)
				scheduler.Start()
				logger.Info("archive scheduler started", "bucket", cfg.ArchiveS3Bucket, "interval", cfg.ArchiveInterval)
			}
		}

		httpServer := &http.Server{
			Addr:    cfg.HTTPAddr,
			Handler: srv.Handler(),
		}
		go func() {
			logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("HTTP server error", "err", err)
			}
		}()

		// Wait for SIGINT or SIGTERM.
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)

		if consumer != nil {
			if err := consumer.Close(); err != nil {
				logger.Error("error closing consumer", "err", err)
			}
			logger.Info("consumer stopped")
		}
		if scheduler != nil {
			scheduler.Stop()
			logger.Info("archive scheduler stopped")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "err", err)
		}
		logger.Info("HTTP server stopped")

		// Drain detached side effects before closing their dependencies.
		svc.Wait()

		if err := producer.Close(); err != nil {
			logger.Error("error closing producer", "err", err)
		}
		if err := adapter.Close(); err != nil {
			logger.Error("error closing search engine", "err", err)
		}
		if err := ca.Close(); err != nil {
			logger.Error("error closing cache", "err", err)
		}
		if err := st.Close(); err != nil {
			logger.Error("error closing store", "err", err)
		}

		logger.Info("shutdown complete")
		return nil
	},
}

func init() {
	serveCmd.Flags().BoolVar(&devMode, "dev", false, "run with in-memory store and search (no external dependencies)")
}
