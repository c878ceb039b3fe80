package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/voyagen/crowdqueue/internal/cache"
	"github.com/voyagen/crowdqueue/internal/config"
	"github.com/voyagen/crowdqueue/internal/metadata"
	"github.com/voyagen/crowdqueue/internal/server"
	"github.com/voyagen/crowdqueue/internal/service"
	"github.com/voyagen/crowdqueue/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (and the enrichment worker when Redis is configured)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			log, err := ctx.logger()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(runCtx, cfg, log)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	dbURL, err := migrateDatabase(cfg)
	if err != nil {
		return err
	}

	base, err := store.Open(ctx, dbURL)
	if err != nil {
		return err
	}
	defer base.Close()

	youtube := metadata.NewYouTube(metadata.Options{
		APIKey:    cfg.YouTubeAPIKey,
		UserAgent: cfg.UserAgent,
		Timeout:   cfg.MetadataTimeout,
	})
	if cfg.YouTubeAPIKey == "" {
		log.Info("YOUTUBE_API_KEY not set, resolving titles via oEmbed")
	}

	opts := service.Options{
		Store:           base,
		Resolver:        youtube,
		Logger:          log,
		MetadataTimeout: cfg.MetadataTimeout,
		PollInterval:    cfg.PollInterval,
	}

	var jobs *cache.JobQueue
	if cfg.RedisURL != "" {
		rds, err := cache.New(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer rds.Close()

		jobs = cache.NewJobQueue(rds, cache.EnrichQueue)
		opts.Store = store.NewCachedStore(base, rds, cfg.SnapshotTTL, log)
		opts.Locker = cache.NewLocker(rds)
		opts.Jobs = jobs
		log.Info("redis connected (caching, select lock and enrichment enabled)")
	} else {
		log.Info("redis disabled (REDIS_URL not set)")
	}

	svc := service.New(opts)
	srv := server.New(svc, cfg.ServerPort, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(gctx)
	})
	if jobs != nil {
		enricher := service.NewEnricher(opts.Store, youtube, jobs, log, cfg.MetadataTimeout)
		g.Go(func() error {
			return enricher.Run(gctx)
		})
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
