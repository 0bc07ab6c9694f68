// SPDX-License-Identifier: MIT

// Command daemon runs the vodub orchestration daemon: the control API,
// the stage queues, the event aggregator and the push gateway in one
// process.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/vodub/vodub/internal/aggregator"
	"github.com/vodub/vodub/internal/api"
	"github.com/vodub/vodub/internal/auth"
	"github.com/vodub/vodub/internal/bus"
	"github.com/vodub/vodub/internal/capability"
	"github.com/vodub/vodub/internal/config"
	"github.com/vodub/vodub/internal/gateway"
	"github.com/vodub/vodub/internal/health"
	"github.com/vodub/vodub/internal/log"
	"github.com/vodub/vodub/internal/queue"
	"github.com/vodub/vodub/internal/service"
	"github.com/vodub/vodub/internal/store"
	"github.com/vodub/vodub/internal/worker"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "vodub: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log.Configure(log.Config{
		Level:   cfg.LogLevel,
		Service: "vodub",
		Version: version,
	})
	logger := log.WithComponent("daemon")
	logger.Info().
		Str("version", version).Str("commit", commit).Str("build_date", buildDate).
		Int("port", cfg.Port).
		Str("queue_url", config.RedactURL(cfg.QueueURL)).
		Str("db_path", cfg.DBPath).
		Str("media_root", cfg.MediaRoot).
		Msg("starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Persistence.
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close() //nolint:errcheck

	// Broker.
	opts, err := redis.ParseURL(cfg.QueueURL)
	if err != nil {
		return fmt.Errorf("parse queue url: %w", err)
	}
	rdb := redis.NewClient(opts)
	defer rdb.Close() //nolint:errcheck
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	eventBus := bus.NewRedisBus(rdb)

	// Queues.
	qcfg := queue.DefaultCoordinatorConfig()
	qcfg.DownloadConcurrency = cfg.DownloadConcurrency
	qcfg.DubConcurrency = cfg.DubbingConcurrency
	qcfg.MuxConcurrency = cfg.MuxingConcurrency
	coord := queue.NewCoordinator(rdb, qcfg)

	// Push gateway and aggregator.
	hub := gateway.NewHub()
	agg := aggregator.New(eventBus, st, hub)
	if err := agg.Start(ctx); err != nil {
		return err
	}

	// Stage runner with the real tool adapters.
	layout := worker.Layout{Root: cfg.MediaRoot}
	mix := worker.Mix{DuckingLevel: cfg.DuckingLevel, NormalizationLufs: cfg.NormalizationLufs}
	emit := worker.NewEmitter(eventBus)
	runner := worker.NewRunner(layout, mix, emit, coord,
		capability.NewYtDlp(os.Getenv("VODUB_YTDLP_BIN")),
		capability.NewVotCli(os.Getenv("VODUB_VOT_BIN")),
		capability.NewFFmpeg(os.Getenv("VODUB_FFMPEG_BIN")),
	)
	if err := coord.Start(ctx, runner.Handlers(worker.ExhaustedPublisher(emit))); err != nil {
		return fmt.Errorf("start queues: %w", err)
	}
	defer coord.Close()

	// Job service.
	svc := service.New(service.Config{
		Layout:              layout,
		Mix:                 mix,
		MinFreeBytes:        cfg.MinFreeBytes(),
		DefaultTargetLang:   cfg.DefaultTargetLang,
		DefaultContainer:    cfg.DefaultContainer,
		DefaultFormatPreset: cfg.DefaultFormatPreset,
		Proxy:               cfg.Proxy,
		RateLimit:           cfg.RateLimit,
	}, st, coord, hub)

	// Sessions.
	secret := cfg.JWTSecret
	if secret == "" {
		// Development convenience only; Validate rejects this in
		// production. Sessions do not survive a restart.
		secret = randomSecret()
		logger.Warn().Msg("VODUB_JWT_SECRET not set, using an ephemeral secret")
	}
	am, err := auth.NewManager(auth.Config{Secret: secret, TokenTTL: cfg.JWTExpiresIn}, st)
	if err != nil {
		return err
	}
	if cfg.AdminUsername != "" && cfg.AdminPassword != "" {
		if err := am.Bootstrap(ctx, cfg.AdminUsername, cfg.AdminPassword); err != nil {
			return fmt.Errorf("bootstrap admin: %w", err)
		}
	}

	// Health.
	hm := health.NewManager()
	hm.Register(health.NewQueueChecker(rdb))
	hm.Register(health.NewDBChecker(st))
	hm.Register(health.NewFilesystemChecker(cfg.MediaRoot, cfg.MinFreeBytes()))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           api.NewServer(svc, am, hub, hm).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", srv.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	agg.Wait()
	logger.Info().Msg("stopped")
	return err
}

func randomSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}
