package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/namikmesic/replaytap/internal/capture"
	"github.com/namikmesic/replaytap/internal/config"
	"github.com/namikmesic/replaytap/internal/jetstream"
	"github.com/namikmesic/replaytap/internal/observer"
	"github.com/namikmesic/replaytap/internal/processor"
	"github.com/namikmesic/replaytap/internal/proxy"
	"github.com/namikmesic/replaytap/internal/recordreplay"
	"github.com/namikmesic/replaytap/internal/storage"
)

const drainWindow = 5 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})

	upstream, err := cfg.Upstream()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid upstream")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := storage.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()

	if err := storage.RunMigrations(ctx, pool); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	natsServer, err := jetstream.NewServer(cfg.NATSStoreDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start embedded NATS")
	}
	defer natsServer.Shutdown()

	nc, err := natsServer.Connect()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to embedded NATS")
	}

	js, err := nc.JetStream()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to get JetStream context")
	}
	if err := jetstream.EnsureStream(js); err != nil {
		log.Fatal().Err(err).Msg("failed to create JetStream stream")
	}

	writer := storage.NewBatchWriter(pool, cfg.WriterBufferSize, cfg.WriterBatchSize, cfg.WriterFlushMs)
	proc := processor.New(writer)

	announcements := observer.NewService()
	recorder := capture.New(js, cfg.CaptureChunkSize)
	unsubscribe := recorder.Register(announcements)

	handler := proxy.NewHandler(upstream, recordreplay.New(recordreplay.Options{
		Enabled:      cfg.RecordReplay,
		Announcer:    announcements,
		PipeCapacity: cfg.PipeCapacity,
		BufferSize:   cfg.RequestBufferSize,
	}), writer)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// The consumer outlives the server so the done messages published
	// while capture drains still reach storage.
	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	defer stopConsumer()
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		if err := proc.StartConsumer(consumerCtx, js); err != nil {
			log.Error().Err(err).Msg("recording consumer failed")
			stop()
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().
			Int("port", cfg.Port).
			Str("upstream", upstream.String()).
			Bool("record_replay", cfg.RecordReplay).
			Msg("replaytap proxy started")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("stopped with error")
	}

	unsubscribe()
	recorder.Shutdown()
	if !proc.WaitIdle(drainWindow) {
		log.Warn().Int("pending_recordings", proc.Pending()).Msg("recordings still pending after drain window")
	}
	stopConsumer()
	<-consumerDone

	if err := nc.Drain(); err != nil {
		log.Warn().Err(err).Msg("NATS drain failed")
	}
	writer.Shutdown()
	log.Info().Int("pending_recordings", proc.Pending()).Msg("shutdown complete")
}
