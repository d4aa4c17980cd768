package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	router "github.com/kvey/Huddle/internal/adapters/http"
	wssignal "github.com/kvey/Huddle/internal/adapters/signal"
	"github.com/kvey/Huddle/internal/app"
	"github.com/kvey/Huddle/internal/config"
	"github.com/kvey/Huddle/internal/core"
	"github.com/kvey/Huddle/internal/media"
	"github.com/kvey/Huddle/internal/media/pion"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	config.Flags(pflag.CommandLine)
	pflag.Parse()
	cfg, err := config.Load(pflag.CommandLine)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	sessions := app.NewSessions()
	life := app.NewLifecycle(sessions, nil, nil, cfg.WorkerDeathGrace)

	engine := pion.NewEngine()
	pool, err := media.NewWorkerPool(ctx, engine, media.PoolOptions{
		Size:        workers,
		RTCMinPort:  cfg.RTCMinPort,
		RTCMaxPort:  cfg.RTCMaxPort,
		AnnouncedIP: cfg.AnnouncedIP,
	}, life.OnWorkerDied)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start media workers")
	}

	roomOpts := core.DefaultRoomOptions()
	roomOpts.SpeakingThreshold = cfg.SpeakingThreshold
	roomOpts.ObserverInterval = cfg.ObserverInterval
	roomOpts.InitialAvailableOutgoingBitrate = cfg.InitialBitrate

	rooms := core.NewRegistry(pool, sessions, roomOpts)
	life.Rooms = rooms
	life.Pool = pool

	ctl := wssignal.NewController(sessions, rooms, life, cfg.ReadLimit)
	r := router.SetupRouter(cfg, ctl, rooms, pool)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Int("workers", workers).Msg("Huddle signaling server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Shutdown)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	// Drain peers, then routers, then workers; never a worker under a live
	// router.
	life.Shutdown()
	log.Info().Msg("Server exited gracefully")
}
