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
	"github.com/spf13/afero"

	"github.com/dkeye/Slicer/internal/adapters/ffmpeg"
	router "github.com/dkeye/Slicer/internal/adapters/http"
	"github.com/dkeye/Slicer/internal/app"
	"github.com/dkeye/Slicer/internal/app/orch"
	"github.com/dkeye/Slicer/internal/config"
	"github.com/dkeye/Slicer/internal/metrics"
	"github.com/dkeye/Slicer/internal/storage"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Mode != "debug" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	store, err := storage.NewFragmentStore(afero.NewOsFs(), cfg.OutputDir)
	if err != nil {
		log.Fatal().Err(err).Msg("fragment store")
	}
	if n, err := store.Sweep(0); err != nil {
		log.Warn().Err(err).Int("removed", n).Msg("startup sweep")
	}

	m := metrics.New()
	o := orch.New(orch.Deps{
		Registry:  app.NewRegistry(),
		Prober:    ffmpeg.NewProber(cfg.FFprobePath, log.Logger),
		Extractor: ffmpeg.NewExtractor(cfg.FFmpegPath, log.Logger),
		Store:     store,
		Policy:    app.SimplePolicy{},
		Metrics:   m,
	}, orch.Options{
		Source:          cfg.SourcePath,
		MaxWindow:       cfg.MaxWindow,
		ProbeTimeout:    cfg.ProbeTimeout,
		ExtractTimeout:  cfg.ExtractTimeout,
		DeliveryTimeout: cfg.DeliveryTimeout,
		DisconnectGrace: cfg.DisconnectGrace,
		MaxExtractions:  cfg.MaxExtractions,
	})
	go o.RunJanitor(ctx, cfg.JanitorInterval)

	r := router.SetupRouter(ctx, cfg, o, m)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Str("source", cfg.SourcePath).Msg("Slicer server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	o.Shutdown()
	log.Info().Msg("Server exited gracefully")
}
