// Command player plays the served source by writing each fragment to disk
// and emulating its playback time.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"github.com/dkeye/Slicer/internal/adapters/wsclient"
	"github.com/dkeye/Slicer/internal/config"
	"github.com/dkeye/Slicer/internal/player"
)

const tick = 250 * time.Millisecond

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.LoadPlayer(os.Args[1:])
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load player config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	var fs afero.Fs
	if cfg.OutputDir != "" {
		fs = afero.NewBasePathFs(afero.NewOsFs(), cfg.OutputDir)
		if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
			log.Fatal().Err(err).Msg("output dir")
		}
	}

	client, err := wsclient.Dial(ctx, cfg.ServerURL)
	if err != nil {
		log.Fatal().Err(err).Msg("connect")
	}
	defer client.Close()

	out := newRenderer(ctx, fs, cfg.Speed)
	sched := player.NewScheduler(player.Options{
		WindowSize:    cfg.WindowSize,
		PrefetchDepth: cfg.PrefetchDepth,
		LowWatermark:  cfg.LowWatermark,
		QueueCapacity: cfg.QueueCapacity,
		MaxRetries:    cfg.MaxRetries,
	}, client, out)
	out.sched = sched

	go func() {
		err := client.Run(ctx, sched)
		if err == nil {
			err = errors.New("server closed the connection")
		}
		sched.Close(err)
	}()
	if err := client.Start(); err != nil {
		log.Fatal().Err(err).Msg("start")
	}

	status := time.NewTicker(time.Second)
	defer status.Stop()
	for {
		select {
		case <-sched.Done():
			if err := sched.Err(); err != nil {
				log.Error().Err(err).Msg("playback failed")
				os.Exit(1)
			}
			log.Info().Float64("progress", sched.Progress()).Msg("playback finished")
			return
		case <-status.C:
			st := sched.Stats()
			log.Info().
				Str("progress", fmt.Sprintf("%.1f/%.1f", st.Progress, st.Duration)).
				Int("queued", st.Queued).
				Int("current", st.Current).
				Int("next_bytes", st.NextSize).
				Msg("status")
		}
	}
}

// renderer stands in for a media element: it stores the fragment and
// advances a clock for the fragment's duration.
type renderer struct {
	ctx   context.Context
	fs    afero.Fs
	speed float64
	sched *player.Scheduler
}

func newRenderer(ctx context.Context, fs afero.Fs, speed float64) *renderer {
	return &renderer{ctx: ctx, fs: fs, speed: speed}
}

func (r *renderer) Play(f player.Fragment) {
	if r.fs != nil {
		name := filepath.Join("/", fmt.Sprintf("fragment-%04d.mp4", f.Seq))
		if err := afero.WriteFile(r.fs, name, f.Payload, 0o644); err != nil {
			log.Warn().Err(err).Str("module", "player").Str("file", name).Msg("write fragment")
		}
	}
	go r.clock(f)
}

func (r *renderer) clock(f player.Fragment) {
	r.sched.Started()
	length := f.Window.Length()
	began := time.Now()
	t := time.NewTicker(tick)
	defer t.Stop()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-t.C:
			elapsed := time.Since(began).Seconds() * r.speed
			if elapsed >= length {
				r.sched.TimeUpdate(length)
				r.sched.Ended()
				return
			}
			r.sched.TimeUpdate(elapsed)
		}
	}
}
