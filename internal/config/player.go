package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
)

type PlayerConfig struct {
	ServerURL     string  `mapstructure:"server_url"`
	WindowSize    float64 `mapstructure:"window_size"`
	PrefetchDepth int     `mapstructure:"prefetch_depth"`
	LowWatermark  int     `mapstructure:"low_watermark"`
	QueueCapacity int     `mapstructure:"queue_capacity"`
	MaxRetries    int     `mapstructure:"max_retries"`
	OutputDir     string  `mapstructure:"output_dir"`
	Speed         float64 `mapstructure:"speed"`
	LogLevel      string  `mapstructure:"log_level"`
}

// LoadPlayer resolves player settings from flags, SLICER_* variables,
// config/player.<CONFIG_ENV>.yaml and defaults, in that order of precedence.
func LoadPlayer(args []string) (*PlayerConfig, error) {
	fs := pflag.NewFlagSet("player", pflag.ContinueOnError)
	fs.String("server-url", "ws://localhost:8080/ws", "stream endpoint")
	fs.Float64("window-size", 5, "seconds requested per fragment")
	fs.Int("prefetch-depth", 3, "fragments buffered ahead of playback")
	fs.Int("low-watermark", 1, "refill the buffer when it drops to this many fragments")
	fs.Int("queue-capacity", 8, "hard bound of the fragment queue")
	fs.Int("max-retries", 3, "attempts per window before giving up")
	fs.String("output-dir", "", "write received fragments here")
	fs.Float64("speed", 1, "simulated playback speed")
	fs.String("log-level", "info", "zerolog level")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := newViper("player")
	for _, key := range []string{
		"server_url", "window_size", "prefetch_depth", "low_watermark",
		"queue_capacity", "max_retries", "output_dir", "speed", "log_level",
	} {
		if err := v.BindPFlag(key, fs.Lookup(flagName(key))); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}
	readIn(v)

	var cfg PlayerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse player config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func flagName(key string) string { return strings.ReplaceAll(key, "_", "-") }

func (c *PlayerConfig) Validate() error {
	var errs []error
	if c.ServerURL == "" {
		errs = append(errs, errors.New("server_url is required"))
	}
	if c.WindowSize <= 0 {
		errs = append(errs, errors.New("window_size must be positive"))
	}
	if c.PrefetchDepth < 1 {
		errs = append(errs, errors.New("prefetch_depth must be at least 1"))
	}
	if c.LowWatermark < 0 || c.LowWatermark >= c.PrefetchDepth {
		errs = append(errs, fmt.Errorf("low_watermark %d must be in [0, prefetch_depth)", c.LowWatermark))
	}
	// The queue holds the playing fragment plus prefetch_depth waiting ones.
	if c.QueueCapacity < c.PrefetchDepth+1 {
		errs = append(errs, fmt.Errorf("queue_capacity %d must exceed prefetch_depth %d", c.QueueCapacity, c.PrefetchDepth))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, errors.New("max_retries must not be negative"))
	}
	if c.Speed <= 0 {
		errs = append(errs, errors.New("speed must be positive"))
	}
	return errors.Join(errs...)
}
