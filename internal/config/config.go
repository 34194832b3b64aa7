package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const envPrefix = "SLICER"

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`
	LogLevel   string        `mapstructure:"log_level"`

	SourcePath  string `mapstructure:"source_path"`
	OutputDir   string `mapstructure:"output_dir"`
	FFmpegPath  string `mapstructure:"ffmpeg_path"`
	FFprobePath string `mapstructure:"ffprobe_path"`

	MaxWindow       float64       `mapstructure:"max_window"`
	ProbeTimeout    time.Duration `mapstructure:"probe_timeout"`
	ExtractTimeout  time.Duration `mapstructure:"extract_timeout"`
	DeliveryTimeout time.Duration `mapstructure:"delivery_timeout"`
	DisconnectGrace time.Duration `mapstructure:"disconnect_grace"`
	MaxExtractions  int64         `mapstructure:"max_extractions"`
	JanitorInterval time.Duration `mapstructure:"janitor_interval"`

	ConnectRate  float64 `mapstructure:"connect_rate"`
	ConnectBurst int     `mapstructure:"connect_burst"`
}

// newViper reads .env, then config/<name>.<CONFIG_ENV>.yaml, then SLICER_*
// environment variables, each overriding the previous.
func newViper(name string) *viper.Viper {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Str("module", "config").Msg("ignoring .env")
	}

	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/%s.%s.yaml", name, env)
	v.SetConfigFile(fileName)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func readIn(v *viper.Viper) {
	if err := v.ReadInConfig(); err != nil {
		log.Info().Str("module", "config").Str("file", v.ConfigFileUsed()).Msg("config file not found, using defaults")
		return
	}
	log.Info().Str("module", "config").Str("file", v.ConfigFileUsed()).Msg("loaded config")
}

func serverDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("secret", "")
	v.SetDefault("log_level", "info")

	v.SetDefault("source_path", "video.webm")
	v.SetDefault("output_dir", "streams")
	v.SetDefault("ffmpeg_path", "ffmpeg")
	v.SetDefault("ffprobe_path", "ffprobe")

	v.SetDefault("max_window", 30.0)
	v.SetDefault("probe_timeout", "15s")
	v.SetDefault("extract_timeout", "60s")
	v.SetDefault("delivery_timeout", "30s")
	v.SetDefault("disconnect_grace", "5s")
	v.SetDefault("max_extractions", 4)
	v.SetDefault("janitor_interval", "1m")

	v.SetDefault("connect_rate", 1.0)
	v.SetDefault("connect_burst", 5)
}

func Load() (*Config, error) {
	v := newViper("config")
	serverDefaults(v)
	readIn(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("source", cfg.SourcePath).Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Mode != "release" && c.Mode != "debug" && c.Mode != "test" {
		errs = append(errs, fmt.Errorf("mode %q: want release, debug or test", c.Mode))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.SourcePath == "" {
		errs = append(errs, errors.New("source_path is required"))
	}
	if c.OutputDir == "" {
		errs = append(errs, errors.New("output_dir is required"))
	}
	if c.MaxWindow <= 0 {
		errs = append(errs, errors.New("max_window must be positive"))
	}
	if c.MaxExtractions <= 0 {
		errs = append(errs, errors.New("max_extractions must be positive"))
	}
	for name, d := range map[string]time.Duration{
		"probe_timeout":    c.ProbeTimeout,
		"extract_timeout":  c.ExtractTimeout,
		"delivery_timeout": c.DeliveryTimeout,
		"disconnect_grace": c.DisconnectGrace,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.Mode == "release" && c.Secret == "" {
		errs = append(errs, errors.New("secret is required in release mode"))
	}
	return errors.Join(errs...)
}
