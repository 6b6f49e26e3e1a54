// Package config loads the player settings from defaults, an optional
// config file, the environment and command line flags.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/jdeisenh/abrplay/pkg/logic"
	"github.com/jdeisenh/abrplay/pkg/manager"
	"github.com/jdeisenh/abrplay/pkg/stream"
	"github.com/jdeisenh/abrplay/pkg/transport"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const EnvPrefix = "ABRPLAY"

var ErrInvalid = errors.New("invalid configuration")

// Flags bound to config keys when present in the flag set
var flagKeys = map[string]string{
	"log-level":  "logging.level",
	"log-format": "logging.format",
	"logic":      "adaptive.logic",
	"bandwidth":  "adaptive.bandwidth",
	"live-delay": "adaptive.live_delay",
	"min-buffer": "adaptive.min_buffer",
	"max-buffer": "adaptive.max_buffer",
	"user-agent": "http.user_agent",
}

type Config struct {
	Logging  LoggingConfig  `mapstructure:"logging"`
	Adaptive AdaptiveConfig `mapstructure:"adaptive"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Stream   StreamConfig   `mapstructure:"stream"`
	Manager  ManagerConfig  `mapstructure:"manager"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // trace, debug, info, warn, error
	Format string `mapstructure:"format"` // text, json
}

type AdaptiveConfig struct {
	Logic string `mapstructure:"logic"`
	// kbit/s of the fixedrate logic, 0 for its default
	Bandwidth  uint64        `mapstructure:"bandwidth"`
	MaxWidth   int           `mapstructure:"max_width"`
	MaxHeight  int           `mapstructure:"max_height"`
	LiveDelay  time.Duration `mapstructure:"live_delay"`
	MinBuffer  time.Duration `mapstructure:"min_buffer"`
	MaxBuffer  time.Duration `mapstructure:"max_buffer"`
	LowLatency bool          `mapstructure:"low_latency"`
}

type HTTPConfig struct {
	Timeout       time.Duration `mapstructure:"timeout"`
	Retries       int           `mapstructure:"retries"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
	MaxConcurrent int64         `mapstructure:"max_concurrent"`
	UserAgent     string        `mapstructure:"user_agent"`
}

type StreamConfig struct {
	// Download attempts of a segment after its first failure
	Retries int `mapstructure:"retries"`
}

type ManagerConfig struct {
	DemuxIncrement    time.Duration `mapstructure:"demux_increment"`
	PollTimeout       time.Duration `mapstructure:"poll_timeout"`
	MaxUpdateFailures int           `mapstructure:"max_update_failures"`
	PruneThreshold    int           `mapstructure:"prune_threshold"`
	MinUpdateInterval time.Duration `mapstructure:"min_update_interval"`
	PTSDelay          time.Duration `mapstructure:"pts_delay"`
}

type MetricsConfig struct {
	Listen string `mapstructure:"listen"`
}

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("adaptive.logic", logic.TypeDefault.String())
	v.SetDefault("adaptive.bandwidth", 0)
	v.SetDefault("adaptive.max_width", 0)
	v.SetDefault("adaptive.max_height", 0)
	v.SetDefault("adaptive.live_delay", logic.DefaultLiveDelay)
	v.SetDefault("adaptive.min_buffer", logic.DefaultMinBuffering)
	v.SetDefault("adaptive.max_buffer", logic.DefaultMaxBuffering)
	v.SetDefault("adaptive.low_latency", false)

	v.SetDefault("http.timeout", 10*time.Second)
	v.SetDefault("http.retries", 3)
	v.SetDefault("http.retry_delay", 500*time.Millisecond)
	v.SetDefault("http.max_concurrent", 4)
	v.SetDefault("http.user_agent", transport.DefaultUserAgent)

	v.SetDefault("stream.retries", stream.DefaultRetries)

	v.SetDefault("manager.demux_increment", manager.DefaultDemuxIncrement)
	v.SetDefault("manager.poll_timeout", manager.DefaultPollTimeout)
	v.SetDefault("manager.max_update_failures", manager.DefaultMaxUpdateFailures)
	v.SetDefault("manager.prune_threshold", manager.DefaultPruneThreshold)
	v.SetDefault("manager.min_update_interval", manager.DefaultMinUpdateInterval)
	v.SetDefault("manager.pts_delay", manager.DefaultPTSDelay)

	v.SetDefault("metrics.listen", "")
}

// LoadDotEnv sets environment variables from the given files, ".env" by
// default. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("loading %s: %w", path, err)
		}
	}
	return nil
}

// Load reads the configuration. Flags set on the command line override
// ABRPLAY_ environment variables, which override the config file.
// Without configPath an abrplay.yaml in the working directory or
// ~/.config/abrplay is used if present.
func Load(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("abrplay")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/abrplay")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("binding flag %s: %w", name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if _, err := c.LogLevel(); err != nil {
		return fmt.Errorf("%w: logging.level: %w", ErrInvalid, err)
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("%w: logging.format must be one of: text, json", ErrInvalid)
	}
	if _, err := logic.ParseType(c.Adaptive.Logic); err != nil {
		return fmt.Errorf("%w: adaptive.logic: %w", ErrInvalid, err)
	}
	if c.Adaptive.MaxWidth < 0 || c.Adaptive.MaxHeight < 0 {
		return fmt.Errorf("%w: adaptive.max_width and max_height must not be negative", ErrInvalid)
	}
	if c.Adaptive.MinBuffer < 0 || c.Adaptive.MaxBuffer < 0 || c.Adaptive.LiveDelay < 0 {
		return fmt.Errorf("%w: buffer durations must not be negative", ErrInvalid)
	}
	if c.Adaptive.MinBuffer > 0 && c.Adaptive.MaxBuffer > 0 && c.Adaptive.MinBuffer > c.Adaptive.MaxBuffer {
		return fmt.Errorf("%w: adaptive.min_buffer %s exceeds max_buffer %s", ErrInvalid, c.Adaptive.MinBuffer, c.Adaptive.MaxBuffer)
	}
	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("%w: http.timeout must be positive", ErrInvalid)
	}
	if c.HTTP.Retries < 0 || c.Stream.Retries < 0 {
		return fmt.Errorf("%w: retries must not be negative", ErrInvalid)
	}
	if c.HTTP.MaxConcurrent < 1 {
		return fmt.Errorf("%w: http.max_concurrent must be at least 1", ErrInvalid)
	}
	if c.Manager.DemuxIncrement <= 0 {
		return fmt.Errorf("%w: manager.demux_increment must be positive", ErrInvalid)
	}
	if c.Manager.MaxUpdateFailures < 1 {
		return fmt.Errorf("%w: manager.max_update_failures must be at least 1", ErrInvalid)
	}
	return nil
}

// LogLevel parses logging.level, accepting "warning" for warn
func (c *Config) LogLevel() (zerolog.Level, error) {
	level := strings.ToLower(c.Logging.Level)
	if level == "warning" {
		level = "warn"
	}
	return zerolog.ParseLevel(level)
}

func (c *Config) TransportOptions() transport.Options {
	return transport.Options{
		Timeout:       c.HTTP.Timeout,
		Retries:       c.HTTP.Retries,
		RetryDelay:    c.HTTP.RetryDelay,
		MaxConcurrent: c.HTTP.MaxConcurrent,
		UserAgent:     c.HTTP.UserAgent,
	}
}

func (c *Config) StreamOptions() stream.Options {
	return stream.Options{Retries: c.Stream.Retries}
}

// ManagerOptions builds the manager settings. events may be nil.
func (c *Config) ManagerOptions(events manager.PlaybackLogger) manager.Options {
	t, _ := logic.ParseType(c.Adaptive.Logic)
	return manager.Options{
		Logic: t,
		LogicOptions: logic.Options{
			FixedBps:  c.Adaptive.Bandwidth * 1000,
			MaxWidth:  c.Adaptive.MaxWidth,
			MaxHeight: c.Adaptive.MaxHeight,
		},
		Buffering: logic.BufferingLogic{
			UserMinBuffering: c.Adaptive.MinBuffer,
			UserMaxBuffering: c.Adaptive.MaxBuffer,
			UserLiveDelay:    c.Adaptive.LiveDelay,
			LowLatency:       c.Adaptive.LowLatency,
		},
		PollTimeout:       c.Manager.PollTimeout,
		MaxUpdateFailures: c.Manager.MaxUpdateFailures,
		PruneThreshold:    c.Manager.PruneThreshold,
		MinUpdateInterval: c.Manager.MinUpdateInterval,
		PTSDelay:          c.Manager.PTSDelay,
		Events:            events,
	}
}
