// Package cmd implements the abrplay commands.
package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jdeisenh/abrplay/pkg/config"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	envFile string
)

var rootCmd = &cobra.Command{
	Use:   "abrplay",
	Short: "Adaptive streaming player for DASH and HLS",
	Long: `abrplay plays DASH and HLS presentations headless: it selects
representations with an adaptation logic, downloads and demuxes the
segments and reports what was played.`,
	SilenceUsage: true,
}

// Execute runs the command line
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./abrplay.yaml or $HOME/.config/abrplay/abrplay.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "file with ABRPLAY_ environment variables")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
}

// setup loads the configuration of cmd and builds the logger
func setup(cmd *cobra.Command) (*config.Config, zerolog.Logger, error) {
	if err := config.LoadDotEnv(envFile); err != nil {
		return nil, zerolog.Nop(), err
	}
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	level, err := cfg.LogLevel()
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	zerolog.SetGlobalLevel(level)
	return cfg, newLogger(cfg.Logging.Format, os.Stderr), nil
}

func newLogger(format string, out io.Writer) zerolog.Logger {
	if format == "json" {
		return zerolog.New(out).With().Timestamp().Logger()
	}
	return zerolog.New(zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.TimeOnly,
	}).With().Timestamp().Logger()
}
