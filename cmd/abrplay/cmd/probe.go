package cmd

import (
	"fmt"
	"net/http"

	"github.com/jdeisenh/abrplay/pkg/manager"
	"github.com/jdeisenh/abrplay/pkg/manifest"
	"github.com/spf13/cobra"
)

var probeCmd = &cobra.Command{
	Use:   "probe URL",
	Short: "Load a manifest and describe its periods and representations",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup(cmd)
		if err != nil {
			return err
		}
		fetcher := manifest.NewFetcher(&http.Client{Timeout: cfg.HTTP.Timeout}, cfg.HTTP.UserAgent, logger)
		pl, _, err := manifest.Open(cmd.Context(), fetcher, args[0], logger)
		if err != nil {
			return fmt.Errorf("opening %s: %w", args[0], err)
		}
		manager.NewPlaybackLogger(cfg.Logging.Format, logger).LogPlaylist(manager.DescribePlaylist(pl))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().String("user-agent", "", "http User-Agent")
}
