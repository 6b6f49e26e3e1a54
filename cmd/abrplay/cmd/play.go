package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jdeisenh/abrplay/pkg/config"
	"github.com/jdeisenh/abrplay/pkg/demux"
	"github.com/jdeisenh/abrplay/pkg/manager"
	"github.com/jdeisenh/abrplay/pkg/manifest"
	"github.com/jdeisenh/abrplay/pkg/output"
	"github.com/jdeisenh/abrplay/pkg/playlist"
	"github.com/jdeisenh/abrplay/pkg/server"
	"github.com/jdeisenh/abrplay/pkg/stream"
	"github.com/jdeisenh/abrplay/pkg/transport"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const (
	shutdownTimeout = 5 * time.Second
	pausedPoll      = 100 * time.Millisecond
)

var playCmd = &cobra.Command{
	Use:   "play URL",
	Short: "Play a DASH or HLS presentation",
	Long: `Play a presentation until its end, an interrupt or the --duration limit.

With --dump the fetched manifests and the demuxed elementary streams are
stored in a directory. metrics.listen (or ABRPLAY_METRICS_LISTEN) serves
/metrics, /status and the /seek, /pause and /resume controls.`,
	Args: cobra.ExactArgs(1),
	RunE: runPlay,
}

func init() {
	rootCmd.AddCommand(playCmd)

	playCmd.Flags().Duration("duration", 0, "stop after this time, 0 to play to the end")
	playCmd.Flags().String("dump", "", "directory to store manifests and elementary streams")
	playCmd.Flags().Bool("realtime", false, "demux at wall clock pace")
	playCmd.Flags().Duration("start", 0, "seek to this time before playing")

	playCmd.Flags().String("logic", "default", "adaptation logic (default, fixedrate, lowest, highest, rate, predictive, nearoptimal, roundrobin)")
	playCmd.Flags().Uint64("bandwidth", 0, "kbit/s of the fixedrate logic")
	playCmd.Flags().Duration("live-delay", 0, "distance to the live edge")
	playCmd.Flags().Duration("min-buffer", 0, "buffered media to reach before playing")
	playCmd.Flags().Duration("max-buffer", 0, "buffered media to stop downloading at")
	playCmd.Flags().String("user-agent", "", "http User-Agent")
}

func runPlay(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	limit, _ := cmd.Flags().GetDuration("duration")
	dumpDir, _ := cmd.Flags().GetString("dump")
	realtime, _ := cmd.Flags().GetBool("realtime")
	start, _ := cmd.Flags().GetDuration("start")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if limit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, limit)
		defer cancel()
	}

	fetcher := manifest.NewFetcher(&http.Client{Timeout: cfg.HTTP.Timeout}, cfg.HTTP.UserAgent, logger)
	if dumpDir != "" {
		if err := fetcher.SetDumpDir(dumpDir); err != nil {
			return err
		}
	}
	pl, src, err := manifest.Open(ctx, fetcher, args[0], logger)
	if err != nil {
		return fmt.Errorf("opening %s: %w", args[0], err)
	}

	session := uuid.NewString()
	counter := output.NewCounter()
	var sink demux.Sink = counter
	if dumpDir != "" {
		dump, err := output.NewDump(dumpDir, output.StorageMeta{
			ManifestUrl: src.URL().String(),
			Session:     session,
			Started:     time.Now(),
		}, counter, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := dump.Close(); err != nil {
				logger.Error().Err(err).Msg("Close dump")
			}
		}()
		sink = dump
	}

	conn := transport.NewHTTPConnectionManager(cfg.TransportOptions(), nil, logger)
	factory := stream.NewFactory(cfg.StreamOptions(), logger)
	opts := cfg.ManagerOptions(manager.NewPlaybackLogger(cfg.Logging.Format, logger))
	opts.Session = session
	mgr := manager.New(pl, factory, conn, src, sink, opts, logger)

	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("starting playback: %w", err)
	}
	defer mgr.Stop()

	if start > 0 {
		if err := mgr.SetTime(start); err != nil {
			logger.Warn().Err(err).Msgf("Cannot start at %s", start)
		}
	}

	var srv *http.Server
	if cfg.Metrics.Listen != "" {
		srv = startServer(cfg, mgr, counter, logger)
	}

	status := play(ctx, mgr, cfg, realtime, logger)

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Server shutdown")
		}
	}
	report(counter, logger)
	if status != stream.StatusEOF {
		logger.Info().Msgf("Stopped: %v", context.Cause(ctx))
	}
	return nil
}

// play runs the demux loop until the presentation ends or ctx is done
func play(ctx context.Context, mgr *manager.PlaylistManager, cfg *config.Config, realtime bool, logger zerolog.Logger) stream.Status {
	increment := cfg.Manager.DemuxIncrement
	status := stream.StatusBuffering
	for ctx.Err() == nil {
		if mgr.Paused() {
			sleep(ctx, pausedPoll)
			continue
		}
		status = mgr.Demux(increment)
		switch status {
		case stream.StatusEOF:
			logger.Info().Msg("End of presentation")
			return status
		case stream.StatusEndOfPeriod:
			if p := mgr.Period(); p != nil {
				logger.Info().Msgf("Playing period %s at %s", p.ID, playlist.Round(p.Start))
			}
		case stream.StatusDemuxed:
			if realtime {
				sleep(ctx, increment)
			}
		}
	}
	return status
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func startServer(cfg *config.Config, mgr *manager.PlaylistManager, counter *output.Counter, logger zerolog.Logger) *http.Server {
	h := server.NewHandler(mgr, counter, logger)
	srv := &http.Server{Addr: cfg.Metrics.Listen, Handler: h.Router()}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("Server")
		}
	}()
	logger.Info().Msgf("Starting server listening on %s", cfg.Metrics.Listen)
	return srv
}

func report(counter *output.Counter, logger zerolog.Logger) {
	for id, st := range counter.Stats() {
		logger.Info().Msgf("Stream %s: %d samples (%d keyframes), %d bytes, dts %s-%s, %d discontinuities",
			id, st.Samples, st.Keyframes, st.Bytes, playlist.Round(st.FirstDTS), playlist.Round(st.LastDTS), st.Discontinuities)
	}
	samples, bytes := counter.Total()
	logger.Info().Msgf("Played %d samples, %d bytes", samples, bytes)
}
