package manager

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// PlaybackLogger reports the events of a playback session
type PlaybackLogger interface {
	LogSessionStart(session, url string, live bool)
	LogNewPeriod(periodID string, start time.Duration, streams int)
	LogSwitch(set, from, to string, bandwidth uint64)
	LogSeek(to time.Duration, err error)
	LogUpdateFailed(err error, failures int)
	LogUpdatesExhausted(failures int)
	LogPrune(before time.Duration, dropped int)
	LogPlaylist(p *PlaylistLog)
}

// NewPlaybackLogger returns the logger for format "json" or "text"
func NewPlaybackLogger(format string, logger zerolog.Logger) PlaybackLogger {
	if format == "json" {
		return NewJSONPlaybackLogger(logger)
	}
	return NewTextPlaybackLogger(logger)
}

// textPlaybackLogger logs in human-readable text format
type textPlaybackLogger struct {
	logger zerolog.Logger
}

func NewTextPlaybackLogger(logger zerolog.Logger) PlaybackLogger {
	return &textPlaybackLogger{logger: logger}
}

func (o *textPlaybackLogger) LogSessionStart(session, url string, live bool) {
	kind := "static"
	if live {
		kind = "live"
	}
	o.logger.Info().Msgf("Session %s plays %s %s", session, kind, url)
}

func (o *textPlaybackLogger) LogNewPeriod(periodID string, start time.Duration, streams int) {
	o.logger.Info().Msgf("New Period %s starts %s with %d streams", periodID, start, streams)
}

func (o *textPlaybackLogger) LogSwitch(set, from, to string, bandwidth uint64) {
	o.logger.Info().Msgf("Set %s switched %s -> %s (%d bps)", set, from, to, bandwidth)
}

func (o *textPlaybackLogger) LogSeek(to time.Duration, err error) {
	if err != nil {
		o.logger.Warn().Msgf("Seek to %s failed: %v", to, err)
		return
	}
	o.logger.Info().Msgf("Seek to %s", to)
}

func (o *textPlaybackLogger) LogUpdateFailed(err error, failures int) {
	o.logger.Warn().Msgf("Playlist update failed (%d): %v", failures, err)
}

func (o *textPlaybackLogger) LogUpdatesExhausted(failures int) {
	o.logger.Error().Msgf("Playlist updates stopped after %d failures", failures)
}

func (o *textPlaybackLogger) LogPrune(before time.Duration, dropped int) {
	o.logger.Debug().Msgf("Pruned %d segments before %s", dropped, before)
}

// LogPlaylist renders the PlaylistLog as one text line per representation
func (o *textPlaybackLogger) LogPlaylist(p *PlaylistLog) {
	o.logger.Info().Msgf("Playlist %s live=%t duration %s", p.URL, p.Live, p.Duration)
	for _, period := range p.Periods {
		o.logger.Info().Msgf("Period %s at %s (%s)", period.ID, period.Start, period.Duration)
		for _, set := range period.Sets {
			for _, rep := range set.Representations {
				msg := fmt.Sprintf("%6s %-8s %10d", set.Type, rep.ID, rep.Bandwidth)
				if rep.Width > 0 {
					msg += fmt.Sprintf(" %4dx%-4d", rep.Width, rep.Height)
				}
				if rep.Codecs != "" {
					msg += " " + rep.Codecs
				}
				msg += fmt.Sprintf(" %4d segs %s - %s", rep.Segments, rep.Start, rep.End)
				o.logger.Info().Msg(msg)
			}
		}
	}
}

// jsonPlaybackLogger logs in structured JSON format
type jsonPlaybackLogger struct {
	logger zerolog.Logger
}

func NewJSONPlaybackLogger(logger zerolog.Logger) PlaybackLogger {
	return &jsonPlaybackLogger{logger: logger}
}

func (o *jsonPlaybackLogger) LogSessionStart(session, url string, live bool) {
	o.logger.Info().Str("session", session).Str("url", url).Bool("live", live).Msg("session start")
}

func (o *jsonPlaybackLogger) LogNewPeriod(periodID string, start time.Duration, streams int) {
	o.logger.Info().Str("periodId", periodID).Dur("start", start).Int("streams", streams).Msg("new period")
}

func (o *jsonPlaybackLogger) LogSwitch(set, from, to string, bandwidth uint64) {
	o.logger.Info().Str("set", set).Str("from", from).Str("to", to).Uint64("bandwidth", bandwidth).Msg("switch")
}

func (o *jsonPlaybackLogger) LogSeek(to time.Duration, err error) {
	if err != nil {
		o.logger.Warn().Dur("to", to).Err(err).Msg("seek failed")
		return
	}
	o.logger.Info().Dur("to", to).Msg("seek")
}

func (o *jsonPlaybackLogger) LogUpdateFailed(err error, failures int) {
	o.logger.Warn().Err(err).Int("failures", failures).Msg("playlist update failed")
}

func (o *jsonPlaybackLogger) LogUpdatesExhausted(failures int) {
	o.logger.Error().Int("failures", failures).Msg("playlist updates exhausted")
}

func (o *jsonPlaybackLogger) LogPrune(before time.Duration, dropped int) {
	o.logger.Debug().Dur("before", before).Int("dropped", dropped).Msg("prune")
}

// LogPlaylist serializes the PlaylistLog as structured JSON
func (o *jsonPlaybackLogger) LogPlaylist(p *PlaylistLog) {
	o.logger.Info().Interface("playlist", p).Msg("playlist")
}
