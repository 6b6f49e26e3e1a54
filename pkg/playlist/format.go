package playlist

import (
	"net/url"
	"path"
	"strings"
)

// StreamFormat is the container format of a representation's segments
type StreamFormat int

const (
	FormatUnknown StreamFormat = iota
	FormatMP4
	FormatMPEG2TS
	FormatPackedAAC
	FormatPackedAC3
	FormatWebVTT
	FormatTTML
)

func (f StreamFormat) String() string {
	switch f {
	case FormatMP4:
		return "mp4"
	case FormatMPEG2TS:
		return "ts"
	case FormatPackedAAC:
		return "aac"
	case FormatPackedAC3:
		return "ac3"
	case FormatWebVTT:
		return "webvtt"
	case FormatTTML:
		return "ttml"
	}
	return "unknown"
}

// FormatFromMime maps a mime type to a container format
func FormatFromMime(mime string) StreamFormat {
	mime = strings.ToLower(strings.TrimSpace(mime))
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	switch mime {
	case "video/mp4", "audio/mp4", "application/mp4", "video/iso.segment", "audio/iso.segment":
		return FormatMP4
	case "video/mp2t", "audio/mp2t":
		return FormatMPEG2TS
	case "audio/aac", "audio/x-aac":
		return FormatPackedAAC
	case "audio/ac3", "audio/eac3":
		return FormatPackedAC3
	case "text/vtt":
		return FormatWebVTT
	case "application/ttml+xml":
		return FormatTTML
	}
	return FormatUnknown
}

// FormatFromURL guesses the container format from the path extension
func FormatFromURL(raw string) StreamFormat {
	p := raw
	if u, err := url.Parse(raw); err == nil {
		p = u.Path
	}
	switch strings.ToLower(path.Ext(p)) {
	case ".mp4", ".m4s", ".m4v", ".m4a", ".cmfv", ".cmfa", ".uvu":
		return FormatMP4
	case ".ts", ".m2ts", ".mts":
		return FormatMPEG2TS
	case ".aac":
		return FormatPackedAAC
	case ".ac3", ".ec3":
		return FormatPackedAC3
	case ".vtt", ".webvtt":
		return FormatWebVTT
	case ".ttml", ".dfxp":
		return FormatTTML
	}
	return FormatUnknown
}

// StreamTypeFromMime returns the track type of a mime type or content type
func StreamTypeFromMime(mime string) StreamType {
	mime = strings.ToLower(mime)
	switch {
	case strings.HasPrefix(mime, "video"):
		return StreamVideo
	case strings.HasPrefix(mime, "audio"):
		return StreamAudio
	case strings.HasPrefix(mime, "text"), strings.HasPrefix(mime, "application/ttml"):
		return StreamText
	}
	return StreamUnknown
}
