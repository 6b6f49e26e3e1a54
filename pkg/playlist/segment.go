package playlist

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ByteRange is an inclusive byte range, End < 0 means to the end of the resource
type ByteRange struct {
	Start int64
	End   int64
}

// ParseByteRange parses the DASH "first-last" notation
func ParseByteRange(s string) (*ByteRange, error) {
	first, last, ok := strings.Cut(strings.TrimSpace(s), "-")
	if !ok {
		return nil, fmt.Errorf("invalid byte range %q", s)
	}
	start, err := strconv.ParseInt(first, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid byte range %q: %w", s, err)
	}
	r := &ByteRange{Start: start, End: -1}
	if last != "" {
		if r.End, err = strconv.ParseInt(last, 10, 64); err != nil {
			return nil, fmt.Errorf("invalid byte range %q: %w", s, err)
		}
		if r.End < r.Start {
			return nil, fmt.Errorf("invalid byte range %q", s)
		}
	}
	return r, nil
}

// Header renders the range for a http Range header
func (r ByteRange) Header() string {
	if r.End < 0 {
		return fmt.Sprintf("bytes=%d-", r.Start)
	}
	return fmt.Sprintf("bytes=%d-%d", r.Start, r.End)
}

// Length is the number of bytes, -1 if open ended
func (r ByteRange) Length() int64 {
	if r.End < 0 {
		return -1
	}
	return r.End - r.Start + 1
}

// Segment is one media segment of a representation. Start is relative to
// the period start.
type Segment struct {
	Number        uint64
	Start         time.Duration
	Duration      time.Duration
	URL           string
	Range         *ByteRange
	Discontinuity bool
}

func (s Segment) End() time.Duration {
	return s.Start + s.Duration
}

type ChunkKind int

const (
	ChunkMedia ChunkKind = iota
	ChunkInit
)

func (k ChunkKind) String() string {
	if k == ChunkInit {
		return "init"
	}
	return "media"
}

// Chunk is one download request resolved by a tracker. For init chunks
// Segment describes the media segment that follows.
type Chunk struct {
	Kind           ChunkKind
	URL            string
	Range          *ByteRange
	Representation ID
	Bandwidth      uint64
	Format         StreamFormat
	Segment        Segment
}

func (c *Chunk) String() string {
	return fmt.Sprintf("%s %s #%d %s", c.Representation, c.Kind, c.Segment.Number, c.URL)
}
