// Package output holds the demux sinks of the player: counting samples
// and dumping elementary streams to disk.
package output

import (
	"sync"
	"time"

	"github.com/jdeisenh/abrplay/pkg/demux"
	"github.com/jdeisenh/abrplay/pkg/playlist"
)

// StreamStats summarizes what a stream delivered
type StreamStats struct {
	Samples         int           `json:"samples"`
	Keyframes       int           `json:"keyframes"`
	Bytes           uint64        `json:"bytes"`
	FirstDTS        time.Duration `json:"first_dts"`
	LastDTS         time.Duration `json:"last_dts"`
	Discontinuities int           `json:"discontinuities"`
}

// Counter is a demux.Sink keeping per stream statistics
type Counter struct {
	mu      sync.Mutex
	streams map[playlist.ID]*StreamStats
	pcr     time.Duration
	resets  int
	// Only these streams are selected, all if nil
	only map[playlist.ID]bool
}

func NewCounter(only ...playlist.ID) *Counter {
	c := &Counter{
		streams: make(map[playlist.ID]*StreamStats),
		pcr:     playlist.TimeInvalid,
	}
	if len(only) > 0 {
		c.only = make(map[playlist.ID]bool, len(only))
		for _, id := range only {
			c.only[id] = true
		}
	}
	return c
}

func (c *Counter) Send(id playlist.ID, s demux.Sample) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.streams[id]
	if !ok {
		st = &StreamStats{FirstDTS: s.DTS}
		c.streams[id] = st
	}
	st.Samples++
	st.Bytes += uint64(len(s.Data))
	st.LastDTS = s.DTS
	if s.Keyframe {
		st.Keyframes++
	}
	if s.Discontinuity {
		st.Discontinuities++
	}
}

func (c *Counter) SetPCR(t time.Duration) {
	c.mu.Lock()
	c.pcr = t
	c.mu.Unlock()
}

func (c *Counter) ResetPCR() {
	c.mu.Lock()
	c.pcr = playlist.TimeInvalid
	c.resets++
	c.mu.Unlock()
}

// Selected implements demux.Selector
func (c *Counter) Selected(id playlist.ID) bool {
	return c.only == nil || c.only[id]
}

// PCR is the last announced clock, TimeInvalid after a reset
func (c *Counter) PCR() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pcr
}

// Resets counts the clock resets seen
func (c *Counter) Resets() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resets
}

// Stats returns a snapshot per stream
func (c *Counter) Stats() map[playlist.ID]StreamStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[playlist.ID]StreamStats, len(c.streams))
	for id, st := range c.streams {
		out[id] = *st
	}
	return out
}

// Total sums samples and bytes over all streams
func (c *Counter) Total() (samples int, bytes uint64) {
	for _, st := range c.Stats() {
		samples += st.Samples
		bytes += st.Bytes
	}
	return
}
