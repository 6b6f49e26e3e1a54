package stream

// Status is the result of one demux tick. Aggregated over streams the
// higher value wins.
type Status int

const (
	StatusEOF Status = iota
	StatusDemuxed
	StatusDiscontinuity
	StatusBuffering
	// Data is available but starts after the deadline
	StatusBufferingAhead
	// Only produced by the manager when it moved to the next period
	StatusEndOfPeriod
)

var statusNames = map[Status]string{
	StatusEOF:            "eof",
	StatusDemuxed:        "demuxed",
	StatusDiscontinuity:  "dis",
	StatusBuffering:      "buffering",
	StatusBufferingAhead: "buffering_ahead",
	StatusEndOfPeriod:    "eop",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "unknown"
}

// BufferingStatus is the result of one download step. Aggregated over
// streams the higher value wins.
type BufferingStatus int

const (
	BufferingEnd BufferingStatus = iota
	// Live edge reached, nothing to download yet
	BufferingSuspended
	BufferingFull
	BufferingOngoing
	BufferingLessThanMin
)

var bufferingNames = map[BufferingStatus]string{
	BufferingEnd:         "end",
	BufferingSuspended:   "suspended",
	BufferingFull:        "full",
	BufferingOngoing:     "ongoing",
	BufferingLessThanMin: "lessthanmin",
}

func (s BufferingStatus) String() string {
	if name, ok := bufferingNames[s]; ok {
		return name
	}
	return "unknown"
}
