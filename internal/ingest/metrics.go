package ingest

import "sync/atomic"

// Metrics tracks the counters named in spec.md §4.1, exposed via the
// plain HTTP health endpoint. BufferDepth is a gauge summed across every
// active connection's fallback buffer; the rest are monotonic counters.
type Metrics struct {
	FramesIn          atomic.Int64
	BytesIn           atomic.Int64
	BufferDrops       atomic.Int64
	PublishFailures   atomic.Int64
	BufferDepth       atomic.Int64
	ActiveConnections atomic.Int64
}

// Snapshot is a point-in-time read for the health endpoint.
type Snapshot struct {
	FramesIn          int64 `json:"frames_in"`
	BytesIn           int64 `json:"bytes_in"`
	BufferDrops       int64 `json:"buffer_drops"`
	PublishFailures   int64 `json:"publish_failures"`
	BufferDepth       int64 `json:"buffer_depth"`
	ActiveConnections int64 `json:"active_connections"`
}

func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		FramesIn:          m.FramesIn.Load(),
		BytesIn:           m.BytesIn.Load(),
		BufferDrops:       m.BufferDrops.Load(),
		PublishFailures:   m.PublishFailures.Load(),
		BufferDepth:       m.BufferDepth.Load(),
		ActiveConnections: m.ActiveConnections.Load(),
	}
}
