package consumer

import (
	"sync"
	"time"

	"github.com/rapidaai/exo-agent-assist/internal/model"
)

// cacheTTL is the freshness window named in spec.md §4.4: reads older than
// this are treated as stale by the HTTP polling-fallback path. spec.md §9
// flags this as inconsistent with "unbounded" elsewhere in the source; the
// decision (see SPEC_FULL.md) is to honor the 1-hour figure consistently.
const cacheTTL = time.Hour

type cachedLine struct {
	line     model.Transcript
	cachedAt time.Time
}

// transcriptCache is the in-memory per-call transcript list backing the
// HTTP polling-fallback read path. One lock per cache instance, not per
// call: call volume is low enough (one active call produces a handful of
// lines a second) that a single mutex never becomes a bottleneck, and it
// keeps CachedLines/Append trivially free of lock-ordering bugs.
type transcriptCache struct {
	mu    sync.Mutex
	byID  map[string][]cachedLine
	clock func() time.Time
}

func newTranscriptCache() *transcriptCache {
	return &transcriptCache{byID: make(map[string][]cachedLine), clock: time.Now}
}

// Append adds a transcript line to the call's cache.
func (c *transcriptCache) Append(callID string, t model.Transcript) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byID[callID] = append(c.byID[callID], cachedLine{line: t, cachedAt: c.clock()})
}

// CachedLines returns every non-stale cached line for callID, oldest
// first, satisfying fanout.CachedLinesReader.
func (c *transcriptCache) CachedLines(callID string) []model.Transcript {
	c.mu.Lock()
	defer c.mu.Unlock()

	lines := c.byID[callID]
	now := c.clock()
	out := make([]model.Transcript, 0, len(lines))
	for _, l := range lines {
		if now.Sub(l.cachedAt) > cacheTTL {
			continue
		}
		out = append(out, l.line)
	}
	return out
}

// Forget drops a call's cache entirely; called by HandleCallEnd when the
// call_end event is processed, so memory doesn't grow unbounded across a
// long-running process.
func (c *transcriptCache) Forget(callID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.byID, callID)
}
