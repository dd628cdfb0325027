package fanout

import (
	"github.com/gin-gonic/gin"

	"github.com/rapidaai/exo-agent-assist/internal/model"
)

// CachedLinesReader is the narrow slice of the transcript cache this
// package needs, satisfied by internal/consumer's cache. Replaying cached
// lines on subscribe lets a dashboard that reconnects mid-call catch up
// instead of starting from a blank transcript pane.
type CachedLinesReader interface {
	CachedLines(callID string) []model.Transcript
}

// StreamHandler returns a gin handler for GET /events/stream?callId=X.
// Grounded on the donor's HandleConnection shape (register, emit an
// opening message, block until the transport closes, unregister via
// defer) adapted from a WebSocket read loop to a one-way SSE writer loop.
func StreamHandler(b *Broadcaster, cache CachedLinesReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		callID := c.Query("callId")

		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache, no-transform")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")

		client := b.Register(callID)
		defer b.Unregister(client)

		writer := c.Writer
		flusher, canFlush := any(writer).(interface{ Flush() })

		connFrame, err := ConnectionEvent(callID).frame()
		if err == nil {
			if _, werr := writer.Write(connFrame); werr != nil {
				return
			}
			if canFlush {
				flusher.Flush()
			}
		}

		if callID != "" && cache != nil {
			for _, t := range cache.CachedLines(callID) {
				frame, err := TranscriptLineEvent(callID, t.Seq, t.Ts, t.Text, string(t.Speaker)).frame()
				if err != nil {
					continue
				}
				if _, werr := writer.Write(frame); werr != nil {
					return
				}
			}
			if canFlush {
				flusher.Flush()
			}
		}

		notify := c.Request.Context().Done()
		for {
			select {
			case <-notify:
				return
			case frame, ok := <-client.frames:
				if !ok {
					return
				}
				if _, err := writer.Write(frame); err != nil {
					return
				}
				if canFlush {
					flusher.Flush()
				}
			}
		}
	}
}
