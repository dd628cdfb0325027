package fanout

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rapidaai/exo-agent-assist/internal/logging"
)

const (
	heartbeatInterval = 30 * time.Second
	clientSendBuffer  = 64
)

// Client is a single registered SSE subscriber. Writes to frames are
// serialised by construction: only the HTTP handler goroutine that owns
// this client ever drains frames, and Broadcast only ever enqueues.
type Client struct {
	id     uint64
	callID string // "" registers the client in the global bucket
	frames chan []byte
	closed atomic.Bool
}

func (c *Client) enqueue(frame []byte) bool {
	if c.closed.Load() {
		return false
	}
	select {
	case c.frames <- frame:
		return true
	default:
		// Slow client: drop rather than block the broadcaster for everyone
		// else, matching the donor's "write failure removes the client"
		// rule generalized to a full buffer.
		return false
	}
}

// Broadcaster owns the client registry and fans events out to matching
// clients. One Broadcaster per process.
type Broadcaster struct {
	logger  logging.Logger
	mu      sync.RWMutex
	clients map[uint64]*Client
	nextID  atomic.Uint64

	heartbeatOnce sync.Once
}

func NewBroadcaster(logger logging.Logger) *Broadcaster {
	return &Broadcaster{
		logger:  logger,
		clients: make(map[uint64]*Client),
	}
}

// Register adds a new client under callID (or the global bucket when
// callID is empty) and starts the process-wide heartbeat loop on first
// use.
func (b *Broadcaster) Register(callID string) *Client {
	c := &Client{
		id:     b.nextID.Add(1),
		callID: callID,
		frames: make(chan []byte, clientSendBuffer),
	}

	b.mu.Lock()
	b.clients[c.id] = c
	b.mu.Unlock()

	b.heartbeatOnce.Do(func() { go b.heartbeatLoop() })
	return c
}

// Unregister removes a client. Safe to call more than once.
func (b *Broadcaster) Unregister(c *Client) {
	c.closed.Store(true)
	b.mu.Lock()
	delete(b.clients, c.id)
	b.mu.Unlock()
}

// Broadcast delivers event to every client in the global bucket plus
// every client registered under event.CallID. Connection pointers are
// snapshotted under the read lock and sends happen outside it, so a slow
// client never stalls register/unregister for others.
func (b *Broadcaster) Broadcast(event Event) {
	frame, err := event.frame()
	if err != nil {
		b.logger.Errorf("fanout: encode event type=%s callId=%s: %v", event.Type, event.CallID, err)
		return
	}

	b.mu.RLock()
	targets := make([]*Client, 0, len(b.clients))
	for _, c := range b.clients {
		if c.callID == "" || c.callID == event.CallID {
			targets = append(targets, c)
		}
	}
	b.mu.RUnlock()

	for _, c := range targets {
		if !c.enqueue(frame) {
			b.Unregister(c)
		}
	}
}

// heartbeatLoop runs for the lifetime of the process once the first
// client registers. When no clients remain it simply has nothing to send
// each tick — cheaper than the coordination needed to safely restart a
// sync.Once, and the ticker itself is negligible overhead.
func (b *Broadcaster) heartbeatLoop() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	comment := []byte(": keep-alive\n\n")

	for range ticker.C {
		b.mu.RLock()
		targets := make([]*Client, 0, len(b.clients))
		for _, c := range b.clients {
			targets = append(targets, c)
		}
		b.mu.RUnlock()

		for _, c := range targets {
			if !c.enqueue(comment) {
				b.Unregister(c)
			}
		}
	}
}
