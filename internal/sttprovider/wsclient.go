package sttprovider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"

	"github.com/rapidaai/exo-agent-assist/internal/apperr"
	"github.com/rapidaai/exo-agent-assist/internal/logging"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	readLimitBytes          = 2 << 20 // 2MB: transcript events are small; this just guards against a misbehaving provider
	keepAliveInterval       = 3 * time.Second
)

// wireEvent is the provider's JSON transcript event shape.
type wireEvent struct {
	Type       string   `json:"type"`
	Text       string   `json:"text"`
	Speaker    string   `json:"speaker,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// WSProvider opens WebSocket connections against a generic streaming STT
// endpoint: fetch a short-lived token via REST, dial with it as a query
// param, wait for session.started before returning the Connection to the
// caller.
type WSProvider struct {
	baseURL    string
	tokenURL   string
	apiKey     string
	logger     logging.Logger
	httpClient *resty.Client
	dialer     *websocket.Dialer
}

func NewWSProvider(baseURL, tokenURL, apiKey string, logger logging.Logger) *WSProvider {
	return &WSProvider{
		baseURL:    baseURL,
		tokenURL:   tokenURL,
		apiKey:     apiKey,
		logger:     logger,
		httpClient: resty.New().SetTimeout(5 * time.Second),
		dialer:     &websocket.Dialer{HandshakeTimeout: defaultHandshakeTimeout},
	}
}

func (p *WSProvider) Open(ctx context.Context, opts ConnectOptions) (Connection, error) {
	token, err := p.fetchToken(ctx, opts)
	if err != nil {
		return nil, apperr.New(apperr.Provider, "sttprovider.fetch_token", err)
	}

	connectionString := p.connectionString(opts, token)

	dialCtx := ctx
	if opts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, opts.ConnectTimeout)
		defer cancel()
	}

	conn, _, err := p.dialer.DialContext(dialCtx, connectionString, nil)
	if err != nil {
		return nil, apperr.New(apperr.Provider, "sttprovider.dial", err)
	}
	conn.SetReadLimit(readLimitBytes)

	c := &wsConnection{
		conn:     conn,
		logger:   p.logger.With("interaction_id", opts.InteractionID),
		events:   make(chan Event, 32),
		done:     make(chan struct{}),
		lastSent: time.Now(),
	}
	go c.keepAliveLoop()
	go c.readLoop()

	if err := c.awaitSessionStarted(dialCtx); err != nil {
		_ = c.Close()
		return nil, apperr.New(apperr.Provider, "sttprovider.session_started", err)
	}
	return c, nil
}

func (p *WSProvider) fetchToken(ctx context.Context, opts ConnectOptions) (string, error) {
	if p.tokenURL == "" {
		// Some deployments fold the api key directly into the connection
		// string and skip a separate token-issuance hop.
		return p.apiKey, nil
	}
	var body struct {
		Token string `json:"token"`
	}
	resp, err := p.httpClient.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+p.apiKey).
		SetResult(&body).
		Post(p.tokenURL)
	if err != nil {
		return "", fmt.Errorf("fetch short-lived token: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("fetch short-lived token: status %d", resp.StatusCode())
	}
	return body.Token, nil
}

func (p *WSProvider) connectionString(opts ConnectOptions, token string) string {
	q := url.Values{}
	q.Set("sample_rate", fmt.Sprintf("%d", opts.SampleRate))
	q.Set("encoding", "pcm_s16le")
	q.Set("token", token)
	if opts.Language != "" {
		q.Set("language", opts.Language)
	}
	if opts.Model != "" {
		q.Set("model", opts.Model)
	}
	return p.baseURL + "?" + q.Encode()
}

type wsConnection struct {
	conn   *websocket.Conn
	logger logging.Logger

	writeMu  sync.Mutex
	lastSent time.Time

	events chan Event
	done   chan struct{}
	once   sync.Once
}

func (c *wsConnection) awaitSessionStarted(ctx context.Context) error {
	select {
	case ev, ok := <-c.events:
		if !ok {
			return fmt.Errorf("connection closed before session.started")
		}
		if ev.Type != EventSessionStarted {
			return fmt.Errorf("unexpected first event %q, wanted session.started", ev.Type)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *wsConnection) SendAudio(ctx context.Context, pcm16 []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.WriteMessage(websocket.BinaryMessage, pcm16); err != nil {
		return apperr.New(apperr.Provider, "sttprovider.send_audio", err)
	}
	c.lastSent = time.Now()
	return nil
}

// keepAliveLoop sends a zero-length control message every 3s of silence,
// matching the provider contract in the external interfaces section.
func (c *wsConnection) keepAliveLoop() {
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			idle := time.Since(c.lastSent) >= keepAliveInterval
			if idle {
				_ = c.conn.WriteMessage(websocket.BinaryMessage, []byte{})
				c.lastSent = time.Now()
			}
			c.writeMu.Unlock()
		}
	}
}

func (c *wsConnection) readLoop() {
	defer close(c.events)
	c.conn.SetPongHandler(func(string) error { return nil })

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case c.events <- Event{Type: EventClosed}:
			default:
			}
			return
		}

		var we wireEvent
		if err := json.Unmarshal(data, &we); err != nil {
			c.logger.Warnf("sttprovider: undecodable event, dropping: %v", err)
			continue
		}

		ev := translateEvent(we)
		select {
		case c.events <- ev:
		case <-c.done:
			return
		}
	}
}

func translateEvent(we wireEvent) Event {
	switch we.Type {
	case "session.started", "session_started":
		return Event{Type: EventSessionStarted}
	case "error":
		return Event{Type: EventError, Text: we.Text}
	default:
		return Event{
			Type:       EventTranscript,
			Text:       we.Text,
			IsFinal:    we.Type == "final",
			Speaker:    we.Speaker,
			Confidence: we.Confidence,
		}
	}
}

func (c *wsConnection) Events() <-chan Event { return c.events }

func (c *wsConnection) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}
