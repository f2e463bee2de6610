// Package transport maintains the websocket connection to the live chat
// feed. It hides handshake headers, keepalive, and reconnect policy behind
// a channel of raw frames; classification happens downstream.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// streamEndedCloseCode is sent by the server when the broadcast is over.
const streamEndedCloseCode = 4003

// Health states for the chat connection.
type Health int

const (
	// HealthDead: no connection and not currently receiving.
	HealthDead Health = iota
	// HealthStale: connected but nothing received within the stale window.
	HealthStale
	// HealthOK: connected and recently active.
	HealthOK
)

func (h Health) String() string {
	switch h {
	case HealthOK:
		return "ok"
	case HealthStale:
		return "stale"
	default:
		return "dead"
	}
}

// Config carries everything needed to reach the chat feed.
type Config struct {
	// URL is the websocket endpoint, ws:// or wss://.
	URL string
	// LiveID, GID and AuthToken populate the handshake headers.
	LiveID    string
	GID       string
	AuthToken string

	// DialTimeout bounds a single handshake (default 10s).
	DialTimeout time.Duration
	// PingInterval is the keepalive cadence (default 5s).
	PingInterval time.Duration
	// StaleAfter is how long without inbound traffic before Health()
	// reports stale (default 10s). Pings must run more often than this
	// so a quiet but healthy stream keeps refreshing activity.
	StaleAfter time.Duration

	// ReconnectBase is the first retry delay, doubling per attempt up to
	// ReconnectCap. MaxAttempts consecutive failures give up with
	// ErrConnectionLost. A connection that survives StableFor resets the
	// attempt counter. Defaults: 2s base, 32s cap, 5 attempts, 10s stable.
	ReconnectBase time.Duration
	ReconnectCap  time.Duration
	MaxAttempts   int
	StableFor     time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.DialTimeout <= 0 {
		out.DialTimeout = 10 * time.Second
	}
	if out.PingInterval <= 0 {
		out.PingInterval = 5 * time.Second
	}
	if out.StaleAfter <= 0 {
		out.StaleAfter = 10 * time.Second
	}
	if out.ReconnectBase <= 0 {
		out.ReconnectBase = 2 * time.Second
	}
	if out.ReconnectCap <= 0 {
		out.ReconnectCap = 32 * time.Second
	}
	if out.MaxAttempts <= 0 {
		out.MaxAttempts = 5
	}
	if out.StableFor <= 0 {
		out.StableFor = 10 * time.Second
	}
	return out
}

// Client owns the connection lifecycle. Frames() yields every raw text
// frame received, across reconnects, until Run returns.
type Client struct {
	cfg    Config
	frames chan []byte

	mu           sync.Mutex
	conn         *websocket.Conn
	connected    bool
	lastActivity time.Time

	// onReconnect is invoked once per successful re-dial (not the first
	// connect); nil-safe.
	onReconnect func()

	dial func(ctx context.Context, url string, hdr http.Header) (*websocket.Conn, *http.Response, error)
}

// NewClient builds a client; Run must be called to start receiving.
func NewClient(cfg Config) *Client {
	c := &Client{
		cfg:    cfg.withDefaults(),
		frames: make(chan []byte, 256),
	}
	c.dial = func(ctx context.Context, url string, hdr http.Header) (*websocket.Conn, *http.Response, error) {
		d := websocket.Dialer{HandshakeTimeout: c.cfg.DialTimeout}
		return d.DialContext(ctx, url, hdr)
	}
	return c
}

// Frames returns the inbound frame channel. Closed when Run returns.
func (c *Client) Frames() <-chan []byte { return c.frames }

// OnReconnect registers a callback fired on each successful reconnect.
func (c *Client) OnReconnect(fn func()) { c.onReconnect = fn }

// Health reports the current connection health.
func (c *Client) Health() Health {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return HealthDead
	}
	if time.Since(c.lastActivity) > c.cfg.StaleAfter {
		return HealthStale
	}
	return HealthOK
}

// Connected reports whether a socket is currently open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Reconnect drops the current socket; Run's loop notices the read error
// and dials again under the normal retry policy.
func (c *Client) Reconnect() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// Run connects and pumps frames until ctx is canceled or the connection is
// unrecoverable. Always closes Frames() before returning. Returns nil on
// ctx cancellation, ErrStreamEnded when the broadcast is over, ErrAuth on
// credential rejection, ErrConnectionLost when retries are exhausted.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.frames)
	defer c.setConn(nil)

	attempts := 0
	first := true
	for {
		if ctx.Err() != nil {
			return nil
		}
		conn, err := c.connect(ctx)
		if err != nil {
			if errors.Is(err, ErrAuth) || ctx.Err() != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			attempts++
			if attempts >= c.cfg.MaxAttempts {
				slog.Error("reconnect budget exhausted", slog.Int("attempts", attempts), slog.Any("err", err))
				return fmt.Errorf("%w: %v", ErrConnectionLost, err)
			}
			delay := c.backoff(attempts)
			slog.Warn("dial failed; retrying",
				slog.Int("attempt", attempts),
				slog.Duration("delay", delay),
				slog.Any("err", err))
			if !sleepCtx(ctx, delay) {
				return nil
			}
			continue
		}

		if !first && c.onReconnect != nil {
			c.onReconnect()
		}
		first = false
		c.setConn(conn)
		slog.Info("chat feed connected", slog.String("url", c.cfg.URL))

		start := time.Now()
		err = c.readLoop(ctx, conn)
		c.setConn(nil)
		if ctx.Err() != nil {
			return nil
		}
		if isStreamEnded(err) {
			slog.Info("stream ended; closing")
			return ErrStreamEnded
		}
		// A connection that held long enough earns a fresh retry budget.
		if time.Since(start) >= c.cfg.StableFor {
			attempts = 0
		}
		attempts++
		if attempts >= c.cfg.MaxAttempts {
			slog.Error("reconnect budget exhausted", slog.Int("attempts", attempts), slog.Any("err", err))
			return fmt.Errorf("%w: %v", ErrConnectionLost, err)
		}
		delay := c.backoff(attempts)
		slog.Warn("connection dropped; reconnecting",
			slog.Int("attempt", attempts),
			slog.Duration("delay", delay),
			slog.Any("err", err))
		if !sleepCtx(ctx, delay) {
			return nil
		}
	}
}

func (c *Client) connect(ctx context.Context) (*websocket.Conn, error) {
	hdr := http.Header{}
	if c.cfg.LiveID != "" {
		hdr.Set("X-WFLE-vLiveID", c.cfg.LiveID)
	}
	if c.cfg.GID != "" {
		hdr.Set("X-WFLE-GID", c.cfg.GID)
	}
	if c.cfg.AuthToken != "" {
		hdr.Set("Authorization", c.cfg.AuthToken)
	}
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()
	conn, resp, err := c.dial(dialCtx, c.cfg.URL, hdr)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w (status %d)", ErrAuth, resp.StatusCode)
		}
		return nil, err
	}
	return conn, nil
}

// readLoop pumps frames until the socket dies. Pings keep the connection
// alive; any inbound traffic refreshes the activity clock.
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	// A connection with no frames and no pong acks for two staleness
	// intervals is dead; the read deadline forces the error that triggers
	// a reconnect.
	deadWindow := 2 * c.cfg.StaleAfter
	_ = conn.SetReadDeadline(time.Now().Add(deadWindow))
	conn.SetPongHandler(func(string) error {
		c.touch()
		return conn.SetReadDeadline(time.Now().Add(deadWindow))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(c.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				_ = conn.Close()
				return
			case <-ticker.C:
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					_ = conn.Close()
					return
				}
			}
		}
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.touch()
		_ = conn.SetReadDeadline(time.Now().Add(deadWindow))
		if msgType != websocket.TextMessage {
			continue
		}
		select {
		case c.frames <- data:
		case <-ctx.Done():
			return ctx.Err()
		default:
			// Consumer wedged; dropping beats blocking the read loop and
			// timing out the socket.
			slog.Warn("frame buffer full; dropping frame")
		}
	}
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.connected = conn != nil
	if conn != nil {
		c.lastActivity = time.Now()
	}
	c.mu.Unlock()
}

func (c *Client) touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

func (c *Client) backoff(attempt int) time.Duration {
	d := c.cfg.ReconnectBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= c.cfg.ReconnectCap {
			return c.cfg.ReconnectCap
		}
	}
	return d
}

func isStreamEnded(err error) bool {
	var ce *websocket.CloseError
	return errors.As(err, &ce) && ce.Code == streamEndedCloseCode
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
