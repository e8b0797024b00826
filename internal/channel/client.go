package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultReconnectDelay   = 2 * time.Second
	writeTimeout            = 5 * time.Second
)

// Options configures a Client.
type Options struct {
	Header           http.Header
	HandshakeTimeout time.Duration
	ReconnectDelay   time.Duration
	Logger           zerolog.Logger
}

// Client is the process-wide WebSocket connection to the remote service.
// Subscriptions live on the client, not the connection, so they survive
// reconnects.
type Client struct {
	registry

	url    string
	header http.Header
	dialer *websocket.Dialer
	delay  time.Duration
	logger zerolog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
	done chan struct{}

	writeMu sync.Mutex
}

// NewClient returns an unconnected client for url. Call Connect or Run.
func NewClient(url string, opts Options) *Client {
	hs := opts.HandshakeTimeout
	if hs <= 0 {
		hs = defaultHandshakeTimeout
	}
	delay := opts.ReconnectDelay
	if delay <= 0 {
		delay = defaultReconnectDelay
	}
	return &Client{
		url:    url,
		header: opts.Header,
		dialer: &websocket.Dialer{HandshakeTimeout: hs, ReadBufferSize: 65536, WriteBufferSize: 65536},
		delay:  delay,
		logger: opts.Logger.With().Str("component", "channel").Logger(),
	}
}

// Connected reports whether a live connection exists.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Connect dials once. It is a no-op when already connected.
func (c *Client) Connect(ctx context.Context) error {
	_, err := c.connect(ctx)
	return err
}

func (c *Client) connect(ctx context.Context) (<-chan struct{}, error) {
	c.mu.Lock()
	if c.conn != nil {
		done := c.done
		c.mu.Unlock()
		return done, nil
	}
	c.mu.Unlock()

	conn, resp, err := c.dialer.DialContext(ctx, c.url, c.header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", c.url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", c.url, err)
	}

	done := make(chan struct{})
	c.mu.Lock()
	if c.conn != nil {
		// lost a race with a concurrent Connect
		existing := c.done
		c.mu.Unlock()
		_ = conn.Close()
		return existing, nil
	}
	c.conn = conn
	c.done = done
	c.mu.Unlock()

	c.logger.Info().Str("url", c.url).Msg("connected")
	go c.readLoop(conn, done)
	c.dispatch(EventConnect, nil)
	return done, nil
}

// Run keeps the connection up until ctx is cancelled, redialing after
// ReconnectDelay whenever it drops. It closes the connection on return.
func (c *Client) Run(ctx context.Context) {
	defer func() { _ = c.Close() }()
	for {
		done, err := c.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn().Err(err).Msg("connect failed")
		} else {
			select {
			case <-done:
			case <-ctx.Done():
				return
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.delay):
		}
	}
}

// Emit sends one event. It returns ErrNotConnected without a connection.
func (c *Client) Emit(event string, payload any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	data, err := marshalPayload(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}

	c.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	err = conn.WriteJSON(Envelope{Event: event, Data: data})
	c.writeMu.Unlock()
	if err != nil {
		c.drop(conn, err)
		return fmt.Errorf("emit %s: %w", event, err)
	}
	c.logger.Debug().Str("event", event).Int("bytes", len(data)).Msg("emit")
	return nil
}

// Close closes the live connection, if any.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	c.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	c.drop(conn, nil)
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			c.drop(conn, err)
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			c.logger.Warn().Err(err).Msg("invalid frame")
			continue
		}
		if env.Event == EventConnect || env.Event == EventDisconnect {
			continue
		}
		n := c.dispatch(env.Event, env.Data)
		c.logger.Debug().Str("event", env.Event).Int("handlers", n).Msg("recv")
	}
}

// drop forgets conn and notifies subscribers once per connection.
func (c *Client) drop(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.mu.Unlock()

	_ = conn.Close()
	switch {
	case cause == nil, errors.Is(cause, net.ErrClosed),
		websocket.IsCloseError(cause, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		c.logger.Info().Msg("disconnected")
	default:
		c.logger.Warn().Err(cause).Msg("connection lost")
	}
	c.dispatch(EventDisconnect, nil)
}
