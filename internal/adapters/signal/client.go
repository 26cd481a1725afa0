// Package signal carries protocol messages over a websocket.
package signal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/protocol"
	"github.com/gorilla/websocket"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("connection closed")
)

// WSConn is an indirection over *websocket.Conn to ease testing.
type WSConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(mt int, data []byte) error
	SetWriteDeadline(t time.Time) error
	SetReadDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Handler receives decoded messages one at a time.
type Handler interface {
	HandleMessage(protocol.Message)
}

type HandlerFunc func(protocol.Message)

func (f HandlerFunc) HandleMessage(m protocol.Message) { f(m) }

type Config struct {
	SendBuffer int
	ReadLimit  int64
	// PingPeriod enables keepalive pings; the peer must answer within 10/9 of it.
	PingPeriod time.Duration
	WriteWait  time.Duration
	Header     http.Header
}

func (c Config) withDefaults() Config {
	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 5 * time.Second
	}
	return c
}

// Client is one websocket endpoint. It implements core.SignalConnection and
// core.SignalSender; the relay uses it for accepted connections too.
type Client struct {
	conn WSConn
	cfg  Config
	send chan core.Frame
	done chan struct{}
	once sync.Once

	drain     chan struct{}
	drainOnce sync.Once
}

// Dial connects to the relay at url.
func Dial(ctx context.Context, url string, cfg Config) (*Client, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, cfg.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %s: %w", url, resp.Status, err)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return NewClient(conn, cfg), nil
}

func NewClient(conn WSConn, cfg Config) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		conn: conn,
		cfg:  cfg,
		send:  make(chan core.Frame, cfg.SendBuffer),
		done:  make(chan struct{}),
		drain: make(chan struct{}),
	}
}

func (c *Client) Send(msg protocol.Message) error {
	b, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	return c.TrySend(b)
}

func (c *Client) TrySend(f core.Frame) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.send <- f:
		return nil
	default:
		return ErrBackpressure
	}
}

func (c *Client) Close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// Shutdown writes the frames still queued, sends a close frame and closes
// the connection. It gives up when ctx ends. Frames sent after Shutdown
// starts may be lost.
func (c *Client) Shutdown(ctx context.Context) {
	c.drainOnce.Do(func() { close(c.drain) })
	select {
	case <-c.done:
	case <-ctx.Done():
	}
	c.Close()
}

// Done is closed once the connection is closed.
func (c *Client) Done() <-chan struct{} { return c.done }

// Run pumps frames in both directions until ctx ends or the connection
// drops. It returns nil when stopped by ctx or Close.
func (c *Client) Run(ctx context.Context, h Handler) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer c.Close()
	stop := context.AfterFunc(ctx, c.Close)
	defer stop()

	go c.writePump(ctx)
	return c.readPump(ctx, h)
}
