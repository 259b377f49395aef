package dct

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Default transport timeouts.
const (
	// defaultHandshakeTimeout bounds the WebSocket opening handshake.
	defaultHandshakeTimeout = 5 * time.Second

	// defaultWriteTimeout bounds a single command write.
	defaultWriteTimeout = 2 * time.Second

	// closeGracePeriod bounds the close frame sent on Close.
	closeGracePeriod = 250 * time.Millisecond
)

// Events receives transport callbacks. A successful Dial is the open
// event. Callbacks run on the connection's reader goroutine and must not
// block for long.
type Events struct {
	// OnMessage is called for every inbound frame, in delivery order.
	OnMessage func(frame string)

	// OnError is called once when the connection fails. No further
	// messages are delivered afterwards.
	OnError func(err error)

	// OnClose is called once when the connection ends after Close.
	OnClose func()
}

// Conn is an open device connection.
type Conn interface {
	// Send writes one command frame. The newline terminator is added.
	Send(text string) error

	// Close shuts the connection down without waiting for the reader.
	// It is idempotent.
	Close() error

	// Done is closed once the reader goroutine has exited.
	Done() <-chan struct{}
}

// Dialer opens device connections.
type Dialer interface {
	Dial(ctx context.Context, host string, port int, ev Events) (Conn, error)
}

// TransportStats holds transport statistics.
type TransportStats struct {
	FramesTx     uint64
	FramesRx     uint64
	ErrorsTotal  uint64
	DialsTotal   uint64
	LastActivity time.Time
}

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Ensure WSDialer implements Dialer.
var _ Dialer = (*WSDialer)(nil)

// WSDialer dials the device's WebSocket endpoint at ws://host:port.
//
// Thread Safety: All methods are safe for concurrent use. Statistics are
// shared by every connection the dialer opens.
type WSDialer struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration

	framesTx     atomic.Uint64
	framesRx     atomic.Uint64
	errorsTotal  atomic.Uint64
	dialsTotal   atomic.Uint64
	lastActivity atomic.Int64
}

// NewWSDialer creates a dialer with default timeouts.
func NewWSDialer() *WSDialer {
	return &WSDialer{
		HandshakeTimeout: defaultHandshakeTimeout,
		WriteTimeout:     defaultWriteTimeout,
	}
}

// DeviceURL returns the WebSocket URL of the device.
func DeviceURL(host string, port int) string {
	u := url.URL{Scheme: "ws", Host: net.JoinHostPort(host, strconv.Itoa(port))}
	return u.String()
}

// Dial opens a connection and starts its reader goroutine.
func (d *WSDialer) Dial(ctx context.Context, host string, port int, ev Events) (Conn, error) {
	d.dialsTotal.Add(1)

	handshake := d.HandshakeTimeout
	if handshake <= 0 {
		handshake = defaultHandshakeTimeout
	}
	dialer := websocket.Dialer{
		Proxy:            websocket.DefaultDialer.Proxy,
		HandshakeTimeout: handshake,
	}

	ws, resp, err := dialer.DialContext(ctx, DeviceURL(host, port), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		d.errorsTotal.Add(1)
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, DeviceURL(host, port), err)
	}

	writeTimeout := d.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	c := &wsConn{
		ws:           ws,
		dialer:       d,
		events:       ev,
		writeTimeout: writeTimeout,
		done:         newCloseOnce(),
	}
	d.touch()
	go c.readLoop()
	return c, nil
}

// Stats returns a copy of the transport statistics.
func (d *WSDialer) Stats() TransportStats {
	s := TransportStats{
		FramesTx:    d.framesTx.Load(),
		FramesRx:    d.framesRx.Load(),
		ErrorsTotal: d.errorsTotal.Load(),
		DialsTotal:  d.dialsTotal.Load(),
	}
	if ns := d.lastActivity.Load(); ns != 0 {
		s.LastActivity = time.Unix(0, ns)
	}
	return s
}

func (d *WSDialer) touch() {
	d.lastActivity.Store(time.Now().UnixNano())
}

type wsConn struct {
	ws           *websocket.Conn
	dialer       *WSDialer
	events       Events
	writeTimeout time.Duration

	writeMu sync.Mutex
	closing atomic.Bool
	done    *closeOnce
}

func (c *wsConn) Send(text string) error {
	if c.closing.Load() {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		c.dialer.errorsTotal.Add(1)
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, []byte(text+"\n")); err != nil {
		c.dialer.errorsTotal.Add(1)
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}
	c.dialer.framesTx.Add(1)
	c.dialer.touch()
	return nil
}

func (c *wsConn) Close() error {
	if !c.closing.CompareAndSwap(false, true) {
		return nil
	}
	// WriteControl and Close may run concurrently with the reader.
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod))
	return c.ws.Close()
}

func (c *wsConn) Done() <-chan struct{} {
	return c.done.Done()
}

func (c *wsConn) readLoop() {
	defer c.done.Close()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.finish(err)
			return
		}
		c.dialer.framesRx.Add(1)
		c.dialer.touch()
		if c.events.OnMessage != nil {
			c.events.OnMessage(string(data))
		}
	}
}

func (c *wsConn) finish(err error) {
	if c.closing.Load() {
		if c.events.OnClose != nil {
			c.events.OnClose()
		}
		return
	}

	c.closing.Store(true)
	c.dialer.errorsTotal.Add(1)
	_ = c.ws.Close()
	if c.events.OnError != nil {
		c.events.OnError(err)
	}
}
