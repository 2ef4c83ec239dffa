package bunker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	frameTypeSubscribe = "subscribe"
	frameTypeMessage   = "message"

	receiveBuffer = 64
)

// Frame is one relay message. Relays route by the To key; payloads are
// opaque sealed blobs, the relay never sees plaintext.
type Frame struct {
	Type    string `json:"type"`
	To      string `json:"to,omitempty"`
	From    string `json:"from,omitempty"`
	Payload string `json:"payload,omitempty"`
}

// RelayConn is one open connection to a relay. Receive's channel closes when
// the underlying transport drops.
type RelayConn interface {
	Send(ctx context.Context, frame Frame) error
	Receive() <-chan Frame
	Close() error
}

// Dialer opens relay connections. Injected so the handshake is testable
// without network access.
type Dialer interface {
	Dial(ctx context.Context, relayURL, clientKey string) (RelayConn, error)
}

// WebsocketDialer dials wss:// relays with gorilla/websocket and announces
// the client key so the relay can route inbound frames.
type WebsocketDialer struct {
	HandshakeTimeout time.Duration
}

func (d *WebsocketDialer) Dial(ctx context.Context, relayURL, clientKey string) (RelayConn, error) {
	timeout := d.HandshakeTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	conn, _, err := dialer.DialContext(ctx, relayURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay %s: %w", relayURL, err)
	}
	rc := &wsRelayConn{
		conn: conn,
		out:  make(chan Frame, receiveBuffer),
		done: make(chan struct{}),
	}
	if err := rc.Send(ctx, Frame{Type: frameTypeSubscribe, From: clientKey}); err != nil {
		_ = conn.Close()
		return nil, err
	}
	go rc.readPump()
	return rc, nil
}

type wsRelayConn struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	out       chan Frame
	done      chan struct{}
	closeOnce sync.Once
}

func (c *wsRelayConn) Send(ctx context.Context, frame Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(deadline)
	} else {
		_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	}
	return c.conn.WriteJSON(frame)
}

func (c *wsRelayConn) Receive() <-chan Frame {
	return c.out
}

func (c *wsRelayConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

func (c *wsRelayConn) readPump() {
	defer close(c.out)
	for {
		var frame Frame
		if err := c.conn.ReadJSON(&frame); err != nil {
			return
		}
		if frame.Type != frameTypeMessage {
			continue
		}
		select {
		case c.out <- frame:
		case <-c.done:
			return
		default:
			// Slow consumer: drop rather than block the pump.
		}
	}
}
