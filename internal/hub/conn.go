package hub

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/storfleet/gatelink/internal/domain"
)

const (
	defaultWriteTimeout = 10 * time.Second
	closeWriteTimeout   = 2 * time.Second
)

// Conn is one live gateway transport session. identity and facilityID are
// written exactly once, in the read loop before the connection is published
// to the registry; other goroutines only reach a Conn through the registry,
// so those fields are immutable from their point of view.
type Conn struct {
	id         string
	sock       *websocket.Conn
	remoteAddr string

	authenticated bool
	identity      domain.Identity
	facilityID    string

	writeMu              sync.Mutex
	writeTimeout         time.Duration
	lastActivityUnixNano atomic.Int64
	closing              atomic.Bool
}

func newConn(id string, sock *websocket.Conn, remoteAddr string, writeTimeout time.Duration) *Conn {
	c := &Conn{
		id:           id,
		sock:         sock,
		remoteAddr:   remoteAddr,
		writeTimeout: writeTimeout,
	}
	c.touch(time.Now())
	return c
}

// sendJSON writes one frame, serializing writers. The deadline bounds how
// long a peer that stopped draining its socket can hold the write lock; a
// send that hits it fails the connection.
func (c *Conn) sendJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.sock.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	defer func() { _ = c.sock.SetWriteDeadline(time.Time{}) }()
	return c.sock.WriteJSON(v)
}

// sendRaw writes a pre-serialized text frame under the same deadline as
// sendJSON.
func (c *Conn) sendRaw(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.sock.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	defer func() { _ = c.sock.SetWriteDeadline(time.Time{}) }()
	return c.sock.WriteMessage(websocket.TextMessage, data)
}

// close sends a close frame with the given code and reason, then tears down
// the transport. Safe to call from any goroutine; only the first call acts.
func (c *Conn) close(code int, reason string) {
	if !c.closing.CompareAndSwap(false, true) {
		return
	}
	deadline := time.Now().Add(closeWriteTimeout)
	_ = c.sock.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	_ = c.sock.Close()
}

// open reports whether the connection has not begun closing.
func (c *Conn) open() bool {
	return !c.closing.Load()
}

func (c *Conn) touch(t time.Time) {
	c.lastActivityUnixNano.Store(t.UnixNano())
}

func (c *Conn) lastActivity() time.Time {
	n := c.lastActivityUnixNano.Load()
	if n == 0 {
		return time.Unix(0, 0)
	}
	return time.Unix(0, n)
}
