package channel

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
)

// Conn is the shared client handle on the message channel. It is built
// once at the top of the process and handed to whatever needs it; there is
// no package-level singleton. The websocket is dialed lazily on the first
// Acquire and closed when the last holder Releases.
type Conn struct {
	url    string
	bus    *Bus
	logger *slog.Logger

	mu   sync.Mutex
	refs int
	ws   *websocket.Conn
	done chan struct{}

	wmu sync.Mutex // serializes writes; gorilla allows one writer at a time
}

var ErrNotConnected = errors.New("message channel not connected")

func NewConn(url string, bus *Bus, logger *slog.Logger) *Conn {
	return &Conn{url: url, bus: bus, logger: logger}
}

// Bus exposes the event fan-out fed by the read loop.
func (c *Conn) Bus() *Bus { return c.bus }

// Acquire registers interest, dialing on the first holder.
func (c *Conn) Acquire() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.refs > 0 {
		c.refs++
		return nil
	}
	ws, _, err := websocket.DefaultDialer.Dial(c.url, nil)
	if err != nil {
		return err
	}
	c.ws = ws
	c.done = make(chan struct{})
	c.refs = 1
	go c.readLoop(ws, c.done)
	return nil
}

// Release drops one holder's interest; the last release disconnects.
func (c *Conn) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.refs == 0 {
		return
	}
	c.refs--
	if c.refs == 0 {
		close(c.done)
		_ = c.ws.Close()
		c.ws = nil
	}
}

// Emit sends one event. Callers that have not acquired the connection get
// ErrNotConnected instead of an implicit dial.
func (c *Conn) Emit(ev Event) error {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return ErrNotConnected
	}
	raw, err := Encode(ev)
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return ws.WriteMessage(websocket.TextMessage, raw)
}

func (c *Conn) readLoop(ws *websocket.Conn, done chan struct{}) {
	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			select {
			case <-done:
			default:
				c.logger.Warn("message channel read failed", "error", err)
			}
			return
		}
		ev, err := Decode(raw)
		if err != nil {
			c.logger.Warn("undecodable channel event", "error", err)
			continue
		}
		c.bus.Publish(ev)
	}
}
