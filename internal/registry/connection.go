package registry

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrConnectionClosed is returned when writing to a connection that already
// left the OPEN state.
var ErrConnectionClosed = errors.New("connection closed")

// State is the lifecycle state of a push connection.
type State int32

const (
	StateOpen State = iota
	StateClosedNormal
	StateClosedTimeout
	StateClosedError
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateClosedNormal:
		return "CLOSED_NORMAL"
	case StateClosedTimeout:
		return "CLOSED_TIMEOUT"
	case StateClosedError:
		return "CLOSED_ERROR"
	}
	return "UNKNOWN"
}

// Frame is one serialized push event.
type Frame struct {
	Event string
	ID    string
	Data  []byte
}

// Sink accepts frames for a single client stream.
type Sink interface {
	Send(frame Frame) error
}

// Connection is the live push channel of one user.
type Connection struct {
	userID    string
	sink      Sink
	createdAt time.Time

	writeMu   sync.Mutex
	state     atomic.Int32
	done      chan struct{}
	closeOnce sync.Once
	onClose   func(*Connection)
}

func newConnection(userID string, sink Sink, createdAt time.Time, onClose func(*Connection)) *Connection {
	return &Connection{
		userID:    userID,
		sink:      sink,
		createdAt: createdAt,
		done:      make(chan struct{}),
		onClose:   onClose,
	}
}

func (c *Connection) UserID() string       { return c.userID }
func (c *Connection) CreatedAt() time.Time { return c.createdAt }
func (c *Connection) State() State         { return State(c.state.Load()) }

// Done is closed once the connection leaves the OPEN state.
func (c *Connection) Done() <-chan struct{} { return c.done }

// Send writes a frame to the sink. Writes to one connection are serialized.
func (c *Connection) Send(frame Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.State() != StateOpen {
		return ErrConnectionClosed
	}
	return c.sink.Send(frame)
}

// Close moves the connection to a terminal state. Only the first call has an
// effect; it reports whether this call performed the transition.
func (c *Connection) Close(state State) bool {
	if state == StateOpen {
		state = StateClosedNormal
	}

	closed := false
	c.closeOnce.Do(func() {
		c.state.Store(int32(state))
		close(c.done)
		closed = true
		if c.onClose != nil {
			c.onClose(c)
		}
	})
	return closed
}
