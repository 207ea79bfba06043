package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
)

const shardCount = 32

// ErrPushFailed matches every *PushError.
var ErrPushFailed = errors.New("push failed")

// PushError reports a sink write failure. The connection has already been
// evicted when it is returned.
type PushError struct {
	UserID  string
	EventID string
	Cause   error
}

func (e *PushError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("push failed: user=%s event=%s: %v", e.UserID, e.EventID, e.Cause)
}

func (e *PushError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func (e *PushError) Is(target error) bool {
	return target == ErrPushFailed
}

type shard struct {
	mu    sync.RWMutex
	conns map[string]*Connection
}

// Registry maps user id to its single live connection.
type Registry struct {
	shards [shardCount]*shard
	logger *zap.Logger
	now    func() time.Time
}

func New(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Registry{
		logger: logger,
		now:    time.Now,
	}
	for i := range r.shards {
		r.shards[i] = &shard{conns: make(map[string]*Connection)}
	}
	return r
}

func (r *Registry) shardFor(userID string) *shard {
	return r.shards[xxhash.Sum64String(userID)%shardCount]
}

// Register stores a new connection for userID. A previous connection for the
// same user is unindexed and then closed with CLOSED_NORMAL, which ends its
// stream.
func (r *Registry) Register(userID string, sink Sink) *Connection {
	conn := newConnection(userID, sink, r.now().UTC(), r.evict)

	s := r.shardFor(userID)
	s.mu.Lock()
	previous, replaced := s.conns[userID]
	s.conns[userID] = conn
	s.mu.Unlock()

	if replaced {
		// evict is identity-checked, so closing the retired connection leaves
		// conn indexed.
		previous.Close(StateClosedNormal)
		r.logger.Debug("push connection replaced",
			zap.String("userId", userID),
			zap.Time("previousCreatedAt", previous.CreatedAt()),
		)
	}
	return conn
}

// Remove drops whatever connection is registered for userID.
func (r *Registry) Remove(userID string) {
	s := r.shardFor(userID)
	s.mu.Lock()
	delete(s.conns, userID)
	s.mu.Unlock()
}

func (r *Registry) Get(userID string) (*Connection, bool) {
	s := r.shardFor(userID)
	s.mu.RLock()
	conn, ok := s.conns[userID]
	s.mu.RUnlock()
	return conn, ok
}

// Push sends payload as a named event to the user's connection. It returns
// false with a nil error when the user is not connected. On a sink failure the
// connection is evicted and a *PushError is returned.
func (r *Registry) Push(userID string, payload any, event string, eventID string) (bool, error) {
	conn, ok := r.Get(userID)
	if !ok {
		return false, nil
	}

	data, err := encodePayload(payload)
	if err != nil {
		return false, fmt.Errorf("failed to encode push payload: %w", err)
	}

	if err := conn.Send(Frame{Event: event, ID: eventID, Data: data}); err != nil {
		conn.Close(StateClosedError)
		r.evict(conn)
		r.logger.Warn("push failed, connection evicted",
			zap.String("userId", userID),
			zap.String("eventId", eventID),
			zap.Error(err),
		)
		return false, &PushError{UserID: userID, EventID: eventID, Cause: err}
	}

	return true, nil
}

func (r *Registry) ActiveCount() int {
	total := 0
	for _, s := range r.shards {
		s.mu.RLock()
		total += len(s.conns)
		s.mu.RUnlock()
	}
	return total
}

// CloseAll closes every registered connection. Used on shutdown.
func (r *Registry) CloseAll() {
	var conns []*Connection
	for _, s := range r.shards {
		s.mu.RLock()
		for _, conn := range s.conns {
			conns = append(conns, conn)
		}
		s.mu.RUnlock()
	}

	for _, conn := range conns {
		conn.Close(StateClosedNormal)
	}
}

// evict removes conn only if it is still the registered connection of its
// user, so a retired connection never evicts its replacement.
func (r *Registry) evict(conn *Connection) {
	s := r.shardFor(conn.UserID())
	s.mu.Lock()
	if current, ok := s.conns[conn.UserID()]; ok && current == conn {
		delete(s.conns, conn.UserID())
	}
	s.mu.Unlock()
}

func encodePayload(payload any) ([]byte, error) {
	switch v := payload.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return json.Marshal(v)
	}
}
