// Package sse adapts registry connections to server-sent event streams.
package sse

import (
	"bufio"
	"errors"
	"sync"

	"github.com/gin-contrib/sse"
	"github.com/kursadbilgin/alarm-engine/internal/registry"
)

// ErrSinkClosed is returned for writes after the stream ended.
var ErrSinkClosed = errors.New("stream sink closed")

const heartbeatComment = ": ping\n\n"

// StreamSink writes frames as SSE events to a streaming response body.
type StreamSink struct {
	mu     sync.Mutex
	w      *bufio.Writer
	closed bool
}

var _ registry.Sink = (*StreamSink)(nil)

func NewStreamSink(w *bufio.Writer) *StreamSink {
	return &StreamSink{w: w}
}

func (s *StreamSink) Send(frame registry.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSinkClosed
	}

	err := sse.Encode(s.w, sse.Event{
		Event: frame.Event,
		Id:    frame.ID,
		Data:  string(frame.Data),
	})
	if err != nil {
		return err
	}
	return s.w.Flush()
}

// Heartbeat writes an SSE comment so idle proxies keep the stream open and
// dead clients surface as write errors.
func (s *StreamSink) Heartbeat() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSinkClosed
	}
	if _, err := s.w.WriteString(heartbeatComment); err != nil {
		return err
	}
	return s.w.Flush()
}

// Close makes every later write fail. The underlying writer belongs to the
// HTTP server and is not touched.
func (s *StreamSink) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}
