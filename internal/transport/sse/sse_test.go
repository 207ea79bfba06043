package sse

import (
	"bufio"
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kursadbilgin/alarm-engine/internal/registry"
	"go.uber.org/zap"
)

func TestStreamSinkEncodesFrames(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	sink := NewStreamSink(bufio.NewWriter(&buf))

	if err := sink.Send(registry.Frame{Event: "alarm", ID: "e1", Data: []byte(`{"title":"Hi"}`)}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	out := buf.String()
	for _, want := range []string{"id:e1\n", "event:alarm\n", `data:{"title":"Hi"}`} {
		if !strings.Contains(out, want) {
			t.Fatalf("stream %q does not contain %q", out, want)
		}
	}
	if !strings.HasSuffix(out, "\n\n") {
		t.Fatalf("stream %q should end with a blank line", out)
	}
}

func TestStreamSinkHeartbeatAndClose(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	sink := NewStreamSink(bufio.NewWriter(&buf))

	if err := sink.Heartbeat(); err != nil {
		t.Fatalf("Heartbeat() error = %v", err)
	}
	if buf.String() != heartbeatComment {
		t.Fatalf("heartbeat = %q, want %q", buf.String(), heartbeatComment)
	}

	sink.Close()
	if err := sink.Send(registry.Frame{Event: "alarm"}); !errors.Is(err, ErrSinkClosed) {
		t.Fatalf("Send() after Close error = %v, want ErrSinkClosed", err)
	}
	if err := sink.Heartbeat(); !errors.Is(err, ErrSinkClosed) {
		t.Fatalf("Heartbeat() after Close error = %v, want ErrSinkClosed", err)
	}
}

func TestStreamTimesOut(t *testing.T) {
	t.Parallel()

	reg := registry.New(zap.NewNop())
	sink := NewStreamSink(bufio.NewWriter(&bytes.Buffer{}))
	conn := reg.Register("7", sink)

	state := Stream(conn, sink, 20*time.Millisecond, time.Hour)
	if state != registry.StateClosedTimeout {
		t.Fatalf("state = %s, want CLOSED_TIMEOUT", state)
	}
	if _, ok := reg.Get("7"); ok {
		t.Fatal("timed out connection should be evicted")
	}
	if err := sink.Send(registry.Frame{}); !errors.Is(err, ErrSinkClosed) {
		t.Fatal("sink should be closed once the stream returns")
	}
}

func TestStreamEndsWhenConnectionCloses(t *testing.T) {
	t.Parallel()

	reg := registry.New(zap.NewNop())
	sink := NewStreamSink(bufio.NewWriter(&bytes.Buffer{}))
	conn := reg.Register("7", sink)

	done := make(chan registry.State, 1)
	go func() { done <- Stream(conn, sink, time.Hour, time.Hour) }()

	reg.CloseAll()

	select {
	case state := <-done:
		if state != registry.StateClosedNormal {
			t.Fatalf("state = %s, want CLOSED_NORMAL", state)
		}
	case <-time.After(time.Second):
		t.Fatal("Stream did not return after the connection closed")
	}
}

func TestStreamEndsWhenConnectionIsReplaced(t *testing.T) {
	t.Parallel()

	reg := registry.New(zap.NewNop())
	sink := NewStreamSink(bufio.NewWriter(&bytes.Buffer{}))
	conn := reg.Register("7", sink)

	done := make(chan registry.State, 1)
	go func() { done <- Stream(conn, sink, time.Hour, time.Hour) }()

	replacement := reg.Register("7", NewStreamSink(bufio.NewWriter(&bytes.Buffer{})))

	select {
	case state := <-done:
		if state != registry.StateClosedNormal {
			t.Fatalf("state = %s, want CLOSED_NORMAL", state)
		}
	case <-time.After(time.Second):
		t.Fatal("Stream did not return after the connection was replaced")
	}
	if got, ok := reg.Get("7"); !ok || got != replacement {
		t.Fatal("the replacement should stay registered")
	}
}

func TestStreamHeartbeatFailureClosesWithError(t *testing.T) {
	t.Parallel()

	reg := registry.New(zap.NewNop())
	sink := NewStreamSink(bufio.NewWriterSize(&failingWriter{}, 16))
	conn := reg.Register("7", sink)

	state := Stream(conn, sink, time.Hour, 5*time.Millisecond)
	if state != registry.StateClosedError {
		t.Fatalf("state = %s, want CLOSED_ERROR", state)
	}
	if _, ok := reg.Get("7"); ok {
		t.Fatal("connection with failed heartbeat should be evicted")
	}
}

type failingWriter struct {
	mu sync.Mutex
}

func (w *failingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return 0, errors.New("client went away")
}
