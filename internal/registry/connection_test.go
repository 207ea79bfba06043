package registry

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestConnectionCloseTransitionsOnce(t *testing.T) {
	t.Parallel()

	var evictions atomic.Int32
	conn := newConnection("7", &fakeSink{}, time.Unix(1_700_000_000, 0), func(*Connection) {
		evictions.Add(1)
	})

	var wg sync.WaitGroup
	var transitions atomic.Int32
	states := []State{StateClosedNormal, StateClosedTimeout, StateClosedError}
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if conn.Close(states[i%len(states)]) {
				transitions.Add(1)
			}
		}(i)
	}
	wg.Wait()

	if got := transitions.Load(); got != 1 {
		t.Fatalf("transitions = %d, want 1", got)
	}
	if got := evictions.Load(); got != 1 {
		t.Fatalf("evictions = %d, want 1", got)
	}
	if conn.State() == StateOpen {
		t.Fatal("connection should be closed")
	}

	select {
	case <-conn.Done():
	default:
		t.Fatal("Done() should be closed")
	}
}

func TestConnectionCloseWithOpenStateMeansNormal(t *testing.T) {
	t.Parallel()

	conn := newConnection("7", &fakeSink{}, time.Now(), nil)
	conn.Close(StateOpen)

	if conn.State() != StateClosedNormal {
		t.Fatalf("state = %s, want CLOSED_NORMAL", conn.State())
	}
}

func TestConnectionSendAfterClose(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{}
	conn := newConnection("7", sink, time.Now(), nil)

	if err := conn.Send(Frame{Event: "alarm", ID: "e1"}); err != nil {
		t.Fatalf("Send() unexpected error = %v", err)
	}

	conn.Close(StateClosedTimeout)

	if err := conn.Send(Frame{Event: "alarm", ID: "e2"}); !errors.Is(err, ErrConnectionClosed) {
		t.Fatalf("Send() error = %v, want ErrConnectionClosed", err)
	}
	if got := len(sink.Frames()); got != 1 {
		t.Fatalf("frames = %d, want 1", got)
	}
}

func TestStateString(t *testing.T) {
	t.Parallel()

	tests := map[State]string{
		StateOpen:          "OPEN",
		StateClosedNormal:  "CLOSED_NORMAL",
		StateClosedTimeout: "CLOSED_TIMEOUT",
		StateClosedError:   "CLOSED_ERROR",
		State(42):          "UNKNOWN",
	}
	for state, want := range tests {
		if got := state.String(); got != want {
			t.Fatalf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}
