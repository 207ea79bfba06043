package sse

import (
	"time"

	"github.com/kursadbilgin/alarm-engine/internal/registry"
)

// Stream holds a push connection open until it is closed elsewhere, the
// stream timeout elapses or a heartbeat cannot be written. It returns the
// final connection state; the sink is closed on return.
func Stream(conn *registry.Connection, sink *StreamSink, timeout time.Duration, heartbeat time.Duration) registry.State {
	defer sink.Close()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-conn.Done():
			return conn.State()
		case <-timer.C:
			conn.Close(registry.StateClosedTimeout)
			return conn.State()
		case <-ticker.C:
			if err := sink.Heartbeat(); err != nil {
				conn.Close(registry.StateClosedError)
				return conn.State()
			}
		}
	}
}
