package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kursadbilgin/alarm-engine/internal/dispatch"
	"github.com/kursadbilgin/alarm-engine/internal/domain"
	"github.com/kursadbilgin/alarm-engine/internal/queue"
	"github.com/kursadbilgin/alarm-engine/internal/registry"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// Scenario A.
func TestDeliveryCoordinatorSubscribeThenDeliverDirect(t *testing.T) {
	t.Parallel()

	reg := registry.New(zap.NewNop())
	coordinator := newTestCoordinator(t, reg, nil)

	sink := &recordingSink{}
	conn, err := coordinator.Subscribe(context.Background(), "7", sink)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if got, ok := reg.Get("7"); !ok || got != conn {
		t.Fatal("Get(7) should return the subscribed connection")
	}

	_, delivered, err := coordinator.Notify(context.Background(), domain.AlarmRequest{
		ReceiverID: "7",
		Category:   domain.CategoryDirectMessage,
		Priority:   domain.PriorityNormal,
		Title:      "Hi",
		Body:       "...",
	})
	if err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	if !delivered {
		t.Fatal("Notify() delivered = false, want true")
	}

	frames := sink.Frames()
	if len(frames) != 2 {
		t.Fatalf("frames = %d, want handshake + one alarm", len(frames))
	}
	if frames[0].Event != HandshakeEvent || frames[0].ID != "7" || string(frames[0].Data) != HandshakeData {
		t.Fatalf("handshake frame = %+v", frames[0])
	}
	if frames[1].Event != dispatch.EventName {
		t.Fatalf("alarm frame event = %q, want %q", frames[1].Event, dispatch.EventName)
	}
}

// Scenario B.
func TestDeliveryCoordinatorResubscribeKeepsOneConnection(t *testing.T) {
	t.Parallel()

	reg := registry.New(zap.NewNop())
	coordinator := newTestCoordinator(t, reg, nil)

	first, err := coordinator.Subscribe(context.Background(), "7", &recordingSink{})
	if err != nil {
		t.Fatalf("first Subscribe() error = %v", err)
	}
	second, err := coordinator.Subscribe(context.Background(), "7", &recordingSink{})
	if err != nil {
		t.Fatalf("second Subscribe() error = %v", err)
	}

	if coordinator.ActiveConnections() != 1 {
		t.Fatalf("ActiveConnections() = %d, want 1", coordinator.ActiveConnections())
	}
	if got, _ := reg.Get("7"); got != second {
		t.Fatal("Get(7) should return the second connection")
	}

	first.Close(registry.StateClosedNormal)
	if got, ok := reg.Get("7"); !ok || got != second {
		t.Fatal("closing the retired connection must not evict its replacement")
	}
}

// Scenario C.
func TestDeliveryCoordinatorFallsBackWhenPublishFails(t *testing.T) {
	t.Parallel()

	reg := registry.New(zap.NewNop())
	broker := NewBrokerPublisher(&fakeQueuePublisher{
		publishFn: func(ctx context.Context, routingKey string, msg queue.Message) error {
			return errors.New("connection refused")
		},
	}, 3, time.Second, nil)

	coordinator := newTestCoordinator(t, reg, broker)

	sink := &recordingSink{}
	if _, err := coordinator.Subscribe(context.Background(), "7", sink); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	if !coordinator.Deliver(context.Background(), testAlarm()) {
		t.Fatal("Deliver() = false, want true via direct fallback")
	}
	if frames := sink.Frames(); len(frames) != 2 || frames[1].ID != "e1" {
		t.Fatalf("frames = %+v, want the alarm after the handshake", frames)
	}
}

func TestDeliveryCoordinatorFallbackMatchesNoBroker(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		publisher AlarmPublisher
	}{
		{name: "no broker", publisher: nil},
		{name: "publish fails", publisher: &fakeAlarmPublisher{
			publishFn: func(ctx context.Context, env domain.AlarmEnvelope) bool { return false },
		}},
		{name: "publish panics", publisher: &fakeAlarmPublisher{
			publishFn: func(ctx context.Context, env domain.AlarmEnvelope) bool { panic("boom") },
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var sent []domain.AlarmEnvelope
			dispatcher := &fakeDispatcher{
				sendFn: func(ctx context.Context, env domain.AlarmEnvelope) bool {
					sent = append(sent, env)
					return true
				},
			}

			coordinator, err := NewDeliveryCoordinator(registry.New(nil), dispatcher, tt.publisher, nil)
			if err != nil {
				t.Fatalf("NewDeliveryCoordinator() error = %v", err)
			}

			got := coordinator.Deliver(context.Background(), testAlarm())

			if tt.name == "publish panics" {
				if got {
					t.Fatal("Deliver() = true, want false after panic")
				}
				return
			}
			if !got {
				t.Fatal("Deliver() = false, want true from direct dispatch")
			}
			if len(sent) != 1 || sent[0] != testAlarm() {
				t.Fatalf("Send calls = %+v, want exactly the delivered envelope", sent)
			}
		})
	}
}

func TestDeliveryCoordinatorBrokerSuccessSkipsDirect(t *testing.T) {
	t.Parallel()

	dispatcher := &fakeDispatcher{
		sendFn: func(ctx context.Context, env domain.AlarmEnvelope) bool {
			t.Fatal("Send should not be called when the broker accepted the alarm")
			return false
		},
	}

	coordinator, err := NewDeliveryCoordinator(registry.New(nil), dispatcher, &fakeAlarmPublisher{}, nil)
	if err != nil {
		t.Fatalf("NewDeliveryCoordinator() error = %v", err)
	}
	if !coordinator.BrokerEnabled() {
		t.Fatal("BrokerEnabled() = false, want true")
	}
	if !coordinator.Deliver(context.Background(), testAlarm()) {
		t.Fatal("Deliver() = false, want true")
	}
}

func TestDeliveryCoordinatorDeliverToAbsentUser(t *testing.T) {
	t.Parallel()

	reg := registry.New(nil)
	coordinator := newTestCoordinator(t, reg, nil)

	if coordinator.Deliver(context.Background(), testAlarm()) {
		t.Fatal("Deliver() = true, want false for a user without connection")
	}
	if reg.ActiveCount() != 0 {
		t.Fatalf("ActiveCount() = %d, want 0", reg.ActiveCount())
	}
}

func TestDeliveryCoordinatorSubscribeHandshakeFailure(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	reg := registry.New(nil)
	coordinator, err := NewDeliveryCoordinator(reg, dispatch.NewDispatcher(reg, nil, nil), nil, zap.New(core))
	if err != nil {
		t.Fatalf("NewDeliveryCoordinator() error = %v", err)
	}

	_, err = coordinator.Subscribe(context.Background(), "7", &recordingSink{err: errors.New("broken pipe")})
	if !errors.Is(err, domain.ErrConnection) {
		t.Fatalf("Subscribe() error = %v, want ErrConnection", err)
	}
	if _, ok := reg.Get("7"); ok {
		t.Fatal("connection with failed handshake should be evicted")
	}
	if logs.FilterMessage("push stream handshake failed").Len() != 1 {
		t.Fatal("expected a handshake failure log entry")
	}
}

func TestDeliveryCoordinatorSubscribeValidation(t *testing.T) {
	t.Parallel()

	coordinator := newTestCoordinator(t, registry.New(nil), nil)

	if _, err := coordinator.Subscribe(context.Background(), "  ", &recordingSink{}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Subscribe(blank) error = %v, want ErrValidation", err)
	}
	if _, err := coordinator.Subscribe(context.Background(), "7", nil); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Subscribe(nil sink) error = %v, want ErrValidation", err)
	}
}

func TestDeliveryCoordinatorNotifyRejectsInvalidRequest(t *testing.T) {
	t.Parallel()

	coordinator := newTestCoordinator(t, registry.New(nil), nil)

	_, delivered, err := coordinator.Notify(context.Background(), domain.AlarmRequest{
		ReceiverID: "7",
		Category:   domain.CategorySystem,
	})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Notify() error = %v, want ErrValidation", err)
	}
	if delivered {
		t.Fatal("invalid request must not be delivered")
	}
}

func newTestCoordinator(t *testing.T, reg *registry.Registry, publisher AlarmPublisher) *DeliveryCoordinator {
	t.Helper()

	coordinator, err := NewDeliveryCoordinator(reg, dispatch.NewDispatcher(reg, nil, nil), publisher, zap.NewNop())
	if err != nil {
		t.Fatalf("NewDeliveryCoordinator() error = %v", err)
	}
	return coordinator
}

type recordingSink struct {
	mu     sync.Mutex
	frames []registry.Frame
	err    error
}

func (s *recordingSink) Send(frame registry.Frame) error {
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, frame)
	return nil
}

func (s *recordingSink) Frames() []registry.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]registry.Frame(nil), s.frames...)
}
