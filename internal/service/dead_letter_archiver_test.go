package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kursadbilgin/alarm-engine/internal/domain"
	"github.com/kursadbilgin/alarm-engine/internal/queue"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

func TestDeadLetterArchiverStoresEnvelope(t *testing.T) {
	t.Parallel()

	var stored *domain.DeadLetter
	repo := &fakeDeadLetterRepo{
		createFn: func(ctx context.Context, d *domain.DeadLetter) error {
			stored = d
			return nil
		},
	}

	archiver := newTestArchiver(t, repo)
	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	archiver.now = func() time.Time { return now }

	env := testAlarm()
	env.RetryCount = 3
	d := deliveryOf(t, env)
	d.Queue = "alarm.message.dlq"
	d.Headers = map[string]any{
		"x-death": []any{amqp.Table{"reason": "rejected", "queue": "alarm.message.queue"}},
	}

	if decision := archiver.Handle(context.Background(), d); decision != queue.DecisionAck {
		t.Fatalf("decision = %s, want ack", decision)
	}

	if stored == nil {
		t.Fatal("dead letter should be stored")
	}
	if stored.EventID != "e1" || stored.ReceiverID != "7" || stored.Category != domain.CategoryDirectMessage {
		t.Fatalf("stored = %+v", stored)
	}
	if stored.RetryCount != 3 || stored.Reason != "rejected" || stored.Queue != "alarm.message.dlq" {
		t.Fatalf("stored = %+v", stored)
	}
	if stored.Payload != string(d.Body) || !stored.CreatedAt.Equal(now) || stored.ID == "" {
		t.Fatalf("stored = %+v", stored)
	}
}

func TestDeadLetterArchiverFallsBackToHeaders(t *testing.T) {
	t.Parallel()

	var stored *domain.DeadLetter
	archiver := newTestArchiver(t, &fakeDeadLetterRepo{
		createFn: func(ctx context.Context, d *domain.DeadLetter) error {
			stored = d
			return nil
		},
	})

	decision := archiver.Handle(context.Background(), queue.Delivery{
		Queue:     "alarm.board.dlq",
		MessageID: "m1",
		Body:      []byte("garbage"),
		Headers: map[string]any{
			queue.HeaderEventID:    "e9",
			queue.HeaderReceiverID: "42",
			queue.HeaderCategory:   "BOARD_REPLY",
			queue.HeaderPriority:   "HIGH",
		},
	})
	if decision != queue.DecisionAck {
		t.Fatalf("decision = %s, want ack", decision)
	}

	if stored.EventID != "e9" || stored.ReceiverID != "42" || stored.Category != domain.CategoryBoardReply || stored.Priority != domain.PriorityHigh {
		t.Fatalf("stored = %+v", stored)
	}
	if stored.Payload != "garbage" {
		t.Fatalf("payload = %q, want raw body", stored.Payload)
	}
}

func TestDeadLetterArchiverRequeuesOnStorageFailure(t *testing.T) {
	t.Parallel()

	archiver := newTestArchiver(t, &fakeDeadLetterRepo{
		createFn: func(ctx context.Context, d *domain.DeadLetter) error {
			return errors.New("database is down")
		},
	})

	var slept time.Duration
	archiver.sleep = func(ctx context.Context, d time.Duration) { slept = d }

	if decision := archiver.Handle(context.Background(), deliveryOf(t, testAlarm())); decision != queue.DecisionRequeue {
		t.Fatalf("decision = %s, want requeue", decision)
	}
	if slept != archiveRetryBackoff {
		t.Fatalf("slept = %s, want %s", slept, archiveRetryBackoff)
	}
}

func TestDeadLetterArchiverStartConsumesEveryDLQ(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	seen := map[string]bool{}
	consumer := &fakeConsumer{
		consumeFn: func(ctx context.Context, queueName string, handler queue.DeliveryHandler) error {
			mu.Lock()
			seen[queueName] = true
			mu.Unlock()
			return nil
		},
	}

	archiver, err := NewDeadLetterArchiver(consumer, &fakeDeadLetterRepo{}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewDeadLetterArchiver() error = %v", err)
	}
	if err := archiver.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	for _, name := range queue.DLQNames() {
		if !seen[name] {
			t.Fatalf("dead letter queue %s was not consumed", name)
		}
	}
}

func TestNewDeadLetterArchiverRequiresCollaborators(t *testing.T) {
	t.Parallel()

	if _, err := NewDeadLetterArchiver(nil, &fakeDeadLetterRepo{}, nil); err == nil {
		t.Fatal("expected error for nil consumer")
	}
	if _, err := NewDeadLetterArchiver(&fakeConsumer{}, nil, nil); err == nil {
		t.Fatal("expected error for nil repository")
	}
}

func newTestArchiver(t *testing.T, repo *fakeDeadLetterRepo) *DeadLetterArchiver {
	t.Helper()

	archiver, err := NewDeadLetterArchiver(&fakeConsumer{}, repo, zap.NewNop())
	if err != nil {
		t.Fatalf("NewDeadLetterArchiver() error = %v", err)
	}
	return archiver
}
