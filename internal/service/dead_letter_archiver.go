package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/alarm-engine/internal/domain"
	"github.com/kursadbilgin/alarm-engine/internal/observability"
	"github.com/kursadbilgin/alarm-engine/internal/queue"
	"github.com/kursadbilgin/alarm-engine/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const archiveRetryBackoff = 2 * time.Second

// DeadLetterArchiver drains the dead-letter queues into the dead-letter
// repository so exhausted and expired alarms stay inspectable.
type DeadLetterArchiver struct {
	consumer queue.Consumer
	letters  repository.DeadLetterRepository
	logger   *zap.Logger
	metrics  *observability.Metrics
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration)
}

func NewDeadLetterArchiver(
	consumer queue.Consumer,
	letters repository.DeadLetterRepository,
	logger *zap.Logger,
) (*DeadLetterArchiver, error) {
	if consumer == nil {
		return nil, fmt.Errorf("queue consumer is required")
	}
	if letters == nil {
		return nil, fmt.Errorf("dead letter repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DeadLetterArchiver{
		consumer: consumer,
		letters:  letters,
		logger:   logger,
		now:      time.Now,
		sleep:    sleepContext,
	}, nil
}

func (a *DeadLetterArchiver) SetMetrics(metrics *observability.Metrics) {
	if a == nil {
		return
	}
	a.metrics = metrics
}

// Start consumes every dead-letter queue with one worker each.
func (a *DeadLetterArchiver) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for _, queueName := range queue.DLQNames() {
		g.Go(func() error {
			a.logger.Info("dead letter archiver started", zap.String("queue", queueName))
			if err := a.consumer.Consume(groupCtx, queueName, a.Handle); err != nil {
				a.logger.Error("dead letter archiver stopped with error",
					zap.String("queue", queueName),
					zap.Error(err),
				)
				return err
			}
			return nil
		})
	}

	return g.Wait()
}

// Handle stores one dead-lettered message. A storage failure requeues the
// message after a short pause.
func (a *DeadLetterArchiver) Handle(ctx context.Context, d queue.Delivery) queue.Decision {
	letter := a.deadLetterFrom(d)

	if err := a.letters.Create(ctx, &letter); err != nil {
		a.logger.Error("failed to archive dead letter",
			zap.String("queue", d.Queue),
			zap.String("eventId", letter.EventID),
			zap.Error(err),
		)
		a.sleep(ctx, archiveRetryBackoff)
		return queue.DecisionRequeue
	}

	a.metrics.IncDeadLetterArchived(d.Queue)
	a.logger.Info("dead letter archived",
		zap.String("queue", d.Queue),
		zap.String("eventId", letter.EventID),
		zap.String("reason", letter.Reason),
		zap.Int("retryCount", letter.RetryCount),
	)
	return queue.DecisionAck
}

func (a *DeadLetterArchiver) deadLetterFrom(d queue.Delivery) domain.DeadLetter {
	letter := domain.DeadLetter{
		ID:        uuid.NewString(),
		EventID:   d.MessageID,
		Queue:     d.Queue,
		Reason:    queue.DeathReason(d.Headers),
		Payload:   string(d.Body),
		CreatedAt: a.now().UTC(),
	}

	var env domain.AlarmEnvelope
	if err := json.Unmarshal(d.Body, &env); err == nil {
		if env.EventID != "" {
			letter.EventID = env.EventID
		}
		letter.ReceiverID = env.ReceiverID
		letter.Category = env.Category
		letter.Priority = env.Priority
		letter.Title = env.Title
		letter.RetryCount = env.RetryCount
		return letter
	}

	// Undecodable bodies still carry the routing headers set on publish.
	letter.ReceiverID = headerString(d.Headers, queue.HeaderReceiverID)
	letter.Category = domain.Category(headerString(d.Headers, queue.HeaderCategory))
	letter.Priority = domain.Priority(headerString(d.Headers, queue.HeaderPriority))
	if id := headerString(d.Headers, queue.HeaderEventID); id != "" {
		letter.EventID = id
	}
	return letter
}

func headerString(headers map[string]any, key string) string {
	value, _ := headers[key].(string)
	return value
}

func sleepContext(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
