package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kursadbilgin/alarm-engine/internal/domain"
	"github.com/kursadbilgin/alarm-engine/internal/observability"
	"github.com/kursadbilgin/alarm-engine/internal/queue"
	"github.com/kursadbilgin/alarm-engine/internal/ratelimit"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultConsumerConcurrency = 3
	defaultMaxConcurrency      = 10
)

// Dispatcher pushes an alarm to its receiver's live connection.
type Dispatcher interface {
	Dispatch(ctx context.Context, env domain.AlarmEnvelope) (bool, error)
	Send(ctx context.Context, env domain.AlarmEnvelope) bool
}

type AlarmConsumer struct {
	consumer    queue.Consumer
	dispatcher  Dispatcher
	publisher   AlarmPublisher
	rateLimiter ratelimit.RateLimiter
	maxRetries  int
	concurrency int
	logger      *zap.Logger
	metrics     *observability.Metrics
}

type AlarmConsumerOptions struct {
	MaxRetries     int
	Concurrency    int
	MaxConcurrency int
	// RateLimiter is optional.
	RateLimiter ratelimit.RateLimiter
}

func NewAlarmConsumer(
	consumer queue.Consumer,
	dispatcher Dispatcher,
	publisher AlarmPublisher,
	opts AlarmConsumerOptions,
	logger *zap.Logger,
) (*AlarmConsumer, error) {
	if consumer == nil {
		return nil, fmt.Errorf("queue consumer is required")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	maxRetries := opts.MaxRetries
	if maxRetries < 0 {
		maxRetries = defaultMaxRetries
	}

	return &AlarmConsumer{
		consumer:    consumer,
		dispatcher:  dispatcher,
		publisher:   publisher,
		rateLimiter: opts.RateLimiter,
		maxRetries:  maxRetries,
		concurrency: clampConcurrency(opts.Concurrency, opts.MaxConcurrency),
		logger:      logger,
	}, nil
}

func clampConcurrency(concurrency int, maxConcurrency int) int {
	if maxConcurrency < 1 {
		maxConcurrency = defaultMaxConcurrency
	}
	if concurrency < 1 {
		concurrency = defaultConsumerConcurrency
	}
	return min(concurrency, maxConcurrency)
}

func (c *AlarmConsumer) SetMetrics(metrics *observability.Metrics) {
	if c == nil {
		return
	}
	c.metrics = metrics
}

func (c *AlarmConsumer) Concurrency() int { return c.concurrency }

// Start runs the worker pool over every work queue until ctx is canceled.
// The first worker error cancels the others.
func (c *AlarmConsumer) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	queueNames := queue.WorkQueueNames()
	if len(queueNames) == 0 {
		return fmt.Errorf("no work queues configured")
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for _, queueName := range queueNames {
		for i := 0; i < c.concurrency; i++ {
			workerID := i + 1

			g.Go(func() error {
				c.logger.Info("alarm consumer started",
					zap.Int("workerId", workerID),
					zap.String("queue", queueName),
				)

				err := c.consumer.Consume(groupCtx, queueName, c.Handle)
				if err != nil {
					c.logger.Error("alarm consumer stopped with error",
						zap.Int("workerId", workerID),
						zap.String("queue", queueName),
						zap.Error(err),
					)
					return err
				}

				c.logger.Info("alarm consumer stopped",
					zap.Int("workerId", workerID),
					zap.String("queue", queueName),
				)
				return nil
			})
		}
	}

	return g.Wait()
}

// Handle decides the acknowledgement of one delivery. A delivery is requeued
// only when ctx was cancelled while it was being handled.
func (c *AlarmConsumer) Handle(ctx context.Context, d queue.Delivery) queue.Decision {
	c.metrics.IncConsumerInFlight(d.Queue)
	defer c.metrics.DecConsumerInFlight(d.Queue)

	log := c.logger.With(
		zap.String("queue", d.Queue),
		zap.String("messageId", d.MessageID),
	)

	var env domain.AlarmEnvelope
	if err := json.Unmarshal(d.Body, &env); err != nil {
		log.Warn("rejecting alarm: invalid JSON", zap.Error(err))
		c.metrics.IncConsumed(d.Queue, observability.ResultRejected)
		return queue.DecisionReject
	}

	if err := env.Validate(); err != nil {
		log.Warn("dropping invalid alarm", zap.Error(err))
		c.metrics.IncConsumed(d.Queue, observability.ResultInvalid)
		return queue.DecisionAck
	}

	err := c.dispatch(ctx, env)
	if err == nil {
		c.metrics.IncConsumed(d.Queue, observability.ResultSuccess)
		return queue.DecisionAck
	}

	if ctx.Err() != nil {
		return c.requeueOnShutdown(d.Queue, env, log)
	}

	log.Warn("alarm dispatch failed",
		zap.String("eventId", env.EventID),
		zap.Int("retryCount", env.RetryCount),
		zap.Error(err),
	)
	return c.handleFailure(ctx, d.Queue, env, log)
}

func (c *AlarmConsumer) dispatch(ctx context.Context, env domain.AlarmEnvelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatch panicked: %v", r)
		}
	}()

	if c.rateLimiter != nil {
		if err := c.rateLimiter.Wait(ctx, env.Category.String()); err != nil {
			return fmt.Errorf("rate limiter wait failed: %w", err)
		}
	}

	_, err = c.dispatcher.Dispatch(ctx, env)
	return err
}

// handleFailure republishes env with an incremented retry count. Alarms that
// used up their retries, or whose retry could not be published, are rejected
// so the broker dead-letters them.
func (c *AlarmConsumer) handleFailure(
	ctx context.Context,
	queueName string,
	env domain.AlarmEnvelope,
	log *zap.Logger,
) (decision queue.Decision) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("alarm failure handling panicked", zap.Any("panic", r))
			c.metrics.IncConsumed(queueName, observability.ResultRejected)
			decision = queue.DecisionReject
		}
	}()

	// Rejected rather than acked: only a reject follows the dead-letter binding.
	if env.RetriesExhausted(c.maxRetries) {
		log.Warn("alarm retries exhausted, dead-lettering",
			zap.String("eventId", env.EventID),
			zap.Int("retryCount", env.RetryCount),
		)
		c.metrics.IncConsumed(queueName, observability.ResultDeadLettered)
		return queue.DecisionReject
	}

	if c.publisher != nil && c.publisher.PublishRetry(ctx, env) {
		c.metrics.IncConsumed(queueName, observability.ResultRetried)
		return queue.DecisionAck
	}

	if ctx.Err() != nil {
		return c.requeueOnShutdown(queueName, env, log)
	}

	log.Warn("alarm retry publish failed, rejecting",
		zap.String("eventId", env.EventID),
		zap.Int("retryCount", env.RetryCount),
	)
	c.metrics.IncConsumed(queueName, observability.ResultRejected)
	return queue.DecisionReject
}

// requeueOnShutdown hands an interrupted delivery back to the broker so it is
// redelivered instead of dead-lettered.
func (c *AlarmConsumer) requeueOnShutdown(queueName string, env domain.AlarmEnvelope, log *zap.Logger) queue.Decision {
	log.Info("consumer stopping, requeueing alarm", zap.String("eventId", env.EventID))
	c.metrics.IncConsumed(queueName, observability.ResultRequeued)
	return queue.DecisionRequeue
}
