package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/kursadbilgin/alarm-engine/internal/domain"
	"github.com/kursadbilgin/alarm-engine/internal/observability"
	"github.com/kursadbilgin/alarm-engine/internal/queue"
	"go.uber.org/zap"
)

const (
	defaultMaxRetries     = 3
	defaultPublishTimeout = 5 * time.Second
)

// AlarmPublisher hands alarm envelopes to the broker. Both methods report
// success as a boolean and never panic.
type AlarmPublisher interface {
	Publish(ctx context.Context, env domain.AlarmEnvelope) bool
	PublishRetry(ctx context.Context, env domain.AlarmEnvelope) bool
}

var _ AlarmPublisher = (*BrokerPublisher)(nil)

type BrokerPublisher struct {
	publisher  queue.Publisher
	maxRetries int
	timeout    time.Duration
	logger     *zap.Logger
	metrics    *observability.Metrics
	now        func() time.Time
}

func NewBrokerPublisher(
	publisher queue.Publisher,
	maxRetries int,
	timeout time.Duration,
	logger *zap.Logger,
) *BrokerPublisher {
	if maxRetries < 0 {
		maxRetries = defaultMaxRetries
	}
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &BrokerPublisher{
		publisher:  publisher,
		maxRetries: maxRetries,
		timeout:    timeout,
		logger:     logger,
		now:        time.Now,
	}
}

func (p *BrokerPublisher) SetMetrics(metrics *observability.Metrics) {
	if p == nil {
		return
	}
	p.metrics = metrics
}

func (p *BrokerPublisher) MaxRetries() int { return p.maxRetries }

// Publish returns true only once the broker confirmed the message.
func (p *BrokerPublisher) Publish(ctx context.Context, env domain.AlarmEnvelope) (published bool) {
	if ctx == nil {
		ctx = context.Background()
	}

	start := p.now()
	category := env.Category.String()
	log := observability.WithContextLogger(p.logger, ctx).With(
		zap.String("eventId", env.EventID),
		zap.String("category", category),
	)

	defer func() {
		if r := recover(); r != nil {
			log.Error("alarm publish panicked", zap.Any("panic", r))
			published = false
		}
		p.metrics.ObservePublish(category, published, p.now().Sub(start))
	}()

	if p.publisher == nil {
		log.Warn("alarm publish skipped: broker publisher is not initialized")
		return false
	}

	body, err := json.Marshal(env)
	if err != nil {
		log.Error("failed to encode alarm envelope", zap.Error(err))
		return false
	}

	routingKey := queue.RoutingKey(env.Category, env.Priority)
	msg := queue.Message{
		ID:        env.EventID,
		Body:      body,
		Headers:   queue.AlarmHeaders(env, start),
		TTL:       queue.Expiration(env.Priority),
		Priority:  queue.PriorityValue(env.Priority),
		Timestamp: start,
	}

	publishCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := p.publisher.Publish(publishCtx, routingKey, msg); err != nil {
		log.Warn("failed to publish alarm",
			zap.String("routingKey", routingKey),
			zap.Error(err),
		)
		return false
	}

	log.Debug("alarm published",
		zap.String("routingKey", routingKey),
		zap.Int("retryCount", env.RetryCount),
	)
	return true
}

// PublishRetry republishes env with its retry count incremented. It returns
// false without publishing once env has used up its retries.
func (p *BrokerPublisher) PublishRetry(ctx context.Context, env domain.AlarmEnvelope) bool {
	if env.RetriesExhausted(p.maxRetries) {
		p.logger.Info("alarm retries exhausted",
			zap.String("eventId", env.EventID),
			zap.Int("retryCount", env.RetryCount),
			zap.Int("maxRetries", p.maxRetries),
		)
		return false
	}

	retry := env.WithIncrementedRetry()
	if !p.Publish(ctx, retry) {
		return false
	}

	p.metrics.IncRetryPublished(env.Category.String())
	p.logger.Info("alarm retry published",
		zap.String("originalEventId", env.EventID),
		zap.String("eventId", retry.EventID),
		zap.Int("retryCount", retry.RetryCount),
	)
	return true
}
