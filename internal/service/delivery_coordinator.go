package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/alarm-engine/internal/domain"
	"github.com/kursadbilgin/alarm-engine/internal/observability"
	"github.com/kursadbilgin/alarm-engine/internal/registry"
	"go.uber.org/zap"
)

const (
	HandshakeEvent = "connect"
	HandshakeData  = "connected"
)

// ConnectionRegistry is the part of the registry the coordinator needs.
type ConnectionRegistry interface {
	Register(userID string, sink registry.Sink) *registry.Connection
	ActiveCount() int
}

// DeliveryCoordinator is the single entry point for raising alarms and for
// opening push streams.
type DeliveryCoordinator struct {
	registry   ConnectionRegistry
	dispatcher Dispatcher
	// publisher is nil when no broker is configured.
	publisher AlarmPublisher
	logger    *zap.Logger
	metrics   *observability.Metrics
	now       func() time.Time
}

func NewDeliveryCoordinator(
	registry ConnectionRegistry,
	dispatcher Dispatcher,
	publisher AlarmPublisher,
	logger *zap.Logger,
) (*DeliveryCoordinator, error) {
	if registry == nil {
		return nil, fmt.Errorf("connection registry is required")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DeliveryCoordinator{
		registry:   registry,
		dispatcher: dispatcher,
		publisher:  publisher,
		logger:     logger,
		now:        time.Now,
	}, nil
}

func (s *DeliveryCoordinator) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

func (s *DeliveryCoordinator) BrokerEnabled() bool { return s.publisher != nil }

// Deliver hands env to the broker when one is configured and falls back to
// direct dispatch otherwise. It never fails; false means not delivered.
func (s *DeliveryCoordinator) Deliver(ctx context.Context, env domain.AlarmEnvelope) (delivered bool) {
	if ctx == nil {
		ctx = context.Background()
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("alarm delivery panicked",
				zap.String("eventId", env.EventID),
				zap.Any("panic", r),
			)
			delivered = false
		}
	}()

	if s.publisher == nil {
		s.metrics.IncDelivery(observability.PathDirect)
		return s.dispatcher.Send(ctx, env)
	}

	if s.publisher.Publish(ctx, env) {
		s.metrics.IncDelivery(observability.PathBroker)
		return true
	}

	observability.WithContextLogger(s.logger, ctx).Warn("broker publish failed, falling back to direct dispatch",
		zap.String("eventId", env.EventID),
		zap.String("receiverId", env.ReceiverID),
	)
	s.metrics.IncDelivery(observability.PathFallback)
	return s.dispatcher.Send(ctx, env)
}

// Notify builds an envelope from req and delivers it. Callers may ignore the
// result; only an invalid request is reported as an error.
func (s *DeliveryCoordinator) Notify(ctx context.Context, req domain.AlarmRequest) (domain.AlarmEnvelope, bool, error) {
	env := domain.NewAlarmEnvelope(req, s.now())
	if err := env.Validate(); err != nil {
		return domain.AlarmEnvelope{}, false, err
	}

	return env, s.Deliver(ctx, env), nil
}

// Subscribe registers sink as userID's live connection, replacing any prior
// one, and writes the handshake frame. A failed handshake evicts the new
// connection.
func (s *DeliveryCoordinator) Subscribe(ctx context.Context, userID string, sink registry.Sink) (*registry.Connection, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}
	if sink == nil {
		return nil, fmt.Errorf("%w: sink is required", domain.ErrValidation)
	}

	conn := s.registry.Register(userID, sink)

	err := conn.Send(registry.Frame{
		Event: HandshakeEvent,
		ID:    userID,
		Data:  []byte(HandshakeData),
	})
	if err != nil {
		conn.Close(registry.StateClosedError)
		observability.WithContextLogger(s.logger, ctx).Warn("push stream handshake failed",
			zap.String("userId", userID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: handshake for user %s failed: %v", domain.ErrConnection, userID, err)
	}

	observability.WithContextLogger(s.logger, ctx).Info("push stream opened",
		zap.String("userId", userID),
		zap.Int("activeConnections", s.registry.ActiveCount()),
	)
	return conn, nil
}

func (s *DeliveryCoordinator) ActiveConnections() int {
	return s.registry.ActiveCount()
}
