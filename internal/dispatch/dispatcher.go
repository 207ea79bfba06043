package dispatch

import (
	"context"
	"errors"

	"github.com/kursadbilgin/alarm-engine/internal/domain"
	"github.com/kursadbilgin/alarm-engine/internal/observability"
	"github.com/kursadbilgin/alarm-engine/internal/registry"
	"go.uber.org/zap"
)

// EventName is the SSE event name of alarm frames.
const EventName = "alarm"

// Pusher is the registry surface the dispatcher needs.
type Pusher interface {
	Push(userID string, payload any, event string, eventID string) (bool, error)
}

// Dispatcher pushes alarms straight to the receiver's live connection.
type Dispatcher struct {
	pusher  Pusher
	logger  *zap.Logger
	metrics *observability.Metrics
}

func NewDispatcher(pusher Pusher, metrics *observability.Metrics, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		pusher:  pusher,
		logger:  logger,
		metrics: metrics,
	}
}

// Dispatch pushes env to its receiver. A failed sink write is swallowed (the
// connection is already evicted); any other error is returned so callers with
// a retry path can use it.
func (d *Dispatcher) Dispatch(ctx context.Context, env domain.AlarmEnvelope) (bool, error) {
	logger := observability.WithContextLogger(d.logger, ctx)
	category := env.Category.String()

	pushed, err := d.pusher.Push(env.ReceiverID, env.View(), EventName, env.EventID)
	switch {
	case err == nil && pushed:
		d.metrics.IncPushed(category, observability.ResultDelivered)
		return true, nil
	case err == nil:
		d.metrics.IncPushed(category, observability.ResultNotConnected)
		logger.Debug("receiver not connected, alarm not pushed",
			zap.String("eventId", env.EventID),
			zap.String("receiverId", env.ReceiverID),
		)
		return false, nil
	case errors.Is(err, registry.ErrPushFailed):
		d.metrics.IncPushed(category, observability.ResultFailure)
		logger.Warn("alarm push failed",
			zap.String("eventId", env.EventID),
			zap.String("receiverId", env.ReceiverID),
			zap.Error(err),
		)
		return false, nil
	default:
		d.metrics.IncPushed(category, observability.ResultFailure)
		return false, err
	}
}

// Send is the never-failing form of Dispatch used by the delivery
// coordinator. It reports whether a frame reached the receiver.
func (d *Dispatcher) Send(ctx context.Context, env domain.AlarmEnvelope) (delivered bool) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("alarm dispatch panicked",
				zap.String("eventId", env.EventID),
				zap.Any("panic", r),
			)
			delivered = false
		}
	}()

	pushed, err := d.Dispatch(ctx, env)
	if err != nil {
		observability.WithContextLogger(d.logger, ctx).Error("alarm dispatch failed",
			zap.String("eventId", env.EventID),
			zap.String("receiverId", env.ReceiverID),
			zap.Error(err),
		)
		return false
	}
	return pushed
}
