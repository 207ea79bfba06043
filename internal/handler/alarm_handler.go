package handler

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/alarm-engine/internal/domain"
	"github.com/kursadbilgin/alarm-engine/internal/observability"
	"github.com/kursadbilgin/alarm-engine/internal/registry"
	"github.com/kursadbilgin/alarm-engine/internal/transport/sse"
	"go.uber.org/zap"
)

const (
	HeaderUserID = "X-User-Id"

	defaultStreamTimeout     = time.Hour
	defaultHeartbeatInterval = 30 * time.Second
)

type AlarmService interface {
	Notify(ctx context.Context, req domain.AlarmRequest) (domain.AlarmEnvelope, bool, error)
	Subscribe(ctx context.Context, userID string, sink registry.Sink) (*registry.Connection, error)
	ActiveConnections() int
	BrokerEnabled() bool
}

type StreamOptions struct {
	Timeout           time.Duration
	HeartbeatInterval time.Duration
}

type AlarmHandler struct {
	service AlarmService
	stream  StreamOptions
	logger  *zap.Logger
}

func NewAlarmHandler(service AlarmService, stream StreamOptions, logger *zap.Logger) (*AlarmHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("alarm service is required")
	}
	if stream.Timeout <= 0 {
		stream.Timeout = defaultStreamTimeout
	}
	if stream.HeartbeatInterval <= 0 {
		stream.HeartbeatInterval = defaultHeartbeatInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &AlarmHandler{service: service, stream: stream, logger: logger}, nil
}

func RegisterAlarmRoutes(router fiber.Router, service AlarmService, stream StreamOptions, logger *zap.Logger) error {
	h, err := NewAlarmHandler(service, stream, logger)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/alarms", h.CreateAlarm)
	v1.Get("/alarms/stream", h.Stream)
	v1.Get("/connections", h.Connections)

	return nil
}

type createAlarmRequest struct {
	ReceiverID string `json:"receiverId"`
	Category   string `json:"category"`
	Priority   string `json:"priority"`
	Title      string `json:"title"`
	Body       string `json:"body"`
	RelatedID  string `json:"relatedId"`
}

type createAlarmResponse struct {
	EventID   string    `json:"eventId"`
	Delivered bool      `json:"delivered"`
	CreatedAt time.Time `json:"createdAt"`
}

type connectionsResponse struct {
	Active int  `json:"active"`
	Broker bool `json:"broker"`
}

func (h *AlarmHandler) CreateAlarm(c *fiber.Ctx) error {
	var req createAlarmRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	alarm, err := requestToAlarmRequest(req)
	if err != nil {
		return toHTTPError(err)
	}

	env, delivered, err := h.service.Notify(c.UserContext(), alarm)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(createAlarmResponse{
		EventID:   env.EventID,
		Delivered: delivered,
		CreatedAt: env.CreatedAt,
	})
}

// Stream opens the caller's server-sent event stream. The response stays
// open until the connection is replaced, times out or fails.
func (h *AlarmHandler) Stream(c *fiber.Ctx) error {
	userID := strings.TrimSpace(c.Get(HeaderUserID))
	if userID == "" {
		return fiber.NewError(fiber.StatusUnauthorized, "missing "+HeaderUserID+" header")
	}

	// The fiber context is released once this handler returns; the stream
	// writer below runs afterwards.
	ctx := context.Background()
	if rid := requestID(c); rid != "" {
		ctx = observability.WithRequestID(ctx, rid)
	}
	log := observability.WithContextLogger(h.logger, ctx).With(zap.String("userId", userID))

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		sink := sse.NewStreamSink(w)

		// The status line is already committed here, so a failed subscribe
		// can only end the stream.
		conn, err := h.service.Subscribe(ctx, userID, sink)
		if err != nil {
			sink.Close()
			if !errors.Is(err, domain.ErrConnection) {
				log.Error("push stream subscribe failed", zap.Error(err))
			}
			return
		}

		state := sse.Stream(conn, sink, h.stream.Timeout, h.stream.HeartbeatInterval)
		log.Info("push stream closed", zap.String("state", state.String()))
	})

	return nil
}

func (h *AlarmHandler) Connections(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(connectionsResponse{
		Active: h.service.ActiveConnections(),
		Broker: h.service.BrokerEnabled(),
	})
}

func requestToAlarmRequest(req createAlarmRequest) (domain.AlarmRequest, error) {
	category, err := domain.ParseCategoryFromString(req.Category)
	if err != nil {
		return domain.AlarmRequest{}, err
	}

	priority, err := domain.ParsePriorityFromString(req.Priority)
	if err != nil {
		return domain.AlarmRequest{}, err
	}

	return domain.AlarmRequest{
		ReceiverID: req.ReceiverID,
		Category:   category,
		Priority:   priority,
		Title:      req.Title,
		Body:       req.Body,
		RelatedID:  req.RelatedID,
	}, nil
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	default:
		return err
	}
}
