package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/supportdesk/triage-service/internal/config"
	"github.com/supportdesk/triage-service/internal/events"
)

// NotificationService pushes routing and SLA events to the alerting webhook.
type NotificationService struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
	cfg        config.NotificationConfig
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, logger *zap.Logger, cfg config.NotificationConfig) *NotificationService {
	return &NotificationService{
		dispatcher: dispatcher,
		logger:     logger,
		cfg:        cfg,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventQueryAtRisk, n.handleSLAEvent)
	n.dispatcher.Subscribe(events.EventQueryEscalated, n.handleSLAEvent)
	n.dispatcher.Subscribe(events.EventQueryReassigned, n.handleRoutingEvent)
	n.dispatcher.Subscribe(events.EventQueryUnassigned, n.handleRoutingEvent)
}

func (n *NotificationService) handleSLAEvent(ctx context.Context, event events.Event) error {
	n.logger.Info("SLAAlert",
		zap.String("query_id", event.QueryID),
		zap.String("event_type", string(event.Type)),
		zap.Any("payload", event.Payload))
	return n.sendWebhook(ctx, event)
}

func (n *NotificationService) handleRoutingEvent(ctx context.Context, event events.Event) error {
	n.logger.Info("RoutingAlert",
		zap.String("query_id", event.QueryID),
		zap.String("event_type", string(event.Type)),
		zap.Any("payload", event.Payload))
	return n.sendWebhook(ctx, event)
}

func (n *NotificationService) sendWebhook(ctx context.Context, event events.Event) error {
	if strings.TrimSpace(n.cfg.WebhookURL) == "" {
		return nil
	}
	timeout := time.Duration(n.cfg.TimeoutSeconds) * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); timeout <= 0 || remaining < timeout {
			timeout = remaining
		}
	}

	agent := fiber.Post(n.cfg.WebhookURL)
	agent.JSON(event)
	if timeout > 0 {
		agent.Timeout(timeout)
	}
	code, _, errs := agent.Bytes()
	if len(errs) > 0 {
		err := errors.Join(errs...)
		n.logger.Warn("webhook delivery failed", zap.String("query_id", event.QueryID), zap.Error(err))
		return fmt.Errorf("webhook: %w", err)
	}
	if code < 200 || code >= 300 {
		n.logger.Warn("webhook rejected event", zap.String("query_id", event.QueryID), zap.Int("status", code))
		return fmt.Errorf("webhook: unexpected status %d", code)
	}
	n.logger.Debug("webhook delivered",
		zap.String("url", n.cfg.WebhookURL),
		zap.String("query_id", event.QueryID),
		zap.String("event_type", string(event.Type)))
	return nil
}
