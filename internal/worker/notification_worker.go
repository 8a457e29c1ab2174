package worker

import (
	"go.uber.org/zap"

	"github.com/supportdesk/triage-service/internal/events"
	"github.com/supportdesk/triage-service/internal/service"
)

// StartNotificationWorker subscribes the outbound consumers of engine events:
// the alerting webhook and, when configured, the NATS fan-out.
func StartNotificationWorker(dispatcher events.Dispatcher, notifications *service.NotificationService, forwarder *events.NATSForwarder, logger *zap.Logger) {
	if dispatcher == nil {
		return
	}
	if notifications != nil {
		notifications.RegisterHandlers()
	}
	if forwarder != nil {
		forwarder.Attach(dispatcher)
	}
	logger.Info("notification consumers started",
		zap.Bool("webhook", notifications != nil),
		zap.Bool("nats", forwarder != nil))
}
