package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATSForwarder republishes dispatcher events on NATS subjects named
// <prefix>.<event type>.
type NATSForwarder struct {
	conn   *nats.Conn
	prefix string
	logger *zap.Logger
}

// NewNATSForwarder builds a forwarder over an open connection.
func NewNATSForwarder(conn *nats.Conn, prefix string, logger *zap.Logger) *NATSForwarder {
	return &NATSForwarder{conn: conn, prefix: prefix, logger: logger}
}

// Subject returns the NATS subject for an event type.
func Subject(prefix string, eventType EventType) string {
	if prefix == "" {
		return string(eventType)
	}
	return prefix + "." + string(eventType)
}

// Attach subscribes the forwarder to every event type.
func (f *NATSForwarder) Attach(dispatcher Dispatcher) {
	dispatcher.SubscribeAll(f.Forward)
}

// Forward publishes one event.
func (f *NATSForwarder) Forward(_ context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", event.ID, err)
	}
	subject := Subject(f.prefix, event.Type)
	if err := f.conn.Publish(subject, data); err != nil {
		f.logger.Warn("nats publish failed", zap.String("subject", subject), zap.Error(err))
		return err
	}
	return nil
}
