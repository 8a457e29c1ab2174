package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/supportdesk/triage-service/internal/config"
)

// NATS wraps the event bus connection.
type NATS struct {
	Conn *nats.Conn
}

// NewNATS connects when a URL is configured. Without one, events stay in process.
func NewNATS(cfg config.NATSConfig, appName string, logger *zap.Logger) (*NATS, error) {
	if cfg.URL == "" {
		logger.Warn("NATS_URL not provided; events stay in process")
		return &NATS{}, nil
	}
	conn, err := nats.Connect(cfg.URL,
		nats.Name(appName),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, err
	}
	logger.Info("connected to nats", zap.String("url", conn.ConnectedUrl()))
	return &NATS{Conn: conn}, nil
}

// Close drains the connection.
func (n *NATS) Close() {
	if n != nil && n.Conn != nil {
		_ = n.Conn.Drain()
	}
}

// Ping reports whether the connection is currently up.
func (n *NATS) Ping(_ context.Context) error {
	if n == nil || n.Conn == nil {
		return errors.New("nats not configured")
	}
	if !n.Conn.IsConnected() {
		return errors.New("nats " + n.Conn.Status().String())
	}
	return nil
}

// Enabled reports whether a connection was opened.
func (n *NATS) Enabled() bool {
	return n != nil && n.Conn != nil
}
