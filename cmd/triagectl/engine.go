package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/supportdesk/triage-service/internal/app"
	"github.com/supportdesk/triage-service/internal/config"
	"github.com/supportdesk/triage-service/internal/observability"
	"github.com/supportdesk/triage-service/internal/worker"
)

func loadConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if policyPath != "" {
		cfg.PolicyFile = policyPath
	}
	return cfg
}

// openEngine builds the container the API server would use.
func openEngine(ctx context.Context) (*app.Container, error) {
	cfg := loadConfig()
	policy, err := config.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		log.Fatalf("invalid routing policy: %v", err)
	}
	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	container, err := app.Build(ctx, cfg, policy, logger)
	if err != nil {
		logger.Error("failed to build engine", zap.Error(err))
		return nil, err
	}
	worker.StartNotificationWorker(container.Dispatcher, container.NotificationService, container.Forwarder, logger)
	return container, nil
}

func parseNow(raw string) (time.Time, error) {
	if raw == "" {
		return time.Now().UTC(), nil
	}
	now, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("--now must be RFC3339: %w", err)
	}
	return now.UTC(), nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
