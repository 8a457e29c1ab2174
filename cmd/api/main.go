package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/supportdesk/triage-service/internal/api/http"
	"github.com/supportdesk/triage-service/internal/api/http/handlers"
	"github.com/supportdesk/triage-service/internal/app"
	"github.com/supportdesk/triage-service/internal/auth"
	"github.com/supportdesk/triage-service/internal/config"
	"github.com/supportdesk/triage-service/internal/observability"
	"github.com/supportdesk/triage-service/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	policy, err := config.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		log.Fatalf("invalid routing policy: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	container, err := app.Build(ctx, cfg, policy, logger)
	if err != nil {
		logger.Fatal("failed to build engine", zap.Error(err))
	}
	defer container.Close()

	worker.StartNotificationWorker(container.Dispatcher, container.NotificationService, container.Forwarder, logger)
	if cfg.Escalation.Enabled {
		escalationWorker := worker.NewEscalationWorker(
			container.EscalationService,
			container.AssignmentService,
			container.Clock,
			cfg.Escalation.Interval(),
			cfg.Escalation.BatchLimit,
			logger,
		)
		go escalationWorker.Run(ctx)
	}

	var checks []handlers.DependencyCheck
	if container.Postgres.Enabled() {
		checks = append(checks, handlers.DependencyCheck{Name: "postgres", Ping: container.Postgres.Ping})
	}
	if container.Redis.Enabled() {
		checks = append(checks, handlers.DependencyCheck{Name: "redis", Ping: container.Redis.Ping})
	}
	if container.NATS.Enabled() {
		checks = append(checks, handlers.DependencyCheck{Name: "nats", Ping: container.NATS.Ping})
	}

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)

	server := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(server, logger, container.Metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(server, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, container.Metrics, checks...),
		Queries:        handlers.NewQueriesHandler(container.QueryService, container.AssignmentService, logger),
		Assignment:     handlers.NewAssignmentHandler(container.AssignmentService, container.AgentService, cfg.Escalation.BatchLimit),
		Escalation:     handlers.NewEscalationHandler(container.EscalationService, container.Clock),
		AuthMiddleware: auth.NewAuthMiddleware(tokens),
	})

	go func() {
		if err := server.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	cancel()
	_ = server.Shutdown()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
