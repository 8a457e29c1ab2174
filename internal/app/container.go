// Package app assembles the engine from configuration. Both the HTTP server
// and the ops CLI build on it.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/supportdesk/triage-service/internal/classifier"
	"github.com/supportdesk/triage-service/internal/config"
	"github.com/supportdesk/triage-service/internal/events"
	"github.com/supportdesk/triage-service/internal/observability"
	"github.com/supportdesk/triage-service/internal/persistence"
	"github.com/supportdesk/triage-service/internal/repository"
	"github.com/supportdesk/triage-service/internal/service"
)

// Container holds the wired services and the connections they share.
type Container struct {
	Config  *config.Config
	Policy  config.Policy
	Logger  *zap.Logger
	Metrics *observability.Metrics
	Clock   service.Clock

	Postgres *persistence.Postgres
	Redis    *persistence.Redis
	NATS     *persistence.NATS

	Queries    repository.QueryRepository
	Agents     repository.AgentRepository
	Activities repository.ActivityRepository
	Dispatcher events.Dispatcher
	// Forwarder is nil when NATS is not configured.
	Forwarder *events.NATSForwarder

	QueryService        *service.QueryService
	AgentService        *service.AgentService
	AssignmentService   *service.AssignmentService
	EscalationService   *service.EscalationService
	NotificationService *service.NotificationService
}

// Build connects to the configured backends and wires the services. Without
// POSTGRES_DSN the engine runs on the in-memory store.
func Build(ctx context.Context, cfg *config.Config, policy config.Policy, logger *zap.Logger) (*Container, error) {
	c := &Container{
		Config:     cfg,
		Policy:     policy,
		Logger:     logger,
		Metrics:    observability.NewMetrics(),
		Clock:      service.SystemClock{},
		Dispatcher: events.NewInMemoryDispatcher(),
	}

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	c.Postgres = pg
	if pg.Enabled() {
		if cfg.Postgres.RunMigrations {
			if _, err := persistence.RunMigrations(ctx, pg.PoolHandle(), cfg.Postgres.MigrationsDir, logger); err != nil {
				c.Close()
				return nil, fmt.Errorf("run migrations: %w", err)
			}
		}
		pool := pg.PoolHandle()
		c.Queries = repository.NewQueryRepository(pool)
		c.Agents = repository.NewAgentRepository(pool)
		c.Activities = repository.NewActivityRepository(pool)
	} else {
		logger.Warn("using in-memory store; data is lost on exit")
		store := repository.NewMemoryStore()
		c.Queries = store
		c.Agents = store.Agents()
		c.Activities = store.Activities()
	}

	c.Redis = persistence.NewRedis(ctx, cfg.Redis, logger)

	nc, err := persistence.NewNATS(cfg.NATS, cfg.App.Name, logger)
	if err != nil {
		logger.Warn("nats unavailable; events stay in process", zap.Error(err))
		nc = &persistence.NATS{}
	}
	c.NATS = nc
	if nc.Enabled() {
		c.Forwarder = events.NewNATSForwarder(nc.Conn, cfg.NATS.SubjectPrefix, logger)
	}

	var remote classifier.Remote
	if cfg.AI.Enabled() {
		remote = classifier.NewOpenAIClient(cfg.AI)
	} else {
		logger.Warn("AI_API_KEY not provided; classifying with rules only")
	}
	hybrid := classifier.NewHybrid(remote, classifier.NewRules(), cfg.AI.Timeout(), logger)

	director := service.NewTeamDirector(policy)
	balancer := service.NewLoadBalancer(c.Agents, policy.Capacity)
	locker := c.Redis.Locker()

	c.QueryService = service.NewQueryService(service.QueryDependencies{
		QueryRepo:    c.Queries,
		ActivityRepo: c.Activities,
		Dispatcher:   c.Dispatcher,
		Clock:        c.Clock,
		Logger:       logger,
	})
	c.AgentService = service.NewAgentService(c.Agents, logger)
	c.AssignmentService = service.NewAssignmentService(service.AssignmentDependencies{
		QueryRepo:  c.Queries,
		AgentRepo:  c.Agents,
		Classifier: hybrid,
		Director:   director,
		Balancer:   balancer,
		Locker:     locker,
		Dispatcher: c.Dispatcher,
		Clock:      c.Clock,
		Logger:     logger,
		Metrics:    c.Metrics,
	})
	c.EscalationService = service.NewEscalationService(service.EscalationDependencies{
		QueryRepo:  c.Queries,
		AgentRepo:  c.Agents,
		Director:   director,
		Balancer:   balancer,
		SLA:        policy.SLA,
		Locker:     locker,
		Dispatcher: c.Dispatcher,
		Clock:      c.Clock,
		Logger:     logger,
		Metrics:    c.Metrics,
	})
	c.NotificationService = service.NewNotificationService(c.Dispatcher, logger, cfg.Notification)
	return c, nil
}

// Close releases connections in reverse order of opening.
func (c *Container) Close() {
	c.NATS.Close()
	c.Redis.Close()
	c.Postgres.Close()
}
