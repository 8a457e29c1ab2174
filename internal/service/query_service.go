package service

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/supportdesk/triage-service/internal/domain"
	"github.com/supportdesk/triage-service/internal/events"
	"github.com/supportdesk/triage-service/internal/repository"
	apperrors "github.com/supportdesk/triage-service/pkg/util/errorutil"
)

// QueryService handles intake and lifecycle changes made outside the engine.
type QueryService struct {
	queries    repository.QueryRepository
	activities repository.ActivityRepository
	dispatcher events.Dispatcher
	clock      Clock
	logger     *zap.Logger
}

// QueryDependencies bundles repositories for the query service.
type QueryDependencies struct {
	QueryRepo    repository.QueryRepository
	ActivityRepo repository.ActivityRepository
	Dispatcher   events.Dispatcher
	Clock        Clock
	Logger       *zap.Logger
}

// QueryCreateInput describes an inbound message.
type QueryCreateInput struct {
	Channel     string
	Platform    string
	SenderEmail string
	SenderName  string
	SenderID    string
	Subject     string
	Content     string
}

// NewQueryService creates the service.
func NewQueryService(deps QueryDependencies) *QueryService {
	s := &QueryService{
		queries:    deps.QueryRepo,
		activities: deps.ActivityRepo,
		dispatcher: deps.Dispatcher,
		clock:      deps.Clock,
		logger:     deps.Logger,
	}
	if s.clock == nil {
		s.clock = SystemClock{}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// ResolveChannel maps an intake channel, plus the platform for social
// messages, to a query channel. Unknown platforms are treated as chat.
func ResolveChannel(channel, platform string) (domain.QueryChannel, error) {
	switch strings.ToLower(strings.TrimSpace(channel)) {
	case "email":
		return domain.ChannelEmail, nil
	case "chat":
		return domain.ChannelChat, nil
	case "social":
		resolved := domain.QueryChannel(strings.ToLower(strings.TrimSpace(platform)))
		switch resolved {
		case domain.ChannelTwitter, domain.ChannelInstagram, domain.ChannelFacebook:
			return resolved, nil
		}
		return domain.ChannelChat, nil
	}
	if resolved := domain.QueryChannel(strings.ToLower(strings.TrimSpace(channel))); resolved.Valid() {
		return resolved, nil
	}
	return "", apperrors.NewValidationError("unknown channel", map[string]any{"channel": channel})
}

// Create stores a new query in status new.
func (s *QueryService) Create(ctx context.Context, input QueryCreateInput) (*domain.Query, error) {
	channel, err := ResolveChannel(input.Channel, input.Platform)
	if err != nil {
		return nil, err
	}
	content := strings.TrimSpace(input.Content)
	if content == "" {
		return nil, apperrors.NewValidationError("content is required", map[string]any{"field": "content"})
	}
	subject := strings.TrimSpace(input.Subject)
	if subject == "" {
		subject = firstLine(content, 80)
	}
	if channel == domain.ChannelEmail && strings.TrimSpace(input.SenderEmail) == "" {
		return nil, apperrors.NewValidationError("sender_email is required for email", map[string]any{"field": "sender_email"})
	}

	now := s.clock.Now()
	query := &domain.Query{
		Channel:     channel,
		SenderEmail: strings.TrimSpace(input.SenderEmail),
		SenderName:  strings.TrimSpace(input.SenderName),
		SenderID:    strings.TrimSpace(input.SenderID),
		Subject:     subject,
		Content:     content,
		Tags:        []string{},
		Status:      domain.QueryStatusNew,
		SLAState:    domain.SLAStateOnTrack,
		ReceivedAt:  now,
	}
	if err := s.queries.Create(ctx, query); err != nil {
		return nil, apperrors.MapError(err)
	}
	if err := s.activities.Append(ctx, activity(query.ID, domain.ActionCreated, now, map[string]any{
		"channel": channel,
	})); err != nil {
		s.logger.Warn("activity append failed", zap.String("query_id", query.ID), zap.Error(err))
	}
	s.logger.Info("query received", zap.String("query_id", query.ID), zap.String("channel", string(channel)))
	publish(ctx, s.dispatcher, s.logger, events.EventQueryCreated, query.ID, now, events.QueryCreatedPayload{
		Channel: channel,
		Subject: subject,
	})
	return query, nil
}

// Get returns a query by id.
func (s *QueryService) Get(ctx context.Context, id string) (*domain.Query, error) {
	return loadQuery(ctx, s.queries, id)
}

// History returns the activity log of a query.
func (s *QueryService) History(ctx context.Context, id string) ([]domain.ActivityRecord, error) {
	if _, err := loadQuery(ctx, s.queries, id); err != nil {
		return nil, err
	}
	records, err := s.activities.ListByQuery(ctx, id)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return records, nil
}

// Listing bounds.
const (
	DefaultPageSize = 50
	MaxPageSize     = 100
)

// QueryListInput carries list filters as they arrive from the caller. Empty
// filters match everything.
type QueryListInput struct {
	Page       int
	PageSize   int
	Status     string
	Priority   string
	Channel    string
	AssignedTo string
}

// QueryPage is one page of a filtered listing.
type QueryPage struct {
	Queries  []domain.Query
	Total    int
	Page     int
	PageSize int
}

// List returns queries matching in, newest first.
func (s *QueryService) List(ctx context.Context, in QueryListInput) (*QueryPage, error) {
	filter := repository.QueryFilter{Page: in.Page, PageSize: in.PageSize, AssigneeID: strings.TrimSpace(in.AssignedTo)}
	if filter.Page == 0 {
		filter.Page = 1
	}
	if filter.PageSize == 0 {
		filter.PageSize = DefaultPageSize
	}
	if filter.Page < 1 {
		return nil, apperrors.NewValidationError("page must be at least 1", map[string]any{"page": in.Page})
	}
	if filter.PageSize < 1 || filter.PageSize > MaxPageSize {
		return nil, apperrors.NewValidationError("page_size must be between 1 and 100", map[string]any{"page_size": in.PageSize})
	}
	if raw := strings.TrimSpace(in.Status); raw != "" {
		filter.Status = domain.QueryStatus(strings.ToLower(raw))
		if !filter.Status.Valid() {
			return nil, apperrors.NewValidationError("unknown status", map[string]any{"status": in.Status})
		}
	}
	if raw := strings.TrimSpace(in.Priority); raw != "" {
		priority, ok := domain.ParsePriority(raw)
		if !ok {
			return nil, apperrors.NewValidationError("unknown priority", map[string]any{"priority": in.Priority})
		}
		filter.Priority = priority
	}
	if raw := strings.TrimSpace(in.Channel); raw != "" {
		filter.Channel = domain.QueryChannel(strings.ToLower(raw))
		if !filter.Channel.Valid() {
			return nil, apperrors.NewValidationError("unknown channel", map[string]any{"channel": in.Channel})
		}
	}

	queries, total, err := s.queries.List(ctx, filter)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return &QueryPage{Queries: queries, Total: total, Page: filter.Page, PageSize: filter.PageSize}, nil
}

// UpdateStatus applies a human lifecycle change. Only forward moves are
// accepted, and assigned is reserved for the engine.
func (s *QueryService) UpdateStatus(ctx context.Context, id string, status domain.QueryStatus) (*domain.Query, error) {
	if !status.Valid() {
		return nil, apperrors.NewValidationError("unknown status", map[string]any{"status": status})
	}
	query, err := loadQuery(ctx, s.queries, id)
	if err != nil {
		return nil, err
	}
	if !allowedTransition(query, status) {
		return nil, apperrors.NewConflict("status transition not allowed", map[string]any{
			"query_id": id,
			"from":     query.Status,
			"to":       status,
		})
	}
	updated, err := s.queries.UpdateStatus(ctx, id, status, query.Version, s.clock.Now())
	if err != nil {
		return nil, commitError(err, id)
	}
	s.logger.Info("query status changed",
		zap.String("query_id", id),
		zap.String("from", string(query.Status)),
		zap.String("to", string(status)))
	return updated, nil
}

// RecordFirstResponse marks the SLA as met.
func (s *QueryService) RecordFirstResponse(ctx context.Context, id string) (*domain.Query, error) {
	updated, err := s.queries.RecordFirstResponse(ctx, id, s.clock.Now())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewNotFound("query", map[string]any{"query_id": id})
		}
		return nil, apperrors.MapError(err)
	}
	return updated, nil
}

var statusOrder = map[domain.QueryStatus]int{
	domain.QueryStatusNew:        0,
	domain.QueryStatusAssigned:   1,
	domain.QueryStatusInProgress: 2,
	domain.QueryStatusResolved:   3,
	domain.QueryStatusClosed:     4,
}

func allowedTransition(q *domain.Query, to domain.QueryStatus) bool {
	target, ok := statusOrder[to]
	if !ok || target <= statusOrder[q.Status] || to == domain.QueryStatusAssigned {
		return false
	}
	// Work cannot start before someone owns the query.
	if to == domain.QueryStatusInProgress && q.AssigneeID == nil {
		return false
	}
	return true
}

func firstLine(text string, max int) string {
	line := text
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	runes := []rune(strings.TrimSpace(line))
	if len(runes) > max {
		runes = runes[:max]
	}
	return string(runes)
}
