package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/supportdesk/triage-service/internal/api/dto"
	"github.com/supportdesk/triage-service/internal/auth"
	"github.com/supportdesk/triage-service/internal/domain"
	"github.com/supportdesk/triage-service/internal/service"
	apperrors "github.com/supportdesk/triage-service/pkg/util/errorutil"
)

// QueriesHandler manages intake and lifecycle endpoints.
type QueriesHandler struct {
	queries    *service.QueryService
	assignment *service.AssignmentService
	logger     *zap.Logger
}

// NewQueriesHandler constructs handler.
func NewQueriesHandler(queries *service.QueryService, assignment *service.AssignmentService, logger *zap.Logger) *QueriesHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueriesHandler{queries: queries, assignment: assignment, logger: logger}
}

// Create POST /api/queries. The query is stored first; a routing failure
// leaves it for the next batch pass instead of failing intake.
func (h *QueriesHandler) Create(c *fiber.Ctx) error {
	var req dto.CreateQueryRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	query, err := h.queries.Create(c.UserContext(), service.QueryCreateInput{
		Channel:     req.Channel,
		Platform:    req.Platform,
		SenderEmail: req.SenderEmail,
		SenderName:  req.SenderName,
		SenderID:    req.SenderID,
		Subject:     req.Subject,
		Content:     req.Content,
	})
	if err != nil {
		return err
	}

	data := fiber.Map{"query": dto.NewQueryResponse(query), "assignment": nil}
	outcome, err := h.assignment.Assign(c.UserContext(), query.ID)
	if err != nil {
		h.logger.Warn("intake assignment deferred", zap.String("query_id", query.ID), zap.Error(err))
		return c.Status(http.StatusCreated).JSON(fiber.Map{"data": data})
	}
	if outcome.Query != nil {
		data["query"] = dto.NewQueryResponse(outcome.Query)
	}
	data["assignment"] = dto.NewOutcomeResponse(*outcome)
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": data})
}

// List GET /api/queries?page=&page_size=&status=&priority=&channel=&assigned_to=.
func (h *QueriesHandler) List(c *fiber.Ctx) error {
	page, err := h.queries.List(c.UserContext(), service.QueryListInput{
		Page:       c.QueryInt("page", 1),
		PageSize:   c.QueryInt("page_size", service.DefaultPageSize),
		Status:     c.Query("status"),
		Priority:   c.Query("priority"),
		Channel:    c.Query("channel"),
		AssignedTo: c.Query("assigned_to"),
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewQueryListResponse(page)})
}

// Assign PUT /api/queries/:id/assign.
func (h *QueriesHandler) Assign(c *fiber.Ctx) error {
	var req dto.AssignRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	outcome, err := h.assignment.AssignTo(c.UserContext(), c.Params("id"), service.ManualAssignInput{
		AgentID: req.AgentID,
		Reason:  req.Reason,
		Actor:   actorOf(c),
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewOutcomeResponse(*outcome)})
}

// Get GET /api/queries/:id.
func (h *QueriesHandler) Get(c *fiber.Ctx) error {
	query, err := h.queries.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewQueryResponse(query)})
}

// Activity GET /api/queries/:id/activity.
func (h *QueriesHandler) Activity(c *fiber.Ctx) error {
	records, err := h.queries.History(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewActivityResponses(records)})
}

// UpdateStatus PATCH /api/queries/:id/status.
func (h *QueriesHandler) UpdateStatus(c *fiber.Ctx) error {
	var req dto.UpdateStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Status == "" {
		return apperrors.NewValidationError("status required", nil)
	}
	query, err := h.queries.UpdateStatus(c.UserContext(), c.Params("id"), domain.QueryStatus(req.Status))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewQueryResponse(query)})
}

// FirstResponse POST /api/queries/:id/first-response.
func (h *QueriesHandler) FirstResponse(c *fiber.Ctx) error {
	query, err := h.queries.RecordFirstResponse(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewQueryResponse(query)})
}

// actorOf names the authenticated caller for the activity log.
func actorOf(c *fiber.Ctx) string {
	if principal, ok := auth.PrincipalFromContext(c); ok {
		return principal.Subject
	}
	return ""
}
