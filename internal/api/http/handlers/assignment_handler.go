package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/supportdesk/triage-service/internal/api/dto"
	"github.com/supportdesk/triage-service/internal/service"
	apperrors "github.com/supportdesk/triage-service/pkg/util/errorutil"
)

// AssignmentHandler exposes the routing engine.
type AssignmentHandler struct {
	assignment   *service.AssignmentService
	agents       *service.AgentService
	defaultLimit int
}

// NewAssignmentHandler constructs handler. defaultLimit applies to batch calls
// without a limit parameter.
func NewAssignmentHandler(assignment *service.AssignmentService, agents *service.AgentService, defaultLimit int) *AssignmentHandler {
	return &AssignmentHandler{assignment: assignment, agents: agents, defaultLimit: defaultLimit}
}

// Assign POST /api/assignment/:id.
func (h *AssignmentHandler) Assign(c *fiber.Ctx) error {
	outcome, err := h.assignment.Assign(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewOutcomeResponse(*outcome)})
}

// ManualAssign POST /api/assignment/manual-assign.
func (h *AssignmentHandler) ManualAssign(c *fiber.Ctx) error {
	var req dto.AssignRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.QueryID == "" {
		return apperrors.NewValidationError("query_id required", nil)
	}
	outcome, err := h.assignment.AssignTo(c.UserContext(), req.QueryID, service.ManualAssignInput{
		AgentID: req.AgentID,
		Reason:  req.Reason,
		Actor:   actorOf(c),
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewOutcomeResponse(*outcome)})
}

// Batch POST /api/assignment/batch?limit=.
func (h *AssignmentHandler) Batch(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", h.defaultLimit)
	if limit < 0 {
		return apperrors.NewValidationError("limit must not be negative", map[string]any{"limit": limit})
	}
	result, err := h.assignment.BatchAssign(c.UserContext(), limit)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewBatchResponse(result)})
}

// Recategorize POST /api/assignment/:id/recategorize?reroute=.
func (h *AssignmentHandler) Recategorize(c *fiber.Ctx) error {
	outcome, err := h.assignment.Recategorize(c.UserContext(), c.Params("id"), c.QueryBool("reroute", false))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewOutcomeResponse(*outcome)})
}

// Stats GET /api/assignment/stats.
func (h *AssignmentHandler) Stats(c *fiber.Ctx) error {
	stats, err := h.assignment.Stats(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewStatsResponse(stats)})
}

// AgentLoad GET /api/assignment/agents/:id/load.
func (h *AssignmentHandler) AgentLoad(c *fiber.Ctx) error {
	snapshot, err := h.assignment.AgentLoad(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewAgentLoadResponse(*snapshot)})
}

// CreateAgent POST /api/agents.
func (h *AssignmentHandler) CreateAgent(c *fiber.Ctx) error {
	var req dto.CreateAgentRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	agent, err := h.agents.Register(c.UserContext(), service.AgentCreateInput{
		ID:       req.ID,
		Name:     req.Name,
		Email:    req.Email,
		Team:     req.Team,
		Active:   req.Active,
		Capacity: req.Capacity,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.NewAgentResponse(agent)})
}
