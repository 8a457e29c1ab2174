package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/supportdesk/triage-service/internal/api/dto"
	"github.com/supportdesk/triage-service/internal/service"
	apperrors "github.com/supportdesk/triage-service/pkg/util/errorutil"
)

// EscalationHandler exposes the SLA monitor.
type EscalationHandler struct {
	escalation *service.EscalationService
	clock      service.Clock
}

// NewEscalationHandler constructs handler.
func NewEscalationHandler(escalation *service.EscalationService, clock service.Clock) *EscalationHandler {
	if clock == nil {
		clock = service.SystemClock{}
	}
	return &EscalationHandler{escalation: escalation, clock: clock}
}

// Sweep POST /api/escalation/sweep?now=. now defaults to the current time.
func (h *EscalationHandler) Sweep(c *fiber.Ctx) error {
	now, err := h.instant(c)
	if err != nil {
		return err
	}
	transitions, err := h.escalation.Sweep(c.UserContext(), now)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewSweepResponse(now, transitions)})
}

// AtRisk GET /api/escalation/at-risk?now=.
func (h *EscalationHandler) AtRisk(c *fiber.Ctx) error {
	now, err := h.instant(c)
	if err != nil {
		return err
	}
	entries, err := h.escalation.AtRisk(c.UserContext(), now)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewAtRiskResponses(entries)})
}

// Stale GET /api/escalation/stale?now=.
func (h *EscalationHandler) Stale(c *fiber.Ctx) error {
	now, err := h.instant(c)
	if err != nil {
		return err
	}
	entries, err := h.escalation.Stale(c.UserContext(), now)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewStaleResponses(entries)})
}

// Escalate POST /api/escalation/escalate.
func (h *EscalationHandler) Escalate(c *fiber.Ctx) error {
	var req dto.EscalateRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.QueryID == "" {
		return apperrors.NewValidationError("query_id required", nil)
	}
	transition, err := h.escalation.Escalate(c.UserContext(), req.QueryID, service.EscalateInput{
		Reason:  req.Reason,
		AgentID: req.EscalateTo,
		Actor:   actorOf(c),
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTransitionResponse(*transition)})
}

func (h *EscalationHandler) instant(c *fiber.Ctx) (time.Time, error) {
	raw := c.Query("now")
	if raw == "" {
		return h.clock.Now(), nil
	}
	now, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, apperrors.NewValidationError("now must be RFC3339", map[string]any{"now": raw})
	}
	return now.UTC(), nil
}
