package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-agent/internal/api/dto"
	"github.com/spec-kit/ticket-agent/internal/auth"
	"github.com/spec-kit/ticket-agent/internal/domain"
	"github.com/spec-kit/ticket-agent/internal/events"
	"github.com/spec-kit/ticket-agent/internal/pipeline"
	"github.com/spec-kit/ticket-agent/internal/service"
	apperrors "github.com/spec-kit/ticket-agent/pkg/util/errorutil"
)

// RunsHandler exposes pipeline runs.
type RunsHandler struct {
	service *service.PipelineService
}

// NewRunsHandler constructs handler.
func NewRunsHandler(pipelineService *service.PipelineService) *RunsHandler {
	return &RunsHandler{service: pipelineService}
}

// StartRun POST /v1/runs.
func (h *RunsHandler) StartRun(c *fiber.Ctx) error {
	var req dto.StartRunRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	run, err := h.service.StartRun(c.UserContext(), service.StartRunInput{
		TicketID:      req.TicketID,
		CustomerName:  req.CustomerName,
		Email:         req.Email,
		Query:         req.Query,
		Priority:      req.Priority,
		CustomerReply: req.CustomerReply,
		Actor:         actorFrom(c),
	})
	if err := runOutcome(run, err); err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": dto.NewRunResponse(run)})
}

// GetRun GET /v1/runs/:id.
func (h *RunsHandler) GetRun(c *fiber.Ctx) error {
	run, err := h.service.GetRun(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewRunResponse(run)})
}

// ListTicketRuns GET /v1/tickets/:id/runs.
func (h *RunsHandler) ListTicketRuns(c *fiber.Ctx) error {
	runs, err := h.service.ListRuns(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	items := make([]dto.RunResponse, 0, len(runs))
	for i := range runs {
		items = append(items, dto.NewRunResponse(&runs[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// ListHistory GET /v1/runs/:id/history.
func (h *RunsHandler) ListHistory(c *fiber.Ctx) error {
	entries, err := h.service.ListHistory(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewStageHistoryResponse(entries)})
}

// Reply POST /v1/runs/:id/reply.
func (h *RunsHandler) Reply(c *fiber.Ctx) error {
	var req dto.ReplyRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	run, err := h.service.ResumeRun(c.UserContext(), c.Params("id"), req.Reply, actorFrom(c))
	if err := runOutcome(run, err); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewRunResponse(run)})
}

// runOutcome lets a run that failed inside the pipeline through as a normal
// response: the failure is part of the run record.
func runOutcome(run *domain.PipelineRun, err error) error {
	if err == nil {
		return nil
	}
	var runErr *pipeline.RunError
	if errors.As(err, &runErr) && run != nil {
		return nil
	}
	return err
}

func actorFrom(c *fiber.Ctx) events.Actor {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return events.Actor{}
	}
	return events.Actor{ClientID: principal.ClientID, Role: principal.Role}
}
