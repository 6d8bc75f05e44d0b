package web

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/woolane/journey/pkg/flow"
	"github.com/woolane/journey/pkg/models"
	"github.com/woolane/journey/pkg/persistence"
)

type APIHandlers struct {
	persistence persistence.Persistence
	validator   *validator.Validate
}

func NewAPIHandlers(p persistence.Persistence, v *validator.Validate) *APIHandlers {
	return &APIHandlers{persistence: p, validator: v}
}

func (h *APIHandlers) GetAutomations(c fiber.Ctx) error {
	automations, err := h.persistence.AutomationRepository().All(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(automations)
}

func (h *APIHandlers) GetAutomation(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Automation ID is required")
	}

	automation, err := h.persistence.AutomationRepository().GetByID(c.Context(), id)
	if err != nil {
		if errors.Is(err, persistence.ErrAutomationNotFound) {
			return notFound(c, "Automation not found")
		}

		return internalError(c, err)
	}

	return c.JSON(automation)
}

// CreateAutomation accepts the authoring UI's graph document,
// schema-checks and decodes it, then runs structural validation before
// persisting. New automations start inactive.
func (h *APIHandlers) CreateAutomation(c fiber.Ctx) error {
	var req CreateAutomationRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	nodes, edges, err := flow.ParseDocument(req.Graph)
	if err != nil {
		var gerr *flow.GraphError
		if errors.As(err, &gerr) {
			return invalidGraph(c, gerr)
		}

		return badRequest(c, err.Error())
	}

	reentry := req.Reentry
	if reentry == "" {
		reentry = models.ReentryAllowed
	}

	automation := &models.Automation{
		Name:        req.Name,
		AccountID:   req.AccountID,
		TriggerType: req.TriggerType,
		Reentry:     reentry,
		Active:      false,
		Nodes:       nodes,
		Edges:       edges,
	}

	if _, err := flow.Validate(automation); err != nil {
		var gerr *flow.GraphError
		if errors.As(err, &gerr) {
			return invalidGraph(c, gerr)
		}

		return internalError(c, err)
	}

	if err := h.persistence.AutomationRepository().Save(c.Context(), automation); err != nil {
		return internalError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(automation)
}

// SetAutomationActive flips the active flag. Activation re-validates
// the stored graph, so an automation can never become active while its
// graph is structurally broken.
func (h *APIHandlers) SetAutomationActive(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Automation ID is required")
	}

	var req SetActiveRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	repo := h.persistence.AutomationRepository()

	automation, err := repo.GetByID(c.Context(), id)
	if err != nil {
		if errors.Is(err, persistence.ErrAutomationNotFound) {
			return notFound(c, "Automation not found")
		}

		return internalError(c, err)
	}

	if req.Active {
		if _, err := flow.Validate(automation); err != nil {
			var gerr *flow.GraphError
			if errors.As(err, &gerr) {
				return invalidGraph(c, gerr)
			}

			return internalError(c, err)
		}
	}

	if err := repo.SetActive(c.Context(), id, req.Active); err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{
		"automation_id": id,
		"active":        req.Active,
	})
}

// ExitAllEnrollments is the operator drain action: every non-terminal
// enrollment of the automation transitions to exited.
func (h *APIHandlers) ExitAllEnrollments(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Automation ID is required")
	}

	if _, err := h.persistence.AutomationRepository().GetByID(c.Context(), id); err != nil {
		if errors.Is(err, persistence.ErrAutomationNotFound) {
			return notFound(c, "Automation not found")
		}

		return internalError(c, err)
	}

	exited, err := h.persistence.EnrollmentRepository().ExitAll(c.Context(), id)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(ExitAllResponse{AutomationID: id, Exited: exited})
}

func (h *APIHandlers) GetAutomationStats(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Automation ID is required")
	}

	if _, err := h.persistence.AutomationRepository().GetByID(c.Context(), id); err != nil {
		if errors.Is(err, persistence.ErrAutomationNotFound) {
			return notFound(c, "Automation not found")
		}

		return internalError(c, err)
	}

	counts, err := h.persistence.EnrollmentRepository().CountByStatus(c.Context(), id)
	if err != nil {
		return internalError(c, err)
	}

	resp := StatsResponse{AutomationID: id, Counts: make(map[string]int64, len(counts))}
	for status, count := range counts {
		resp.Counts[string(status)] = count
		resp.Total += count
	}

	return c.JSON(resp)
}

func (h *APIHandlers) GetEnrollments(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Automation ID is required")
	}

	var status *models.EnrollmentStatus

	if statusStr := c.Query("status"); statusStr != "" {
		s := models.EnrollmentStatus(statusStr)
		if !validEnrollmentStatus(s) {
			return badRequest(c, "Unknown enrollment status: "+statusStr)
		}

		status = &s
	}

	if _, err := h.persistence.AutomationRepository().GetByID(c.Context(), id); err != nil {
		if errors.Is(err, persistence.ErrAutomationNotFound) {
			return notFound(c, "Automation not found")
		}

		return internalError(c, err)
	}

	enrollments, err := h.persistence.EnrollmentRepository().ListByAutomation(c.Context(), id, status)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(enrollments)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	err := h.persistence.HealthCheck(c.Context())

	status := "healthy"
	message := "Journey API is healthy"
	httpStatus := http.StatusOK

	if err != nil {
		status = "unhealthy"
		message = "Journey API is unhealthy: " + err.Error()
		httpStatus = http.StatusInternalServerError
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":    status,
		"message":   message,
		"timestamp": time.Now().UTC(),
	})
}

func validEnrollmentStatus(s models.EnrollmentStatus) bool {
	switch s {
	case models.EnrollmentActive, models.EnrollmentWaiting, models.EnrollmentClaimed,
		models.EnrollmentCompleted, models.EnrollmentExited, models.EnrollmentFailed:
		return true
	}

	return false
}
