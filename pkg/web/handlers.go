// Package web provides HTTP handlers and REST API endpoints for
// trigger and recovery management.
package web

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/cadenzahq/cadenza/pkg/dispatch"
	"github.com/cadenzahq/cadenza/pkg/models"
	"github.com/cadenzahq/cadenza/pkg/persistence"
	"github.com/cadenzahq/cadenza/pkg/recovery"
	"github.com/cadenzahq/cadenza/pkg/registry"
)

type APIHandlers struct {
	store     persistence.Persistence
	registry  *registry.Registry
	dispatch  *dispatch.Manager
	recovery  *recovery.Manager
	validator *validator.Validate
}

func NewAPIHandlers(
	store persistence.Persistence,
	reg *registry.Registry,
	dispatchManager *dispatch.Manager,
	recoveryManager *recovery.Manager,
	validate *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		store:     store,
		registry:  reg,
		dispatch:  dispatchManager,
		recovery:  recoveryManager,
		validator: validate,
	}
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	status := "unhealthy"
	httpStatus := http.StatusServiceUnavailable

	storeErr := h.store.HealthCheck(c.Context())
	if storeErr == nil {
		status = "healthy"
		httpStatus = http.StatusOK
	}

	storeCheck := "ok"
	if storeErr != nil {
		storeCheck = storeErr.Error()
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status": status,
		"checkers": fiber.Map{
			"persistence": storeCheck,
		},
		"queue_depths": h.dispatch.QueueDepths(),
		"timestamp":    time.Now().UTC(),
	})
}

// GetTriggerCatalog lists the registered trigger definitions.
func (h *APIHandlers) GetTriggerCatalog(c fiber.Ctx) error {
	definitions := h.registry.All()

	if category := c.Query("category"); category != "" {
		definitions = h.registry.GetByCategory(models.TriggerCategory(category))
	}

	return c.JSON(fiber.Map{"triggers": definitions})
}

// ValidateTriggerConfig dry-runs a trigger configuration against its
// definition without saving anything.
func (h *APIHandlers) ValidateTriggerConfig(c fiber.Ctx) error {
	var req ValidateConfigRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	return c.JSON(h.registry.ValidateConfig(req.TriggerType, req.Config))
}

func (h *APIHandlers) CreateTrigger(c fiber.Ctx) error {
	var req CreateTriggerRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	if _, err := h.store.WorkflowRepository().GetByID(c.Context(), req.WorkflowID); err != nil {
		return handleStoreError(c, err)
	}

	validation := h.registry.ValidateConfig(req.TriggerType, req.Config)
	if !validation.Valid {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(validation)
	}

	now := time.Now().UTC()

	instance := &models.TriggerInstance{
		ID:          uuid.New().String(),
		WorkflowID:  req.WorkflowID,
		TriggerType: req.TriggerType,
		Name:        req.Name,
		IsActive:    req.IsActive == nil || *req.IsActive,
		Config:      req.Config,

		MaxExecutionsPerMinute: req.MaxExecutionsPerMinute,
		MaxExecutionsPerHour:   req.MaxExecutionsPerHour,
		MaxExecutionsPerDay:    req.MaxExecutionsPerDay,

		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := h.store.TriggerRepository().Save(c.Context(), instance); err != nil {
		return internalError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(instance)
}

func (h *APIHandlers) GetTrigger(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Trigger ID is required")
	}

	instance, err := h.store.TriggerRepository().GetByID(c.Context(), id)
	if err != nil {
		return handleStoreError(c, err)
	}

	return c.JSON(instance)
}

func (h *APIHandlers) GetWorkflowTriggers(c fiber.Ctx) error {
	workflowID := c.Params("id")
	if workflowID == "" {
		return badRequest(c, "Workflow ID is required")
	}

	instances, err := h.store.TriggerRepository().GetByWorkflow(c.Context(), workflowID)
	if err != nil {
		return handleStoreError(c, err)
	}

	return c.JSON(fiber.Map{"triggers": instances})
}

func (h *APIHandlers) UpdateTrigger(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Trigger ID is required")
	}

	var req UpdateTriggerRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	instance, err := h.store.TriggerRepository().GetByID(c.Context(), id)
	if err != nil {
		return handleStoreError(c, err)
	}

	if req.Name != nil {
		instance.Name = *req.Name
	}

	if req.IsActive != nil {
		instance.IsActive = *req.IsActive
	}

	if req.Config != nil {
		validation := h.registry.ValidateConfig(instance.TriggerType, req.Config)
		if !validation.Valid {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(validation)
		}

		instance.Config = req.Config
	}

	if req.MaxExecutionsPerMinute != nil {
		instance.MaxExecutionsPerMinute = *req.MaxExecutionsPerMinute
	}

	if req.MaxExecutionsPerHour != nil {
		instance.MaxExecutionsPerHour = *req.MaxExecutionsPerHour
	}

	if req.MaxExecutionsPerDay != nil {
		instance.MaxExecutionsPerDay = *req.MaxExecutionsPerDay
	}

	instance.UpdatedAt = time.Now().UTC()

	if err := h.store.TriggerRepository().Save(c.Context(), instance); err != nil {
		return internalError(c, err)
	}

	return c.JSON(instance)
}

func (h *APIHandlers) DeleteTrigger(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Trigger ID is required")
	}

	if err := h.store.TriggerRepository().Delete(c.Context(), id); err != nil {
		return handleStoreError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// TriggerManually fires a trigger on behalf of a user.
func (h *APIHandlers) TriggerManually(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Trigger ID is required")
	}

	var req ManualTriggerRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	result, err := h.dispatch.TriggerManual(c.Context(), id, req.UserID, req.Data)
	if err != nil {
		if persistence.IsNotFound(err) {
			return notFound(c, err.Error())
		}

		return internalError(c, err)
	}

	if !result.Success {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(result)
	}

	return c.Status(fiber.StatusAccepted).JSON(result)
}
