package web

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/cadenzahq/cadenza/pkg/models"
)

// GetExecutionCheckpoints lists an execution's checkpoints newest-first.
func (h *APIHandlers) GetExecutionCheckpoints(c fiber.Ctx) error {
	executionID := c.Params("id")
	if executionID == "" {
		return badRequest(c, "Execution ID is required")
	}

	checkpoints, err := h.store.CheckpointRepository().ByExecution(c.Context(), executionID)
	if err != nil {
		return handleStoreError(c, err)
	}

	return c.JSON(fiber.Map{"checkpoints": checkpoints})
}

// GetCheckpointStatistics summarizes checkpoint storage for an execution.
func (h *APIHandlers) GetCheckpointStatistics(c fiber.Ctx) error {
	executionID := c.Params("id")
	if executionID == "" {
		return badRequest(c, "Execution ID is required")
	}

	stats, err := h.recovery.CheckpointStatistics(c.Context(), executionID)
	if err != nil {
		return handleStoreError(c, err)
	}

	return c.JSON(stats)
}

// CleanupCheckpoints removes expired checkpoints; dry_run previews.
func (h *APIHandlers) CleanupCheckpoints(c fiber.Ctx) error {
	var req CleanupRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	report, err := h.recovery.CleanupExpiredCheckpoints(c.Context(), req.DryRun)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(report)
}

func (h *APIHandlers) GetStrategies(c fiber.Ctx) error {
	strategies, err := h.store.RecoveryRepository().AllStrategies(c.Context())
	if err != nil {
		return handleStoreError(c, err)
	}

	return c.JSON(fiber.Map{"strategies": strategies})
}

func (h *APIHandlers) GetStrategy(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Strategy ID is required")
	}

	strategy, err := h.store.RecoveryRepository().StrategyByID(c.Context(), id)
	if err != nil {
		return handleStoreError(c, err)
	}

	return c.JSON(strategy)
}

func (h *APIHandlers) CreateStrategy(c fiber.Ctx) error {
	var req CreateStrategyRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	now := time.Now().UTC()

	strategy := &models.RecoveryStrategy{
		ID:            uuid.New().String(),
		Name:          req.Name,
		StrategyType:  req.StrategyType,
		WorkflowID:    req.WorkflowID,
		NodeType:      req.NodeType,
		ErrorPatterns: req.ErrorPatterns,

		MaxRetryAttempts:  req.MaxRetryAttempts,
		RetryDelaySeconds: req.RetryDelaySeconds,
		BackoffMultiplier: req.BackoffMultiplier,

		RecoveryActions: req.RecoveryActions,

		IsActive: req.IsActive == nil || *req.IsActive,
		Priority: req.Priority,

		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := h.store.RecoveryRepository().SaveStrategy(c.Context(), strategy); err != nil {
		return internalError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(strategy)
}

func (h *APIHandlers) UpdateStrategy(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Strategy ID is required")
	}

	var req UpdateStrategyRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	strategy, err := h.store.RecoveryRepository().StrategyByID(c.Context(), id)
	if err != nil {
		return handleStoreError(c, err)
	}

	if req.Name != nil {
		strategy.Name = *req.Name
	}

	if req.StrategyType != nil {
		strategy.StrategyType = *req.StrategyType
	}

	if req.NodeType != nil {
		strategy.NodeType = *req.NodeType
	}

	if req.ErrorPatterns != nil {
		strategy.ErrorPatterns = req.ErrorPatterns
	}

	if req.MaxRetryAttempts != nil {
		strategy.MaxRetryAttempts = *req.MaxRetryAttempts
	}

	if req.RetryDelaySeconds != nil {
		strategy.RetryDelaySeconds = *req.RetryDelaySeconds
	}

	if req.BackoffMultiplier != nil {
		strategy.BackoffMultiplier = *req.BackoffMultiplier
	}

	if req.RecoveryActions != nil {
		strategy.RecoveryActions = req.RecoveryActions
	}

	if req.IsActive != nil {
		strategy.IsActive = *req.IsActive
	}

	if req.Priority != nil {
		strategy.Priority = *req.Priority
	}

	strategy.UpdatedAt = time.Now().UTC()

	if err := h.store.RecoveryRepository().SaveStrategy(c.Context(), strategy); err != nil {
		return internalError(c, err)
	}

	return c.JSON(strategy)
}

func (h *APIHandlers) DeleteStrategy(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Strategy ID is required")
	}

	if err := h.store.RecoveryRepository().DeleteStrategy(c.Context(), id); err != nil {
		return handleStoreError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// RecoverExecution starts a recovery attempt for a failed execution.
func (h *APIHandlers) RecoverExecution(c fiber.Ctx) error {
	executionID := c.Params("id")
	if executionID == "" {
		return badRequest(c, "Execution ID is required")
	}

	var req RecoverExecutionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	reason := req.Reason
	if reason == "" {
		reason = models.RecoveryReasonManualRequest
	}

	log, err := h.recovery.RecoverExecution(c.Context(), executionID, reason)
	if err != nil {
		return handleStoreError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(log)
}

func (h *APIHandlers) GetRecoveryLog(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Recovery log ID is required")
	}

	log, err := h.store.RecoveryRepository().LogByID(c.Context(), id)
	if err != nil {
		return handleStoreError(c, err)
	}

	return c.JSON(log)
}

func (h *APIHandlers) GetExecutionRecoveryLogs(c fiber.Ctx) error {
	executionID := c.Params("id")
	if executionID == "" {
		return badRequest(c, "Execution ID is required")
	}

	logs, err := h.store.RecoveryRepository().LogsByExecution(c.Context(), executionID)
	if err != nil {
		return handleStoreError(c, err)
	}

	return c.JSON(fiber.Map{"recovery_logs": logs})
}

// GetFailureAnalysis aggregates failure patterns over a window.
func (h *APIHandlers) GetFailureAnalysis(c fiber.Ctx) error {
	windowDays, err := parseWindowDays(c, 7)
	if err != nil {
		return badRequest(c, "Invalid days parameter")
	}

	analysis, err := h.recovery.AnalyzeFailures(c.Context(), c.Query("workflow_id"), windowDays)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(analysis)
}

// GetRecoveryTrends buckets recovery activity per day.
func (h *APIHandlers) GetRecoveryTrends(c fiber.Ctx) error {
	windowDays, err := parseWindowDays(c, 30)
	if err != nil {
		return badRequest(c, "Invalid days parameter")
	}

	trends, err := h.recovery.RecoveryTrends(c.Context(), c.Query("workflow_id"), windowDays)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{"trends": trends})
}

func parseWindowDays(c fiber.Ctx, fallback int) (int, error) {
	raw := c.Query("days")
	if raw == "" {
		return fallback, nil
	}

	return strconv.Atoi(raw)
}
