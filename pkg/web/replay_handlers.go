package web

import (
	"github.com/gofiber/fiber/v3"

	"github.com/cadenzahq/cadenza/pkg/recovery"
)

func (h *APIHandlers) GetReplaySessions(c fiber.Ctx) error {
	sessions, err := h.store.ReplayRepository().GetAll(c.Context())
	if err != nil {
		return handleStoreError(c, err)
	}

	return c.JSON(fiber.Map{"replay_sessions": sessions})
}

func (h *APIHandlers) GetReplaySession(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Replay session ID is required")
	}

	session, err := h.store.ReplayRepository().GetByID(c.Context(), id)
	if err != nil {
		return handleStoreError(c, err)
	}

	return c.JSON(session)
}

func (h *APIHandlers) CreateReplaySession(c fiber.Ctx) error {
	var req CreateReplayRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	session, err := h.recovery.CreateReplaySession(c.Context(), recovery.ReplayInput{
		OriginalExecutionID: req.OriginalExecutionID,
		FromCheckpointID:    req.FromCheckpointID,
		ReplayType:          req.ReplayType,
		ModifiedInputs:      req.ModifiedInputs,
		ModifiedContext:     req.ModifiedContext,
		SkipNodes:           req.SkipNodes,
		DebugMode:           req.DebugMode,
	})
	if err != nil {
		return handleStoreError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(session)
}

// StartReplaySession launches the replay execution for a session.
func (h *APIHandlers) StartReplaySession(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Replay session ID is required")
	}

	session, err := h.recovery.StartReplay(c.Context(), id)
	if err != nil {
		return handleStoreError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(session)
}

// CancelReplaySession aborts a session that has not finished.
func (h *APIHandlers) CancelReplaySession(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Replay session ID is required")
	}

	session, err := h.recovery.CancelReplay(c.Context(), id)
	if err != nil {
		return handleStoreError(c, err)
	}

	return c.JSON(session)
}

// GetReplayComparison diffs the original and replay executions.
func (h *APIHandlers) GetReplayComparison(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Replay session ID is required")
	}

	comparison, err := h.recovery.GetReplayComparison(c.Context(), id)
	if err != nil {
		return handleStoreError(c, err)
	}

	return c.JSON(comparison)
}
