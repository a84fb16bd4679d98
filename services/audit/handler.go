package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// Handler persists entries queued by QueueRecorder.
type Handler struct {
	store *DBRecorder
}

func NewHandler(store *DBRecorder) *Handler {
	return &Handler{store: store}
}

func (h *Handler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var entry Entry
	if err := json.Unmarshal(t.Payload(), &entry); err != nil {
		zap.L().Error("invalid audit payload", zap.Error(err))
		return fmt.Errorf("decode audit entry: %v: %w", err, asynq.SkipRetry)
	}

	if err := h.store.Persist(ctx, entry); err != nil {
		zap.L().Warn("audit persist failed, will retry", zap.String("action_type", entry.ActionType), zap.Error(err))
		return err
	}

	return nil
}
