package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/oddsbot/internal/pipeline"
)

// Trigger queues out-of-schedule scrape runs.
type Trigger interface {
	TriggerAll(ctx context.Context) (queued, skipped []string, err error)
}

// PipelineHandler serves the manual trigger.
type PipelineHandler struct {
	trigger Trigger
	logger  *slog.Logger
}

// NewPipelineHandler creates a PipelineHandler. trigger is nil when the
// process does not run the orchestrator.
func NewPipelineHandler(trigger Trigger, logger *slog.Logger) *PipelineHandler {
	return &PipelineHandler{trigger: trigger, logger: logger}
}

// TriggerPipeline queues one run per active bookmaker.
// POST /api/pipeline/trigger
func (h *PipelineHandler) TriggerPipeline(w http.ResponseWriter, r *http.Request) {
	if h.trigger == nil {
		writeError(w, http.StatusServiceUnavailable, "ingestion is not running in this process")
		return
	}

	queued, skipped, err := h.trigger.TriggerAll(r.Context())
	if err != nil {
		if errors.Is(err, pipeline.ErrNotRunning) {
			writeError(w, http.StatusServiceUnavailable, "ingestion is not running")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: pipeline trigger failed",
			slog.String("error", err.Error()),
		)
		writeError(w, errorStatus(err), "failed to trigger pipeline")
		return
	}

	h.logger.InfoContext(r.Context(), "handler: pipeline trigger requested",
		slog.Int("queued", len(queued)),
		slog.Int("skipped", len(skipped)),
	)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":       "accepted",
		"queued":       nonNil(queued),
		"skipped":      nonNil(skipped),
		"requested_at": time.Now().UTC().Format(time.RFC3339),
	})
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
