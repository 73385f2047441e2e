package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"lens/apps/backend/features/image"
	"lens/apps/backend/internal/middleware"
)

type CorpusRepo interface {
	Stats(ctx context.Context) (*image.Stats, error)
}

type DeadLetterRepo interface {
	Count(ctx context.Context) (int, error)
}

type Handler struct {
	corpus     CorpusRepo
	deadLetter DeadLetterRepo
}

func NewHandler(corpus CorpusRepo, deadLetter DeadLetterRepo) *Handler {
	return &Handler{corpus: corpus, deadLetter: deadLetter}
}

type StatsResponse struct {
	Total       int            `json:"total"`
	Indexed     int            `json:"indexed"`
	ByModel     map[string]int `json:"by_model"`
	FailedTasks int            `json:"failed_tasks"`
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	slog.InfoContext(ctx, "getting stats", "correlationId", correlationID)

	corpus, err := h.corpus.Stats(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to read corpus stats", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to read corpus stats", http.StatusInternalServerError)
		return
	}

	failed, err := h.deadLetter.Count(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count dead-lettered tasks", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count dead-lettered tasks", http.StatusInternalServerError)
		return
	}

	resp := StatsResponse{
		Total:       corpus.Total,
		Indexed:     corpus.VectorSynced,
		ByModel:     corpus.ByModel,
		FailedTasks: failed,
	}
	if resp.ByModel == nil {
		resp.ByModel = map[string]int{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": resp}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
