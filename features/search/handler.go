package search

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"lens/apps/backend/internal/middleware"
	"lens/apps/backend/internal/ranking"
)

type Searcher interface {
	Search(ctx context.Context, query string) (*ranking.Response, error)
}

type Handler struct {
	searcher Searcher
	cache    *ResponseCache
	suggest  *SuggestIndex
}

func NewHandler(searcher Searcher, cache *ResponseCache, suggest *SuggestIndex) *Handler {
	return &Handler{searcher: searcher, cache: cache, suggest: suggest}
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	query := r.URL.Query().Get("q")
	normalized := NormalizeQuery(query)
	if normalized == "" {
		h.writeError(ctx, w, "BAD_REQUEST", "Missing query parameter 'q'", http.StatusBadRequest)
		return
	}

	if h.cache != nil {
		if cached, ok := h.cache.Get(normalized); ok {
			slog.InfoContext(ctx, "search cache hit", "query", normalized, "correlationId", correlationID)
			h.writeData(ctx, w, cached)
			return
		}
	}

	resp, err := h.searcher.Search(ctx, query)
	if err != nil {
		slog.ErrorContext(ctx, "search failed", "query", normalized, "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", "Search failed", http.StatusInternalServerError)
		return
	}

	if h.cache != nil {
		h.cache.Set(normalized, resp)
	}

	if h.suggest != nil {
		// Off the request path; a suggestion miss is not the searcher's problem
		go func() {
			bctx, cancel := context.WithTimeout(middleware.WithCorrelationID(context.Background(), correlationID), 5*time.Second)
			defer cancel()
			if err := h.suggest.Record(bctx, query); err != nil {
				slog.ErrorContext(bctx, "failed to record suggestion", "query", normalized, "error", err)
			}
		}()
	}

	h.writeData(ctx, w, resp)
}

func (h *Handler) Suggest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	query := r.URL.Query().Get("q")
	suggestions, err := h.suggest.Suggest(ctx, query)
	if err != nil {
		slog.ErrorContext(ctx, "suggest failed", "query", query, "error", err, "correlationId", middleware.GetCorrelationID(ctx))
		h.writeError(ctx, w, "INTERNAL_ERROR", "Suggest failed", http.StatusInternalServerError)
		return
	}
	if suggestions == nil {
		suggestions = []string{}
	}

	h.writeData(ctx, w, map[string]interface{}{"suggestions": suggestions})
}

func (h *Handler) writeData(ctx context.Context, w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": data}); err != nil {
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
