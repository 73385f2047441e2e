package evolution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"lens/apps/backend/features/image"
	"lens/apps/backend/internal/config"
	"lens/apps/backend/internal/middleware"
	"lens/apps/backend/internal/state"
	"lens/apps/backend/internal/workflow"

	"github.com/google/uuid"
)

// StaleLister finds records enriched by an older model version,
// oldest first.
type StaleLister interface {
	ListStaleByModel(ctx context.Context, currentVersion string, limit int) ([]image.Image, error)
}

// UsageReader reports today's metered spend.
type UsageReader interface {
	Used(ctx context.Context) (float64, error)
}

type Publisher interface {
	MultiPublish(topic string, body [][]byte) error
}

type Options struct {
	// DailyBudget is the total metered units available per UTC day.
	DailyBudget float64
	// Reserve is held back for live ingestion; evolution only spends
	// what the crawl will not need.
	Reserve float64
	// CostPerItem is the estimated spend of one refresh.
	CostPerItem float64
	// ModelVersion is the current vision model tag. Records carrying any
	// other tag are stale.
	ModelVersion string
}

// Scheduler re-enriches the corpus as models improve. It runs at most once
// per UTC day and never spends past the budget the live pipeline needs.
type Scheduler struct {
	states    state.Store
	lister    StaleLister
	usage     UsageReader
	publisher Publisher
	opts      Options
}

func NewScheduler(states state.Store, lister StaleLister, usage UsageReader, publisher Publisher, opts Options) *Scheduler {
	return &Scheduler{
		states:    states,
		lister:    lister,
		usage:     usage,
		publisher: publisher,
		opts:      opts,
	}
}

// RunCycle is safe to call as often as the caller likes; only the first
// call of a UTC day does work.
func (s *Scheduler) RunCycle(ctx context.Context) error {
	ctx = middleware.WithCorrelationID(ctx, uuid.New().String())
	today := time.Now().UTC().Format("2006-01-02")

	last, err := s.states.Get(ctx, state.KeyLastEvolutionAt)
	if err != nil && !errors.Is(err, state.ErrNotFound) {
		return fmt.Errorf("read evolution date: %w", err)
	}
	if last == today {
		return nil
	}

	// A cycle that cannot read its budget must not guess; skip and let
	// the next tick retry.
	used, err := s.usage.Used(ctx)
	if err != nil {
		slog.WarnContext(ctx, "budget read failed, skipping evolution cycle", "error", err)
		return fmt.Errorf("read usage: %w", err)
	}

	remaining := s.opts.DailyBudget - used - s.opts.Reserve
	batch := 0
	if s.opts.CostPerItem > 0 {
		batch = int(math.Floor(remaining / s.opts.CostPerItem))
	}

	if batch <= 0 {
		slog.InfoContext(ctx, "no evolution budget today", "used", used, "remaining", remaining)
		return s.markDone(ctx, today)
	}

	stale, err := s.lister.ListStaleByModel(ctx, s.opts.ModelVersion, batch)
	if err != nil {
		return fmt.Errorf("list stale records: %w", err)
	}
	if len(stale) == 0 {
		slog.InfoContext(ctx, "corpus fully enriched by current model", "model", s.opts.ModelVersion)
		return s.markDone(ctx, today)
	}

	bodies := make([][]byte, 0, len(stale))
	for _, img := range stale {
		task := workflow.Task{
			Type:          workflow.TaskRefreshItem,
			ItemID:        img.ID,
			Meta:          img.Meta,
			CorrelationID: middleware.GetCorrelationID(ctx),
		}
		body, err := json.Marshal(task)
		if err != nil {
			return fmt.Errorf("marshal refresh task %s: %w", img.ID, err)
		}
		bodies = append(bodies, body)
	}

	if err := s.publisher.MultiPublish(config.TopicIngestTask, bodies); err != nil {
		return fmt.Errorf("enqueue refresh batch: %w", err)
	}

	slog.InfoContext(ctx, "evolution batch enqueued", "count", len(bodies), "budget_batch", batch, "model", s.opts.ModelVersion)
	return s.markDone(ctx, today)
}

func (s *Scheduler) markDone(ctx context.Context, today string) error {
	if err := s.states.Set(ctx, state.KeyLastEvolutionAt, today); err != nil {
		return fmt.Errorf("record evolution date: %w", err)
	}
	return nil
}
