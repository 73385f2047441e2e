package crawler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"lens/apps/backend/internal/config"
	"lens/apps/backend/internal/feed"
	"lens/apps/backend/internal/middleware"
	"lens/apps/backend/internal/workflow"
)

// ExistenceChecker is the single item-store call dedup needs.
type ExistenceChecker interface {
	FilterExisting(ctx context.Context, ids []string) (map[string]struct{}, error)
}

// Publisher is satisfied by *nsq.Producer.
type Publisher interface {
	MultiPublish(topic string, body [][]byte) error
}

// Enqueuer filters a candidate batch against the item store and pushes the
// remainder onto the durable queue in one batched send. It deliberately does
// not consult the queue for in-flight duplicates; the workflow's existence
// check makes a double enqueue harmless.
type Enqueuer struct {
	repo      ExistenceChecker
	publisher Publisher
}

func NewEnqueuer(repo ExistenceChecker, publisher Publisher) *Enqueuer {
	return &Enqueuer{repo: repo, publisher: publisher}
}

// Enqueue returns how many items were actually queued.
func (e *Enqueuer) Enqueue(ctx context.Context, items []feed.Item) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}

	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}

	existing, err := e.repo.FilterExisting(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("existence check: %w", err)
	}

	var bodies [][]byte
	for _, it := range items {
		if _, ok := existing[it.ID]; ok {
			continue
		}

		task := workflow.Task{
			Type:          workflow.TaskNewItem,
			ItemID:        it.ID,
			DownloadURL:   it.URLs.Raw,
			DisplayURL:    it.URLs.Regular,
			Meta:          it.Raw,
			CorrelationID: middleware.GetCorrelationID(ctx),
		}
		body, err := json.Marshal(task)
		if err != nil {
			return 0, fmt.Errorf("marshal task %s: %w", it.ID, err)
		}
		bodies = append(bodies, body)
	}

	if len(bodies) == 0 {
		return 0, nil
	}

	if err := e.publisher.MultiPublish(config.TopicIngestTask, bodies); err != nil {
		return 0, fmt.Errorf("enqueue batch: %w", err)
	}

	slog.InfoContext(ctx, "enqueued fresh items", "count", len(bodies), "candidates", len(items))
	return len(bodies), nil
}
