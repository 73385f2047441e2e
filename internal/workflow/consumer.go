package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nsqio/go-nsq"

	"lens/apps/backend/features/deadletter"
	"lens/apps/backend/features/image"
	"lens/apps/backend/internal/asset"
	"lens/apps/backend/internal/middleware"
	"lens/apps/backend/internal/retry"
	"lens/apps/backend/internal/state"
)

// Options tunes delivery and step-retry behavior.
type Options struct {
	// MaxAttempts is the delivery ceiling. A message redelivered more times
	// than this is dead-lettered and acked.
	MaxAttempts int
	// StepRetryBase is the fixed delay between new-item step attempts and
	// the initial delay of the refresh backoff.
	StepRetryBase time.Duration
	// CostPerItem is the metered spend recorded per enriched item.
	CostPerItem float64
}

// Consumer processes ingest tasks from the durable queue. Every step is
// idempotent, so at-least-once delivery and duplicate tasks are safe.
type Consumer struct {
	repo       image.Repository
	assets     AssetStore
	fetcher    AssetFetcher
	analyzer   Analyzer
	embedder   Embedder
	index      VectorIndex
	states     state.Store
	deadLetter deadletter.Repository
	meter      UsageMeter

	opts          Options
	newPolicy     retry.Policy
	refreshPolicy retry.Policy
}

func NewConsumer(
	repo image.Repository,
	assets AssetStore,
	fetcher AssetFetcher,
	analyzer Analyzer,
	embedder Embedder,
	index VectorIndex,
	states state.Store,
	deadLetter deadletter.Repository,
	meter UsageMeter,
	opts Options,
) *Consumer {
	return &Consumer{
		repo:       repo,
		assets:     assets,
		fetcher:    fetcher,
		analyzer:   analyzer,
		embedder:   embedder,
		index:      index,
		states:     states,
		deadLetter: deadLetter,
		meter:      meter,
		opts:       opts,
		// A fresh item is worth waiting for; a refresh can always be
		// rescheduled by the next evolution cycle.
		newPolicy:     retry.Fixed(10, opts.StepRetryBase),
		refreshPolicy: retry.Exponential(5, opts.StepRetryBase, 10*time.Minute),
	}
}

func (c *Consumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var task Task
	if err := json.Unmarshal(m.Body, &task); err != nil {
		// Poison pill: invalid JSON, don't retry
		slog.Error("poison pill: invalid json", "error", err)
		return nil
	}

	correlationID := task.CorrelationID
	if correlationID == "" {
		correlationID = uuid.New().String()
	}
	ctx := middleware.WithCorrelationID(context.Background(), correlationID)

	if task.ItemID == "" {
		slog.ErrorContext(ctx, "task missing item id, dropping", "type", task.Type)
		return nil
	}

	if int(m.Attempts) > c.opts.MaxAttempts {
		return c.retire(ctx, m, task)
	}

	// Step retries can outlast the queue's message timeout; touching the
	// message before every delay keeps it from being redelivered mid-run.
	keepAlive := func(int, error) { m.Touch() }

	var err error
	switch task.Type {
	case TaskNewItem:
		policy := c.newPolicy
		policy.OnRetry = keepAlive
		err = c.processNew(ctx, task, policy)
	case TaskRefreshItem:
		policy := c.refreshPolicy
		policy.OnRetry = keepAlive
		err = c.processRefresh(ctx, task, policy)
	default:
		slog.ErrorContext(ctx, "unknown task type, dropping", "type", task.Type, "item_id", task.ItemID)
		return nil
	}

	if err != nil {
		slog.ErrorContext(ctx, "task failed", "type", task.Type, "item_id", task.ItemID, "attempt", m.Attempts, "error", err)
		return err // Requeue
	}
	return nil
}

// retire moves an exhausted message to the dead-letter table and acks it.
// If the save itself fails the message is requeued so the row is not lost.
func (c *Consumer) retire(ctx context.Context, m *nsq.Message, task Task) error {
	row := &deadletter.Task{
		ItemID:   task.ItemID,
		TaskType: string(task.Type),
		Payload:  json.RawMessage(m.Body),
		Error:    "delivery attempts exhausted",
		Attempts: int(m.Attempts),
	}
	if err := c.deadLetter.Save(ctx, row); err != nil {
		slog.ErrorContext(ctx, "dead-letter save failed", "item_id", task.ItemID, "error", err)
		return err
	}
	slog.WarnContext(ctx, "task dead-lettered", "item_id", task.ItemID, "type", task.Type, "attempts", m.Attempts)
	return nil
}

func (c *Consumer) processNew(ctx context.Context, task Task, policy retry.Policy) error {
	var exists bool
	err := retry.Do(ctx, policy, func(ctx context.Context) error {
		var err error
		exists, err = c.repo.Exists(ctx, task.ItemID)
		return err
	})
	if err != nil {
		return fmt.Errorf("existence check: %w", err)
	}
	if exists {
		slog.InfoContext(ctx, "item already mirrored, skipping", "item_id", task.ItemID)
		return nil
	}

	display, err := c.fetchAndStore(ctx, task, policy)
	if err != nil {
		return err
	}

	return c.enrich(ctx, task, display, policy)
}

func (c *Consumer) processRefresh(ctx context.Context, task Task, policy retry.Policy) error {
	var record *image.Image
	err := retry.Do(ctx, policy, func(ctx context.Context) error {
		var err error
		record, err = c.repo.Get(ctx, task.ItemID)
		return err
	})
	if err != nil {
		return fmt.Errorf("load record: %w", err)
	}
	if record == nil {
		slog.WarnContext(ctx, "refresh for unknown item, dropping", "item_id", task.ItemID)
		return nil
	}

	display, err := c.assets.Get(ctx, record.DisplayKey)
	if err != nil {
		return fmt.Errorf("load display asset: %w", err)
	}

	if len(task.Meta) == 0 {
		task.Meta = record.Meta
	}
	return c.enrich(ctx, task, display, policy)
}

// fetchAndStore downloads both renditions and pings the feed's
// download-location endpoint. The ping is an upstream attribution
// requirement, never a failure condition.
func (c *Consumer) fetchAndStore(ctx context.Context, task Task, policy retry.Policy) ([]byte, error) {
	err := retry.Do(ctx, policy, func(ctx context.Context) error {
		data, err := c.fetcher.Fetch(ctx, task.DownloadURL)
		if err != nil {
			return err
		}
		return c.assets.Put(ctx, asset.RawKey(task.ItemID), data)
	})
	if err != nil {
		return nil, fmt.Errorf("store raw asset: %w", err)
	}

	var display []byte
	err = retry.Do(ctx, policy, func(ctx context.Context) error {
		data, err := c.fetcher.Fetch(ctx, task.DisplayURL)
		if err != nil {
			return err
		}
		if err := c.assets.Put(ctx, asset.DisplayKey(task.ItemID), data); err != nil {
			return err
		}
		display = data
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store display asset: %w", err)
	}

	var meta struct {
		Links struct {
			DownloadLocation string `json:"download_location"`
		} `json:"links"`
	}
	if err := json.Unmarshal(task.Meta, &meta); err == nil && meta.Links.DownloadLocation != "" {
		c.fetcher.PingDownload(ctx, meta.Links.DownloadLocation)
	}

	return display, nil
}

// enrich runs analyze, embed, persist, index. Shared by both task types;
// only the retry policy differs.
func (c *Consumer) enrich(ctx context.Context, task Task, display []byte, policy retry.Policy) error {
	var analysis *Analysis
	err := retry.Do(ctx, policy, func(ctx context.Context) error {
		var err error
		analysis, err = c.analyzer.Analyze(ctx, display)
		return err
	})
	if err != nil {
		return fmt.Errorf("analyze: %w", err)
	}

	text := image.BuildEmbeddingText(analysis.Caption, analysis.Tags, task.Meta)
	var vector []float32
	err = retry.Do(ctx, policy, func(ctx context.Context) error {
		var err error
		vector, err = c.embedder.Embed(ctx, text)
		return err
	})
	if err != nil {
		return fmt.Errorf("embed: %w", err)
	}

	if err := c.meter.Record(ctx, c.opts.CostPerItem); err != nil {
		slog.WarnContext(ctx, "usage meter record failed", "item_id", task.ItemID, "error", err)
	}

	record := c.buildRecord(task, analysis, vector)
	err = retry.Do(ctx, policy, func(ctx context.Context) error {
		return c.repo.Upsert(ctx, record)
	})
	if err != nil {
		return fmt.Errorf("persist: %w", err)
	}

	err = retry.Do(ctx, policy, func(ctx context.Context) error {
		if err := c.index.Upsert(ctx, task.ItemID, vector, map[string]interface{}{
			"itemId":     task.ItemID,
			"caption":    analysis.Caption,
			"displayKey": record.DisplayKey,
		}); err != nil {
			return err
		}
		return c.repo.MarkVectorSynced(ctx, task.ItemID)
	})
	if err != nil {
		return fmt.Errorf("index: %w", err)
	}

	if err := c.states.Set(ctx, state.KeyLastIndexSync, time.Now().UTC().Format(time.RFC3339)); err != nil {
		slog.WarnContext(ctx, "index sync watermark update failed", "error", err)
	}

	slog.InfoContext(ctx, "item enriched", "item_id", task.ItemID, "type", task.Type, "tags", len(analysis.Tags))
	return nil
}

func (c *Consumer) buildRecord(task Task, analysis *Analysis, vector []float32) *image.Image {
	var meta struct {
		Width  int    `json:"width"`
		Height int    `json:"height"`
		Color  string `json:"color"`
	}
	_ = json.Unmarshal(task.Meta, &meta)

	return &image.Image{
		ID:           task.ItemID,
		Width:        meta.Width,
		Height:       meta.Height,
		Color:        meta.Color,
		RawKey:       asset.RawKey(task.ItemID),
		DisplayKey:   asset.DisplayKey(task.ItemID),
		Meta:         task.Meta,
		Caption:      analysis.Caption,
		Tags:         analysis.Tags,
		Quality:      analysis.Quality,
		Entities:     analysis.Entities,
		Embedding:    vector,
		ModelVersion: c.analyzer.ModelVersion(),
	}
}
