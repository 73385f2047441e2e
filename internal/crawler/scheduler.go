package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"lens/apps/backend/internal/feed"
	"lens/apps/backend/internal/state"
)

// FeedClient is the paginated feed surface the scheduler consumes.
type FeedClient interface {
	Latest(ctx context.Context, page, perPage int) (*feed.Page, error)
	Oldest(ctx context.Context, page, perPage int) (*feed.Page, error)
}

// ItemEnqueuer hands a candidate batch to dedup & enqueue.
type ItemEnqueuer interface {
	Enqueue(ctx context.Context, items []feed.Item) (int, error)
}

type Options struct {
	PageSize         int
	ForwardMaxPages  int
	BackfillEnabled  bool
	BackfillMaxPages int
}

// Scheduler runs one synchronization cycle per tick: forward catch-up from
// the feed head down to the anchor, then an oldest-order backfill walk with
// whatever quota is left. Overlapping cycles are tolerated; every write
// downstream is idempotent.
type Scheduler struct {
	feed     FeedClient
	enqueuer ItemEnqueuer
	state    state.Store
	opts     Options
}

func NewScheduler(fc FeedClient, e ItemEnqueuer, st state.Store, opts Options) *Scheduler {
	return &Scheduler{feed: fc, enqueuer: e, state: st, opts: opts}
}

// RunCycle executes the forward and backfill phases. A failure in one phase
// never prevents the other from running; neither phase commits a cursor it
// has not fully earned.
func (s *Scheduler) RunCycle(ctx context.Context) error {
	keys, err := s.state.GetAll(ctx,
		state.KeyForwardAnchor,
		state.KeyForwardAnchorTS,
		state.KeyBackfillPage,
		state.KeyBackfillDone,
	)
	if err != nil {
		return fmt.Errorf("load sync state: %w", err)
	}

	remaining, fwdErr := s.forward(ctx, keys[state.KeyForwardAnchor])
	if fwdErr != nil {
		slog.ErrorContext(ctx, "forward catch-up failed", "error", fwdErr)
	}

	bfErr := s.backfill(ctx, keys, remaining)
	if bfErr != nil {
		slog.ErrorContext(ctx, "backfill failed", "error", bfErr)
	}

	return errors.Join(fwdErr, bfErr)
}

// forward walks the latest view page by page until it finds the anchor,
// runs out of pages, or runs out of quota. It returns the last observed
// remaining quota (-1 when no call succeeded).
func (s *Scheduler) forward(ctx context.Context, anchor string) (int, error) {
	remaining := -1

	var candidateAnchor string
	var candidateTS time.Time

	for p := 1; p <= s.opts.ForwardMaxPages; p++ {
		page, err := s.feed.Latest(ctx, p, s.opts.PageSize)
		if err != nil {
			return remaining, fmt.Errorf("latest page %d: %w", p, err)
		}
		remaining = page.Remaining

		if len(page.Items) == 0 {
			break
		}

		// Promoted items are pinned to the top and break index-based
		// boundary detection.
		real := make([]feed.Item, 0, len(page.Items))
		for _, it := range page.Items {
			if !it.Sponsored() {
				real = append(real, it)
			}
		}
		if len(real) == 0 {
			if remaining >= 0 && remaining < 1 {
				break
			}
			continue
		}

		if p == 1 {
			if real[0].ID == anchor {
				// Nothing newer than the anchor; cycle is a no-op.
				return remaining, nil
			}
			candidateAnchor = real[0].ID
			candidateTS = real[0].CreatedAt
		}

		boundary := -1
		for i, it := range real {
			if it.ID == anchor && anchor != "" {
				boundary = i
				break
			}
		}

		if boundary >= 0 {
			if _, err := s.enqueuer.Enqueue(ctx, real[:boundary]); err != nil {
				return remaining, fmt.Errorf("enqueue page %d: %w", p, err)
			}
			slog.InfoContext(ctx, "anchor boundary hit", "page", p, "fresh", boundary)
			return remaining, s.advanceAnchor(ctx, candidateAnchor, candidateTS)
		}

		if _, err := s.enqueuer.Enqueue(ctx, real); err != nil {
			return remaining, fmt.Errorf("enqueue page %d: %w", p, err)
		}

		if remaining >= 0 && remaining < 1 {
			break
		}
	}

	// Anchor not found within the bounded scan (cold start, long outage or
	// the anchor item was deleted upstream). Everything seen has been
	// enqueued, so advancing is safe; older items belong to backfill.
	return remaining, s.advanceAnchor(ctx, candidateAnchor, candidateTS)
}

// advanceAnchor moves the high-water mark. Callers only reach it after every
// enqueue in the phase has returned success, so the anchor never skips items.
func (s *Scheduler) advanceAnchor(ctx context.Context, id string, ts time.Time) error {
	if id == "" {
		return nil
	}
	if err := s.state.Set(ctx, state.KeyForwardAnchor, id); err != nil {
		return fmt.Errorf("advance anchor: %w", err)
	}
	if !ts.IsZero() {
		if err := s.state.Set(ctx, state.KeyForwardAnchorTS, ts.UTC().Format(time.RFC3339)); err != nil {
			return fmt.Errorf("advance anchor watermark: %w", err)
		}
	}
	slog.InfoContext(ctx, "anchor advanced", "anchor", id)
	return nil
}

// backfill walks the oldest-first view with a plain page counter. That view
// never shifts when new items land at the head, so the counter is immune to
// pagination drift. Done once the walk catches up to the forward watermark.
func (s *Scheduler) backfill(ctx context.Context, keys map[string]string, remaining int) error {
	if !s.opts.BackfillEnabled || s.opts.BackfillMaxPages <= 0 {
		return nil
	}
	if keys[state.KeyBackfillDone] == "1" {
		return nil
	}

	page := 1
	if v := keys[state.KeyBackfillPage]; v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			page = n
		}
	}

	var watermark time.Time
	if v := keys[state.KeyForwardAnchorTS]; v != "" {
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			watermark = ts
		}
	}

	for processed := 0; processed < s.opts.BackfillMaxPages; processed++ {
		if remaining >= 0 && remaining < 1 {
			// Quota exhaustion is a planned early stop, not an error.
			return nil
		}

		pg, err := s.feed.Oldest(ctx, page, s.opts.PageSize)
		if err != nil {
			return fmt.Errorf("oldest page %d: %w", page, err)
		}
		remaining = pg.Remaining

		if len(pg.Items) == 0 {
			return s.finishBackfill(ctx)
		}

		if _, err := s.enqueuer.Enqueue(ctx, pg.Items); err != nil {
			return fmt.Errorf("enqueue backfill page %d: %w", page, err)
		}

		newest := pg.Items[len(pg.Items)-1].CreatedAt
		if !watermark.IsZero() && !newest.Before(watermark) {
			return s.finishBackfill(ctx)
		}

		page++
		if err := s.state.Set(ctx, state.KeyBackfillPage, strconv.Itoa(page)); err != nil {
			return fmt.Errorf("save backfill page: %w", err)
		}
	}

	return nil
}

func (s *Scheduler) finishBackfill(ctx context.Context) error {
	if err := s.state.Set(ctx, state.KeyBackfillDone, "1"); err != nil {
		return fmt.Errorf("mark backfill done: %w", err)
	}
	slog.InfoContext(ctx, "backfill complete")
	return nil
}
