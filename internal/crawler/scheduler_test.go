package crawler_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lens/apps/backend/internal/crawler"
	"lens/apps/backend/internal/feed"
	"lens/apps/backend/internal/state"
)

// memState is an in-memory state.Store for scheduler tests.
type memState struct {
	kv map[string]string
}

func newMemState() *memState { return &memState{kv: map[string]string{}} }

func (m *memState) Get(ctx context.Context, key string) (string, error) {
	v, ok := m.kv[key]
	if !ok {
		return "", state.ErrNotFound
	}
	return v, nil
}

func (m *memState) GetAll(ctx context.Context, keys ...string) (map[string]string, error) {
	out := map[string]string{}
	for _, k := range keys {
		if v, ok := m.kv[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (m *memState) Set(ctx context.Context, key, value string) error {
	m.kv[key] = value
	return nil
}

func (m *memState) SetTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	return m.Set(ctx, key, value)
}

func (m *memState) IncrBy(ctx context.Context, key string, delta float64, ttl time.Duration) error {
	return nil
}

// fakeFeed serves a fixed item sequence (index 0 = newest) through paginated
// latest/oldest views with a per-cycle quota counter.
type fakeFeed struct {
	items []feed.Item // newest first
	quota int
	calls int
	fail  bool
}

func (f *fakeFeed) page(ordered []feed.Item, page, perPage int) (*feed.Page, error) {
	if f.fail {
		return nil, errors.New("feed down")
	}
	f.calls++
	f.quota--
	start := (page - 1) * perPage
	if start >= len(ordered) {
		return &feed.Page{Items: nil, Remaining: f.quota}, nil
	}
	end := start + perPage
	if end > len(ordered) {
		end = len(ordered)
	}
	return &feed.Page{Items: ordered[start:end], Remaining: f.quota}, nil
}

func (f *fakeFeed) Latest(ctx context.Context, page, perPage int) (*feed.Page, error) {
	return f.page(f.items, page, perPage)
}

func (f *fakeFeed) Oldest(ctx context.Context, page, perPage int) (*feed.Page, error) {
	reversed := make([]feed.Item, len(f.items))
	for i, it := range f.items {
		reversed[len(f.items)-1-i] = it
	}
	return f.page(reversed, page, perPage)
}

// recordingEnqueuer simulates dedup-against-the-item-store: anything enqueued
// once counts as ingested for later cycles.
type recordingEnqueuer struct {
	seen    map[string]int
	failite bool
}

func newRecordingEnqueuer() *recordingEnqueuer { return &recordingEnqueuer{seen: map[string]int{}} }

func (r *recordingEnqueuer) Enqueue(ctx context.Context, items []feed.Item) (int, error) {
	if r.failite {
		return 0, errors.New("queue down")
	}
	added := 0
	for _, it := range items {
		if _, ok := r.seen[it.ID]; !ok {
			added++
		}
		r.seen[it.ID]++
	}
	return added, nil
}

func makeItems(n int) []feed.Item {
	// Item 0 is the newest; timestamps descend with index.
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	items := make([]feed.Item, n)
	for i := 0; i < n; i++ {
		items[i] = feed.Item{
			ID:        fmt.Sprintf("item-%03d", n-i),
			CreatedAt: base.Add(-time.Duration(i) * time.Hour),
		}
	}
	return items
}

func defaultOpts() crawler.Options {
	return crawler.Options{PageSize: 10, ForwardMaxPages: 10, BackfillEnabled: true, BackfillMaxPages: 10}
}

func TestForward_ColdStartAdvancesAnchor(t *testing.T) {
	f := &fakeFeed{items: makeItems(25), quota: 50}
	enq := newRecordingEnqueuer()
	st := newMemState()

	s := crawler.NewScheduler(f, enq, st, defaultOpts())
	require.NoError(t, s.RunCycle(context.Background()))

	assert.Equal(t, "item-025", st.kv[state.KeyForwardAnchor])
	assert.NotEmpty(t, st.kv[state.KeyForwardAnchorTS])
	// Everything was reachable within the page bound.
	assert.Len(t, enq.seen, 25)
}

func TestForward_BoundaryStopsPaging(t *testing.T) {
	items := makeItems(30)
	f := &fakeFeed{items: items, quota: 50}
	enq := newRecordingEnqueuer()
	st := newMemState()
	// Anchor sits at index 12: items 0..11 are new.
	st.kv[state.KeyForwardAnchor] = items[12].ID
	st.kv[state.KeyBackfillDone] = "1"

	s := crawler.NewScheduler(f, enq, st, defaultOpts())
	require.NoError(t, s.RunCycle(context.Background()))

	assert.Len(t, enq.seen, 12)
	assert.Equal(t, items[0].ID, st.kv[state.KeyForwardAnchor])
	// Pages 1 and 2 of the latest view; page 2 holds the boundary.
	assert.Equal(t, 2, f.calls)
}

func TestForward_NoNewItemsIsNoOp(t *testing.T) {
	items := makeItems(5)
	f := &fakeFeed{items: items, quota: 50}
	enq := newRecordingEnqueuer()
	st := newMemState()
	st.kv[state.KeyForwardAnchor] = items[0].ID
	st.kv[state.KeyBackfillDone] = "1"

	s := crawler.NewScheduler(f, enq, st, defaultOpts())
	require.NoError(t, s.RunCycle(context.Background()))

	assert.Empty(t, enq.seen)
	assert.Equal(t, items[0].ID, st.kv[state.KeyForwardAnchor])
}

func TestForward_SponsoredFilteredBeforeBoundaryScan(t *testing.T) {
	items := makeItems(6)
	sponsored := feed.Item{ID: "sponsored-1", Sponsorship: []byte(`{"sponsor":"acme"}`)}
	f := &fakeFeed{items: append([]feed.Item{sponsored}, items...), quota: 50}
	enq := newRecordingEnqueuer()
	st := newMemState()
	st.kv[state.KeyForwardAnchor] = items[2].ID
	st.kv[state.KeyBackfillDone] = "1"

	s := crawler.NewScheduler(f, enq, st, defaultOpts())
	require.NoError(t, s.RunCycle(context.Background()))

	// The pinned item never reaches the queue and the anchor tracks the
	// newest real item, not the promoted one.
	_, ok := enq.seen["sponsored-1"]
	assert.False(t, ok)
	assert.Len(t, enq.seen, 2)
	assert.Equal(t, items[0].ID, st.kv[state.KeyForwardAnchor])
}

func TestForward_EnqueueFailureLeavesAnchorUntouched(t *testing.T) {
	items := makeItems(8)
	f := &fakeFeed{items: items, quota: 50}
	enq := newRecordingEnqueuer()
	enq.failite = true
	st := newMemState()
	st.kv[state.KeyForwardAnchor] = items[4].ID
	st.kv[state.KeyBackfillDone] = "1"

	s := crawler.NewScheduler(f, enq, st, defaultOpts())
	err := s.RunCycle(context.Background())
	assert.Error(t, err)
	// Anchor monotonicity: no advance without a successful enqueue.
	assert.Equal(t, items[4].ID, st.kv[state.KeyForwardAnchor])
}

func TestForward_FeedFailureAbortsPhaseOnly(t *testing.T) {
	f := &fakeFeed{items: makeItems(5), quota: 50, fail: true}
	enq := newRecordingEnqueuer()
	st := newMemState()
	st.kv[state.KeyForwardAnchor] = "old-anchor"

	s := crawler.NewScheduler(f, enq, st, defaultOpts())
	err := s.RunCycle(context.Background())
	assert.Error(t, err)
	assert.Equal(t, "old-anchor", st.kv[state.KeyForwardAnchor])
	assert.Empty(t, st.kv[state.KeyBackfillPage])
}

func TestBackfill_WalksOldestAndPersistsCursor(t *testing.T) {
	items := makeItems(35)
	f := &fakeFeed{items: items, quota: 2} // enough for one forward + one backfill page
	enq := newRecordingEnqueuer()
	st := newMemState()
	st.kv[state.KeyForwardAnchor] = items[0].ID

	s := crawler.NewScheduler(f, enq, st, defaultOpts())
	require.NoError(t, s.RunCycle(context.Background()))

	// One oldest page processed before quota ran out.
	assert.Equal(t, "2", st.kv[state.KeyBackfillPage])
	assert.Len(t, enq.seen, 10)
	assert.NotEqual(t, "1", st.kv[state.KeyBackfillDone])
}

func TestBackfill_CompletesAtWatermark(t *testing.T) {
	items := makeItems(15)
	f := &fakeFeed{items: items, quota: 50}
	enq := newRecordingEnqueuer()
	st := newMemState()
	st.kv[state.KeyForwardAnchor] = items[0].ID
	st.kv[state.KeyForwardAnchorTS] = items[0].CreatedAt.Format(time.RFC3339)

	s := crawler.NewScheduler(f, enq, st, defaultOpts())
	require.NoError(t, s.RunCycle(context.Background()))

	assert.Equal(t, "1", st.kv[state.KeyBackfillDone])
	assert.Len(t, enq.seen, 15)

	// A later cycle does not touch the oldest view again.
	calls := f.calls
	require.NoError(t, s.RunCycle(context.Background()))
	assert.Equal(t, calls+1, f.calls) // only the forward page-1 probe
}

func TestNoGaps_AcrossQuotaConstrainedCycles(t *testing.T) {
	// The core property: with a tight quota schedule and state reloaded from
	// the store each cycle, repeated cycles eventually enqueue the union of
	// the entire feed with no gaps.
	items := makeItems(60)
	enq := newRecordingEnqueuer()
	st := newMemState()

	for cycle := 0; cycle < 12; cycle++ {
		f := &fakeFeed{items: items, quota: 3}
		s := crawler.NewScheduler(f, enq, st, defaultOpts())
		_ = s.RunCycle(context.Background())
	}

	assert.Len(t, enq.seen, 60)
	for _, it := range items {
		assert.Contains(t, enq.seen, it.ID)
	}
}

func TestNoGaps_WithFeedGrowthBetweenCycles(t *testing.T) {
	all := makeItems(40)
	enq := newRecordingEnqueuer()
	st := newMemState()

	// Feed starts with the oldest 20 items and grows by 5 each cycle.
	for visible := 20; visible <= 40; visible += 5 {
		f := &fakeFeed{items: all[len(all)-visible:], quota: 4}
		s := crawler.NewScheduler(f, enq, st, defaultOpts())
		_ = s.RunCycle(context.Background())
	}
	// Extra cycles to let backfill finish.
	for i := 0; i < 6; i++ {
		f := &fakeFeed{items: all, quota: 4}
		s := crawler.NewScheduler(f, enq, st, defaultOpts())
		_ = s.RunCycle(context.Background())
	}

	assert.Len(t, enq.seen, 40)
}
