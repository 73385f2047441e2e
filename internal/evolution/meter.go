package evolution

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"lens/apps/backend/internal/state"
)

const usageKeyPrefix = "stats:usage:"

func usageKey(day time.Time) string {
	return usageKeyPrefix + day.UTC().Format("2006-01-02")
}

// Meter accumulates metered model spend per UTC day in the state store.
// Counters expire after two days; only today's value is ever read.
type Meter struct {
	states state.Store
}

func NewMeter(states state.Store) *Meter {
	return &Meter{states: states}
}

func (m *Meter) Record(ctx context.Context, units float64) error {
	return m.states.IncrBy(ctx, usageKey(time.Now()), units, 48*time.Hour)
}

// Used returns today's accumulated spend. A missing counter means zero.
func (m *Meter) Used(ctx context.Context) (float64, error) {
	raw, err := m.states.Get(ctx, usageKey(time.Now()))
	if errors.Is(err, state.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	used, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt usage counter %q: %w", raw, err)
	}
	return used, nil
}
