package stats

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lens/apps/backend/features/image"
)

type fakeCorpus struct {
	stats *image.Stats
	err   error
}

func (f *fakeCorpus) Stats(ctx context.Context) (*image.Stats, error) {
	return f.stats, f.err
}

type fakeDeadLetter struct {
	count int
	err   error
}

func (f *fakeDeadLetter) Count(ctx context.Context) (int, error) {
	return f.count, f.err
}

func TestGetStats_OK(t *testing.T) {
	corpus := &fakeCorpus{stats: &image.Stats{
		Total:        120,
		VectorSynced: 118,
		ByModel:      map[string]int{"vision-v1": 20, "vision-v2": 100},
	}}
	h := NewHandler(corpus, &fakeDeadLetter{count: 2})

	rec := httptest.NewRecorder()
	h.GetStats(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data StatsResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 120, body.Data.Total)
	assert.Equal(t, 118, body.Data.Indexed)
	assert.Equal(t, 2, body.Data.FailedTasks)
	assert.Equal(t, 100, body.Data.ByModel["vision-v2"])
}

func TestGetStats_CorpusFailure(t *testing.T) {
	h := NewHandler(&fakeCorpus{err: errors.New("db down")}, &fakeDeadLetter{})

	rec := httptest.NewRecorder()
	h.GetStats(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestGetStats_DeadLetterFailure(t *testing.T) {
	h := NewHandler(&fakeCorpus{stats: &image.Stats{}}, &fakeDeadLetter{err: errors.New("db down")})

	rec := httptest.NewRecorder()
	h.GetStats(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
