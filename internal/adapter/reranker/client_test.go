package reranker_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lens/apps/backend/internal/adapter/reranker"
)

func TestRerank_Jina(t *testing.T) {
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{"results":[{"index":1,"relevance_score":0.95},{"index":0,"relevance_score":0.4}]}`))
	}))
	defer srv.Close()

	c := reranker.NewClient("jina", "key")
	c.SetBaseURL(srv.URL)

	rankings, err := c.Rerank(context.Background(), "cats", []string{"doc a", "doc b"})
	require.NoError(t, err)

	assert.Equal(t, "cats", gotBody["query"])
	require.Len(t, rankings, 2)
	assert.Equal(t, 1, rankings[0].Index)
	assert.InDelta(t, 0.95, rankings[0].Score, 1e-9)
}

func TestRerank_OutOfRangeIndicesDropped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results":[{"index":7,"relevance_score":0.9},{"index":0,"relevance_score":0.5}]}`))
	}))
	defer srv.Close()

	c := reranker.NewClient("cohere", "key")
	c.SetBaseURL(srv.URL)

	rankings, err := c.Rerank(context.Background(), "q", []string{"only one"})
	require.NoError(t, err)
	require.Len(t, rankings, 1)
	assert.Equal(t, 0, rankings[0].Index)
}

func TestRerank_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := reranker.NewClient("jina", "key")
	c.SetBaseURL(srv.URL)

	_, err := c.Rerank(context.Background(), "q", []string{"a"})
	assert.ErrorContains(t, err, "429")
}

func TestRerank_NoProviderIdentityOrder(t *testing.T) {
	c := reranker.NewClient("", "")
	rankings, err := c.Rerank(context.Background(), "q", []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, rankings, 3)
	for i, r := range rankings {
		assert.Equal(t, i, r.Index)
	}
}
