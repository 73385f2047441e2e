package feed_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lens/apps/backend/internal/feed"
)

func TestClient_Latest(t *testing.T) {
	var gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.String()
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("X-Ratelimit-Remaining", "42")
		w.Write([]byte(`[
			{"id":"a1","width":100,"height":50,"color":"#aabbcc","created_at":"2024-01-02T03:04:05Z",
			 "urls":{"raw":"http://x/raw","regular":"http://x/reg"},
			 "user":{"name":"Jane"},"sponsorship":null},
			{"id":"a2","sponsorship":{"sponsor":"acme"}}
		]`))
	}))
	defer srv.Close()

	c := feed.NewClient(srv.URL, "key123")
	page, err := c.Latest(context.Background(), 2, 30)
	require.NoError(t, err)

	assert.Equal(t, "/photos?order_by=latest&page=2&per_page=30", gotPath)
	assert.Equal(t, "Client-ID key123", gotAuth)
	assert.Equal(t, 42, page.Remaining)
	require.Len(t, page.Items, 2)

	assert.Equal(t, "a1", page.Items[0].ID)
	assert.Equal(t, "Jane", page.Items[0].User.Name)
	assert.False(t, page.Items[0].Sponsored())
	assert.True(t, page.Items[1].Sponsored())
	assert.NotEmpty(t, page.Items[0].Raw)
}

func TestClient_Oldest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "oldest", r.URL.Query().Get("order_by"))
		w.Header().Set("X-Ratelimit-Remaining", "9")
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	page, err := feed.NewClient(srv.URL, "k").Oldest(context.Background(), 1, 30)
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.Equal(t, 9, page.Remaining)
}

func TestClient_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := feed.NewClient(srv.URL, "k").Latest(context.Background(), 1, 30)
	assert.ErrorContains(t, err, "rate limit")
}

func TestClient_MissingQuotaHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	page, err := feed.NewClient(srv.URL, "k").Latest(context.Background(), 1, 30)
	require.NoError(t, err)
	assert.Equal(t, -1, page.Remaining)
}
