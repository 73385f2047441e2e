package asset

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"lens/apps/backend/internal/feed"
)

// maxAssetBytes caps a single rendition download. Source raws top out well
// below this.
const maxAssetBytes = 64 << 20

// HTTPFetcher downloads renditions from their source URLs and forwards
// download pings to the feed client.
type HTTPFetcher struct {
	client *http.Client
	feed   *feed.Client
}

func NewHTTPFetcher(feedClient *feed.Client) *HTTPFetcher {
	return &HTTPFetcher{
		client: &http.Client{Timeout: 60 * time.Second},
		feed:   feedClient,
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("asset fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("asset fetch failed: %s", resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAssetBytes+1))
	if err != nil {
		return nil, fmt.Errorf("asset read failed: %w", err)
	}
	if len(data) > maxAssetBytes {
		return nil, fmt.Errorf("asset exceeds %d byte limit", maxAssetBytes)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("asset fetch returned empty body")
	}
	return data, nil
}

func (f *HTTPFetcher) PingDownload(ctx context.Context, downloadLocation string) {
	f.feed.PingDownload(ctx, downloadLocation)
}
