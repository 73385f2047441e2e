package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// Item is one entry of the external feed. Raw keeps the untouched source
// metadata so the workflow can persist it without interpreting it.
type Item struct {
	ID        string    `json:"id"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	Color     string    `json:"color"`
	CreatedAt time.Time `json:"created_at"`
	URLs      struct {
		Raw     string `json:"raw"`
		Regular string `json:"regular"`
	} `json:"urls"`
	User struct {
		Name string `json:"name"`
	} `json:"user"`
	Links struct {
		DownloadLocation string `json:"download_location"`
	} `json:"links"`
	Sponsorship json.RawMessage `json:"sponsorship"`

	Raw json.RawMessage `json:"-"`
}

// Sponsored reports whether the item is a promoted entry pinned to the top
// of the latest view. Those break index-based boundary detection and are
// filtered out before scanning.
func (i Item) Sponsored() bool {
	return len(i.Sponsorship) > 0 && string(i.Sponsorship) != "null"
}

// Page is one page of the feed plus the remaining-call quota the feed
// reports on every response.
type Page struct {
	Items     []Item
	Remaining int
}

type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// Latest fetches one page of the newest-first view.
func (c *Client) Latest(ctx context.Context, page, perPage int) (*Page, error) {
	return c.fetch(ctx, "latest", page, perPage)
}

// Oldest fetches one page of the oldest-first view. Its ordering never
// shifts when new items land at the head, which is what makes it a stable
// backfill cursor.
func (c *Client) Oldest(ctx context.Context, page, perPage int) (*Page, error) {
	return c.fetch(ctx, "oldest", page, perPage)
}

func (c *Client) fetch(ctx context.Context, order string, page, perPage int) (*Page, error) {
	url := fmt.Sprintf("%s/photos?order_by=%s&page=%d&per_page=%d", c.baseURL, order, page, perPage)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Client-ID "+c.apiKey)
	req.Header.Set("Accept-Version", "v1")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("feed rate limit exceeded")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed fetch failed: %s", resp.Status)
	}

	var raws []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raws); err != nil {
		return nil, fmt.Errorf("feed decode failed: %w", err)
	}

	items := make([]Item, 0, len(raws))
	for _, r := range raws {
		var it Item
		if err := json.Unmarshal(r, &it); err != nil {
			return nil, fmt.Errorf("feed item decode failed: %w", err)
		}
		it.Raw = r
		items = append(items, it)
	}

	remaining := -1
	if v := resp.Header.Get("X-Ratelimit-Remaining"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			remaining = n
		}
	}

	return &Page{Items: items, Remaining: remaining}, nil
}

// PingDownload notifies the feed that an asset was downloaded, as its API
// terms require. Failures are logged and swallowed.
func (c *Client) PingDownload(ctx context.Context, downloadLocation string) {
	if downloadLocation == "" {
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadLocation, nil)
	if err != nil {
		return
	}
	req.Header.Set("Authorization", "Client-ID "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		slog.WarnContext(ctx, "download ping failed", "error", err)
		return
	}
	resp.Body.Close()
}
