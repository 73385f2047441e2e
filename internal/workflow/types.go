package workflow

import (
	"context"
	"encoding/json"
)

type TaskType string

const (
	// TaskNewItem ingests an item seen on the feed for the first time.
	TaskNewItem TaskType = "new-item"
	// TaskRefreshItem re-runs analyze/embed against an already-stored asset.
	TaskRefreshItem TaskType = "refresh-item"
)

// Task is the durable queue message. Delivery is at-least-once; every step
// downstream is written to be safely re-appliable.
type Task struct {
	Type          TaskType        `json:"type"`
	ItemID        string          `json:"item_id"`
	DownloadURL   string          `json:"download_url,omitempty"`
	DisplayURL    string          `json:"display_url,omitempty"`
	Meta          json.RawMessage `json:"meta,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
}

// Analysis is the parsed output of the vision model.
type Analysis struct {
	Caption  string
	Tags     []string
	Quality  float64
	Entities []string
}

type Analyzer interface {
	Analyze(ctx context.Context, imageData []byte) (*Analysis, error)
	// ModelVersion tags records so stale ones can be found for refresh.
	ModelVersion() string
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorIndex is the minimal index surface the workflow writes to.
type VectorIndex interface {
	Upsert(ctx context.Context, id string, vector []float32, metadata map[string]interface{}) error
}

// AssetStore keeps the raw and display renditions under deterministic keys.
type AssetStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// AssetFetcher downloads a rendition from the source URL and pings the
// feed's download-location endpoint for attribution.
type AssetFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
	PingDownload(ctx context.Context, downloadLocation string)
}

// UsageMeter records metered model spend for the evolution budget.
type UsageMeter interface {
	Record(ctx context.Context, units float64) error
}
