package image

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Image is one mirrored feed item together with its enrichment outputs.
// A row is either absent or fully present: every write goes through a
// single atomic upsert, so search never sees a half-enriched record.
type Image struct {
	ID         string          `json:"id"`
	Width      int             `json:"width"`
	Height     int             `json:"height"`
	Color      string          `json:"color"`
	RawKey     string          `json:"raw_key"`
	DisplayKey string          `json:"display_key"`
	Meta       json.RawMessage `json:"meta"`

	Caption      string    `json:"caption"`
	Tags         []string  `json:"tags"`
	Quality      float64   `json:"quality"`
	Entities     []string  `json:"entities"`
	Embedding    []float32 `json:"-"`
	ModelVersion string    `json:"model_version"`

	VectorSynced bool      `json:"vector_synced"`
	CreatedAt    time.Time `json:"created_at"`
}

// BuildEmbeddingText assembles the composite text sent to the embedding
// model. Optional metadata fields are appended only when present, never
// left blank, so the output is deterministic for a given record.
func BuildEmbeddingText(caption string, tags []string, meta json.RawMessage) string {
	parts := []string{caption}
	if len(tags) > 0 {
		parts = append(parts, "Tags: "+strings.Join(tags, ", "))
	}

	var m struct {
		AltDescription string `json:"alt_description"`
		Description    string `json:"description"`
		User           struct {
			Name string `json:"name"`
		} `json:"user"`
		Location struct {
			Name string `json:"name"`
		} `json:"location"`
		TopicSubmissions map[string]json.RawMessage `json:"topic_submissions"`
	}
	if len(meta) > 0 {
		_ = json.Unmarshal(meta, &m)
	}

	if m.AltDescription != "" {
		parts = append(parts, m.AltDescription)
	}
	if m.Description != "" {
		parts = append(parts, m.Description)
	}
	if m.User.Name != "" {
		parts = append(parts, fmt.Sprintf("Photographer: %s", m.User.Name))
	}
	if m.Location.Name != "" {
		parts = append(parts, fmt.Sprintf("Location: %s", m.Location.Name))
	}
	if len(m.TopicSubmissions) > 0 {
		topics := make([]string, 0, len(m.TopicSubmissions))
		for topic := range m.TopicSubmissions {
			topics = append(topics, topic)
		}
		sort.Strings(topics)
		parts = append(parts, "Topics: "+strings.Join(topics, ", "))
	}

	return strings.Join(parts, " | ")
}
