package image_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"lens/apps/backend/features/image"
)

func TestBuildEmbeddingText(t *testing.T) {
	tests := []struct {
		name    string
		caption string
		tags    []string
		meta    string
		want    string
	}{
		{
			name:    "CaptionTagsPhotographer",
			caption: "A cat",
			tags:    []string{"cute", "animal"},
			meta:    `{"user":{"name":"John"}}`,
			want:    "A cat | Tags: cute, animal | Photographer: John",
		},
		{
			name:    "CaptionOnly",
			caption: "A dog",
			tags:    nil,
			meta:    `{}`,
			want:    "A dog",
		},
		{
			name:    "AllFields",
			caption: "Sunset",
			tags:    []string{"sky"},
			meta:    `{"alt_description":"orange sky","description":"evening light","user":{"name":"Ana"},"location":{"name":"Lisbon"},"topic_submissions":{"nature":{},"golden-hour":{}}}`,
			want:    "Sunset | Tags: sky | orange sky | evening light | Photographer: Ana | Location: Lisbon | Topics: golden-hour, nature",
		},
		{
			name:    "NilMeta",
			caption: "Plain",
			tags:    []string{"a"},
			meta:    "",
			want:    "Plain | Tags: a",
		},
		{
			name:    "MalformedMetaIgnored",
			caption: "Robust",
			tags:    nil,
			meta:    `{"user":`,
			want:    "Robust",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := image.BuildEmbeddingText(tt.caption, tt.tags, json.RawMessage(tt.meta))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildEmbeddingText_Deterministic(t *testing.T) {
	meta := json.RawMessage(`{"topic_submissions":{"b":{},"a":{},"c":{}}}`)
	first := image.BuildEmbeddingText("x", nil, meta)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, image.BuildEmbeddingText("x", nil, meta))
	}
}
