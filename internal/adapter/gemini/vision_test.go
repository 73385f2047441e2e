package gemini_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"lens/apps/backend/internal/adapter/gemini"
)

func TestParseAnalysis_WellFormed(t *testing.T) {
	text := `Description: A tabby cat resting on a windowsill in soft light.
Tags: Cat, windowsill, Light, cozy, pet
Quality: 8
Entities: tabby cat, window`

	a := gemini.ParseAnalysis(context.Background(), text)

	assert.Equal(t, "A tabby cat resting on a windowsill in soft light.", a.Caption)
	assert.Equal(t, []string{"cat", "windowsill", "light", "cozy", "pet"}, a.Tags)
	assert.InDelta(t, 8.0, a.Quality, 1e-9)
	assert.Equal(t, []string{"tabby cat", "window"}, a.Entities)
}

func TestParseAnalysis_TagLimit(t *testing.T) {
	text := `Description: busy street.
Tags: a, b, c, d, e, f, g`

	a := gemini.ParseAnalysis(context.Background(), text)
	assert.Len(t, a.Tags, 5)
}

func TestParseAnalysis_MalformedDegrades(t *testing.T) {
	text := "The model rambled on without any of the expected labels.\nMore rambling."

	a := gemini.ParseAnalysis(context.Background(), text)

	// Degraded-but-complete: first line as caption, defaults elsewhere.
	assert.Equal(t, "The model rambled on without any of the expected labels.", a.Caption)
	assert.Empty(t, a.Tags)
	assert.Empty(t, a.Entities)
	assert.InDelta(t, 5.0, a.Quality, 1e-9)
}

func TestParseAnalysis_EmptyInput(t *testing.T) {
	a := gemini.ParseAnalysis(context.Background(), "")
	assert.Empty(t, a.Caption)
	assert.InDelta(t, 5.0, a.Quality, 1e-9)
}

func TestParseAnalysis_QualityOutOfRangeIgnored(t *testing.T) {
	text := `Description: x
Quality: 99`

	a := gemini.ParseAnalysis(context.Background(), text)
	assert.InDelta(t, 5.0, a.Quality, 1e-9)
}

func TestParseAnalysis_LongFallbackTruncated(t *testing.T) {
	long := make([]byte, 300)
	for i := range long {
		long[i] = 'x'
	}

	a := gemini.ParseAnalysis(context.Background(), string(long))
	assert.Len(t, a.Caption, 200)
}
