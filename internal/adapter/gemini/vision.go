package gemini

import (
	"context"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"lens/apps/backend/internal/workflow"
)

const visionPrompt = `Describe this photo in 2-3 sentences. Then list exactly 5 tags as comma-separated words, a quality score from 1 to 10, and the named entities visible or implied. Format:
Description: <description>
Tags: <tag1>, <tag2>, <tag3>, <tag4>, <tag5>
Quality: <score>
Entities: <entity1>, <entity2>`

const (
	maxTags            = 5
	defaultQuality     = 5.0
	fallbackCaptionLen = 200
)

// Vision sends a display rendition to the captioning model and parses its
// lightly-structured reply.
type Vision struct {
	client *genai.Client
	model  string
}

func NewVision(ctx context.Context, apiKey, model string, opts ...option.ClientOption) (*Vision, error) {
	opts = append(opts, option.WithAPIKey(apiKey))
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &Vision{client: client, model: model}, nil
}

// ModelVersion tags stored records so the evolution scheduler can find
// stale enrichments after a model upgrade.
func (v *Vision) ModelVersion() string { return v.model }

func (v *Vision) Analyze(ctx context.Context, imageData []byte) (*workflow.Analysis, error) {
	model := v.client.GenerativeModel(v.model)
	resp, err := model.GenerateContent(ctx,
		genai.ImageData("jpeg", imageData),
		genai.Text(visionPrompt),
	)
	if err != nil {
		slog.ErrorContext(ctx, "vision analysis failed", "model", v.model, "error", err)
		return nil, err
	}

	return ParseAnalysis(ctx, responseText(resp)), nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	return sb.String()
}

var (
	descRe     = regexp.MustCompile(`(?is)Description:\s*(.+?)(?:\n|Tags:|$)`)
	tagsRe     = regexp.MustCompile(`(?i)Tags:\s*(.+)`)
	qualityRe  = regexp.MustCompile(`(?i)Quality:\s*(\d+(?:\.\d+)?)`)
	entitiesRe = regexp.MustCompile(`(?i)Entities:\s*(.+)`)
)

// ParseAnalysis extracts the structured fields from the model reply. A reply
// that fails structural validation degrades to a usable result (truncated
// raw text as caption, empty lists, default quality) instead of an error,
// so a malformed response never blocks ingestion.
func ParseAnalysis(ctx context.Context, text string) *workflow.Analysis {
	analysis := &workflow.Analysis{Quality: defaultQuality}

	if m := descRe.FindStringSubmatch(text); m != nil {
		analysis.Caption = strings.TrimSpace(m[1])
	}
	if analysis.Caption == "" {
		slog.WarnContext(ctx, "vision output failed structural validation, degrading", "raw_len", len(text))
		fallback := strings.TrimSpace(strings.SplitN(text, "\n", 2)[0])
		if len(fallback) > fallbackCaptionLen {
			fallback = fallback[:fallbackCaptionLen]
		}
		analysis.Caption = fallback
	}

	if m := tagsRe.FindStringSubmatch(text); m != nil {
		analysis.Tags = splitList(m[1], maxTags)
	}
	if m := qualityRe.FindStringSubmatch(text); m != nil {
		if q, err := strconv.ParseFloat(m[1], 64); err == nil && q >= 0 && q <= 10 {
			analysis.Quality = q
		}
	}
	if m := entitiesRe.FindStringSubmatch(text); m != nil {
		analysis.Entities = splitList(m[1], 0)
	}

	return analysis
}

func splitList(raw string, limit int) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		v := strings.ToLower(strings.TrimSpace(part))
		if v == "" {
			continue
		}
		out = append(out, v)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
