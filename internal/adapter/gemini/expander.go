package gemini

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const expandPromptFmt = `Expand this image search query with related visual terms. Translate to English if needed. Reply with ONLY the expanded English query. Under 30 words.
Query: %s`

// Expander rewrites short queries into richer English phrases using the
// fast text model.
type Expander struct {
	client *genai.Client
	model  string
}

func NewExpander(ctx context.Context, apiKey, model string, opts ...option.ClientOption) (*Expander, error) {
	opts = append(opts, option.WithAPIKey(apiKey))
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &Expander{client: client, model: model}, nil
}

func (e *Expander) Expand(ctx context.Context, query string) (string, error) {
	model := e.client.GenerativeModel(e.model)
	resp, err := model.GenerateContent(ctx, genai.Text(fmt.Sprintf(expandPromptFmt, query)))
	if err != nil {
		return "", err
	}

	expanded := strings.TrimSpace(responseText(resp))
	if expanded == "" {
		return "", fmt.Errorf("empty expansion received")
	}
	return expanded, nil
}
