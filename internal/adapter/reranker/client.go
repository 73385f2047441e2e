package reranker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Ranking is one re-ranked candidate: its position in the submitted
// document list plus the model's relevance score.
type Ranking struct {
	Index int
	Score float64
}

type Client struct {
	apiKey   string
	provider string
	client   *http.Client
	baseURL  string
}

func NewClient(provider, apiKey string) *Client {
	return &Client{
		provider: provider,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) SetBaseURL(url string) {
	c.baseURL = url
}

func (c *Client) Rerank(ctx context.Context, query string, docs []string) ([]Ranking, error) {
	switch c.provider {
	case "jina":
		return c.rerank(ctx, "https://api.jina.ai/v1/rerank", map[string]interface{}{
			"model":     "jina-reranker-v1-base-en",
			"query":     query,
			"documents": docs,
		}, len(docs))
	case "cohere":
		return c.rerank(ctx, "https://api.cohere.ai/v1/rerank", map[string]interface{}{
			"model":            "rerank-english-v3.0",
			"query":            query,
			"documents":        docs,
			"top_n":            len(docs),
			"return_documents": false,
		}, len(docs))
	}

	// No provider configured: identity order.
	rankings := make([]Ranking, len(docs))
	for i := range rankings {
		rankings[i] = Ranking{Index: i, Score: 1 - float64(i)*0.01}
	}
	return rankings, nil
}

func (c *Client) rerank(ctx context.Context, url string, reqBody map[string]interface{}, numDocs int) ([]Ranking, error) {
	if c.baseURL != "" {
		url = c.baseURL
	}

	jsonBody, _ := json.Marshal(reqBody)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("%s api error: %d", c.provider, resp.StatusCode)
	}

	var result struct {
		Results []struct {
			Index int     `json:"index"`
			Score float64 `json:"relevance_score"`
		} `json:"results"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	rankings := make([]Ranking, 0, len(result.Results))
	for _, r := range result.Results {
		if r.Index >= 0 && r.Index < numDocs {
			rankings = append(rankings, Ranking{Index: r.Index, Score: r.Score})
		}
	}

	return rankings, nil
}
