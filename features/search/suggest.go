package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"lens/apps/backend/internal/state"
)

const (
	suggestKeyPrefix  = "suggest:prefix:"
	suggestPrefixLen  = 2
	suggestMaxPerKey  = 50
	suggestMaxResults = 8
	suggestTTL        = 30 * 24 * time.Hour
)

// SuggestIndex records successful queries in prefix buckets so typeahead
// can complete them later. Buckets are FIFO-capped and expire as a whole;
// a prefix nobody searches for a month starts fresh.
type SuggestIndex struct {
	states state.Store
}

func NewSuggestIndex(states state.Store) *SuggestIndex {
	return &SuggestIndex{states: states}
}

// suggestKey buckets by the first two runes, not bytes, so multi-byte
// queries produce valid UTF-8 keys.
func suggestKey(normalized string) string {
	return suggestKeyPrefix + string([]rune(normalized)[:suggestPrefixLen])
}

// Record adds a normalized query to its prefix bucket. Re-recording an
// existing query moves it to the back, keeping popular queries alive.
func (s *SuggestIndex) Record(ctx context.Context, query string) error {
	normalized := NormalizeQuery(query)
	if utf8.RuneCountInString(normalized) < suggestPrefixLen {
		return nil
	}

	key := suggestKey(normalized)
	queries, err := s.bucket(ctx, key)
	if err != nil {
		return err
	}

	filtered := make([]string, 0, len(queries)+1)
	for _, q := range queries {
		if q != normalized {
			filtered = append(filtered, q)
		}
	}
	filtered = append(filtered, normalized)
	if len(filtered) > suggestMaxPerKey {
		filtered = filtered[len(filtered)-suggestMaxPerKey:]
	}

	encoded, err := json.Marshal(filtered)
	if err != nil {
		return err
	}
	return s.states.SetTTL(ctx, key, string(encoded), suggestTTL)
}

// Suggest returns recorded queries starting with the given text, most
// recently searched first.
func (s *SuggestIndex) Suggest(ctx context.Context, query string) ([]string, error) {
	normalized := NormalizeQuery(query)
	if utf8.RuneCountInString(normalized) < suggestPrefixLen {
		return []string{}, nil
	}

	queries, err := s.bucket(ctx, suggestKey(normalized))
	if err != nil {
		return nil, err
	}

	matches := make([]string, 0, suggestMaxResults)
	for i := len(queries) - 1; i >= 0 && len(matches) < suggestMaxResults; i-- {
		if strings.HasPrefix(queries[i], normalized) {
			matches = append(matches, queries[i])
		}
	}
	return matches, nil
}

func (s *SuggestIndex) bucket(ctx context.Context, key string) ([]string, error) {
	raw, err := s.states.Get(ctx, key)
	if errors.Is(err, state.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var queries []string
	if err := json.Unmarshal([]byte(raw), &queries); err != nil {
		return nil, fmt.Errorf("corrupt suggestion bucket %s: %w", key, err)
	}
	return queries, nil
}
