package weaviate

import (
	"context"
	"fmt"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"lens/apps/backend/internal/vector"
)

// Match is one nearest neighbor from a similarity query.
type Match struct {
	ItemID string
	Score  float32
}

type Store struct {
	client *weaviate.Client
}

func NewStore(client *weaviate.Client) *Store {
	return &Store{client: client}
}

// objectID derives a stable UUID from the external item ID so repeated
// upserts land on the same object.
func objectID(itemID string) strfmt.UUID {
	return strfmt.UUID(uuid.NewSHA1(uuid.NameSpaceURL, []byte("lens/"+itemID)).String())
}

// Upsert writes one embedding plus minimal display metadata. Re-running it
// with the same item ID overwrites in place.
func (s *Store) Upsert(ctx context.Context, id string, vec []float32, metadata map[string]interface{}) error {
	properties := map[string]interface{}{
		"itemId": id,
	}
	for k, v := range metadata {
		properties[k] = v
	}

	obj := &models.Object{
		Class:      vector.ClassImage,
		ID:         objectID(id),
		Properties: properties,
		Vector:     vec,
	}

	res, err := s.client.Batch().ObjectsBatcher().WithObjects(obj).Do(ctx)
	if err != nil {
		return err
	}
	for _, r := range res {
		if r.Result != nil && r.Result.Errors != nil && len(r.Result.Errors.Error) > 0 {
			return fmt.Errorf("vector upsert %s: %s", id, r.Result.Errors.Error[0].Message)
		}
	}
	return nil
}

// Query returns the topK nearest neighbors by certainty, descending.
func (s *Store) Query(ctx context.Context, vec []float32, topK int) ([]Match, error) {
	nearVector := s.client.GraphQL().NearVectorArgBuilder().WithVector(vec)

	fields := []graphql.Field{
		{Name: "itemId"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "certainty"}}},
	}

	res, err := s.client.GraphQL().Get().
		WithClassName(vector.ClassImage).
		WithNearVector(nearVector).
		WithLimit(topK).
		WithFields(fields...).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	if len(res.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %v", res.Errors)
	}

	var matches []Match
	if data, ok := res.Data["Get"].(map[string]interface{}); ok {
		if objs, ok := data[vector.ClassImage].([]interface{}); ok {
			for _, o := range objs {
				props, ok := o.(map[string]interface{})
				if !ok {
					continue
				}
				m := Match{}
				if id, ok := props["itemId"].(string); ok {
					m.ItemID = id
				}
				if additional, ok := props["_additional"].(map[string]interface{}); ok {
					if c, ok := additional["certainty"].(float64); ok {
						m.Score = float32(c)
					}
				}
				if m.ItemID != "" {
					matches = append(matches, m)
				}
			}
		}
	}

	return matches, nil
}
