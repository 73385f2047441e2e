package vector

import (
	"context"

	"github.com/weaviate/weaviate/entities/models"
)

// ClassImage holds one object per mirrored item: its embedding plus the
// minimal metadata search results need before the item-store fetch.
const ClassImage = "ImageVector"

// SchemaClient defines the interface for Weaviate schema operations
type SchemaClient interface {
	ClassExists(ctx context.Context, className string) (bool, error)
	CreateClass(ctx context.Context, class *models.Class) error
	GetClass(ctx context.Context, className string) (*models.Class, error)
	AddProperty(ctx context.Context, className string, property *models.Property) error
}

// EnsureSchema checks if the required class exists and creates it if not
func EnsureSchema(ctx context.Context, client SchemaClient) error {
	exists, err := client.ClassExists(ctx, ClassImage)
	if err != nil {
		return err
	}

	properties := []*models.Property{
		{
			Name:     "itemId",
			DataType: []string{"string"}, // external feed ID (exact match)
		},
		{
			Name:     "caption",
			DataType: []string{"text"},
		},
		{
			Name:     "displayKey",
			DataType: []string{"string"},
		},
	}

	if !exists {
		class := &models.Class{
			Class:       ClassImage,
			Description: "Embedding of an enriched feed item",
			Vectorizer:  "none",
			Properties:  properties,
		}
		return client.CreateClass(ctx, class)
	}

	// Class exists, check for missing properties
	class, err := client.GetClass(ctx, ClassImage)
	if err != nil {
		return err
	}

	existingProps := make(map[string]bool)
	for _, p := range class.Properties {
		existingProps[p.Name] = true
	}

	for _, p := range properties {
		if !existingProps[p.Name] {
			if err := client.AddProperty(ctx, ClassImage, p); err != nil {
				return err
			}
		}
	}

	return nil
}
