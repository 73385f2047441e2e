package image

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// Repository is the item-store surface consumed by the crawler, the
// workflow, the evolution scheduler and the ranking pipeline.
type Repository interface {
	Exists(ctx context.Context, id string) (bool, error)
	FilterExisting(ctx context.Context, ids []string) (map[string]struct{}, error)
	// Get returns (nil, nil) when no record exists for the id.
	Get(ctx context.Context, id string) (*Image, error)
	GetBatch(ctx context.Context, ids []string) ([]Image, error)
	Upsert(ctx context.Context, img *Image) error
	MarkVectorSynced(ctx context.Context, id string) error
	ListLatest(ctx context.Context, limit int) ([]Image, error)
	ListStaleByModel(ctx context.Context, currentVersion string, limit int) ([]Image, error)
	Stats(ctx context.Context) (*Stats, error)
}

type Stats struct {
	Total        int            `json:"total"`
	VectorSynced int            `json:"vector_synced"`
	ByModel      map[string]int `json:"by_model"`
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const imageColumns = `id, width, height, color, raw_key, display_key, meta, caption, tags, quality, entities, embedding, model_version, vector_synced, created_at`

func (r *PostgresRepo) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM images WHERE id = $1)`
	err := r.db.QueryRowContext(ctx, query, id).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

func (r *PostgresRepo) FilterExisting(ctx context.Context, ids []string) (map[string]struct{}, error) {
	existing := make(map[string]struct{})
	if len(ids) == 0 {
		return existing, nil
	}

	query := `SELECT id FROM images WHERE id = ANY($1)`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		existing[id] = struct{}{}
	}
	return existing, rows.Err()
}

// Get returns (nil, nil) for an unknown id; absence is not an error here.
func (r *PostgresRepo) Get(ctx context.Context, id string) (*Image, error) {
	query := fmt.Sprintf(`SELECT %s FROM images WHERE id = $1`, imageColumns)
	img, err := scanImage(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return img, err
}

func (r *PostgresRepo) GetBatch(ctx context.Context, ids []string) ([]Image, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`SELECT %s FROM images WHERE id = ANY($1)`, imageColumns)
	rows, err := r.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanImages(rows)
}

// Upsert writes the full record in one statement. On conflict only the
// enrichment fields move; created_at keeps the original ingestion time.
func (r *PostgresRepo) Upsert(ctx context.Context, img *Image) error {
	embedding, err := json.Marshal(img.Embedding)
	if err != nil {
		return fmt.Errorf("marshal embedding: %w", err)
	}

	query := `
		INSERT INTO images (id, width, height, color, raw_key, display_key, meta, caption, tags, quality, entities, embedding, model_version, vector_synced)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			caption = EXCLUDED.caption,
			tags = EXCLUDED.tags,
			quality = EXCLUDED.quality,
			entities = EXCLUDED.entities,
			embedding = EXCLUDED.embedding,
			model_version = EXCLUDED.model_version,
			vector_synced = EXCLUDED.vector_synced,
			updated_at = NOW()
	`
	_, err = r.db.ExecContext(ctx, query,
		img.ID, img.Width, img.Height, img.Color, img.RawKey, img.DisplayKey, img.Meta,
		img.Caption, pq.Array(img.Tags), img.Quality, pq.Array(img.Entities),
		embedding, img.ModelVersion, img.VectorSynced,
	)
	return err
}

func (r *PostgresRepo) MarkVectorSynced(ctx context.Context, id string) error {
	query := `UPDATE images SET vector_synced = TRUE, updated_at = NOW() WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}

func (r *PostgresRepo) ListLatest(ctx context.Context, limit int) ([]Image, error) {
	query := fmt.Sprintf(`SELECT %s FROM images ORDER BY created_at DESC LIMIT $1`, imageColumns)
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanImages(rows)
}

// ListStaleByModel returns records whose enrichment predates the current
// model version, oldest ingested first.
func (r *PostgresRepo) ListStaleByModel(ctx context.Context, currentVersion string, limit int) ([]Image, error) {
	query := fmt.Sprintf(`SELECT %s FROM images WHERE model_version <> $1 ORDER BY created_at ASC LIMIT $2`, imageColumns)
	rows, err := r.db.QueryContext(ctx, query, currentVersion, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanImages(rows)
}

func (r *PostgresRepo) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{ByModel: make(map[string]int)}

	query := `SELECT COUNT(*), COUNT(*) FILTER (WHERE vector_synced) FROM images`
	if err := r.db.QueryRowContext(ctx, query).Scan(&stats.Total, &stats.VectorSynced); err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `SELECT model_version, COUNT(*) FROM images GROUP BY model_version`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var version string
		var count int
		if err := rows.Scan(&version, &count); err != nil {
			return nil, err
		}
		stats.ByModel[version] = count
	}
	return stats, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanImage(row rowScanner) (*Image, error) {
	img := &Image{}
	var embedding []byte
	err := row.Scan(
		&img.ID, &img.Width, &img.Height, &img.Color, &img.RawKey, &img.DisplayKey, &img.Meta,
		&img.Caption, pq.Array(&img.Tags), &img.Quality, pq.Array(&img.Entities),
		&embedding, &img.ModelVersion, &img.VectorSynced, &img.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(embedding) > 0 {
		if err := json.Unmarshal(embedding, &img.Embedding); err != nil {
			return nil, fmt.Errorf("unmarshal embedding: %w", err)
		}
	}
	return img, nil
}

func scanImages(rows *sql.Rows) ([]Image, error) {
	var images []Image
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, err
		}
		images = append(images, *img)
	}
	return images, rows.Err()
}
