package deadletter

import (
	"context"
	"database/sql"
	"encoding/json"
)

type Repository interface {
	Save(ctx context.Context, task *Task) error
	List(ctx context.Context) ([]Task, error)
	Get(ctx context.Context, id string) (*Task, error)
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Save(ctx context.Context, task *Task) error {
	query := `INSERT INTO failed_tasks (item_id, task_type, payload, error, attempts) VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at`
	return r.db.QueryRowContext(ctx, query, task.ItemID, task.TaskType, task.Payload, task.Error, task.Attempts).Scan(&task.ID, &task.CreatedAt)
}

func (r *PostgresRepo) List(ctx context.Context) ([]Task, error) {
	query := `SELECT id, item_id, task_type, payload, error, attempts, created_at FROM failed_tasks ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		var t Task
		var payload []byte
		if err := rows.Scan(&t.ID, &t.ItemID, &t.TaskType, &payload, &t.Error, &t.Attempts, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Payload = json.RawMessage(payload)
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (*Task, error) {
	t := &Task{}
	var payload []byte
	query := `SELECT id, item_id, task_type, payload, error, attempts, created_at FROM failed_tasks WHERE id = $1`
	err := r.db.QueryRowContext(ctx, query, id).Scan(&t.ID, &t.ItemID, &t.TaskType, &payload, &t.Error, &t.Attempts, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	t.Payload = json.RawMessage(payload)
	return t, nil
}

func (r *PostgresRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM failed_tasks WHERE id = $1`, id)
	return err
}

func (r *PostgresRepo) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM failed_tasks`).Scan(&count)
	return count, err
}
