package deadletter

import (
	"encoding/json"
	"time"
)

// Task is an ingest task that exhausted its delivery attempts. The payload
// is the exact queue message, so a retry re-publishes it unchanged.
type Task struct {
	ID        string          `json:"id"`
	ItemID    string          `json:"item_id"`
	TaskType  string          `json:"task_type"`
	Payload   json.RawMessage `json:"payload"`
	Error     string          `json:"error"`
	Attempts  int             `json:"attempts"`
	CreatedAt time.Time       `json:"created_at"`
}
