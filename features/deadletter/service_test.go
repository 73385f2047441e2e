package deadletter

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lens/apps/backend/internal/config"
)

type mockRepo struct {
	Repository
	task    *Task
	deleted []string
}

func (m *mockRepo) Get(ctx context.Context, id string) (*Task, error) {
	if m.task == nil {
		return nil, errors.New("not found")
	}
	return m.task, nil
}

func (m *mockRepo) Delete(ctx context.Context, id string) error {
	m.deleted = append(m.deleted, id)
	return nil
}

type mockPublisher struct {
	topic string
	body  []byte
	err   error
}

func (m *mockPublisher) Publish(topic string, body []byte) error {
	m.topic = topic
	m.body = body
	return m.err
}

func TestRetry_RepublishesOriginalPayload(t *testing.T) {
	payload := json.RawMessage(`{"type":"new-item","item_id":"abc"}`)
	repo := &mockRepo{task: &Task{ID: "dl-1", Payload: payload}}
	pub := &mockPublisher{}

	svc := NewService(repo, pub)
	require.NoError(t, svc.Retry(context.Background(), "dl-1"))

	assert.Equal(t, config.TopicIngestTask, pub.topic)
	assert.JSONEq(t, string(payload), string(pub.body))
	assert.Equal(t, []string{"dl-1"}, repo.deleted)
}

func TestRetry_PublishFailureKeepsRow(t *testing.T) {
	repo := &mockRepo{task: &Task{ID: "dl-1", Payload: json.RawMessage(`{}`)}}
	pub := &mockPublisher{err: errors.New("nsqd down")}

	svc := NewService(repo, pub)
	err := svc.Retry(context.Background(), "dl-1")

	assert.Error(t, err)
	assert.Empty(t, repo.deleted)
}
