package deadletter

import (
	"context"

	"lens/apps/backend/internal/config"
)

type TaskPublisher interface {
	Publish(topic string, body []byte) error
}

type Service struct {
	repo Repository
	pub  TaskPublisher
}

func NewService(repo Repository, pub TaskPublisher) *Service {
	return &Service{repo: repo, pub: pub}
}

func (s *Service) List(ctx context.Context) ([]Task, error) {
	return s.repo.List(ctx)
}

// Retry re-publishes the original payload and removes the row. The consumer
// starts the attempt counter over for the redelivered message.
func (s *Service) Retry(ctx context.Context, id string) error {
	task, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}

	if err := s.pub.Publish(config.TopicIngestTask, task.Payload); err != nil {
		return err
	}

	return s.repo.Delete(ctx, id)
}

func (s *Service) Count(ctx context.Context) (int, error) {
	return s.repo.Count(ctx)
}
