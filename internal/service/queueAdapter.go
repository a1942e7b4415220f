package service

import (
	"context"

	"github.com/ds124wfegd/library-reservations/pkg/queue"
)

// QueueAdapter адаптирует queue.Queue к TaskPublisher интерфейсу
type QueueAdapter struct {
	queue queue.Queue
}

// NewQueueAdapter возвращает nil, если очередь не настроена: вызывающий код
// проверяет TaskPublisher на nil и выполняет работу сразу
func NewQueueAdapter(q queue.Queue) TaskPublisher {
	if q == nil {
		return nil
	}
	return &QueueAdapter{queue: q}
}

// Publish публикует задачу, преобразуя service.Task в queue.Task
func (a *QueueAdapter) Publish(ctx context.Context, task *Task) error {
	return a.queue.Publish(ctx, &queue.Task{
		ID:         task.ID,
		Type:       queue.TaskType(task.Type),
		Data:       task.Data,
		ExecuteAt:  task.ExecuteAt,
		MaxRetries: task.MaxRetries,
		Attempts:   task.Attempts,
	})
}
