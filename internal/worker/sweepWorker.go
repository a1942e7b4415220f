package worker

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ds124wfegd/library-reservations/internal/service"
	"github.com/ds124wfegd/library-reservations/pkg/scheduler"
)

// SweepWorker периодически ищет вернувшиеся экземпляры с ожидающей очередью.
// При наличии очереди обход ставится задачей, чтобы не конкурировать с потребителем.
type SweepWorker struct {
	assignment service.AssignmentService
	queue      service.TaskPublisher
}

func NewSweepWorker(assignment service.AssignmentService, queue service.TaskPublisher) *SweepWorker {
	return &SweepWorker{
		assignment: assignment,
		queue:      queue,
	}
}

// Register добавляет обход в планировщик
func (w *SweepWorker) Register(s *scheduler.Scheduler, spec string) error {
	return s.AddJob("sweep_returned_instances", spec, w.Run)
}

func (w *SweepWorker) Run(ctx context.Context) error {
	if w.queue != nil {
		return w.queue.Publish(ctx, &service.Task{
			ID:         uuid.NewString(),
			Type:       service.TaskTypeSweepReturned,
			MaxRetries: 1,
		})
	}

	assigned, err := w.assignment.SweepReturnedInstances(ctx)
	if err != nil {
		return err
	}

	logrus.WithField("assigned", assigned).Info("Returned instances sweep completed")
	return nil
}
