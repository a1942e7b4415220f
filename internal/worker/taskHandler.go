package worker

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/ds124wfegd/library-reservations/internal/entity"
	"github.com/ds124wfegd/library-reservations/internal/service"
	"github.com/ds124wfegd/library-reservations/pkg/queue"
)

// TaskHandler обрабатывает задачи из очереди. Очередь вызывает его из одной
// горутины, поэтому пакетное назначение никогда не выполняется параллельно.
type TaskHandler struct {
	assignment service.AssignmentService
	notifier   service.Notifier
}

// NewTaskHandler создает новый обработчик задач; notifier доставляет сразу, без очереди
func NewTaskHandler(assignment service.AssignmentService, notifier service.Notifier) *TaskHandler {
	return &TaskHandler{
		assignment: assignment,
		notifier:   notifier,
	}
}

// HandleTask обрабатывает задачу
func (h *TaskHandler) HandleTask(ctx context.Context, task *queue.Task) error {
	logrus.WithFields(logrus.Fields{
		"task_id": task.ID,
		"type":    task.Type,
		"attempt": task.Attempts,
		"max":     task.MaxRetries,
	}).Debug("Handling task")

	switch string(task.Type) {
	case service.TaskTypeAssignReturned:
		return h.handleAssignReturned(ctx, task)
	case service.TaskTypeSendNotification:
		return h.handleSendNotification(ctx, task)
	case service.TaskTypeSweepReturned:
		return h.handleSweep(ctx)
	default:
		return queue.Permanent(fmt.Errorf("unknown task type: %s", task.Type))
	}
}

func (h *TaskHandler) handleAssignReturned(ctx context.Context, task *queue.Task) error {
	lang, ids := service.DecodeReturnedTask(task.Data)
	if len(ids) == 0 {
		return queue.Permanent(fmt.Errorf("task %s has no instance ids", task.ID))
	}

	result, err := h.assignment.AssignInstancesAfterReturn(ctx, lang, ids)
	if err != nil {
		// бизнес-отказ повторять бесполезно
		if de, ok := entity.AsDomainError(err); ok {
			logrus.WithFields(logrus.Fields{
				"task_id": task.ID,
				"code":    de.Code,
			}).Info("Returned instances not assigned")
			if de.Code == entity.CodeAssignFailed {
				return nil
			}
			return queue.Permanent(err)
		}
		return err
	}

	logrus.WithFields(logrus.Fields{
		"task_id": task.ID,
		"result":  result.Message,
	}).Info("Returned instances assigned")
	return nil
}

func (h *TaskHandler) handleSendNotification(ctx context.Context, task *queue.Task) error {
	lang, notice, err := service.DecodeNotificationTask(task.Data)
	if err != nil {
		return queue.Permanent(err)
	}
	return h.notifier.NotifyAssigned(ctx, lang, notice)
}

func (h *TaskHandler) handleSweep(ctx context.Context) error {
	assigned, err := h.assignment.SweepReturnedInstances(ctx)
	if err != nil {
		return err
	}
	if assigned > 0 {
		logrus.WithField("assigned", assigned).Info("Sweep assigned returned instances")
	}
	return nil
}
