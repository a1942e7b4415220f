package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ds124wfegd/library-reservations/internal/entity"
	"github.com/ds124wfegd/library-reservations/internal/locale"
)

// ReturnDispatcher передает вернувшиеся экземпляры единственному исполнителю пакетного назначения
type ReturnDispatcher interface {
	DispatchReturned(ctx context.Context, lang locale.Lang, instanceIDs []int64) (*entity.Result, error)
}

type returnDispatcher struct {
	queue      TaskPublisher
	assignment AssignmentService
	maxRetries int
}

// NewReturnDispatcher: без очереди пакет выполняется сразу в текущем запросе
func NewReturnDispatcher(queue TaskPublisher, assignment AssignmentService, maxRetries int) ReturnDispatcher {
	return &returnDispatcher{queue: queue, assignment: assignment, maxRetries: maxRetries}
}

func (d *returnDispatcher) DispatchReturned(ctx context.Context, lang locale.Lang, instanceIDs []int64) (*entity.Result, error) {
	ids := uniqueIDs(instanceIDs)
	if len(ids) == 0 {
		return nil, failure(lang, entity.KindValidation, entity.CodeInvalidInput, "instance_ids")
	}

	if d.queue == nil {
		return d.assignment.AssignInstancesAfterReturn(ctx, lang, ids)
	}

	task := &Task{
		ID:   uuid.NewString(),
		Type: TaskTypeAssignReturned,
		Data: map[string]interface{}{
			"instance_ids": ids,
			"lang":         string(lang),
		},
		MaxRetries: d.maxRetries,
	}
	if err := d.queue.Publish(ctx, task); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"task_id":   task.ID,
		"instances": ids,
	}).Info("Returned instances queued for assignment")

	return success(lang, entity.CodeAssignQueued, map[string]string{"task_id": task.ID}, len(ids)), nil
}

// DecodeReturnedTask извлекает идентификаторы экземпляров из задачи
func DecodeReturnedTask(data map[string]interface{}) (locale.Lang, []int64) {
	lang := locale.English
	if s, ok := data["lang"].(string); ok {
		lang = locale.Lang(s)
	}

	var ids []int64
	switch raw := data["instance_ids"].(type) {
	case []int64:
		ids = raw
	case []interface{}:
		// после JSON числа приходят как float64
		for _, v := range raw {
			if f, ok := v.(float64); ok {
				ids = append(ids, int64(f))
			}
		}
	}
	return lang, uniqueIDs(ids)
}
