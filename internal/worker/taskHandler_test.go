package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ds124wfegd/library-reservations/internal/entity"
	"github.com/ds124wfegd/library-reservations/internal/locale"
	"github.com/ds124wfegd/library-reservations/internal/service"
	"github.com/ds124wfegd/library-reservations/pkg/queue"
)

type fakeAssignment struct {
	gotLang  locale.Lang
	gotIDs   []int64
	err      error
	swept    int
	sweepErr error
	sweeps   int
}

func (f *fakeAssignment) AssignInstancesAfterReturn(ctx context.Context, lang locale.Lang, ids []int64) (*entity.Result, error) {
	f.gotLang, f.gotIDs = lang, ids
	if f.err != nil {
		return nil, f.err
	}
	return entity.NewResult(entity.CodeAssignSuccess, "ok", &entity.AssignmentOutcome{AssignedCount: len(ids)}), nil
}

func (f *fakeAssignment) AssignByIDAndInstanceID(ctx context.Context, lang locale.Lang, queueID, instanceID int64) (*entity.Result, error) {
	return nil, errors.New("not used")
}

func (f *fakeAssignment) CheckAssignableByID(ctx context.Context, queueID int64) (bool, error) {
	return false, nil
}

func (f *fakeAssignment) SweepReturnedInstances(ctx context.Context) (int, error) {
	f.sweeps++
	return f.swept, f.sweepErr
}

type fakeNotifier struct {
	notice *service.AssignmentNotice
	lang   locale.Lang
	err    error
}

func (f *fakeNotifier) NotifyAssigned(ctx context.Context, lang locale.Lang, notice *service.AssignmentNotice) error {
	f.lang, f.notice = lang, notice
	return f.err
}

func TestHandleTask(t *testing.T) {
	transient := errors.New("deadlock detected")
	assignFailed := entity.NewDomainError(entity.KindFailed, entity.CodeAssignFailed, "none")
	notFound := entity.NewDomainError(entity.KindNotFound, entity.CodeNotFound, "instance 5 not found")

	notice := map[string]interface{}{
		"library_card_id": uuid.NewString(),
		"email":           "reader@library.test",
		"lines": []interface{}{
			map[string]interface{}{"queue_id": float64(1), "code": "RS-20240311-0001", "expiry_date": time.Now().Format(time.RFC3339)},
		},
	}

	tests := []struct {
		name          string
		task          *queue.Task
		assignErr     error
		notifyErr     error
		wantErr       bool
		wantPermanent bool
	}{
		{
			name: "assign returned instances",
			task: &queue.Task{ID: "1", Type: service.TaskTypeAssignReturned, Data: map[string]interface{}{
				"lang": "vi", "instance_ids": []interface{}{float64(5), float64(6)},
			}},
		},
		{
			name: "nothing assignable is not retried",
			task: &queue.Task{ID: "2", Type: service.TaskTypeAssignReturned, Data: map[string]interface{}{
				"instance_ids": []interface{}{float64(5)},
			}},
			assignErr: assignFailed,
		},
		{
			name: "business failure goes to dlq",
			task: &queue.Task{ID: "3", Type: service.TaskTypeAssignReturned, Data: map[string]interface{}{
				"instance_ids": []interface{}{float64(5)},
			}},
			assignErr:     notFound,
			wantErr:       true,
			wantPermanent: true,
		},
		{
			name: "infrastructure failure is retried",
			task: &queue.Task{ID: "4", Type: service.TaskTypeAssignReturned, Data: map[string]interface{}{
				"instance_ids": []interface{}{float64(5)},
			}},
			assignErr: transient,
			wantErr:   true,
		},
		{
			name:          "task without instances",
			task:          &queue.Task{ID: "5", Type: service.TaskTypeAssignReturned, Data: map[string]interface{}{}},
			wantErr:       true,
			wantPermanent: true,
		},
		{
			name: "send notification",
			task: &queue.Task{ID: "6", Type: service.TaskTypeSendNotification, Data: map[string]interface{}{
				"lang": "en", "notice": notice,
			}},
		},
		{
			name: "notification delivery failure is retried",
			task: &queue.Task{ID: "7", Type: service.TaskTypeSendNotification, Data: map[string]interface{}{
				"lang": "en", "notice": notice,
			}},
			notifyErr: errors.New("smtp timeout"),
			wantErr:   true,
		},
		{
			name:          "malformed notification",
			task:          &queue.Task{ID: "8", Type: service.TaskTypeSendNotification, Data: map[string]interface{}{"notice": "x"}},
			wantErr:       true,
			wantPermanent: true,
		},
		{
			name: "sweep",
			task: &queue.Task{ID: "9", Type: service.TaskTypeSweepReturned},
		},
		{
			name:          "unknown type",
			task:          &queue.Task{ID: "10", Type: "reindex"},
			wantErr:       true,
			wantPermanent: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assignment := &fakeAssignment{err: tt.assignErr}
			notifier := &fakeNotifier{err: tt.notifyErr}
			handler := NewTaskHandler(assignment, notifier)

			err := handler.HandleTask(context.Background(), tt.task)
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.wantPermanent, queue.IsPermanent(err))
		})
	}
}

func TestHandleTaskPassesLanguageAndIDs(t *testing.T) {
	assignment := &fakeAssignment{}
	handler := NewTaskHandler(assignment, &fakeNotifier{})

	err := handler.HandleTask(context.Background(), &queue.Task{ID: "1", Type: service.TaskTypeAssignReturned, Data: map[string]interface{}{
		"lang": "vi", "instance_ids": []interface{}{float64(7), float64(7), float64(3)},
	}})
	require.NoError(t, err)
	assert.Equal(t, locale.Vietnamese, assignment.gotLang)
	assert.Equal(t, []int64{7, 3}, assignment.gotIDs)
}
