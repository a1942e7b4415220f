package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ds124wfegd/library-reservations/internal/entity"
	"github.com/ds124wfegd/library-reservations/internal/locale"
)

// AssignmentService распределяет вернувшиеся экземпляры по очереди резервов
type AssignmentService interface {
	AssignInstancesAfterReturn(ctx context.Context, lang locale.Lang, instanceIDs []int64) (*entity.Result, error)
	AssignByIDAndInstanceID(ctx context.Context, lang locale.Lang, queueID, instanceID int64) (*entity.Result, error)
	CheckAssignableByID(ctx context.Context, queueID int64) (bool, error)

	// Восстановление после потерянных задач
	SweepReturnedInstances(ctx context.Context) (int, error)
}

// ReservationService определяет операции читателя и библиотекаря над резервами
type ReservationService interface {
	// Основные операции
	CheckAllowToReserveByItemID(ctx context.Context, lang locale.Lang, itemID int64, email string) (*entity.Result, error)
	CreateReservation(ctx context.Context, lang locale.Lang, itemID int64, email string) (*entity.Result, error)
	CancelReservation(ctx context.Context, lang locale.Lang, req *CancelReservationRequest) (*entity.Result, error)
	ApplyLabel(ctx context.Context, lang locale.Lang, queueIDs []int64) (*entity.Result, error)
	CollectReservation(ctx context.Context, lang locale.Lang, code string) (*entity.Result, error)

	// Чтение
	GetReservation(ctx context.Context, lang locale.Lang, id int64) (*entity.Result, error)
	ListReservations(ctx context.Context, lang locale.Lang, filter entity.ReservationFilter) (*entity.Result, error)

	GenerateExpectedAvailableDate(ctx context.Context, itemID int64) (*ExpectedAvailability, error)
}

type QuotaChecker interface {
	// ActivitySummary reports the cardholder's load. RemainTotal is
	// MaxActivity minus active borrows, open borrow requests and Assigned
	// reservations, floored at zero. Pending reservations are reported in
	// TotalPendingReserves and are not subtracted. Creating a reservation
	// requires RemainTotal minus TotalPendingReserves to stay positive.
	ActivitySummary(ctx context.Context, cardID uuid.UUID) (*entity.UserPendingActivitySummary, error)
}

// Notifier доставляет читателю сводку о назначенных экземплярах
type Notifier interface {
	NotifyAssigned(ctx context.Context, lang locale.Lang, notice *AssignmentNotice) error
}

// TaskPublisher интерфейс для публикации задач в очередь
type TaskPublisher interface {
	Publish(ctx context.Context, task *Task) error
}

// Task представляет задачу для очереди
type Task struct {
	ID         string                 `json:"id"`
	Type       string                 `json:"type"`
	Data       map[string]interface{} `json:"data"`
	ExecuteAt  time.Time              `json:"execute_at"`
	MaxRetries int                    `json:"max_retries"`
	Attempts   int                    `json:"attempts"`
}

// Константы типов задач
const (
	TaskTypeAssignReturned   = "assign_returned_instances"
	TaskTypeSendNotification = "send_notification"
	TaskTypeSweepReturned    = "sweep_returned_instances"
)

type CancelReservationRequest struct {
	QueueID     int64  `json:"-"`
	Email       string `json:"-"`
	Reason      string `json:"reason"`
	ByLibrarian bool   `json:"-"`
}

type AssignReturnedRequest struct {
	InstanceIDs []int64 `json:"instance_ids" binding:"required,min=1"`
}

type AssignInstanceRequest struct {
	InstanceID int64 `json:"instance_id" binding:"required"`
}

type ApplyLabelRequest struct {
	QueueIDs []int64 `json:"queue_ids" binding:"required,min=1"`
}

type CollectRequest struct {
	ReservationCode string `json:"reservation_code" binding:"required"`
}

type ExpectedAvailability struct {
	Min time.Time `json:"expected_available_date_min"`
	Max time.Time `json:"expected_available_date_max"`
}

// ReservationList is the Data payload of ListReservations.
type ReservationList struct {
	Items  []*entity.ReservationDetail `json:"items"`
	Total  int                         `json:"total"`
	Limit  int                         `json:"limit"`
	Offset int                         `json:"offset"`
}
