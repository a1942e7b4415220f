package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ds124wfegd/library-reservations/internal/entity"
)

// TxManager runs fn inside one database transaction. Repositories called
// with the ctx passed to fn take part in that transaction.
type TxManager interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type ReservationRepository interface {
	// Basic CRUD operations
	Create(ctx context.Context, reservation *entity.ReservationQueue) error
	GetByID(ctx context.Context, id int64) (*entity.ReservationQueue, error)
	GetByIDForUpdate(ctx context.Context, id int64) (*entity.ReservationQueue, error)
	GetDetail(ctx context.Context, id int64) (*entity.ReservationDetail, error)
	Update(ctx context.Context, reservation *entity.ReservationQueue) error
	UpdateMany(ctx context.Context, reservations []*entity.ReservationQueue) error
	MarkAssigned(ctx context.Context, reservations []*entity.ReservationQueue) error

	// Query operations
	List(ctx context.Context, filter entity.ReservationFilter) ([]*entity.ReservationDetail, int, error)
	ListByCode(ctx context.Context, code string) ([]*entity.ReservationQueue, error)
	// ListPendingForInstances returns unassigned Pending reservations whose item
	// owns any of the instances, oldest reservation date first.
	ListPendingForInstances(ctx context.Context, instanceIDs []int64) ([]*entity.ReservationQueue, error)
	CountActiveByItem(ctx context.Context, itemID int64) (int, error)
	HasActiveForCardAndItem(ctx context.Context, cardID uuid.UUID, itemID int64) (bool, error)
	MarkNotified(ctx context.Context, ids []int64) error

	// Pickup code operations
	ListCodesWithPrefix(ctx context.Context, prefix string) ([]string, error)
	NextCodeSequence(ctx context.Context, day time.Time, seed int) (int, error)
}

type ItemRepository interface {
	GetItem(ctx context.Context, id int64) (*entity.LibraryItem, error)
	GetItems(ctx context.Context, ids []int64) (map[int64]*entity.LibraryItem, error)
	GetInventory(ctx context.Context, itemID int64) (*entity.LibraryItemInventory, error)
	AdjustReservedUnits(ctx context.Context, itemID int64, delta int) error

	GetInstance(ctx context.Context, id int64) (*entity.LibraryItemInstance, error)
	GetInstances(ctx context.Context, ids []int64) ([]*entity.LibraryItemInstance, error)
	ListInstancesByItem(ctx context.Context, itemID int64) ([]*entity.LibraryItemInstance, error)
	UpdateInstanceStatus(ctx context.Context, ids []int64, status entity.InstanceStatus) error
	ReserveInstances(ctx context.Context, ids []int64) error
	// ListReturnedWithPendingQueue finds out-of-shelf circulated copies whose item
	// still has unassigned Pending reservations.
	ListReturnedWithPendingQueue(ctx context.Context, limit int) ([]int64, error)
}

type UserRepository interface {
	GetByEmail(ctx context.Context, email string) (*entity.User, error)
	GetByCardID(ctx context.Context, cardID uuid.UUID) (*entity.User, error)
}

type BorrowRepository interface {
	GetCardActivity(ctx context.Context, cardID uuid.UUID) (*entity.CardActivity, error)
	HasActiveBorrowForItem(ctx context.Context, cardID uuid.UUID, itemID int64) (bool, error)
	HasOpenRequestForItem(ctx context.Context, cardID uuid.UUID, itemID int64) (bool, error)
	// ListActiveDueDates returns due dates of non-returned borrows of the item, earliest first.
	ListActiveDueDates(ctx context.Context, itemID int64) ([]time.Time, error)
	CreateRecords(ctx context.Context, records []*entity.BorrowRecord) error
}
