package entity

import (
	"time"

	"github.com/google/uuid"
)

type BorrowRecordStatus string

const (
	BorrowRecordStatusBorrowing BorrowRecordStatus = "Borrowing"
	BorrowRecordStatusOverdue   BorrowRecordStatus = "Overdue"
	BorrowRecordStatusLost      BorrowRecordStatus = "Lost"
	BorrowRecordStatusReturned  BorrowRecordStatus = "Returned"
)

type BorrowRequestStatus string

const (
	BorrowRequestStatusCreated   BorrowRequestStatus = "Created"
	BorrowRequestStatusBorrowed  BorrowRequestStatus = "Borrowed"
	BorrowRequestStatusExpired   BorrowRequestStatus = "Expired"
	BorrowRequestStatusCancelled BorrowRequestStatus = "Cancelled"
)

type BorrowRecord struct {
	ID                    int64              `json:"borrow_record_id" db:"borrow_record_id"`
	LibraryCardID         uuid.UUID          `json:"library_card_id" db:"library_card_id"`
	LibraryItemID         int64              `json:"library_item_id" db:"library_item_id"`
	LibraryItemInstanceID int64              `json:"library_item_instance_id" db:"library_item_instance_id"`
	Status                BorrowRecordStatus `json:"status" db:"status"`
	BorrowDate            time.Time          `json:"borrow_date" db:"borrow_date"`
	DueDate               time.Time          `json:"due_date" db:"due_date"`
	ReturnDate            *time.Time         `json:"return_date,omitempty" db:"return_date"`
}

type BorrowRequest struct {
	ID            int64               `json:"borrow_request_id" db:"borrow_request_id"`
	LibraryCardID uuid.UUID           `json:"library_card_id" db:"library_card_id"`
	LibraryItemID int64               `json:"library_item_id" db:"library_item_id"`
	Status        BorrowRequestStatus `json:"status" db:"status"`
	RequestDate   time.Time           `json:"request_date" db:"request_date"`
}

// CardActivity holds raw counts used to build UserPendingActivitySummary.
type CardActivity struct {
	ActiveBorrowing  int `db:"active_borrowing"`
	RequestedItems   int `db:"requested_items"`
	PendingReserves  int `db:"pending_reserves"`
	AssignedReserves int `db:"assigned_reserves"`
}
