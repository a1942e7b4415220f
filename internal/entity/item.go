package entity

import (
	"time"
)

type InstanceStatus string

const (
	InstanceStatusOutOfShelf InstanceStatus = "OutOfShelf"
	InstanceStatusInShelf    InstanceStatus = "InShelf"
	InstanceStatusBorrowed   InstanceStatus = "Borrowed"
	InstanceStatusReserved   InstanceStatus = "Reserved"
	InstanceStatusLost       InstanceStatus = "Lost"
)

type LibraryItem struct {
	ID         int64     `json:"library_item_id" db:"library_item_id"`
	Title      string    `json:"title" db:"title"`
	Author     string    `json:"author" db:"author"`
	ISBN       string    `json:"isbn" db:"isbn"`
	CoverImage string    `json:"cover_image" db:"cover_image"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

type LibraryItemInventory struct {
	LibraryItemID  int64 `json:"library_item_id" db:"library_item_id"`
	TotalUnits     int   `json:"total_units" db:"total_units"`
	AvailableUnits int   `json:"available_units" db:"available_units"`
	RequestUnits   int   `json:"request_units" db:"request_units"`
	BorrowedUnits  int   `json:"borrowed_units" db:"borrowed_units"`
	ReservedUnits  int   `json:"reserved_units" db:"reserved_units"`
	LostUnits      int   `json:"lost_units" db:"lost_units"`
}

type LibraryItemInstance struct {
	ID            int64          `json:"library_item_instance_id" db:"library_item_instance_id"`
	LibraryItemID int64          `json:"library_item_id" db:"library_item_id"`
	Barcode       string         `json:"barcode" db:"barcode"`
	Status        InstanceStatus `json:"status" db:"status"`
	IsCirculated  bool           `json:"is_circulated" db:"is_circulated"`
	UpdatedAt     time.Time      `json:"updated_at" db:"updated_at"`
}

// IsReturnedOutOfShelf reports whether the copy has just come back and is
// waiting to be shelved or handed to the reservation queue.
func (i *LibraryItemInstance) IsReturnedOutOfShelf() bool {
	return i.Status == InstanceStatusOutOfShelf && i.IsCirculated
}
