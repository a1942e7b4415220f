package entity

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID            int64      `json:"user_id" db:"user_id"`
	Email         string     `json:"email" db:"email"`
	Name          string     `json:"name" db:"name"`
	TelegramID    string     `json:"telegram_id" db:"telegram_id"`
	LibraryCardID *uuid.UUID `json:"library_card_id,omitempty" db:"library_card_id"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
}

// UserPendingActivitySummary is the cardholder's current circulation load
// measured against the configured ceiling.
type UserPendingActivitySummary struct {
	LibraryCardID         uuid.UUID `json:"library_card_id"`
	TotalActiveBorrowing  int       `json:"total_active_borrowing"`
	TotalRequestedItems   int       `json:"total_requested_items"`
	TotalPendingReserves  int       `json:"total_pending_reserves"`
	TotalAssignedReserves int       `json:"total_assigned_reserves"`
	MaxActivity           int       `json:"max_activity"`
	// RemainTotal excludes Pending reservations; see TotalPendingReserves.
	RemainTotal           int       `json:"remain_total"`
}
