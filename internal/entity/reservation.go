package entity

import (
	"time"

	"github.com/google/uuid"
)

type ReservationStatus string

const (
	ReservationStatusPending   ReservationStatus = "Pending"
	ReservationStatusAssigned  ReservationStatus = "Assigned"
	ReservationStatusExpired   ReservationStatus = "Expired"
	ReservationStatusCollected ReservationStatus = "Collected"
	ReservationStatusCancelled ReservationStatus = "Cancelled"
)

// IsTerminal reports whether no further transition is possible.
func (s ReservationStatus) IsTerminal() bool {
	switch s {
	case ReservationStatusExpired, ReservationStatusCollected, ReservationStatusCancelled:
		return true
	}
	return false
}

func ParseReservationStatus(s string) (ReservationStatus, bool) {
	switch ReservationStatus(s) {
	case ReservationStatusPending, ReservationStatusAssigned, ReservationStatusExpired,
		ReservationStatusCollected, ReservationStatusCancelled:
		return ReservationStatus(s), true
	}
	return "", false
}

type ReservationQueue struct {
	ID                           int64             `json:"queue_id" db:"queue_id"`
	LibraryItemID                int64             `json:"library_item_id" db:"library_item_id"`
	LibraryItemInstanceID        *int64            `json:"library_item_instance_id,omitempty" db:"library_item_instance_id"`
	LibraryCardID                uuid.UUID         `json:"library_card_id" db:"library_card_id"`
	Status                       ReservationStatus `json:"queue_status" db:"queue_status"`
	ReservationDate              time.Time         `json:"reservation_date" db:"reservation_date"`
	ExpectedAvailableDateMin     *time.Time        `json:"expected_available_date_min,omitempty" db:"expected_available_date_min"`
	ExpectedAvailableDateMax     *time.Time        `json:"expected_available_date_max,omitempty" db:"expected_available_date_max"`
	ExpiryDate                   *time.Time        `json:"expiry_date,omitempty" db:"expiry_date"`
	ReservationCode              *string           `json:"reservation_code,omitempty" db:"reservation_code"`
	IsReservedAfterRequestFailed bool              `json:"is_reserved_after_request_failed" db:"is_reserved_after_request_failed"`
	IsAppliedLabel               bool              `json:"is_applied_label" db:"is_applied_label"`
	IsNotified                   bool              `json:"is_notified" db:"is_notified"`
	CollectedDate                *time.Time        `json:"collected_date,omitempty" db:"collected_date"`
	CancelledBy                  *string           `json:"cancelled_by,omitempty" db:"cancelled_by"`
	CancellationReason           *string           `json:"cancellation_reason,omitempty" db:"cancellation_reason"`
	CreatedAt                    time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt                    time.Time         `json:"updated_at" db:"updated_at"`
}

// IsAssignableState checks only the reservation's own fields; quota and
// inventory are checked by the assignment service.
func (r *ReservationQueue) IsAssignableState() bool {
	return r.Status == ReservationStatusPending &&
		r.LibraryItemInstanceID == nil &&
		r.ReservationCode == nil &&
		!r.IsAppliedLabel
}

// Clone returns a deep copy so that tentative changes never leak into the caller's value.
func (r *ReservationQueue) Clone() *ReservationQueue {
	c := *r
	c.LibraryItemInstanceID = cloneInt64(r.LibraryItemInstanceID)
	c.ExpectedAvailableDateMin = cloneTime(r.ExpectedAvailableDateMin)
	c.ExpectedAvailableDateMax = cloneTime(r.ExpectedAvailableDateMax)
	c.ExpiryDate = cloneTime(r.ExpiryDate)
	c.ReservationCode = cloneString(r.ReservationCode)
	c.CollectedDate = cloneTime(r.CollectedDate)
	c.CancelledBy = cloneString(r.CancelledBy)
	c.CancellationReason = cloneString(r.CancellationReason)
	return &c
}

// ReservationDetail is the detail/list view of a reservation.
type ReservationDetail struct {
	ReservationQueue
	ItemTitle    string `json:"item_title" db:"item_title"`
	ItemAuthor   string `json:"item_author" db:"item_author"`
	CardBarcode  string `json:"card_barcode" db:"card_barcode"`
	IsAssignable bool   `json:"is_assignable" db:"-"`
}

type ReservationFilter struct {
	Status        *ReservationStatus
	LibraryItemID *int64
	LibraryCardID *uuid.UUID
	Code          string
	Limit         int
	Offset        int
}

// AssignmentResult describes one reservation bound to an instance by the engine.
type AssignmentResult struct {
	QueueID               int64     `json:"queue_id"`
	LibraryCardID         uuid.UUID `json:"library_card_id"`
	LibraryItemID         int64     `json:"library_item_id"`
	LibraryItemInstanceID int64     `json:"library_item_instance_id"`
	ReservationCode       string    `json:"reservation_code"`
	ExpiryDate            time.Time `json:"expiry_date"`
}

type AssignmentOutcome struct {
	AssignedCount int                `json:"assigned_count"`
	Assignments   []AssignmentResult `json:"assignments"`
}

func cloneInt64(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneTime(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
