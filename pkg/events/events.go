package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	TypeReservationCreated   = "reservation.created"
	TypeReservationAssigned  = "reservation.assigned"
	TypeReservationCancelled = "reservation.cancelled"
	TypeReservationCollected = "reservation.collected"
)

// Event is a reservation state change consumed by the search indexer.
type Event struct {
	ID                    string    `json:"id"`
	Type                  string    `json:"type"`
	QueueID               int64     `json:"queue_id"`
	LibraryItemID         int64     `json:"library_item_id"`
	LibraryCardID         uuid.UUID `json:"library_card_id"`
	LibraryItemInstanceID *int64    `json:"library_item_instance_id,omitempty"`
	Status                string    `json:"queue_status"`
	ReservationCode       *string   `json:"reservation_code,omitempty"`
	OccurredAt            time.Time `json:"occurred_at"`
}

func NewEvent(eventType string, queueID, itemID int64, cardID uuid.UUID, status string) Event {
	return Event{
		ID:            uuid.NewString(),
		Type:          eventType,
		QueueID:       queueID,
		LibraryItemID: itemID,
		LibraryCardID: cardID,
		Status:        status,
		OccurredAt:    time.Now().UTC(),
	}
}

type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
	Close() error
}

// NoopPublisher drops events; used when no brokers are configured.
type NoopPublisher struct{}

func (NoopPublisher) Publish(ctx context.Context, events ...Event) error { return nil }

func (NoopPublisher) Close() error { return nil }
