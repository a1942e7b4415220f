package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ds124wfegd/library-reservations/internal/entity"
)

type borrowRepository struct {
	db *sqlx.DB
}

func NewBorrowRepository(db *sqlx.DB) BorrowRepository {
	return &borrowRepository{db: db}
}

func (r *borrowRepository) GetCardActivity(ctx context.Context, cardID uuid.UUID) (*entity.CardActivity, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM borrow_records
				WHERE library_card_id = $1 AND status IN ('Borrowing', 'Overdue')) AS active_borrowing,
			(SELECT COUNT(*) FROM borrow_requests
				WHERE library_card_id = $1 AND status = 'Created') AS requested_items,
			(SELECT COUNT(*) FROM reservation_queues
				WHERE library_card_id = $1 AND queue_status = 'Pending') AS pending_reserves,
			(SELECT COUNT(*) FROM reservation_queues
				WHERE library_card_id = $1 AND queue_status = 'Assigned') AS assigned_reserves
	`

	var activity entity.CardActivity
	if err := sqlx.GetContext(ctx, conn(ctx, r.db), &activity, query, cardID); err != nil {
		return nil, fmt.Errorf("failed to get card activity: %w", err)
	}

	return &activity, nil
}

func (r *borrowRepository) HasActiveBorrowForItem(ctx context.Context, cardID uuid.UUID, itemID int64) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM borrow_records
			WHERE library_card_id = $1 AND library_item_id = $2 AND status <> $3
		)
	`

	var exists bool
	err := sqlx.GetContext(ctx, conn(ctx, r.db), &exists, query, cardID, itemID, entity.BorrowRecordStatusReturned)
	if err != nil {
		return false, fmt.Errorf("failed to check borrow records: %w", err)
	}

	return exists, nil
}

func (r *borrowRepository) HasOpenRequestForItem(ctx context.Context, cardID uuid.UUID, itemID int64) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM borrow_requests
			WHERE library_card_id = $1 AND library_item_id = $2 AND status = $3
		)
	`

	var exists bool
	err := sqlx.GetContext(ctx, conn(ctx, r.db), &exists, query, cardID, itemID, entity.BorrowRequestStatusCreated)
	if err != nil {
		return false, fmt.Errorf("failed to check borrow requests: %w", err)
	}

	return exists, nil
}

func (r *borrowRepository) ListActiveDueDates(ctx context.Context, itemID int64) ([]time.Time, error) {
	query := `
		SELECT due_date FROM borrow_records
		WHERE library_item_id = $1 AND status IN ($2, $3)
		ORDER BY due_date ASC
	`

	var dates []time.Time
	err := sqlx.SelectContext(ctx, conn(ctx, r.db), &dates, query, itemID,
		entity.BorrowRecordStatusBorrowing, entity.BorrowRecordStatusOverdue)
	if err != nil {
		return nil, fmt.Errorf("failed to list due dates: %w", err)
	}

	return dates, nil
}

func (r *borrowRepository) CreateRecords(ctx context.Context, records []*entity.BorrowRecord) error {
	query := `
		INSERT INTO borrow_records (
			library_card_id, library_item_id, library_item_instance_id,
			status, borrow_date, due_date
		)
		VALUES (:library_card_id, :library_item_id, :library_item_instance_id, :status, :borrow_date, :due_date)
		RETURNING borrow_record_id
	`

	for _, record := range records {
		rows, err := sqlx.NamedQueryContext(ctx, conn(ctx, r.db), query, record)
		if err != nil {
			return fmt.Errorf("failed to create borrow record: %w", err)
		}
		if rows.Next() {
			if err := rows.Scan(&record.ID); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan borrow record id: %w", err)
			}
		}
		rows.Close()
	}

	return nil
}
