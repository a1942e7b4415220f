package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ds124wfegd/library-reservations/internal/entity"
)

const reservationColumns = `
	rq.queue_id, rq.library_item_id, rq.library_item_instance_id, rq.library_card_id,
	rq.queue_status, rq.reservation_date, rq.expected_available_date_min,
	rq.expected_available_date_max, rq.expiry_date, rq.reservation_code,
	rq.is_reserved_after_request_failed, rq.is_applied_label, rq.is_notified,
	rq.collected_date, rq.cancelled_by, rq.cancellation_reason, rq.created_at, rq.updated_at`

var dialect = goqu.Dialect("postgres")

type reservationRepository struct {
	db *sqlx.DB
}

func NewReservationRepository(db *sqlx.DB) ReservationRepository {
	return &reservationRepository{db: db}
}

func (r *reservationRepository) Create(ctx context.Context, reservation *entity.ReservationQueue) error {
	query := `
		INSERT INTO reservation_queues (
			library_item_id, library_card_id, queue_status, reservation_date,
			expected_available_date_min, expected_available_date_max,
			is_reserved_after_request_failed, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		RETURNING queue_id, created_at, updated_at
	`

	err := conn(ctx, r.db).QueryRowxContext(ctx, query,
		reservation.LibraryItemID,
		reservation.LibraryCardID,
		reservation.Status,
		reservation.ReservationDate,
		reservation.ExpectedAvailableDateMin,
		reservation.ExpectedAvailableDateMax,
		reservation.IsReservedAfterRequestFailed,
	).Scan(&reservation.ID, &reservation.CreatedAt, &reservation.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return entity.ErrConcurrentUpdate
		}
		return fmt.Errorf("failed to create reservation: %w", err)
	}

	return nil
}

func (r *reservationRepository) GetByID(ctx context.Context, id int64) (*entity.ReservationQueue, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservation_queues rq WHERE rq.queue_id = $1`

	var reservation entity.ReservationQueue
	err := sqlx.GetContext(ctx, conn(ctx, r.db), &reservation, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.ErrReservationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reservation: %w", err)
	}

	return &reservation, nil
}

// GetByIDForUpdate locks the row until the surrounding transaction ends.
func (r *reservationRepository) GetByIDForUpdate(ctx context.Context, id int64) (*entity.ReservationQueue, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservation_queues rq WHERE rq.queue_id = $1 FOR UPDATE`

	var reservation entity.ReservationQueue
	err := sqlx.GetContext(ctx, conn(ctx, r.db), &reservation, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.ErrReservationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock reservation: %w", err)
	}

	return &reservation, nil
}

func (r *reservationRepository) GetDetail(ctx context.Context, id int64) (*entity.ReservationDetail, error) {
	query, args, err := r.detailQuery().
		Where(goqu.I("rq.queue_id").Eq(id)).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build reservation query: %w", err)
	}

	var detail entity.ReservationDetail
	err = sqlx.GetContext(ctx, conn(ctx, r.db), &detail, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.ErrReservationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reservation detail: %w", err)
	}

	return &detail, nil
}

func (r *reservationRepository) Update(ctx context.Context, reservation *entity.ReservationQueue) error {
	query := `
		UPDATE reservation_queues
		SET library_item_instance_id = $1,
			queue_status = $2,
			expected_available_date_min = $3,
			expected_available_date_max = $4,
			expiry_date = $5,
			reservation_code = $6,
			is_applied_label = $7,
			is_notified = $8,
			collected_date = $9,
			cancelled_by = $10,
			cancellation_reason = $11,
			updated_at = NOW()
		WHERE queue_id = $12
	`

	result, err := conn(ctx, r.db).ExecContext(ctx, query,
		reservation.LibraryItemInstanceID,
		reservation.Status,
		reservation.ExpectedAvailableDateMin,
		reservation.ExpectedAvailableDateMax,
		reservation.ExpiryDate,
		reservation.ReservationCode,
		reservation.IsAppliedLabel,
		reservation.IsNotified,
		reservation.CollectedDate,
		reservation.CancelledBy,
		reservation.CancellationReason,
		reservation.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update reservation: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return entity.ErrReservationNotFound
	}

	return nil
}

func (r *reservationRepository) UpdateMany(ctx context.Context, reservations []*entity.ReservationQueue) error {
	for _, reservation := range reservations {
		if err := r.Update(ctx, reservation); err != nil {
			return fmt.Errorf("reservation %d: %w", reservation.ID, err)
		}
	}
	return nil
}

// MarkAssigned binds each reservation to its instance and code. A row that is
// no longer Pending and unbound yields ErrConcurrentUpdate.
func (r *reservationRepository) MarkAssigned(ctx context.Context, reservations []*entity.ReservationQueue) error {
	query := `
		UPDATE reservation_queues
		SET library_item_instance_id = $1,
			queue_status = $2,
			expected_available_date_min = $3,
			expected_available_date_max = $4,
			expiry_date = $5,
			reservation_code = $6,
			is_applied_label = FALSE,
			is_notified = FALSE,
			updated_at = NOW()
		WHERE queue_id = $7
			AND queue_status = $8
			AND library_item_instance_id IS NULL
	`

	for _, reservation := range reservations {
		result, err := conn(ctx, r.db).ExecContext(ctx, query,
			reservation.LibraryItemInstanceID,
			reservation.Status,
			reservation.ExpectedAvailableDateMin,
			reservation.ExpectedAvailableDateMax,
			reservation.ExpiryDate,
			reservation.ReservationCode,
			reservation.ID,
			entity.ReservationStatusPending,
		)
		if err != nil {
			return fmt.Errorf("failed to assign reservation %d: %w", reservation.ID, err)
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return fmt.Errorf("reservation %d: %w", reservation.ID, entity.ErrConcurrentUpdate)
		}
	}
	return nil
}

func (r *reservationRepository) List(ctx context.Context, filter entity.ReservationFilter) ([]*entity.ReservationDetail, int, error) {
	where := goqu.Ex{}
	if filter.Status != nil {
		where["rq.queue_status"] = string(*filter.Status)
	}
	if filter.LibraryItemID != nil {
		where["rq.library_item_id"] = *filter.LibraryItemID
	}
	if filter.LibraryCardID != nil {
		where["rq.library_card_id"] = filter.LibraryCardID.String()
	}
	if filter.Code != "" {
		where["rq.reservation_code"] = filter.Code
	}

	countQuery, countArgs, err := dialect.From(goqu.T("reservation_queues").As("rq")).
		Select(goqu.COUNT("*")).
		Where(where).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build count query: %w", err)
	}

	var total int
	if err := sqlx.GetContext(ctx, conn(ctx, r.db), &total, countQuery, countArgs...); err != nil {
		return nil, 0, fmt.Errorf("failed to count reservations: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	query, args, err := r.detailQuery().
		Where(where).
		Order(goqu.I("rq.reservation_date").Asc(), goqu.I("rq.queue_id").Asc()).
		Limit(uint(limit)).
		Offset(uint(max(filter.Offset, 0))).
		ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build list query: %w", err)
	}

	var details []*entity.ReservationDetail
	if err := sqlx.SelectContext(ctx, conn(ctx, r.db), &details, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list reservations: %w", err)
	}

	return details, total, nil
}

func (r *reservationRepository) detailQuery() *goqu.SelectDataset {
	return dialect.From(goqu.T("reservation_queues").As("rq")).
		Select(
			goqu.L(reservationColumns),
			goqu.I("li.title").As("item_title"),
			goqu.I("li.author").As("item_author"),
			goqu.I("lc.barcode").As("card_barcode"),
		).
		InnerJoin(goqu.T("library_items").As("li"), goqu.On(goqu.I("li.library_item_id").Eq(goqu.I("rq.library_item_id")))).
		InnerJoin(goqu.T("library_cards").As("lc"), goqu.On(goqu.I("lc.library_card_id").Eq(goqu.I("rq.library_card_id")))).
		Prepared(true)
}

func (r *reservationRepository) ListByCode(ctx context.Context, code string) ([]*entity.ReservationQueue, error) {
	query := `SELECT ` + reservationColumns + `
		FROM reservation_queues rq
		WHERE rq.reservation_code = $1
		ORDER BY rq.queue_id ASC
	`

	var reservations []*entity.ReservationQueue
	if err := sqlx.SelectContext(ctx, conn(ctx, r.db), &reservations, query, code); err != nil {
		return nil, fmt.Errorf("failed to list reservations by code: %w", err)
	}

	return reservations, nil
}

func (r *reservationRepository) ListPendingForInstances(ctx context.Context, instanceIDs []int64) ([]*entity.ReservationQueue, error) {
	if len(instanceIDs) == 0 {
		return nil, nil
	}

	// FOR UPDATE serialises with GetByIDForUpdate in the manual assignment path
	query := `SELECT ` + reservationColumns + `
		FROM reservation_queues rq
		WHERE rq.queue_status = $1
			AND rq.library_item_instance_id IS NULL
			AND rq.library_item_id IN (
				SELECT library_item_id FROM library_item_instances
				WHERE library_item_instance_id = ANY($2)
			)
		ORDER BY rq.reservation_date ASC, rq.queue_id ASC
		FOR UPDATE OF rq
	`

	var reservations []*entity.ReservationQueue
	err := sqlx.SelectContext(ctx, conn(ctx, r.db), &reservations, query,
		entity.ReservationStatusPending, pq.Array(instanceIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to list pending reservations: %w", err)
	}

	return reservations, nil
}

func (r *reservationRepository) CountActiveByItem(ctx context.Context, itemID int64) (int, error) {
	query := `
		SELECT COUNT(*) FROM reservation_queues
		WHERE library_item_id = $1 AND queue_status IN ($2, $3)
	`

	var count int
	err := sqlx.GetContext(ctx, conn(ctx, r.db), &count, query, itemID,
		entity.ReservationStatusPending, entity.ReservationStatusAssigned)
	if err != nil {
		return 0, fmt.Errorf("failed to count reservations: %w", err)
	}

	return count, nil
}

func (r *reservationRepository) HasActiveForCardAndItem(ctx context.Context, cardID uuid.UUID, itemID int64) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM reservation_queues
			WHERE library_card_id = $1 AND library_item_id = $2
				AND queue_status IN ($3, $4)
		)
	`

	var exists bool
	err := sqlx.GetContext(ctx, conn(ctx, r.db), &exists, query, cardID, itemID,
		entity.ReservationStatusPending, entity.ReservationStatusAssigned)
	if err != nil {
		return false, fmt.Errorf("failed to check reservation: %w", err)
	}

	return exists, nil
}

func (r *reservationRepository) MarkNotified(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	query := `UPDATE reservation_queues SET is_notified = TRUE, updated_at = NOW() WHERE queue_id = ANY($1)`
	if _, err := conn(ctx, r.db).ExecContext(ctx, query, pq.Array(ids)); err != nil {
		return fmt.Errorf("failed to mark reservations notified: %w", err)
	}

	return nil
}

func (r *reservationRepository) ListCodesWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	query := `
		SELECT DISTINCT reservation_code FROM reservation_queues
		WHERE reservation_code LIKE $1 AND queue_status IN ($2, $3, $4)
	`

	var codes []string
	err := sqlx.SelectContext(ctx, conn(ctx, r.db), &codes, query, prefix+"%",
		entity.ReservationStatusAssigned, entity.ReservationStatusExpired, entity.ReservationStatusCollected)
	if err != nil {
		return nil, fmt.Errorf("failed to list reservation codes: %w", err)
	}

	return codes, nil
}

func (r *reservationRepository) NextCodeSequence(ctx context.Context, day time.Time, seed int) (int, error) {
	query := `
		INSERT INTO reservation_code_sequences (code_date, last_value)
		VALUES ($1::date, $2)
		ON CONFLICT (code_date) DO UPDATE
		SET last_value = GREATEST(reservation_code_sequences.last_value + 1, EXCLUDED.last_value)
		RETURNING last_value
	`

	var value int
	err := conn(ctx, r.db).QueryRowxContext(ctx, query, day.Format("2006-01-02"), seed).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate reservation code sequence: %w", err)
	}

	return value, nil
}
