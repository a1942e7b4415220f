package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ds124wfegd/library-reservations/internal/entity"
)

const instanceColumns = `library_item_instance_id, library_item_id, barcode, status, is_circulated, updated_at`

type itemRepository struct {
	db *sqlx.DB
}

func NewItemRepository(db *sqlx.DB) ItemRepository {
	return &itemRepository{db: db}
}

func (r *itemRepository) GetItem(ctx context.Context, id int64) (*entity.LibraryItem, error) {
	query := `
		SELECT library_item_id, title, author, isbn, cover_image, created_at
		FROM library_items
		WHERE library_item_id = $1
	`

	var item entity.LibraryItem
	err := sqlx.GetContext(ctx, conn(ctx, r.db), &item, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.ErrItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get library item: %w", err)
	}

	return &item, nil
}

func (r *itemRepository) GetItems(ctx context.Context, ids []int64) (map[int64]*entity.LibraryItem, error) {
	items := make(map[int64]*entity.LibraryItem, len(ids))
	if len(ids) == 0 {
		return items, nil
	}

	query := `
		SELECT library_item_id, title, author, isbn, cover_image, created_at
		FROM library_items
		WHERE library_item_id = ANY($1)
	`

	var rows []*entity.LibraryItem
	if err := sqlx.SelectContext(ctx, conn(ctx, r.db), &rows, query, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("failed to get library items: %w", err)
	}

	for _, item := range rows {
		items[item.ID] = item
	}
	return items, nil
}

func (r *itemRepository) GetInventory(ctx context.Context, itemID int64) (*entity.LibraryItemInventory, error) {
	query := `
		SELECT library_item_id, total_units, available_units, request_units,
			borrowed_units, reserved_units, lost_units
		FROM library_item_inventories
		WHERE library_item_id = $1
	`

	var inventory entity.LibraryItemInventory
	err := sqlx.GetContext(ctx, conn(ctx, r.db), &inventory, query, itemID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.ErrInventoryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get inventory: %w", err)
	}

	return &inventory, nil
}

func (r *itemRepository) AdjustReservedUnits(ctx context.Context, itemID int64, delta int) error {
	query := `
		UPDATE library_item_inventories
		SET reserved_units = GREATEST(reserved_units + $1, 0)
		WHERE library_item_id = $2
	`

	result, err := conn(ctx, r.db).ExecContext(ctx, query, delta, itemID)
	if err != nil {
		return fmt.Errorf("failed to update reserved units: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return entity.ErrInventoryNotFound
	}

	return nil
}

func (r *itemRepository) GetInstance(ctx context.Context, id int64) (*entity.LibraryItemInstance, error) {
	query := `SELECT ` + instanceColumns + ` FROM library_item_instances WHERE library_item_instance_id = $1`

	var instance entity.LibraryItemInstance
	err := sqlx.GetContext(ctx, conn(ctx, r.db), &instance, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.ErrInstanceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get instance: %w", err)
	}

	return &instance, nil
}

func (r *itemRepository) GetInstances(ctx context.Context, ids []int64) ([]*entity.LibraryItemInstance, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `SELECT ` + instanceColumns + `
		FROM library_item_instances
		WHERE library_item_instance_id = ANY($1)
		ORDER BY library_item_instance_id ASC
	`

	var instances []*entity.LibraryItemInstance
	if err := sqlx.SelectContext(ctx, conn(ctx, r.db), &instances, query, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("failed to get instances: %w", err)
	}

	return instances, nil
}

func (r *itemRepository) ListInstancesByItem(ctx context.Context, itemID int64) ([]*entity.LibraryItemInstance, error) {
	query := `SELECT ` + instanceColumns + `
		FROM library_item_instances
		WHERE library_item_id = $1
		ORDER BY library_item_instance_id ASC
	`

	var instances []*entity.LibraryItemInstance
	if err := sqlx.SelectContext(ctx, conn(ctx, r.db), &instances, query, itemID); err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}

	return instances, nil
}

// ReserveInstances moves out-of-shelf instances to Reserved. Any instance
// already taken yields ErrConcurrentUpdate.
func (r *itemRepository) ReserveInstances(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	query := `
		UPDATE library_item_instances
		SET status = $1, updated_at = NOW()
		WHERE library_item_instance_id = ANY($2) AND status = $3
	`

	result, err := conn(ctx, r.db).ExecContext(ctx, query,
		entity.InstanceStatusReserved, pq.Array(ids), entity.InstanceStatusOutOfShelf)
	if err != nil {
		return fmt.Errorf("failed to reserve instances: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected != int64(len(ids)) {
		return entity.ErrConcurrentUpdate
	}

	return nil
}

func (r *itemRepository) UpdateInstanceStatus(ctx context.Context, ids []int64, status entity.InstanceStatus) error {
	if len(ids) == 0 {
		return nil
	}

	query := `
		UPDATE library_item_instances
		SET status = $1, updated_at = NOW()
		WHERE library_item_instance_id = ANY($2)
	`

	result, err := conn(ctx, r.db).ExecContext(ctx, query, status, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("failed to update instance status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected != int64(len(ids)) {
		return entity.ErrInstanceNotFound
	}

	return nil
}

func (r *itemRepository) ListReturnedWithPendingQueue(ctx context.Context, limit int) ([]int64, error) {
	query := `
		SELECT i.library_item_instance_id
		FROM library_item_instances i
		WHERE i.status = $1 AND i.is_circulated = TRUE
			AND EXISTS (
				SELECT 1 FROM reservation_queues rq
				WHERE rq.library_item_id = i.library_item_id
					AND rq.queue_status = $2
					AND rq.library_item_instance_id IS NULL
			)
		ORDER BY i.updated_at ASC
		LIMIT $3
	`

	var ids []int64
	err := sqlx.SelectContext(ctx, conn(ctx, r.db), &ids, query,
		entity.InstanceStatusOutOfShelf, entity.ReservationStatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list returned instances: %w", err)
	}

	return ids, nil
}
