package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/ds124wfegd/library-reservations/config"

	_ "github.com/lib/pq"
)

func NewPostgresDB(cfg *config.Config) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", cfg.GetDatabaseDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logrus.Info("Successfully connected to PostgreSQL")
	return db, nil
}

func RunMigrations(ctx context.Context, db *sqlx.DB) error {
	for _, migration := range migrations {
		if _, err := db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("failed to execute migration: %w", err)
		}
	}

	logrus.Info("Database migrations completed successfully")
	return nil
}

// Tables owned by the wider library system (items, cards, borrowing) are
// created here as well so the service can run standalone.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS library_cards (
		library_card_id UUID PRIMARY KEY,
		barcode VARCHAR(64) UNIQUE NOT NULL,
		status VARCHAR(20) NOT NULL DEFAULT 'Active',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS users (
		user_id BIGSERIAL PRIMARY KEY,
		email VARCHAR(255) UNIQUE NOT NULL,
		name VARCHAR(255) NOT NULL,
		telegram_id VARCHAR(100) NOT NULL DEFAULT '',
		library_card_id UUID REFERENCES library_cards(library_card_id),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS library_items (
		library_item_id BIGSERIAL PRIMARY KEY,
		title VARCHAR(500) NOT NULL,
		author VARCHAR(255) NOT NULL DEFAULT '',
		isbn VARCHAR(20) NOT NULL DEFAULT '',
		cover_image TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS library_item_inventories (
		library_item_id BIGINT PRIMARY KEY REFERENCES library_items(library_item_id),
		total_units INTEGER NOT NULL DEFAULT 0,
		available_units INTEGER NOT NULL DEFAULT 0,
		request_units INTEGER NOT NULL DEFAULT 0,
		borrowed_units INTEGER NOT NULL DEFAULT 0,
		reserved_units INTEGER NOT NULL DEFAULT 0,
		lost_units INTEGER NOT NULL DEFAULT 0
	)`,

	`CREATE TABLE IF NOT EXISTS library_item_instances (
		library_item_instance_id BIGSERIAL PRIMARY KEY,
		library_item_id BIGINT NOT NULL REFERENCES library_items(library_item_id),
		barcode VARCHAR(64) UNIQUE NOT NULL,
		status VARCHAR(20) NOT NULL DEFAULT 'InShelf',
		is_circulated BOOLEAN NOT NULL DEFAULT FALSE,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS borrow_records (
		borrow_record_id BIGSERIAL PRIMARY KEY,
		library_card_id UUID NOT NULL REFERENCES library_cards(library_card_id),
		library_item_id BIGINT NOT NULL REFERENCES library_items(library_item_id),
		library_item_instance_id BIGINT NOT NULL REFERENCES library_item_instances(library_item_instance_id),
		status VARCHAR(20) NOT NULL,
		borrow_date TIMESTAMPTZ NOT NULL,
		due_date TIMESTAMPTZ NOT NULL,
		return_date TIMESTAMPTZ
	)`,

	`CREATE TABLE IF NOT EXISTS borrow_requests (
		borrow_request_id BIGSERIAL PRIMARY KEY,
		library_card_id UUID NOT NULL REFERENCES library_cards(library_card_id),
		library_item_id BIGINT NOT NULL REFERENCES library_items(library_item_id),
		status VARCHAR(20) NOT NULL,
		request_date TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS reservation_queues (
		queue_id BIGSERIAL PRIMARY KEY,
		library_item_id BIGINT NOT NULL REFERENCES library_items(library_item_id),
		library_item_instance_id BIGINT REFERENCES library_item_instances(library_item_instance_id),
		library_card_id UUID NOT NULL REFERENCES library_cards(library_card_id),
		queue_status VARCHAR(20) NOT NULL DEFAULT 'Pending',
		reservation_date TIMESTAMPTZ NOT NULL,
		expected_available_date_min TIMESTAMPTZ,
		expected_available_date_max TIMESTAMPTZ,
		expiry_date TIMESTAMPTZ,
		reservation_code VARCHAR(20),
		is_reserved_after_request_failed BOOLEAN NOT NULL DEFAULT FALSE,
		is_applied_label BOOLEAN NOT NULL DEFAULT FALSE,
		is_notified BOOLEAN NOT NULL DEFAULT FALSE,
		collected_date TIMESTAMPTZ,
		cancelled_by VARCHAR(255),
		cancellation_reason TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT chk_assigned_has_instance_and_code CHECK (
			queue_status <> 'Assigned' OR (library_item_instance_id IS NOT NULL AND reservation_code IS NOT NULL)
		)
	)`,

	// one live reservation per (card, item)
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_reservation_queues_active
		ON reservation_queues(library_card_id, library_item_id)
		WHERE queue_status IN ('Pending', 'Assigned')`,

	`CREATE TABLE IF NOT EXISTS reservation_code_sequences (
		code_date DATE PRIMARY KEY,
		last_value INTEGER NOT NULL
	)`,

	// Indexes
	`CREATE INDEX IF NOT EXISTS idx_reservation_queues_item_status ON reservation_queues(library_item_id, queue_status, reservation_date)`,
	`CREATE INDEX IF NOT EXISTS idx_reservation_queues_card ON reservation_queues(library_card_id)`,
	`CREATE INDEX IF NOT EXISTS idx_reservation_queues_code ON reservation_queues(reservation_code)`,
	`CREATE INDEX IF NOT EXISTS idx_library_item_instances_item ON library_item_instances(library_item_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_borrow_records_card_status ON borrow_records(library_card_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_borrow_records_item_status ON borrow_records(library_item_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_borrow_requests_card_status ON borrow_requests(library_card_id, status)`,
}
