package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ds124wfegd/library-reservations/internal/entity"
)

type userRepository struct {
	db *sqlx.DB
}

func NewUserRepository(db *sqlx.DB) UserRepository {
	return &userRepository{db: db}
}

// GetByEmail returns nil, nil when nobody is registered with the email.
func (r *userRepository) GetByEmail(ctx context.Context, email string) (*entity.User, error) {
	query := `
		SELECT user_id, email, name, telegram_id, library_card_id, created_at
		FROM users
		WHERE LOWER(email) = LOWER($1)
	`

	var user entity.User
	err := sqlx.GetContext(ctx, conn(ctx, r.db), &user, query, email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}

	return &user, nil
}

func (r *userRepository) GetByCardID(ctx context.Context, cardID uuid.UUID) (*entity.User, error) {
	query := `
		SELECT user_id, email, name, telegram_id, library_card_id, created_at
		FROM users
		WHERE library_card_id = $1
	`

	var user entity.User
	err := sqlx.GetContext(ctx, conn(ctx, r.db), &user, query, cardID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by card: %w", err)
	}

	return &user, nil
}
