package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/speechloop/speechloop/internal/record"
	"github.com/speechloop/speechloop/pkg/logger"
)

// RegisterUser creates a user for the given external identity if one does
// not exist yet. Re-registration with the same identity is a no-op that
// returns the existing row.
func (s *Store) RegisterUser(ctx context.Context, externalID string, role int) (*record.User, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (external_id, balance, role, created_at)
		VALUES (?, 0, ?, ?)
		ON CONFLICT(external_id) DO NOTHING`,
		externalID, role, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register user: %w", err)
	}

	if rows, err := res.RowsAffected(); err == nil && rows == 1 {
		s.logger.Info("Registered new user", logger.String("external_id", externalID))
	}

	return s.GetUserByExternalID(ctx, externalID)
}

// GetUserByExternalID returns the user with the given external identity
func (s *Store) GetUserByExternalID(ctx context.Context, externalID string) (*record.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, external_id, balance, role, created_at FROM users WHERE external_id = ?`,
		externalID,
	)
	return scanUser(row)
}

// GetUserByID returns the user with the given store id
func (s *Store) GetUserByID(ctx context.Context, id int64) (*record.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, external_id, balance, role, created_at FROM users WHERE id = ?`,
		id,
	)
	return scanUser(row)
}

// CreditBalance atomically adds amount to the user's balance. The increment
// happens inside the store so concurrent credits for the same user commute.
func (s *Store) CreditBalance(ctx context.Context, userID int64, amount float64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET balance = ROUND(balance + ?, 2) WHERE id = ?`,
		amount, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to credit balance: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("user %d: %w", userID, record.ErrNotFound)
	}

	return nil
}

func scanUser(row *sql.Row) (*record.User, error) {
	var user record.User
	var createdAt string

	err := row.Scan(&user.ID, &user.ExternalID, &user.Balance, &user.Role, &createdAt)
	if err == sql.ErrNoRows {
		return nil, record.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}

	user.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}

	return &user, nil
}
