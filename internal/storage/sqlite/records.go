package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/speechloop/speechloop/internal/record"
	"github.com/speechloop/speechloop/pkg/logger"
)

// CreateRecord inserts a transcription record with score unscored and
// returns its id. The insert is idempotent on the submission token: a
// replayed create returns the id of the row the first attempt committed.
func (s *Store) CreateRecord(ctx context.Context, rec *record.Record) (int64, error) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO transcriptions (owner_id, token, created_at, duration_seconds, content, score, archived)
		VALUES (?, ?, ?, ?, ?, 0, 0)
		ON CONFLICT(token) DO NOTHING`,
		rec.OwnerID,
		rec.Token,
		rec.CreatedAt.Format(time.RFC3339),
		rec.DurationSeconds,
		rec.Text,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert transcription: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		// Token already committed by an earlier attempt
		existing, err := s.GetRecordByToken(ctx, rec.Token)
		if err != nil {
			return 0, fmt.Errorf("failed to resolve existing token: %w", err)
		}
		s.logger.Debug("Replayed record create resolved to existing row",
			logger.Int64("id", existing.ID),
			logger.String("token", rec.Token))
		return existing.ID, nil
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}

	return id, nil
}

// GetRecord returns the transcription record with the given id
func (s *Store) GetRecord(ctx context.Context, id int64) (*record.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, token, created_at, duration_seconds, content, score, archived
		FROM transcriptions WHERE id = ?`,
		id,
	)
	return scanRecord(row)
}

// GetRecordByToken returns the transcription record created for the given
// submission token, if any
func (s *Store) GetRecordByToken(ctx context.Context, token string) (*record.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, token, created_at, duration_seconds, content, score, archived
		FROM transcriptions WHERE token = ?`,
		token,
	)
	return scanRecord(row)
}

// SetScore transitions a record from unscored to the given score. The
// transition is a single conditional update at the store; exactly one of
// any number of concurrent callers observes true.
func (s *Store) SetScore(ctx context.Context, id int64, score record.Score) (bool, error) {
	// Score 0 would satisfy its own guard clause and report a phantom
	// transition, so the unscored sentinel is never a valid target.
	if score <= record.Unscored || score > record.Excellent {
		return false, fmt.Errorf("invalid score %d", int(score))
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE transcriptions SET score = ? WHERE id = ? AND score = 0`,
		int(score), id,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update score: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return rows == 1, nil
}

// MarkArchived transitions a record's archived flag from false to true.
// Returns false when another sweep already marked it, which lets
// overlapping sweeps converge without double-counting.
func (s *Store) MarkArchived(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE transcriptions SET archived = 1 WHERE id = ? AND archived = 0`,
		id,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark archived: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return rows == 1, nil
}

// ListUnarchived returns all records whose blob pair has not been confirmed
// yet, grouped by score tier for sweep locality
func (s *Store) ListUnarchived(ctx context.Context) ([]*record.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, token, created_at, duration_seconds, content, score, archived
		FROM transcriptions
		WHERE archived = 0
		ORDER BY score ASC, id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query unarchived transcriptions: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// ListRecordsByOwner returns all records owned by the given user, newest first
func (s *Store) ListRecordsByOwner(ctx context.Context, ownerID int64) ([]*record.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, token, created_at, duration_seconds, content, score, archived
		FROM transcriptions
		WHERE owner_id = ?
		ORDER BY created_at DESC, id DESC`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query transcriptions by owner: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecordFields(scanner rowScanner) (*record.Record, error) {
	var rec record.Record
	var createdAt string
	var score, archived int

	if err := scanner.Scan(
		&rec.ID,
		&rec.OwnerID,
		&rec.Token,
		&createdAt,
		&rec.DurationSeconds,
		&rec.Text,
		&score,
		&archived,
	); err != nil {
		return nil, err
	}

	var err error
	rec.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}

	rec.Score = record.Score(score)
	rec.Archived = archived != 0

	return &rec, nil
}

func scanRecord(row *sql.Row) (*record.Record, error) {
	rec, err := scanRecordFields(row)
	if err == sql.ErrNoRows {
		return nil, record.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan transcription: %w", err)
	}
	return rec, nil
}

func scanRecords(rows *sql.Rows) ([]*record.Record, error) {
	var records []*record.Record
	for rows.Next() {
		rec, err := scanRecordFields(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transcription: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transcriptions: %w", err)
	}
	return records, nil
}
