package sqlite

import (
	"database/sql"
	"fmt"

	"github.com/speechloop/speechloop/pkg/logger"
	_ "modernc.org/sqlite"
)

// Store is a SQLite-based store for users and transcription records.
// All mutating operations are atomic at single-record granularity; the
// conditional updates (score, archived) and the balance increment are the
// only cross-request synchronization points in the system.
type Store struct {
	db     *sql.DB
	logger *logger.Logger
}

// New opens (or creates) the database at the given path
func New(dbPath string, log *logger.Logger) (*Store, error) {
	storeLogger := log.Named("sqlite")

	storeLogger.Info("Initializing SQLite storage",
		logger.String("path", dbPath))

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	// Set pragmas for better performance and concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to set journal mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA synchronous=NORMAL"); err != nil {
		return nil, fmt.Errorf("failed to set synchronous mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if err := initDatabase(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{
		db:     db,
		logger: storeLogger,
	}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// initDatabase initializes the database schema
func initDatabase(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			external_id TEXT NOT NULL UNIQUE,
			balance REAL NOT NULL DEFAULT 0,
			role INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create users table: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS transcriptions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			owner_id INTEGER NOT NULL REFERENCES users(id),
			token TEXT NOT NULL UNIQUE,
			created_at TIMESTAMP NOT NULL,
			duration_seconds INTEGER NOT NULL,
			content TEXT NOT NULL,
			score INTEGER NOT NULL DEFAULT 0,
			archived INTEGER NOT NULL DEFAULT 0
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create transcriptions table: %w", err)
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_transcriptions_owner ON transcriptions(owner_id)`)
	if err != nil {
		return fmt.Errorf("failed to create owner index: %w", err)
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_transcriptions_archived ON transcriptions(archived)`)
	if err != nil {
		return fmt.Errorf("failed to create archived index: %w", err)
	}

	return nil
}
