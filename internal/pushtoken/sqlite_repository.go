package pushtoken

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// SQLiteRepository stores the wake-token record in a device-local SQLite file.
type SQLiteRepository struct {
	db *sql.DB
}

// OpenSQLiteRepository opens (or creates) the token database at path.
func OpenSQLiteRepository(ctx context.Context, path string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open token db: %w", err)
	}

	// A single connection serializes writers inside the process.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	_, err = db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS push_token (
		id            INTEGER PRIMARY KEY CHECK (id = 1),
		token         BLOB NOT NULL,
		acknowledged  INTEGER NOT NULL DEFAULT 0,
		updated_at    INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create push_token table: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

// Load returns the stored record.
func (r *SQLiteRepository) Load(ctx context.Context) (*Record, error) {
	var (
		record    Record
		ack       int
		updatedAt int64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT token, acknowledged, updated_at FROM push_token WHERE id = 1`,
	).Scan(&record.Token, &ack, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoRecord
		}
		return nil, err
	}

	record.Acknowledged = ack != 0
	record.UpdatedAt = time.UnixMilli(updatedAt)
	return &record, nil
}

// Save replaces the stored record in a single statement.
func (r *SQLiteRepository) Save(ctx context.Context, record *Record) error {
	ack := 0
	if record.Acknowledged {
		ack = 1
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO push_token (id, token, acknowledged, updated_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			token=excluded.token,
			acknowledged=excluded.acknowledged,
			updated_at=excluded.updated_at`,
		record.Token, ack, record.UpdatedAt.UnixMilli(),
	)
	return err
}

// Clear removes the stored record.
func (r *SQLiteRepository) Clear(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM push_token WHERE id = 1`)
	return err
}

// Close closes the underlying database.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

var _ Repository = (*SQLiteRepository)(nil)
