package callhistory

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/callbridge/callbridge/internal/callsession"
)

const schema = `
	CREATE TABLE IF NOT EXISTS call_history (
		id               UUID PRIMARY KEY,
		call_id          TEXT NOT NULL,
		caller_name      TEXT NOT NULL,
		outcome          TEXT NOT NULL,
		reason           TEXT NOT NULL,
		started_at       TIMESTAMPTZ NOT NULL,
		answered_at      TIMESTAMPTZ,
		ended_at         TIMESTAMPTZ NOT NULL,
		duration_seconds INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS call_history_ended_at_idx ON call_history (ended_at DESC);
`

const selectColumns = `id, call_id, caller_name, outcome, reason, started_at, answered_at, ended_at, duration_seconds`

// PostgresRepository is a PostgreSQL implementation of Repository.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL history repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// EnsureSchema creates the call_history table if it does not exist.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, schema)
	return err
}

// Insert stores a finished session.
func (r *PostgresRepository) Insert(ctx context.Context, entry *Entry) error {
	query := `
		INSERT INTO call_history (` + selectColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`

	_, err := r.pool.Exec(ctx, query,
		entry.ID,
		entry.CallID,
		entry.CallerName,
		string(entry.Outcome),
		string(entry.Reason),
		entry.StartedAt,
		entry.AnsweredAt,
		entry.EndedAt,
		entry.DurationSeconds,
	)
	return err
}

// Get retrieves an entry by session id.
func (r *PostgresRepository) Get(ctx context.Context, id string) (*Entry, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, ErrEntryNotFound
	}

	query := `SELECT ` + selectColumns + ` FROM call_history WHERE id = $1`

	entry, err := scanEntry(r.pool.QueryRow(ctx, query, parsed))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEntryNotFound
		}
		return nil, err
	}
	return entry, nil
}

// List returns entries newest first.
func (r *PostgresRepository) List(ctx context.Context, opts ListOptions) (*ListResult, error) {
	limit := normalizeLimit(opts.Limit)
	fetchLimit := limit + 1

	var (
		rows pgx.Rows
		err  error
	)
	if opts.Cursor == "" {
		query := `
			SELECT ` + selectColumns + `
			FROM call_history
			ORDER BY ended_at DESC
			LIMIT $1
		`
		rows, err = r.pool.Query(ctx, query, fetchLimit)
	} else {
		before, cerr := decodeCursor(opts.Cursor)
		if cerr != nil {
			return nil, cerr
		}
		query := `
			SELECT ` + selectColumns + `
			FROM call_history
			WHERE ended_at < $1
			ORDER BY ended_at DESC
			LIMIT $2
		`
		rows, err = r.pool.Query(ctx, query, before, fetchLimit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	result := &ListResult{
		Items: entries,
	}

	if len(entries) > limit {
		result.Items = entries[:limit]
		result.NextCursor = encodeCursor(entries[limit-1])
	}

	return result, nil
}

func scanEntry(row pgx.Row) (*Entry, error) {
	var (
		entry   Entry
		outcome string
		reason  string
	)

	err := row.Scan(
		&entry.ID,
		&entry.CallID,
		&entry.CallerName,
		&outcome,
		&reason,
		&entry.StartedAt,
		&entry.AnsweredAt,
		&entry.EndedAt,
		&entry.DurationSeconds,
	)
	if err != nil {
		return nil, err
	}

	entry.Outcome = callsession.Outcome(outcome)
	entry.Reason = callsession.EndReason(reason)
	return &entry, nil
}

var _ Repository = (*PostgresRepository)(nil)
