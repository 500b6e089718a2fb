// Package callhistory records finished call sessions.
package callhistory

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/callbridge/callbridge/internal/callsession"
)

// Repository errors.
var (
	ErrEntryNotFound = errors.New("call history entry not found")
	ErrInvalidCursor = errors.New("invalid history cursor")
)

// Entry is one finished call session.
type Entry struct {
	ID              uuid.UUID
	CallID          string
	CallerName      string
	Outcome         callsession.Outcome
	Reason          callsession.EndReason
	StartedAt       time.Time
	AnsweredAt      *time.Time
	EndedAt         time.Time
	DurationSeconds int
}

// EntryFromSummary converts a session summary into a history entry.
func EntryFromSummary(s callsession.Summary) *Entry {
	e := &Entry{
		ID:              s.SessionID,
		CallID:          s.CallID,
		CallerName:      s.CallerName,
		Outcome:         s.Outcome,
		Reason:          s.Reason,
		StartedAt:       s.StartedAt,
		EndedAt:         s.EndedAt,
		DurationSeconds: int(s.Duration().Seconds()),
	}
	if s.AnsweredAt != nil {
		answered := *s.AnsweredAt
		e.AnsweredAt = &answered
	}
	return e
}

// ListOptions contains options for listing entries.
type ListOptions struct {
	Limit int
	// Cursor is the NextCursor of a previous page.
	Cursor string
}

// ListResult contains one page of entries, newest first.
type ListResult struct {
	Items      []*Entry
	NextCursor string
}

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

// encodeCursor and decodeCursor turn an entry's end time into an opaque
// page cursor.
func encodeCursor(e *Entry) string {
	return e.EndedAt.UTC().Format(time.RFC3339Nano)
}

func decodeCursor(cursor string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, cursor)
	if err != nil {
		return time.Time{}, ErrInvalidCursor
	}
	return t, nil
}
