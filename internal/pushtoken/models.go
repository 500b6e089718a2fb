// Package pushtoken tracks the device wake-token and its registration with
// the calling backend.
package pushtoken

import (
	"bytes"
	"encoding/hex"
	"errors"
	"time"
)

// Repository errors.
var (
	ErrNoRecord = errors.New("push token record not found")
)

// Record is the persisted wake-token state. Token and Acknowledged are
// always written and cleared together.
type Record struct {
	Token        []byte
	Acknowledged bool
	UpdatedAt    time.Time
}

// Matches reports whether the record holds token.
func (r *Record) Matches(token []byte) bool {
	return r != nil && bytes.Equal(r.Token, token)
}

// TokenLast4 returns the last 4 hex characters of the token for display purposes.
func (r *Record) TokenLast4() string {
	s := hex.EncodeToString(r.Token)
	if len(s) < 4 {
		return s
	}
	return s[len(s)-4:]
}

// copyRecord creates a deep copy of a record.
func copyRecord(r *Record) *Record {
	if r == nil {
		return nil
	}
	return &Record{
		Token:        append([]byte(nil), r.Token...),
		Acknowledged: r.Acknowledged,
		UpdatedAt:    r.UpdatedAt,
	}
}
