package pushtoken

import "context"

// Repository defines the interface for wake-token persistence. There is a
// single record per device.
type Repository interface {
	// Load returns the stored record, or ErrNoRecord.
	Load(ctx context.Context) (*Record, error)

	// Save replaces the stored record.
	Save(ctx context.Context, record *Record) error

	// Clear removes the stored record. Clearing an empty store is not an error.
	Clear(ctx context.Context) error
}
