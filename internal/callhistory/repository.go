package callhistory

import "context"

// Repository defines the interface for call history storage.
type Repository interface {
	// Insert stores a finished session. Inserting the same session id twice
	// is not an error; the first entry wins.
	Insert(ctx context.Context, entry *Entry) error

	// Get retrieves an entry by session id.
	// Returns ErrEntryNotFound if it does not exist.
	Get(ctx context.Context, id string) (*Entry, error)

	// List returns entries ordered by end time, newest first.
	List(ctx context.Context, opts ListOptions) (*ListResult, error)
}
