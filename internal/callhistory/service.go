package callhistory

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/callbridge/callbridge/internal/callsession"
)

// Service records finished sessions and serves history pages.
type Service struct {
	repo   Repository
	logger zerolog.Logger
}

// NewService creates a new history service.
func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger,
	}
}

// RecordCall stores a session summary. Sessions without a call id (never
// reported) are still recorded so failed reports remain visible.
func (s *Service) RecordCall(ctx context.Context, summary callsession.Summary) error {
	entry := EntryFromSummary(summary)
	if err := s.repo.Insert(ctx, entry); err != nil {
		return fmt.Errorf("insert call history: %w", err)
	}

	s.logger.Debug().
		Str("session_id", entry.ID.String()).
		Str("call_id", entry.CallID).
		Str("outcome", string(entry.Outcome)).
		Msg("call recorded")
	return nil
}

// List returns one page of history, newest first.
func (s *Service) List(ctx context.Context, opts ListOptions) (*ListResult, error) {
	return s.repo.List(ctx, opts)
}

// Get returns a single entry by session id.
func (s *Service) Get(ctx context.Context, id string) (*Entry, error) {
	return s.repo.Get(ctx, id)
}

var _ callsession.Recorder = (*Service)(nil)
