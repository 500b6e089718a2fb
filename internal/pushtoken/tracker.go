package pushtoken

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Registrar is the backend side of wake-token registration.
type Registrar interface {
	RegisterToken(ctx context.Context, token []byte) error
	UnregisterToken(ctx context.Context, token []byte) error
}

// TrackerConfig holds configuration for the Tracker.
type TrackerConfig struct {
	Repository Repository
	Registrar  Registrar
	Logger     zerolog.Logger
}

// Tracker decides when the wake-token must be (re)registered with the backend.
//
// All operations hold one mutex across their read-compare-write sequence, so
// concurrent observations of the same token never race each other.
type Tracker struct {
	repo      Repository
	registrar Registrar
	logger    zerolog.Logger
	now       func() time.Time

	mu sync.Mutex
	// epoch counts successful backend connections.
	epoch uint64
	// attempted is the token and epoch of the last registration attempt.
	attempted      []byte
	attemptedEpoch uint64
	hasAttempt     bool
}

// NewTracker creates a new Tracker.
func NewTracker(cfg TrackerConfig) *Tracker {
	return &Tracker{
		repo:      cfg.Repository,
		registrar: cfg.Registrar,
		logger:    cfg.Logger,
		now:       time.Now,
	}
}

// ConnectionEstablished starts a new registration epoch. A token whose
// registration failed may be attempted once more in each epoch.
func (t *Tracker) ConnectionEstablished() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.epoch++
}

// ObserveToken records a token issued by the OS. It returns true when the
// token is pending registration.
func (t *Tracker) ObserveToken(ctx context.Context, token []byte) (bool, error) {
	if len(token) == 0 {
		return false, errors.New("empty push token")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	current, err := t.load(ctx)
	if err != nil {
		return false, err
	}

	if current.Matches(token) {
		return !current.Acknowledged, nil
	}

	if current != nil {
		// Superseded: retire the old registration before the new one exists.
		t.unregister(ctx, current.Token)
		t.hasAttempt = false
	}

	record := &Record{Token: append([]byte(nil), token...), UpdatedAt: t.now()}
	if err := t.repo.Save(ctx, record); err != nil {
		return false, fmt.Errorf("save pending token: %w", err)
	}

	t.logger.Info().
		Str("token_last4", record.TokenLast4()).
		Msg("push token pending registration")
	return true, nil
}

// RegisterIfNeeded registers the pending token with the backend. It returns
// true when a registration succeeded. A failed registration leaves the
// token pending for the next connection epoch.
func (t *Tracker) RegisterIfNeeded(ctx context.Context) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	current, err := t.load(ctx)
	if err != nil {
		return false, err
	}
	if current == nil || current.Acknowledged {
		return false, nil
	}
	if t.hasAttempt && t.attemptedEpoch == t.epoch && current.Matches(t.attempted) {
		return false, nil
	}

	t.attempted = append([]byte(nil), current.Token...)
	t.attemptedEpoch = t.epoch
	t.hasAttempt = true

	if err := t.registrar.RegisterToken(ctx, current.Token); err != nil {
		t.logger.Warn().
			Err(err).
			Str("token_last4", current.TokenLast4()).
			Msg("push token registration failed")
		return false, fmt.Errorf("register push token: %w", err)
	}

	current.Acknowledged = true
	current.UpdatedAt = t.now()
	if err := t.repo.Save(ctx, current); err != nil {
		return false, fmt.Errorf("save acknowledged token: %w", err)
	}

	t.logger.Info().
		Str("token_last4", current.TokenLast4()).
		Msg("push token registered")
	return true, nil
}

// Invalidate deregisters the last known token (best effort) and clears the
// local record whatever the backend answered.
func (t *Tracker) Invalidate(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	current, err := t.load(ctx)
	if err != nil {
		t.logger.Warn().Err(err).Msg("failed to load push token before invalidation")
	}
	if current != nil {
		t.unregister(ctx, current.Token)
	}

	t.hasAttempt = false
	if err := t.repo.Clear(ctx); err != nil {
		return fmt.Errorf("clear push token: %w", err)
	}

	t.logger.Info().Msg("push token invalidated")
	return nil
}

// Current returns the stored record, or nil when there is none.
func (t *Tracker) Current(ctx context.Context) (*Record, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.load(ctx)
}

func (t *Tracker) load(ctx context.Context) (*Record, error) {
	record, err := t.repo.Load(ctx)
	if err != nil {
		if errors.Is(err, ErrNoRecord) {
			return nil, nil
		}
		return nil, fmt.Errorf("load push token: %w", err)
	}
	return record, nil
}

func (t *Tracker) unregister(ctx context.Context, token []byte) {
	if err := t.registrar.UnregisterToken(ctx, token); err != nil {
		t.logger.Warn().Err(err).Msg("push token deregistration failed")
	}
}
