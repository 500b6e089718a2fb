package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"
)

// Predefined errors for resilient operations.
var (
	// ErrCircuitOpen is returned when the circuit breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

// ExecutorConfig holds configuration for an Executor.
type ExecutorConfig struct {
	// Name identifies the command family, e.g. "backend.token".
	Name string

	// AttemptTimeout bounds each individual attempt.
	// Default: 5 seconds
	AttemptTimeout time.Duration

	// MaxRetries is the maximum number of retry attempts after the first.
	// Zero means no retries.
	MaxRetries uint64

	// InitialInterval is the initial retry backoff interval.
	// Default: 100ms
	InitialInterval time.Duration

	// MaxInterval is the maximum retry backoff interval.
	// Default: 2 seconds
	MaxInterval time.Duration

	// CircuitBreaker is the circuit breaker configuration.
	// If nil, uses DefaultCircuitBreakerConfig.
	CircuitBreaker *CircuitBreakerConfig

	// Registry, when set, records health for this executor.
	Registry *Registry
}

// DefaultExecutorConfig returns defaults for idempotent backend commands.
func DefaultExecutorConfig(name string) ExecutorConfig {
	cbConfig := DefaultCircuitBreakerConfig(name)
	return ExecutorConfig{
		Name:            name,
		AttemptTimeout:  5 * time.Second,
		MaxRetries:      2,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		CircuitBreaker:  &cbConfig,
	}
}

// SingleAttemptConfig returns defaults for commands that must not be resent,
// such as call answer or token registration. The breaker and the attempt
// timeout still apply.
func SingleAttemptConfig(name string) ExecutorConfig {
	cfg := DefaultExecutorConfig(name)
	cfg.MaxRetries = 0
	return cfg
}

// Executor runs commands through a circuit breaker with exponential backoff.
type Executor struct {
	circuitBreaker *gobreaker.CircuitBreaker[struct{}]
	config         ExecutorConfig
}

// NewExecutor creates a new Executor.
func NewExecutor(cfg ExecutorConfig) *Executor {
	if cfg.AttemptTimeout == 0 {
		cfg.AttemptTimeout = 5 * time.Second
	}
	if cfg.InitialInterval == 0 {
		cfg.InitialInterval = 100 * time.Millisecond
	}
	if cfg.MaxInterval == 0 {
		cfg.MaxInterval = 2 * time.Second
	}

	cbConfig := DefaultCircuitBreakerConfig(cfg.Name)
	if cfg.CircuitBreaker != nil {
		cbConfig = *cfg.CircuitBreaker
	}

	e := &Executor{
		circuitBreaker: NewCircuitBreaker[struct{}](cbConfig),
		config:         cfg,
	}
	if cfg.Registry != nil {
		cfg.Registry.Register(cfg.Name, e)
	}
	return e
}

// Name returns the executor name.
func (e *Executor) Name() string {
	return e.config.Name
}

// Do runs op until it succeeds, returns a permanent error, the retries are
// exhausted or ctx is done. Returns ErrCircuitOpen without calling op when the
// breaker is open.
func (e *Executor) Do(ctx context.Context, op func(ctx context.Context) error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.config.InitialInterval
	bo.MaxInterval = e.config.MaxInterval
	bo.MaxElapsedTime = 0 // retries are bounded by WithMaxRetries

	policy := backoff.WithContext(backoff.WithMaxRetries(bo, e.config.MaxRetries), ctx)

	attempt := func() error {
		_, err := e.circuitBreaker.Execute(func() (struct{}, error) {
			attemptCtx, cancel := context.WithTimeout(ctx, e.config.AttemptTimeout)
			defer cancel()
			return struct{}{}, op(attemptCtx)
		})
		if err == nil {
			return nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(ErrCircuitOpen)
		}
		return err
	}

	err := backoff.Retry(attempt, policy)
	e.record(err)
	return err
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// CircuitBreakerState returns the current state of the circuit breaker.
func (e *Executor) CircuitBreakerState() gobreaker.State {
	return e.circuitBreaker.State()
}

// CircuitBreakerCounts returns the current counts of the circuit breaker.
func (e *Executor) CircuitBreakerCounts() gobreaker.Counts {
	return e.circuitBreaker.Counts()
}

func (e *Executor) record(err error) {
	if e.config.Registry == nil {
		return
	}
	if err != nil {
		e.config.Registry.RecordFailure(e.config.Name, err)
		return
	}
	e.config.Registry.RecordSuccess(e.config.Name)
}
