package resilience

import (
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// CommandHealth is the health of one family of backend commands.
type CommandHealth struct {
	Name          string           `json:"name"`
	CircuitState  gobreaker.State  `json:"-"`
	State         string           `json:"state"`
	Counts        gobreaker.Counts `json:"-"`
	LastSuccessAt *time.Time       `json:"last_success_at,omitempty"`
	LastFailureAt *time.Time       `json:"last_failure_at,omitempty"`
	LastError     string           `json:"last_error,omitempty"`
}

// IsHealthy reports whether the breaker is closed.
func (h *CommandHealth) IsHealthy() bool {
	return h.CircuitState == gobreaker.StateClosed
}

// IsDegraded reports whether the breaker is half-open.
func (h *CommandHealth) IsDegraded() bool {
	return h.CircuitState == gobreaker.StateHalfOpen
}

// IsUnhealthy reports whether the breaker is open.
func (h *CommandHealth) IsUnhealthy() bool {
	return h.CircuitState == gobreaker.StateOpen
}

// Registry tracks executors and the outcome of their last commands.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]*registeredExecutor
}

type registeredExecutor struct {
	executor      *Executor
	lastSuccessAt *time.Time
	lastFailureAt *time.Time
	lastError     string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		executors: make(map[string]*registeredExecutor),
	}
}

// Register adds an executor under name, replacing any previous one.
func (r *Registry) Register(name string, e *Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[name] = &registeredExecutor{executor: e}
}

// RecordSuccess records a successful command.
func (r *Registry) RecordSuccess(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.executors[name]; ok {
		now := time.Now()
		p.lastSuccessAt = &now
	}
}

// RecordFailure records a failed command.
func (r *Registry) RecordFailure(name string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.executors[name]; ok {
		now := time.Now()
		p.lastFailureAt = &now
		if err != nil {
			p.lastError = err.Error()
		}
	}
}

// Health returns the health of one executor, or nil if unknown.
func (r *Registry) Health(name string) *CommandHealth {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.executors[name]
	if !ok {
		return nil
	}
	return p.health(name)
}

// AllHealth returns the health of every executor, sorted by name.
func (r *Registry) AllHealth() []*CommandHealth {
	r.mu.RLock()
	defer r.mu.RUnlock()

	health := make([]*CommandHealth, 0, len(r.executors))
	for name, p := range r.executors {
		health = append(health, p.health(name))
	}
	sort.Slice(health, func(i, j int) bool { return health[i].Name < health[j].Name })
	return health
}

// Len returns the number of registered executors.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.executors)
}

func (p *registeredExecutor) health(name string) *CommandHealth {
	state := p.executor.CircuitBreakerState()
	return &CommandHealth{
		Name:          name,
		CircuitState:  state,
		State:         state.String(),
		Counts:        p.executor.CircuitBreakerCounts(),
		LastSuccessAt: p.lastSuccessAt,
		LastFailureAt: p.lastFailureAt,
		LastError:     p.lastError,
	}
}
