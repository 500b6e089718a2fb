// Package status publishes backend connection state and advisory call
// failures as short text signals for the presentation layer.
package status

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Kind distinguishes connection signals from advisory ones.
type Kind string

const (
	KindConnection Kind = "connection"
	KindAdvisory   Kind = "advisory"
)

// ConnectionState is the backend client's connection state.
type ConnectionState string

const (
	ConnectionConnected    ConnectionState = "connected"
	ConnectionDisconnected ConnectionState = "disconnected"
	ConnectionConnecting   ConnectionState = "connecting"
	ConnectionUnknown      ConnectionState = "unknown"
)

// Label returns the display text for the state.
func (s ConnectionState) Label() string {
	switch s {
	case ConnectionConnected:
		return "Connected"
	case ConnectionDisconnected:
		return "Disconnected"
	case ConnectionConnecting:
		return "Connecting"
	default:
		return "Unknown"
	}
}

// ParseConnectionState maps free-form state names onto ConnectionState.
func ParseConnectionState(s string) ConnectionState {
	switch ConnectionState(s) {
	case ConnectionConnected, ConnectionDisconnected, ConnectionConnecting:
		return ConnectionState(s)
	default:
		return ConnectionUnknown
	}
}

// Status is one published signal.
type Status struct {
	Kind Kind      `json:"kind"`
	Text string    `json:"status"`
	At   time.Time `json:"at"`
}

// DefaultBuffer is the per-subscriber channel size.
const DefaultBuffer = 16

// Publisher fans status signals out to subscribers. Publish never blocks:
// a subscriber whose buffer is full misses the signal.
type Publisher struct {
	logger zerolog.Logger
	buffer int

	mu     sync.RWMutex
	subs   map[uint64]chan Status
	nextID uint64
	last   *Status
}

// NewPublisher creates a publisher. A non-positive buffer uses DefaultBuffer.
func NewPublisher(logger zerolog.Logger, buffer int) *Publisher {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Publisher{
		logger: logger,
		buffer: buffer,
		subs:   make(map[uint64]chan Status),
	}
}

// Publish sends s to every subscriber.
func (p *Publisher) Publish(s Status) {
	if s.At.IsZero() {
		s.At = time.Now()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.last = &s
	for id, ch := range p.subs {
		select {
		case ch <- s:
		default:
			p.logger.Debug().
				Uint64("subscriber", id).
				Str("status", s.Text).
				Msg("status subscriber full, dropping signal")
		}
	}
}

// PublishConnection publishes the label for a backend connection state.
func (p *Publisher) PublishConnection(state ConnectionState) {
	p.Publish(Status{Kind: KindConnection, Text: state.Label()})
}

// Advise publishes an advisory message, typically a failed backend command.
func (p *Publisher) Advise(text string) {
	p.Publish(Status{Kind: KindAdvisory, Text: text})
}

// Subscribe registers a subscriber. The returned cancel func unsubscribes and
// closes the channel; it is safe to call more than once.
func (p *Publisher) Subscribe() (<-chan Status, func()) {
	ch := make(chan Status, p.buffer)

	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.subs[id] = ch
	p.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.subs, id)
			p.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Last returns the most recently published status.
func (p *Publisher) Last() (Status, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.last == nil {
		return Status{}, false
	}
	return *p.last, true
}
