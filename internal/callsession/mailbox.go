package callsession

import "sync"

// mailbox is an unbounded FIFO of events. post never blocks, so no event
// source can stall on the coordinator.
type mailbox struct {
	mu     sync.Mutex
	queue  []event
	closed bool
	notify chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{notify: make(chan struct{}, 1)}
}

// post enqueues ev. It returns false once the mailbox is closed.
func (m *mailbox) post(ev event) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.queue = append(m.queue, ev)
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
	return true
}

func (m *mailbox) drain() []event {
	m.mu.Lock()
	defer m.mu.Unlock()
	evs := m.queue
	m.queue = nil
	return evs
}

// close rejects further posts and returns whatever was still queued.
func (m *mailbox) close() []event {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	evs := m.queue
	m.queue = nil
	return evs
}
