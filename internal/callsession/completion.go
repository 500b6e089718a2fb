package callsession

import "sync"

// PushResult is how a push was accounted for.
type PushResult string

const (
	PushReported     PushResult = "reported"
	PushUnrecognized PushResult = "unrecognized"
	PushInvalid      PushResult = "invalid"
	PushDuplicate    PushResult = "duplicate"
	PushRejected     PushResult = "rejected"
	PushFailed       PushResult = "failed"
	PushShutdown     PushResult = "shutdown"
)

// Completion is the push-delivery completion callback. The wrapped func runs
// at most once however many times Complete is called.
type Completion struct {
	once sync.Once
	fn   func(PushResult)
}

// NewCompletion wraps fn. A nil fn is allowed.
func NewCompletion(fn func(PushResult)) *Completion {
	return &Completion{fn: fn}
}

// Complete invokes the callback with result. It reports whether this call was
// the one that invoked it. Complete on a nil Completion is a no-op.
func (c *Completion) Complete(result PushResult) bool {
	if c == nil {
		return false
	}
	fired := false
	c.once.Do(func() {
		fired = true
		if c.fn != nil {
			c.fn(result)
		}
	})
	return fired
}
