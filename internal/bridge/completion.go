// Package bridge turns the engine's one-callback-per-call convention into
// results that Go callers can wait for, and serializes every native call.
//
// A call goes through four steps:
//
//	c := bridge.New()
//	c.OnProgress(fn)                      // optional, before the call
//	err := c.Issue("op", func(cb native.Callback, ud uintptr) native.Status {
//	    return lib.Something(ctx, cb, ud) // runs under the global serializer
//	})
//	payload, err := c.Await(ctx)          // outside the serializer
package bridge

import (
	"context"
	"sync"

	"github.com/aweris/codex-go/internal/metrics"
	"github.com/aweris/codex-go/internal/native"
	"github.com/sirupsen/logrus"
)

// ProgressFunc receives intermediate notifications before the terminal one.
// It runs on the engine's thread with the completion locked and must not
// call back into the same completion.
type ProgressFunc func(length int, chunk []byte)

// Completion correlates one native call with its callback-delivered result.
// It is resolved at most once.
type Completion struct {
	id   uintptr
	done chan struct{}

	mu       sync.Mutex
	op       string
	resolved bool
	payload  []byte
	err      error
	progress ProgressFunc
}

// New returns an unresolved completion registered with the trampoline.
func New() *Completion {
	c := &Completion{done: make(chan struct{})}
	c.id = completions.add(c)
	metrics.CompletionsInFlight.Inc()
	return c
}

// UserData is the opaque token to pass as the native call's user data.
func (c *Completion) UserData() uintptr { return c.id }

// OnProgress installs fn for progress notifications. It must be set before
// the call is issued since the engine may call back immediately.
func (c *Completion) OnProgress(fn ProgressFunc) {
	c.mu.Lock()
	c.progress = fn
	c.mu.Unlock()
}

// Resolve records a callback. Progress notifications go to the progress
// handler and leave the completion pending. A terminal status stores the
// result and wakes the waiter. It reports whether the call resolved c.
func (c *Completion) Resolve(status native.Status, payload []byte, length int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.resolved {
		metrics.LateCallbacks.Inc()
		logrus.WithFields(logrus.Fields{
			"component": "bridge",
			"op":        c.op,
			"status":    status.String(),
		}).Debug("Dropping callback for resolved completion")
		return false
	}

	if !status.Terminal() {
		if c.progress != nil {
			metrics.ProgressEvents.Inc()
			c.progress(length, payload)
		}
		return false
	}

	if status == native.StatusOK {
		c.payload = payload
	} else {
		c.err = &NativeError{Status: status, Message: string(payload)}
	}
	c.resolved = true
	close(c.done)

	result := "ok"
	if c.err != nil {
		result = "error"
	}
	metrics.NativeCalls.WithLabelValues(c.opLabel(), result).Inc()
	c.unregister()
	return true
}

func (c *Completion) opLabel() string {
	if c.op == "" {
		return "unknown"
	}
	return c.op
}

func (c *Completion) unregister() {
	if completions.remove(c.id) {
		metrics.CompletionsInFlight.Dec()
	}
}

// Done is closed once a terminal status has been recorded.
func (c *Completion) Done() <-chan struct{} { return c.done }

// Result returns the recorded outcome. Only meaningful after Done is closed.
func (c *Completion) Result() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.payload, c.err
}

// Wait blocks the calling goroutine until c is resolved.
func (c *Completion) Wait() ([]byte, error) {
	<-c.done
	return c.Result()
}

// Await waits for c or for ctx to end. Giving up does not stop the engine;
// a later callback still resolves c harmlessly.
func (c *Completion) Await(ctx context.Context) ([]byte, error) {
	select {
	case <-c.done:
		return c.Result()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release detaches c from the trampoline. Callbacks arriving afterwards are
// dropped. Safe to call more than once.
func (c *Completion) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unregister()
}

// Issue runs call under the global serializer, handing it the trampoline and
// c's token. A non-zero status releases c and returns a *RejectedError.
func (c *Completion) Issue(op string, call func(cb native.Callback, userData uintptr) native.Status) error {
	c.mu.Lock()
	c.op = op
	c.mu.Unlock()

	status := WithExclusiveAccess(func() native.Status {
		return call(Trampoline, c.id)
	})
	if status != native.StatusOK {
		metrics.NativeCalls.WithLabelValues(op, "rejected").Inc()
		logrus.WithFields(logrus.Fields{
			"component": "bridge",
			"op":        op,
			"status":    status.String(),
		}).Warn("Native call rejected")
		c.Release()
		return &RejectedError{Op: op, Status: status}
	}
	metrics.NativeCalls.WithLabelValues(op, "accepted").Inc()
	return nil
}

// Trampoline is the callback handed to every native call. It forwards the
// notification to the completion registered under userData.
func Trampoline(status native.Status, payload []byte, length int, userData uintptr) {
	c := completions.lookup(userData)
	if c == nil {
		metrics.LateCallbacks.Inc()
		logrus.WithFields(logrus.Fields{
			"component": "bridge",
			"user_data": userData,
			"status":    status.String(),
		}).Debug("Dropping callback for unknown completion")
		return
	}
	c.Resolve(status, payload, length)
}

var _ native.Callback = Trampoline
