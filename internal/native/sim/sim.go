// Package sim is an in-process stand-in for the Codex engine library.
//
// It honours the same contract as libcodex: entry points either reject a
// call synchronously or accept it and report the outcome later from the
// node's own worker goroutine. It is not reentrant either; concurrent
// entry is counted rather than prevented so tests can assert it never
// happens.
package sim

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/aweris/codex-go/internal/native"
	"github.com/sirupsen/logrus"
)

const (
	Version  = "v0.2.0-sim"
	Revision = "sim"
)

// Fault alters how the next calls of one operation behave.
type Fault struct {
	// Reject makes the entry point return StatusErr without a callback.
	Reject bool
	// Fail resolves the call with StatusErr and this message.
	Fail string
	// Duplicate delivers the terminal callback twice.
	Duplicate bool
	// Hold parks the call on the node's worker until the channel is closed.
	Hold <-chan struct{}
}

// Library implements native.Library in memory and on the local filesystem.
type Library struct {
	active     atomic.Int32
	violations atomic.Int64

	mu      sync.Mutex
	nodes   map[native.Context]*engine
	buffers map[native.Buffer]struct{}
	calls   map[string]int
	faults  map[string]Fault

	log *logrus.Entry
}

// New returns an empty library with no nodes.
func New() *Library {
	return &Library{
		nodes:   map[native.Context]*engine{},
		buffers: map[native.Buffer]struct{}{},
		calls:   map[string]int{},
		faults:  map[string]Fault{},
		log:     logrus.WithField("component", "sim"),
	}
}

// Violations counts concurrent entries and releases of unknown buffers.
func (l *Library) Violations() int64 { return l.violations.Load() }

// LiveBuffers is the number of buffers handed out and not yet released.
func (l *Library) LiveBuffers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buffers)
}

// Calls returns how many times op was entered.
func (l *Library) Calls(op string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[op]
}

// Nodes is the number of contexts that have not been destroyed.
func (l *Library) Nodes() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.nodes)
}

// Inject installs f for every later call of op until Reset.
func (l *Library) Inject(op string, f Fault) {
	l.mu.Lock()
	l.faults[op] = f
	l.mu.Unlock()
}

// Reset removes all injected faults.
func (l *Library) Reset() {
	l.mu.Lock()
	l.faults = map[string]Fault{}
	l.mu.Unlock()
}

func (l *Library) ToBuffer(s string) native.Buffer {
	p := new(string)
	*p = s
	b := native.Buffer(p)

	l.mu.Lock()
	l.buffers[b] = struct{}{}
	l.mu.Unlock()
	return b
}

func (l *Library) Release(b native.Buffer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.buffers[b]; !ok {
		l.violations.Add(1)
		l.log.Error("Release of unknown buffer")
		return
	}
	delete(l.buffers, b)
}

// str reads a caller buffer. It must be called before the entry returns.
func (l *Library) str(b native.Buffer) (string, bool) {
	if b == nil {
		return "", false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.buffers[b]; !ok {
		return "", false
	}
	return *(*string)(b), true
}

// enter records a call to op and flags overlapping entries.
func (l *Library) enter(op string) (Fault, func()) {
	if l.active.Add(1) > 1 {
		l.violations.Add(1)
		l.log.WithField("op", op).Error("Concurrent entry into engine")
	}

	l.mu.Lock()
	l.calls[op]++
	f := l.faults[op]
	l.mu.Unlock()

	return f, func() { l.active.Add(-1) }
}

func (l *Library) engine(ctx native.Context) *engine {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.nodes[ctx]
}

// peer finds a started node other than self with the given peer id.
func (l *Library) peer(self *engine, id string) *engine {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.nodes {
		if e != self && e.started.Load() && e.peerID() == id {
			return e
		}
	}
	return nil
}

// job is the body of an accepted call. emit delivers a progress notification.
type job func(e *engine, emit func(length int, chunk []byte)) (native.Status, []byte)

// dispatch validates ctx and queues fn on the node's worker.
func (l *Library) dispatch(op string, ctx native.Context, needStarted bool, cb native.Callback, ud uintptr, fn job) native.Status {
	f, leave := l.enter(op)
	defer leave()

	if f.Reject {
		return native.StatusErr
	}
	e := l.engine(ctx)
	if e == nil {
		return native.StatusErr
	}
	return l.queue(e, op, f, needStarted, cb, ud, fn)
}

func (l *Library) queue(e *engine, op string, f Fault, needStarted bool, cb native.Callback, ud uintptr, fn job) native.Status {
	accepted := e.post(func() {
		if f.Hold != nil {
			<-f.Hold
		}
		emit := func(length int, chunk []byte) {
			if cb != nil {
				cb(native.StatusProgress, chunk, length, ud)
			}
		}

		var status native.Status
		var payload []byte
		switch {
		case f.Fail != "":
			status, payload = native.StatusErr, []byte(f.Fail)
		case needStarted && !e.started.Load():
			status, payload = native.StatusErr, []byte("node is not started")
		default:
			status, payload = fn(e, emit)
		}

		if status != native.StatusOK {
			e.log.WithFields(logrus.Fields{"op": op, "error": string(payload)}).Debug("Call failed")
		}
		if cb == nil {
			return
		}
		cb(status, payload, len(payload), ud)
		if f.Duplicate {
			cb(status, payload, len(payload), ud)
		}
	})
	if !accepted {
		return native.StatusErr
	}
	return native.StatusOK
}

func fail(msg string) (native.Status, []byte) {
	return native.StatusErr, []byte(msg)
}

func ok(payload string) (native.Status, []byte) {
	return native.StatusOK, []byte(payload)
}

func okJSON(v any) (native.Status, []byte) {
	data, err := json.Marshal(v)
	if err != nil {
		return fail(err.Error())
	}
	return native.StatusOK, data
}

var _ native.Library = (*Library)(nil)

// ctxOf returns the opaque context for e.
func ctxOf(e *engine) native.Context { return unsafe.Pointer(e) }
