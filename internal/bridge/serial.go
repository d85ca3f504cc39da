package bridge

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aweris/codex-go/internal/metrics"
	"github.com/sirupsen/logrus"
)

// ErrPoisoned is reported when a previous native call panicked while holding
// the serializer. The engine state can no longer be trusted.
var ErrPoisoned = errors.New("bridge: native call serializer poisoned")

// Serializer is the process-wide gate around native entry points.
// It is held for the duration of a call's issuance only, never while waiting
// for the call's completion.
type Serializer struct {
	mu       sync.Mutex
	poisoned atomic.Bool
	onFatal  func(error)
}

// NewSerializer returns a serializer that reports poisoning to onFatal.
// A nil onFatal logs the error at fatal level, which exits the process.
func NewSerializer(onFatal func(error)) *Serializer {
	if onFatal == nil {
		onFatal = func(err error) {
			logrus.WithFields(logrus.Fields{
				"component": "bridge",
				"error":     err.Error(),
			}).Fatal("Native engine state is unrecoverable")
		}
	}
	return &Serializer{onFatal: onFatal}
}

// Poisoned reports whether a panic escaped a critical section.
func (s *Serializer) Poisoned() bool { return s.poisoned.Load() }

func (s *Serializer) fatal() {
	s.onFatal(ErrPoisoned)
	// onFatal is expected not to return; if it does, never run the closure.
	panic(ErrPoisoned)
}

// Exclusive runs fn while holding s and returns its result.
func Exclusive[T any](s *Serializer, fn func() T) T {
	if s.poisoned.Load() {
		s.fatal()
	}

	start := time.Now()
	s.mu.Lock()
	metrics.SerializerWait.Observe(time.Since(start).Seconds())

	if s.poisoned.Load() {
		s.mu.Unlock()
		s.fatal()
	}

	defer func() {
		if r := recover(); r != nil {
			s.poisoned.Store(true)
			s.mu.Unlock()
			panic(r)
		}
		s.mu.Unlock()
	}()
	return fn()
}

var global = NewSerializer(nil)

// WithExclusiveAccess runs fn under the process-wide serializer.
// Every native entry point, handle creation included, goes through here.
func WithExclusiveAccess[T any](fn func() T) T {
	return Exclusive(global, fn)
}
