package codex

import (
	"context"

	"github.com/aweris/codex-go/internal/bridge"
	"github.com/aweris/codex-go/internal/native"
)

// Building blocks for operations not wrapped by Node.
type (
	Library       = native.Library
	Status        = native.Status
	Callback      = native.Callback
	Completion    = bridge.Completion
	ProgressFunc  = bridge.ProgressFunc
	NativeContext = native.Context
)

// NewCompletion returns a completion registered with Trampoline.
func NewCompletion() *Completion { return bridge.New() }

// Trampoline is the callback to hand to every native call.
var Trampoline native.Callback = bridge.Trampoline

// WithExclusiveAccess runs fn under the process-wide native call lock.
func WithExclusiveAccess[T any](fn func() T) T {
	return bridge.WithExclusiveAccess(fn)
}

// Call issues a custom native call against the node with the same
// guarantees as the built-in operations. progress may be nil.
func (n *Node) Call(ctx context.Context, op string, progress ProgressFunc,
	issue func(lib Library, nc NativeContext, cb Callback, userData uintptr) Status,
) ([]byte, error) {
	return n.do(ctx, op, progress, issue)
}
