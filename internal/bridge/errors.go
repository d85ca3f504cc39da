package bridge

import (
	"fmt"

	"github.com/aweris/codex-go/internal/native"
)

// NativeError is a failure reported by the engine through a callback.
type NativeError struct {
	Status  native.Status
	Message string
}

func (e *NativeError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("native call failed (%s)", e.Status)
	}
	return e.Message
}

// RejectedError means the engine refused the call synchronously and no
// callback will ever fire for it.
type RejectedError struct {
	Op     string
	Status native.Status
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s: call rejected (%s)", e.Op, e.Status)
}
