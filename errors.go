package codex

import (
	"context"
	"errors"
	"fmt"

	"github.com/aweris/codex-go/internal/bridge"
)

var (
	ErrInvalidParameter = errors.New("codex: invalid parameter")
	ErrInvalidState     = errors.New("codex: invalid state")
	ErrCallRejected     = errors.New("codex: call rejected")
	ErrNativeFailure    = errors.New("codex: native failure")
	ErrNodeDestroyed    = errors.New("codex: node destroyed")
)

// ErrorKind classifies an Error.
type ErrorKind int

const (
	// KindInvalidParameter: an argument failed validation; nothing was sent
	// to the engine.
	KindInvalidParameter ErrorKind = iota + 1
	// KindState: the node is not in a state that allows the operation.
	KindState
	// KindCallRejected: the engine refused the call; no callback will fire.
	KindCallRejected
	// KindNative: the engine reported a failure through the callback.
	KindNative
	// KindDecode: the engine answered with a payload that could not be parsed.
	KindDecode
	// KindIO: a local read or write around the call failed.
	KindIO
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidParameter:
		return "invalid parameter"
	case KindState:
		return "invalid state"
	case KindCallRejected:
		return "call rejected"
	case KindNative:
		return "native failure"
	case KindDecode:
		return "decode"
	case KindIO:
		return "io"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is returned by every node operation.
type Error struct {
	Kind  ErrorKind
	Op    string
	Param string
	Msg   string
	Err   error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	switch {
	case e.Param != "":
		return fmt.Sprintf("codex: %s: invalid %s: %s", e.Op, e.Param, msg)
	case msg == "":
		return fmt.Sprintf("codex: %s: %s", e.Op, e.Kind)
	default:
		return fmt.Sprintf("codex: %s: %s", e.Op, msg)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the package sentinels by kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrInvalidParameter:
		return e.Kind == KindInvalidParameter
	case ErrInvalidState:
		return e.Kind == KindState
	case ErrCallRejected:
		return e.Kind == KindCallRejected
	case ErrNativeFailure:
		return e.Kind == KindNative
	}
	return false
}

func invalidParam(op, param, msg string) error {
	return &Error{Kind: KindInvalidParameter, Op: op, Param: param, Msg: msg}
}

func stateError(op, msg string) error {
	return &Error{Kind: KindState, Op: op, Msg: msg}
}

func destroyed(op string) error {
	return &Error{Kind: KindState, Op: op, Msg: "node has been destroyed", Err: ErrNodeDestroyed}
}

func decodeError(op string, err error) error {
	return &Error{Kind: KindDecode, Op: op, Msg: "decode response: " + err.Error(), Err: err}
}

func ioError(op string, err error) error {
	return &Error{Kind: KindIO, Op: op, Err: err}
}

// callError maps a bridge outcome onto Error. Context errors pass through
// unchanged so callers can match them directly.
func callError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var rejected *bridge.RejectedError
	if errors.As(err, &rejected) {
		return &Error{Kind: KindCallRejected, Op: op, Err: err}
	}
	return &Error{Kind: KindNative, Op: op, Err: err}
}
