// Package native describes the surface of the Codex engine library.
//
// The engine is not reentrant. Every entry point either rejects the call
// synchronously with a non-zero Status (no callback will fire) or accepts it
// and later reports the outcome through the Callback it was given, from the
// engine's own thread. Callers own every Buffer they allocate and must
// release it once the call returns.
package native

import (
	"fmt"
	"unsafe"
)

// Status is the return code of an entry point and of a callback invocation.
type Status int

const (
	StatusOK              Status = 0
	StatusErr             Status = 1
	StatusMissingCallback Status = 2
	StatusProgress        Status = 3
)

// Terminal reports whether a callback with this status completes the call.
func (s Status) Terminal() bool { return s != StatusProgress }

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusErr:
		return "error"
	case StatusMissingCallback:
		return "missing-callback"
	case StatusProgress:
		return "progress"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Context is the opaque per-node handle returned by Library.New.
type Context = unsafe.Pointer

// Buffer is a string owned by the library's allocator.
type Buffer = unsafe.Pointer

// Callback is the single trampoline shape shared by every entry point.
// payload is a copy owned by Go; length is the length reported by the engine
// and may be non-zero with an empty payload for progress notifications.
type Callback func(status Status, payload []byte, length int, userData uintptr)

// Marshaler converts Go strings into library-owned buffers.
type Marshaler interface {
	ToBuffer(s string) Buffer
	Release(b Buffer)
}

// Library is the full set of engine entry points.
type Library interface {
	Marshaler

	New(config Buffer, cb Callback, userData uintptr) Context
	Start(ctx Context, cb Callback, userData uintptr) Status
	Stop(ctx Context, cb Callback, userData uintptr) Status
	Close(ctx Context, cb Callback, userData uintptr) Status
	Destroy(ctx Context, cb Callback, userData uintptr) Status

	Version(ctx Context, cb Callback, userData uintptr) Status
	Revision(ctx Context, cb Callback, userData uintptr) Status
	Repo(ctx Context, cb Callback, userData uintptr) Status
	Debug(ctx Context, cb Callback, userData uintptr) Status
	SPR(ctx Context, cb Callback, userData uintptr) Status
	PeerID(ctx Context, cb Callback, userData uintptr) Status
	LogLevel(ctx Context, level Buffer, cb Callback, userData uintptr) Status

	Connect(ctx Context, peerID Buffer, addrs []Buffer, cb Callback, userData uintptr) Status
	PeerDebug(ctx Context, peerID Buffer, cb Callback, userData uintptr) Status

	UploadInit(ctx Context, filepath Buffer, chunkSize int, cb Callback, userData uintptr) Status
	UploadChunk(ctx Context, sessionID Buffer, chunk []byte, cb Callback, userData uintptr) Status
	UploadFinalize(ctx Context, sessionID Buffer, cb Callback, userData uintptr) Status
	UploadCancel(ctx Context, sessionID Buffer, cb Callback, userData uintptr) Status
	UploadFile(ctx Context, sessionID Buffer, cb Callback, userData uintptr) Status

	DownloadInit(ctx Context, cid Buffer, chunkSize int, local bool, cb Callback, userData uintptr) Status
	DownloadChunk(ctx Context, cid Buffer, cb Callback, userData uintptr) Status
	DownloadStream(ctx Context, cid Buffer, chunkSize int, local bool, filepath Buffer, cb Callback, userData uintptr) Status
	DownloadCancel(ctx Context, cid Buffer, cb Callback, userData uintptr) Status
	DownloadManifest(ctx Context, cid Buffer, cb Callback, userData uintptr) Status

	StorageList(ctx Context, cb Callback, userData uintptr) Status
	StorageSpace(ctx Context, cb Callback, userData uintptr) Status
	StorageDelete(ctx Context, cid Buffer, cb Callback, userData uintptr) Status
	StorageFetch(ctx Context, cid Buffer, cb Callback, userData uintptr) Status
	StorageExists(ctx Context, cid Buffer, cb Callback, userData uintptr) Status
}
