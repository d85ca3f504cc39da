//go:build libcodex && cgo

package native

/*
#cgo LDFLAGS: -lcodex
#cgo linux LDFLAGS: -lm -ldl -lpthread

#include <stdbool.h>
#include <stdint.h>
#include <stdlib.h>

typedef void (*CodexCallback)(int callerRet, const char* msg, size_t len, void* userData);

extern void codexGoCallback(int, char*, size_t, void*);

static CodexCallback codex_trampoline(void) { return (CodexCallback)codexGoCallback; }
static void* codex_user_data(uintptr_t h) { return (void*)h; }

void* codex_new(const char* configJson, CodexCallback callback, void* userData);
int codex_start(void* ctx, CodexCallback callback, void* userData);
int codex_stop(void* ctx, CodexCallback callback, void* userData);
int codex_close(void* ctx, CodexCallback callback, void* userData);
int codex_destroy(void* ctx, CodexCallback callback, void* userData);

int codex_version(void* ctx, CodexCallback callback, void* userData);
int codex_revision(void* ctx, CodexCallback callback, void* userData);
int codex_repo(void* ctx, CodexCallback callback, void* userData);
int codex_debug(void* ctx, CodexCallback callback, void* userData);
int codex_spr(void* ctx, CodexCallback callback, void* userData);
int codex_peer_id(void* ctx, CodexCallback callback, void* userData);
int codex_log_level(void* ctx, const char* logLevel, CodexCallback callback, void* userData);

int codex_connect(void* ctx, const char* peerId, const char** peerAddresses, size_t peerAddressesSize, CodexCallback callback, void* userData);
int codex_peer_debug(void* ctx, const char* peerId, CodexCallback callback, void* userData);

int codex_upload_init(void* ctx, const char* filepath, size_t chunkSize, CodexCallback callback, void* userData);
int codex_upload_chunk(void* ctx, const char* sessionId, const uint8_t* chunk, size_t len, CodexCallback callback, void* userData);
int codex_upload_finalize(void* ctx, const char* sessionId, CodexCallback callback, void* userData);
int codex_upload_cancel(void* ctx, const char* sessionId, CodexCallback callback, void* userData);
int codex_upload_file(void* ctx, const char* sessionId, CodexCallback callback, void* userData);

int codex_download_init(void* ctx, const char* cid, size_t chunkSize, bool local, CodexCallback callback, void* userData);
int codex_download_chunk(void* ctx, const char* cid, CodexCallback callback, void* userData);
int codex_download_stream(void* ctx, const char* cid, size_t chunkSize, bool local, const char* filepath, CodexCallback callback, void* userData);
int codex_download_cancel(void* ctx, const char* cid, CodexCallback callback, void* userData);
int codex_download_manifest(void* ctx, const char* cid, CodexCallback callback, void* userData);

int codex_storage_list(void* ctx, CodexCallback callback, void* userData);
int codex_storage_space(void* ctx, CodexCallback callback, void* userData);
int codex_storage_delete(void* ctx, const char* cid, CodexCallback callback, void* userData);
int codex_storage_fetch(void* ctx, const char* cid, CodexCallback callback, void* userData);
int codex_storage_exists(void* ctx, const char* cid, CodexCallback callback, void* userData);
*/
import "C"

import (
	"sync"
	"unsafe"
)

// callbacks maps the user data handed to libcodex back to the Go callback.
// Entries are removed on the first terminal status.
var (
	callbackMu sync.RWMutex
	callbacks  = map[uintptr]Callback{}
)

func registerCallback(userData uintptr, cb Callback) {
	callbackMu.Lock()
	callbacks[userData] = cb
	callbackMu.Unlock()
}

func unregisterCallback(userData uintptr) {
	callbackMu.Lock()
	delete(callbacks, userData)
	callbackMu.Unlock()
}

func lookupCallback(userData uintptr, terminal bool) Callback {
	if terminal {
		callbackMu.Lock()
		defer callbackMu.Unlock()
		cb := callbacks[userData]
		delete(callbacks, userData)
		return cb
	}
	callbackMu.RLock()
	defer callbackMu.RUnlock()
	return callbacks[userData]
}

type libcodex struct{}

// LibCodex returns the cgo binding to libcodex.
func LibCodex() Library { return libcodex{} }

func cstr(b Buffer) *C.char { return (*C.char)(b) }

// call hands the shared trampoline to fn unless cb is nil, in which case the
// engine receives no callback at all.
func call(cb Callback, userData uintptr, fn func(C.CodexCallback, unsafe.Pointer) C.int) Status {
	if cb == nil {
		return Status(fn(nil, nil))
	}
	registerCallback(userData, cb)
	st := Status(fn(C.codex_trampoline(), C.codex_user_data(C.uintptr_t(userData))))
	if st != StatusOK {
		unregisterCallback(userData)
	}
	return st
}

func (libcodex) ToBuffer(s string) Buffer { return Buffer(C.CString(s)) }

func (libcodex) Release(b Buffer) {
	if b != nil {
		C.free(b)
	}
}

func (libcodex) New(config Buffer, cb Callback, userData uintptr) Context {
	var ctx unsafe.Pointer
	st := call(cb, userData, func(f C.CodexCallback, ud unsafe.Pointer) C.int {
		ctx = C.codex_new(cstr(config), f, ud)
		if ctx == nil {
			return C.int(StatusErr)
		}
		return C.int(StatusOK)
	})
	if st != StatusOK {
		return nil
	}
	return ctx
}

func (libcodex) Start(ctx Context, cb Callback, userData uintptr) Status {
	return call(cb, userData, func(f C.CodexCallback, ud unsafe.Pointer) C.int { return C.codex_start(ctx, f, ud) })
}

func (libcodex) Stop(ctx Context, cb Callback, userData uintptr) Status {
	return call(cb, userData, func(f C.CodexCallback, ud unsafe.Pointer) C.int { return C.codex_stop(ctx, f, ud) })
}

func (libcodex) Close(ctx Context, cb Callback, userData uintptr) Status {
	return call(cb, userData, func(f C.CodexCallback, ud unsafe.Pointer) C.int { return C.codex_close(ctx, f, ud) })
}

func (libcodex) Destroy(ctx Context, cb Callback, userData uintptr) Status {
	return call(cb, userData, func(f C.CodexCallback, ud unsafe.Pointer) C.int { return C.codex_destroy(ctx, f, ud) })
}

func (libcodex) Version(ctx Context, cb Callback, userData uintptr) Status {
	return call(cb, userData, func(f C.CodexCallback, ud unsafe.Pointer) C.int { return C.codex_version(ctx, f, ud) })
}

func (libcodex) Revision(ctx Context, cb Callback, userData uintptr) Status {
	return call(cb, userData, func(f C.CodexCallback, ud unsafe.Pointer) C.int { return C.codex_revision(ctx, f, ud) })
}

func (libcodex) Repo(ctx Context, cb Callback, userData uintptr) Status {
	return call(cb, userData, func(f C.CodexCallback, ud unsafe.Pointer) C.int { return C.codex_repo(ctx, f, ud) })
}

func (libcodex) Debug(ctx Context, cb Callback, userData uintptr) Status {
	return call(cb, userData, func(f C.CodexCallback, ud unsafe.Pointer) C.int { return C.codex_debug(ctx, f, ud) })
}

func (libcodex) SPR(ctx Context, cb Callback, userData uintptr) Status {
	return call(cb, userData, func(f C.CodexCallback, ud unsafe.Pointer) C.int { return C.codex_spr(ctx, f, ud) })
}

func (libcodex) PeerID(ctx Context, cb Callback, userData uintptr) Status {
	return call(cb, userData, func(f C.CodexCallback, ud unsafe.Pointer) C.int { return C.codex_peer_id(ctx, f, ud) })
}

func (libcodex) LogLevel(ctx Context, level Buffer, cb Callback, userData uintptr) Status {
	return call(cb, userData, func(f C.CodexCallback, ud unsafe.Pointer) C.int {
		return C.codex_log_level(ctx, cstr(level), f, ud)
	})
}

func (libcodex) Connect(ctx Context, peerID Buffer, addrs []Buffer, cb Callback, userData uintptr) Status {
	var arr **C.char
	if len(addrs) > 0 {
		mem := C.malloc(C.size_t(len(addrs)) * C.size_t(unsafe.Sizeof(uintptr(0))))
		defer C.free(mem)
		slots := unsafe.Slice((**C.char)(mem), len(addrs))
		for i, a := range addrs {
			slots[i] = cstr(a)
		}
		arr = (**C.char)(mem)
	}
	return call(cb, userData, func(f C.CodexCallback, ud unsafe.Pointer) C.int {
		return C.codex_connect(ctx, cstr(peerID), arr, C.size_t(len(addrs)), f, ud)
	})
}

func (libcodex) PeerDebug(ctx Context, peerID Buffer, cb Callback, userData uintptr) Status {
	return call(cb, userData, func(f C.CodexCallback, ud unsafe.Pointer) C.int {
		return C.codex_peer_debug(ctx, cstr(peerID), f, ud)
	})
}

func (libcodex) UploadInit(ctx Context, filepath Buffer, chunkSize int, cb Callback, userData uintptr) Status {
	return call(cb, userData, func(f C.CodexCallback, ud unsafe.Pointer) C.int {
		return C.codex_upload_init(ctx, cstr(filepath), C.size_t(chunkSize), f, ud)
	})
}

func (libcodex) UploadChunk(ctx Context, sessionID Buffer, chunk []byte, cb Callback, userData uintptr) Status {
	var p *C.uint8_t
	if len(chunk) > 0 {
		p = (*C.uint8_t)(unsafe.Pointer(&chunk[0]))
	}
	return call(cb, userData, func(f C.CodexCallback, ud unsafe.Pointer) C.int {
		return C.codex_upload_chunk(ctx, cstr(sessionID), p, C.size_t(len(chunk)), f, ud)
	})
}

func (libcodex) UploadFinalize(ctx Context, sessionID Buffer, cb Callback, userData uintptr) Status {
	return call(cb, userData, func(f C.CodexCallback, ud unsafe.Pointer) C.int {
		return C.codex_upload_finalize(ctx, cstr(sessionID), f, ud)
	})
}

func (libcodex) UploadCancel(ctx Context, sessionID Buffer, cb Callback, userData uintptr) Status {
	return call(cb, userData, func(f C.CodexCallback, ud unsafe.Pointer) C.int {
		return C.codex_upload_cancel(ctx, cstr(sessionID), f, ud)
	})
}

func (libcodex) UploadFile(ctx Context, sessionID Buffer, cb Callback, userData uintptr) Status {
	return call(cb, userData, func(f C.CodexCallback, ud unsafe.Pointer) C.int {
		return C.codex_upload_file(ctx, cstr(sessionID), f, ud)
	})
}

func (libcodex) DownloadInit(ctx Context, cid Buffer, chunkSize int, local bool, cb Callback, userData uintptr) Status {
	return call(cb, userData, func(f C.CodexCallback, ud unsafe.Pointer) C.int {
		return C.codex_download_init(ctx, cstr(cid), C.size_t(chunkSize), C.bool(local), f, ud)
	})
}

func (libcodex) DownloadChunk(ctx Context, cid Buffer, cb Callback, userData uintptr) Status {
	return call(cb, userData, func(f C.CodexCallback, ud unsafe.Pointer) C.int {
		return C.codex_download_chunk(ctx, cstr(cid), f, ud)
	})
}

func (libcodex) DownloadStream(ctx Context, cid Buffer, chunkSize int, local bool, filepath Buffer, cb Callback, userData uintptr) Status {
	return call(cb, userData, func(f C.CodexCallback, ud unsafe.Pointer) C.int {
		return C.codex_download_stream(ctx, cstr(cid), C.size_t(chunkSize), C.bool(local), cstr(filepath), f, ud)
	})
}

func (libcodex) DownloadCancel(ctx Context, cid Buffer, cb Callback, userData uintptr) Status {
	return call(cb, userData, func(f C.CodexCallback, ud unsafe.Pointer) C.int {
		return C.codex_download_cancel(ctx, cstr(cid), f, ud)
	})
}

func (libcodex) DownloadManifest(ctx Context, cid Buffer, cb Callback, userData uintptr) Status {
	return call(cb, userData, func(f C.CodexCallback, ud unsafe.Pointer) C.int {
		return C.codex_download_manifest(ctx, cstr(cid), f, ud)
	})
}

func (libcodex) StorageList(ctx Context, cb Callback, userData uintptr) Status {
	return call(cb, userData, func(f C.CodexCallback, ud unsafe.Pointer) C.int { return C.codex_storage_list(ctx, f, ud) })
}

func (libcodex) StorageSpace(ctx Context, cb Callback, userData uintptr) Status {
	return call(cb, userData, func(f C.CodexCallback, ud unsafe.Pointer) C.int { return C.codex_storage_space(ctx, f, ud) })
}

func (libcodex) StorageDelete(ctx Context, cid Buffer, cb Callback, userData uintptr) Status {
	return call(cb, userData, func(f C.CodexCallback, ud unsafe.Pointer) C.int {
		return C.codex_storage_delete(ctx, cstr(cid), f, ud)
	})
}

func (libcodex) StorageFetch(ctx Context, cid Buffer, cb Callback, userData uintptr) Status {
	return call(cb, userData, func(f C.CodexCallback, ud unsafe.Pointer) C.int {
		return C.codex_storage_fetch(ctx, cstr(cid), f, ud)
	})
}

func (libcodex) StorageExists(ctx Context, cid Buffer, cb Callback, userData uintptr) Status {
	return call(cb, userData, func(f C.CodexCallback, ud unsafe.Pointer) C.int {
		return C.codex_storage_exists(ctx, cstr(cid), f, ud)
	})
}
