//go:build libcodex && cgo

package native

/*
#include <stddef.h>
*/
import "C"

import "unsafe"

// codexGoCallback is the C entry point registered with every libcodex call.
// The message stays owned by the engine, so it is copied before dispatch.
//
//export codexGoCallback
func codexGoCallback(ret C.int, msg *C.char, n C.size_t, userData unsafe.Pointer) {
	status := Status(ret)
	cb := lookupCallback(uintptr(userData), status.Terminal())
	if cb == nil {
		return
	}

	var payload []byte
	if msg != nil && n > 0 {
		payload = C.GoBytes(unsafe.Pointer(msg), C.int(n))
	}
	cb(status, payload, int(n), uintptr(userData))
}
