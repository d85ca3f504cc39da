//go:build !libcodex || !cgo

package codex

import (
	"sync"

	"github.com/aweris/codex-go/internal/native"
	"github.com/aweris/codex-go/internal/native/sim"
)

// Without libcodex every node runs on one shared in-process engine, so
// nodes created in the same process can connect to each other.
var defaultLibrary = sync.OnceValue(func() native.Library { return sim.New() })
