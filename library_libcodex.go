//go:build libcodex && cgo

package codex

import "github.com/aweris/codex-go/internal/native"

func defaultLibrary() native.Library { return native.LibCodex() }
