package sim

import (
	"strings"

	"github.com/aweris/codex-go/internal/native"
)

var logLevels = map[string]bool{
	"trace": true, "debug": true, "info": true, "notice": true,
	"warn": true, "error": true, "fatal": true,
}

type debugInfo struct {
	ID                string   `json:"id"`
	Addrs             []string `json:"addrs"`
	Repo              string   `json:"repo"`
	Spr               string   `json:"spr"`
	AnnounceAddresses []string `json:"announceAddresses"`
	LogLevel          string   `json:"logLevel"`
}

// getter builds an entry point that reads node identity.
func (l *Library) getter(op string, read func(e *engine) (native.Status, []byte)) func(native.Context, native.Callback, uintptr) native.Status {
	return func(ctx native.Context, cb native.Callback, ud uintptr) native.Status {
		return l.dispatch(op, ctx, false, cb, ud, func(e *engine, _ func(int, []byte)) (native.Status, []byte) {
			if !e.opened {
				return fail("node is not initialised")
			}
			return read(e)
		})
	}
}

func (l *Library) Version(ctx native.Context, cb native.Callback, ud uintptr) native.Status {
	return l.getter("version", func(*engine) (native.Status, []byte) { return ok(Version) })(ctx, cb, ud)
}

func (l *Library) Revision(ctx native.Context, cb native.Callback, ud uintptr) native.Status {
	return l.getter("revision", func(*engine) (native.Status, []byte) { return ok(Revision) })(ctx, cb, ud)
}

func (l *Library) Repo(ctx native.Context, cb native.Callback, ud uintptr) native.Status {
	return l.getter("repo", func(e *engine) (native.Status, []byte) { return ok(e.cfg.DataDir) })(ctx, cb, ud)
}

func (l *Library) PeerID(ctx native.Context, cb native.Callback, ud uintptr) native.Status {
	return l.getter("peer_id", func(e *engine) (native.Status, []byte) { return ok(e.peerID()) })(ctx, cb, ud)
}

func (l *Library) SPR(ctx native.Context, cb native.Callback, ud uintptr) native.Status {
	return l.getter("spr", func(e *engine) (native.Status, []byte) {
		spr, err := e.signedRecord()
		if err != nil {
			return fail(err.Error())
		}
		return ok(spr)
	})(ctx, cb, ud)
}

func (l *Library) Debug(ctx native.Context, cb native.Callback, ud uintptr) native.Status {
	return l.getter("debug", func(e *engine) (native.Status, []byte) {
		spr, err := e.signedRecord()
		if err != nil {
			return fail(err.Error())
		}
		addrs := e.addrStrings()
		return okJSON(debugInfo{
			ID:                e.peerID(),
			Addrs:             addrs,
			Repo:              e.cfg.DataDir,
			Spr:               spr,
			AnnounceAddresses: addrs,
			LogLevel:          e.logLevel,
		})
	})(ctx, cb, ud)
}

func (l *Library) LogLevel(ctx native.Context, level native.Buffer, cb native.Callback, ud uintptr) native.Status {
	lvl, _ := l.str(level)
	return l.getter("log_level", func(e *engine) (native.Status, []byte) {
		lvl = strings.ToLower(lvl)
		if !logLevels[lvl] {
			return fail("invalid log level: " + lvl)
		}
		e.logLevel = lvl
		return ok("")
	})(ctx, cb, ud)
}
