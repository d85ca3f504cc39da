package sim

import (
	"fmt"

	"github.com/aweris/codex-go/internal/native"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
)

type peerRecord struct {
	PeerID    string   `json:"peerId"`
	SeqNo     uint64   `json:"seqNo"`
	Addresses []string `json:"addresses"`
}

// Connect links two started nodes of the same Library. The dialled
// addresses only need to parse.
func (l *Library) Connect(ctx native.Context, peerBuf native.Buffer, addrBufs []native.Buffer, cb native.Callback, ud uintptr) native.Status {
	id, _ := l.str(peerBuf)
	addrs := make([]string, 0, len(addrBufs))
	for _, b := range addrBufs {
		s, _ := l.str(b)
		addrs = append(addrs, s)
	}

	return l.dispatch("connect", ctx, true, cb, ud, func(e *engine, _ func(int, []byte)) (native.Status, []byte) {
		pid, err := peer.Decode(id)
		if err != nil {
			return fail(fmt.Sprintf("invalid peer id: %v", err))
		}
		if len(addrs) == 0 {
			return fail("no addresses to dial")
		}
		for _, a := range addrs {
			if _, err := ma.NewMultiaddr(a); err != nil {
				return fail(fmt.Sprintf("invalid address %q: %v", a, err))
			}
		}
		if pid.String() == e.peerID() {
			return fail("cannot dial self")
		}

		remote := l.peer(e, pid.String())
		if remote == nil {
			return fail("failed to dial " + pid.String())
		}

		e.mu.Lock()
		if limit := e.cfg.MaxPeers; limit > 0 && len(e.peers) >= limit {
			e.mu.Unlock()
			return fail("too many peers")
		}
		e.peers[pid.String()] = remote
		self := e.id.String()
		e.mu.Unlock()

		remote.mu.Lock()
		remote.peers[self] = e
		remote.mu.Unlock()

		e.log.WithField("remote", pid.String()).Debug("Connected")
		return ok("")
	})
}

func (l *Library) PeerDebug(ctx native.Context, peerBuf native.Buffer, cb native.Callback, ud uintptr) native.Status {
	id, _ := l.str(peerBuf)
	return l.dispatch("peer_debug", ctx, true, cb, ud, func(e *engine, _ func(int, []byte)) (native.Status, []byte) {
		e.mu.Lock()
		remote := e.peers[id]
		e.mu.Unlock()
		if remote == nil {
			return fail("peer not found: " + id)
		}

		remote.mu.Lock()
		seq := remote.seq
		remote.mu.Unlock()
		return okJSON(peerRecord{PeerID: id, SeqNo: seq, Addresses: remote.addrStrings()})
	})
}
