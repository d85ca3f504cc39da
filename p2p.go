package codex

import (
	"context"
	"fmt"
	"strings"

	"github.com/aweris/codex-go/internal/native"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/sourcegraph/conc/iter"
)

var peerIDPrefixes = []string{
	"12D3KooW", // Ed25519 public key
	"Qm",       // CIDv0
	"bafy",
	"bafk",
}

// ValidatePeerID checks the textual form of a peer id.
func ValidatePeerID(peerID string) error {
	const op, param = "connect", "peer_id"
	switch {
	case peerID == "":
		return invalidParam(op, param, "peer ID cannot be empty")
	case len(peerID) < 10:
		return invalidParam(op, param, "peer ID is too short")
	case len(peerID) > 100:
		return invalidParam(op, param, "peer ID is too long")
	}
	for _, p := range peerIDPrefixes {
		if strings.HasPrefix(peerID, p) {
			return nil
		}
	}
	return invalidParam(op, param, "peer ID has invalid format or prefix")
}

// ValidateAddresses checks that addrs is non-empty and every entry is a
// multiaddr.
func ValidateAddresses(addrs []string) error {
	const op = "connect"
	if len(addrs) == 0 {
		return invalidParam(op, "addresses", "at least one address must be provided")
	}
	for i, a := range addrs {
		param := fmt.Sprintf("addresses[%d]", i)
		if a == "" {
			return invalidParam(op, param, "address cannot be empty")
		}
		if _, err := ma.NewMultiaddr(a); err != nil {
			return invalidParam(op, param, err.Error())
		}
	}
	return nil
}

// Connect dials a peer at the given addresses.
func (n *Node) Connect(ctx context.Context, peerID string, addrs []string) error {
	const op = "connect"
	if err := ValidatePeerID(peerID); err != nil {
		return err
	}
	if err := ValidateAddresses(addrs); err != nil {
		return err
	}

	_, err := n.do(ctx, op, nil, func(lib native.Library, nc native.Context, cb native.Callback, ud uintptr) native.Status {
		id := lib.ToBuffer(peerID)
		defer lib.Release(id)
		bufs := make([]native.Buffer, len(addrs))
		for i, a := range addrs {
			bufs[i] = lib.ToBuffer(a)
		}
		defer func() {
			for _, b := range bufs {
				lib.Release(b)
			}
		}()
		return lib.Connect(nc, id, bufs, cb, ud)
	})
	return err
}

// PeerAddrs names a peer and where to reach it.
type PeerAddrs struct {
	PeerID string
	Addrs  []string
}

// ConnectAll dials every peer concurrently. The result has one entry per
// input, in input order; nil means connected.
func (n *Node) ConnectAll(ctx context.Context, peers []PeerAddrs) []error {
	return iter.Map(peers, func(p *PeerAddrs) error {
		return n.Connect(ctx, p.PeerID, p.Addrs)
	})
}

// PeerDebug returns what the node knows about a connected peer.
func (n *Node) PeerDebug(ctx context.Context, peerID string) (PeerRecord, error) {
	const op = "peer_debug"
	var rec PeerRecord
	if err := ValidatePeerID(peerID); err != nil {
		return rec, err
	}
	err := n.getJSON(ctx, op, func(lib native.Library, nc native.Context, cb native.Callback, ud uintptr) native.Status {
		buf := lib.ToBuffer(peerID)
		defer lib.Release(buf)
		return lib.PeerDebug(nc, buf, cb, ud)
	}, &rec)
	return rec, err
}
