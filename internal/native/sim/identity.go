package sim

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/record"
)

// loadOrCreateKey reads a base64 libp2p private key from path, generating
// and persisting an Ed25519 key when none exists.
func loadOrCreateKey(path string) (crypto.PrivKey, error) {
	if b, err := os.ReadFile(path); err == nil {
		raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(b)))
		if err != nil {
			return nil, fmt.Errorf("decode key: %w", err)
		}
		return crypto.UnmarshalPrivateKey(raw)
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	priv, _, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, err
	}
	raw, err := crypto.MarshalPrivateKey(priv)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, []byte(base64.StdEncoding.EncodeToString(raw)), 0o600); err != nil {
		return nil, err
	}
	return priv, nil
}

// signedRecord returns the node's signed peer record in "spr:" text form.
func (e *engine) signedRecord() (string, error) {
	e.mu.Lock()
	rec := peer.PeerRecordFromAddrInfo(peer.AddrInfo{ID: e.id, Addrs: e.addrs})
	rec.Seq = e.seq
	key := e.key
	e.mu.Unlock()

	env, err := record.Seal(rec, key)
	if err != nil {
		return "", fmt.Errorf("seal peer record: %w", err)
	}
	data, err := env.Marshal()
	if err != nil {
		return "", err
	}
	return "spr:" + base64.RawURLEncoding.EncodeToString(data), nil
}

func (e *engine) addrStrings() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.addrs))
	for i, a := range e.addrs {
		out[i] = a.String()
	}
	return out
}
