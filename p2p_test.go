package codex

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/aweris/codex-go/internal/native/sim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePeerID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"ed25519", "12D3KooWHYDD5Pv1HLdYqPvc6bEXcYQcCyj6cBPfUcsGaG6ThoFM", false},
		{"cidv0", "QmYyQSo1c1Ym7orWxLYvCrM2EmxFTANf8wXmmE7DWjhx5N", false},
		{"cidv1", "bafzbeie5745rpv2m6tjyuugywy4d5ewrqgqqhfnf445he3omzpjbx5xqxe", true},
		{"bafy", "bafybeigdyrzt5sfp7udm7hu76uh7y26nf3efuylqabf3oclgtqy55fbzdi", false},
		{"empty", "", true},
		{"too short", "12D3Koo", true},
		{"too long", "12D3KooW" + strings.Repeat("a", 100), true},
		{"unknown prefix", "zQ3shokFTS3brHcDQrn82RUDfCZESWL1ZdCEJwekUDPQiYBme", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePeerID(tt.id)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidParameter)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateAddresses(t *testing.T) {
	tests := []struct {
		name      string
		addrs     []string
		wantParam string
	}{
		{"valid", []string{"/ip4/127.0.0.1/tcp/8070", "/dns4/codex.example/tcp/443"}, ""},
		{"none", nil, "addresses"},
		{"empty entry", []string{"/ip4/127.0.0.1/tcp/8070", ""}, "addresses[1]"},
		{"garbage", []string{"not-a-multiaddr"}, "addresses[0]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAddresses(tt.addrs)
			if tt.wantParam == "" {
				assert.NoError(t, err)
				return
			}
			var cerr *Error
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, KindInvalidParameter, cerr.Kind)
			assert.Equal(t, tt.wantParam, cerr.Param)
		})
	}
}

func TestConnectAndFetch(t *testing.T) {
	lib := sim.New()
	a := startedNode(t, lib)
	b := startedNode(t, lib)
	ctx := context.Background()

	data := sample(70_000)
	cid, err := a.UploadReader(ctx, bytes.NewReader(data), UploadOptions{Filepath: "shared.bin"})
	require.NoError(t, err)

	info, err := a.Debug(ctx)
	require.NoError(t, err)
	require.NoError(t, b.Connect(ctx, info.ID, info.Addrs))

	rec, err := b.PeerDebug(ctx, info.ID)
	require.NoError(t, err)
	assert.Equal(t, info.ID, rec.PeerID)
	assert.Equal(t, info.Addrs, rec.Addresses)

	exists, err := b.Exists(ctx, cid)
	require.NoError(t, err)
	assert.False(t, exists)

	m, err := b.Fetch(ctx, cid)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), m.DatasetSize)

	var buf bytes.Buffer
	_, err = b.DownloadStream(ctx, cid, &buf, DownloadOptions{Local: true})
	require.NoError(t, err)
	assert.Equal(t, data, buf.Bytes())

	assertClean(t, lib)
}

func TestConnectFailures(t *testing.T) {
	lib := sim.New()
	a := startedNode(t, lib)
	ctx := context.Background()

	self, err := a.PeerID(ctx)
	require.NoError(t, err)
	err = a.Connect(ctx, self, []string{"/ip4/127.0.0.1/tcp/0"})
	assert.ErrorIs(t, err, ErrNativeFailure)

	stopped := newTestNode(t, lib)
	other, err := stopped.PeerID(ctx)
	require.NoError(t, err)
	err = a.Connect(ctx, other, []string{"/ip4/127.0.0.1/tcp/0"})
	assert.ErrorIs(t, err, ErrNativeFailure, "a stopped node cannot be dialled")

	before := lib.Calls("connect")
	err = a.Connect(ctx, "garbage", []string{"/ip4/127.0.0.1/tcp/0"})
	assert.ErrorIs(t, err, ErrInvalidParameter)
	err = a.Connect(ctx, other, nil)
	assert.ErrorIs(t, err, ErrInvalidParameter)
	assert.Equal(t, before, lib.Calls("connect"), "invalid input must not reach the engine")
}

func TestConnectAll(t *testing.T) {
	lib := sim.New()
	a := startedNode(t, lib)
	b := startedNode(t, lib)
	c := startedNode(t, lib)
	ctx := context.Background()

	var peers []PeerAddrs
	for _, n := range []*Node{b, c} {
		info, err := n.Debug(ctx)
		require.NoError(t, err)
		peers = append(peers, PeerAddrs{PeerID: info.ID, Addrs: info.Addrs})
	}
	peers = append(peers, PeerAddrs{PeerID: "bogus"})

	errs := a.ConnectAll(ctx, peers)
	require.Len(t, errs, 3)
	assert.NoError(t, errs[0])
	assert.NoError(t, errs[1])
	assert.ErrorIs(t, errs[2], ErrInvalidParameter)
	assertClean(t, lib)
}

func TestPeerDebugUnknownPeer(t *testing.T) {
	lib := sim.New()
	a := startedNode(t, lib)

	_, err := a.PeerDebug(context.Background(), "12D3KooWHYDD5Pv1HLdYqPvc6bEXcYQcCyj6cBPfUcsGaG6ThoFM")
	assert.ErrorIs(t, err, ErrNativeFailure)
}
