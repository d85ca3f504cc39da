package compression

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressorRoundTrip(t *testing.T) {
	c, err := NewCompressor(2, true)
	require.NoError(t, err)
	defer c.Close()

	random := make([]byte, 4096)
	_, err = rand.Read(random)
	require.NoError(t, err)

	tests := []struct {
		name   string
		data   []byte
		shrink bool
	}{
		{name: "empty", data: []byte{}},
		{name: "small", data: []byte("hello codex")},
		{name: "repetitive", data: bytes.Repeat([]byte("codex "), 1024), shrink: true},
		{name: "random", data: random},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stored := c.Compress(tt.data)
			if tt.shrink {
				assert.Less(t, len(stored), len(tt.data))
			}

			got, err := c.Decompress(stored)
			require.NoError(t, err)
			assert.Equal(t, len(tt.data), len(got))
			assert.True(t, bytes.Equal(tt.data, got))
		})
	}
}

func TestCompressorDisabled(t *testing.T) {
	c, err := NewCompressor(0, false)
	require.NoError(t, err)

	data := bytes.Repeat([]byte("a"), 1024)
	stored := c.Compress(data)
	assert.Equal(t, len(data)+1, len(stored))

	got, err := c.Decompress(stored)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	_, err = c.Decompress([]byte{markerZstd, 0x00})
	assert.Error(t, err)
}

func TestDecompressRejectsGarbage(t *testing.T) {
	c, err := NewCompressor(1, true)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Decompress(nil)
	assert.Error(t, err)

	_, err = c.Decompress([]byte{0x7f, 1, 2, 3})
	assert.Error(t, err)
}
