// Package compression wraps zstd for block storage.
package compression

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// minSize is the smallest block worth compressing.
const minSize = 128

// Stored blocks carry a one byte marker ahead of the payload.
const (
	markerRaw  byte = 0
	markerZstd byte = 1
)

type Compressor struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	enabled bool
}

// NewCompressor returns a compressor for level 1 (fastest) to 3 (best).
// A disabled compressor stores data as is.
func NewCompressor(level int, enabled bool) (*Compressor, error) {
	if !enabled {
		return &Compressor{enabled: false}, nil
	}

	var encoderLevel zstd.EncoderLevel
	switch level {
	case 1:
		encoderLevel = zstd.SpeedFastest
	case 3:
		encoderLevel = zstd.SpeedBetterCompression
	default:
		encoderLevel = zstd.SpeedDefault
	}

	encoder, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(encoderLevel),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		return nil, err
	}

	decoder, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		encoder.Close()
		return nil, err
	}

	return &Compressor{
		encoder: encoder,
		decoder: decoder,
		enabled: true,
	}, nil
}

// Compress frames data for storage. Small or incompressible data is kept raw.
func (c *Compressor) Compress(data []byte) []byte {
	if c.enabled && len(data) >= minSize {
		compressed := c.encoder.EncodeAll(data, []byte{markerZstd})
		if len(compressed) < len(data)+1 {
			return compressed
		}
	}
	return append([]byte{markerRaw}, data...)
}

// Decompress reverses Compress.
func (c *Compressor) Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty block")
	}
	switch data[0] {
	case markerRaw:
		return data[1:], nil
	case markerZstd:
		if !c.enabled {
			return nil, fmt.Errorf("compressed block but compression is disabled")
		}
		return c.decoder.DecodeAll(data[1:], nil)
	}
	return nil, fmt.Errorf("unknown block marker %#x", data[0])
}

func (c *Compressor) Close() error {
	if c.encoder != nil {
		c.encoder.Close()
	}
	if c.decoder != nil {
		c.decoder.Close()
	}
	return nil
}
