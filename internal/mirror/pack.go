package mirror

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sort"
)

const (
	LayerMinSize = 2 * 1024 * 1024  // 2MB minimum before combining
	LayerSoftMax = 10 * 1024 * 1024 // 10MB soft maximum
)

// PackLayer packs blobs into binary format: [keyLen 2B][key][length 8B][data]...
// Keys are written in sorted order so equal inputs give equal layers.
func PackLayer(blobs map[string][]byte) ([]byte, error) {
	keys := make([]string, 0, len(blobs))
	for k := range blobs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	var hdr [8]byte
	for _, key := range keys {
		if key == "" || len(key) > math.MaxUint16 {
			return nil, fmt.Errorf("invalid key length %d", len(key))
		}
		data := blobs[key]

		binary.BigEndian.PutUint16(hdr[:2], uint16(len(key)))
		buf.Write(hdr[:2])
		buf.WriteString(key)

		binary.BigEndian.PutUint64(hdr[:], uint64(len(data)))
		buf.Write(hdr[:])
		buf.Write(data)
	}
	return buf.Bytes(), nil
}

func UnpackLayer(data []byte) (map[string][]byte, error) {
	result := make(map[string][]byte)
	r := bytes.NewReader(data)

	for r.Len() > 0 {
		var keyLen uint16
		if err := binary.Read(r, binary.BigEndian, &keyLen); err != nil {
			return nil, fmt.Errorf("read key length: %w", err)
		}
		if keyLen == 0 {
			return nil, fmt.Errorf("empty key")
		}
		key := make([]byte, keyLen)
		if _, err := io.ReadFull(r, key); err != nil {
			return nil, fmt.Errorf("read key: %w", err)
		}

		var length uint64
		if err := binary.Read(r, binary.BigEndian, &length); err != nil {
			return nil, fmt.Errorf("read length: %w", err)
		}
		if length > uint64(r.Len()) {
			return nil, fmt.Errorf("blob %s: length %d exceeds layer", key, length)
		}

		blob := make([]byte, length)
		if _, err := io.ReadFull(r, blob); err != nil {
			return nil, fmt.Errorf("read data: %w", err)
		}
		result[string(key)] = blob
	}

	return result, nil
}

// BuildLayerPlan groups keys into layers of roughly LayerSoftMax bytes.
// A key larger than the soft maximum gets a layer of its own.
func BuildLayerPlan(sizes map[string]int64) [][]string {
	keys := make([]string, 0, len(sizes))
	for k := range sizes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var layers [][]string
	var current []string
	var size int64

	for _, key := range keys {
		keySize := sizes[key]

		if len(current) == 0 {
			current = append(current, key)
			size = keySize
			continue
		}

		newSize := size + keySize
		if newSize <= LayerSoftMax {
			current = append(current, key)
			size = newSize
		} else if size < LayerMinSize && newSize <= 2*LayerSoftMax {
			current = append(current, key)
			size = newSize
		} else {
			layers = append(layers, current)
			current = []string{key}
			size = keySize
		}
	}

	if len(current) > 0 {
		layers = append(layers, current)
	}

	return layers
}
