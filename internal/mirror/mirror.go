// Package mirror exports datasets to an OCI registry and imports them back.
//
// Datasets are packed into zstd layers by size plan. The dataset index lives
// in the image config labels so a pull knows what each layer carries before
// downloading it.
package mirror

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/empty"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/types"
	"github.com/klauspost/compress/zstd"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"
)

const (
	DefaultConcurrency = 4

	LabelDatasets = "dev.codex.datasets"
	LabelCount    = "dev.codex.count"
)

// Dataset is one exported upload with its content.
type Dataset struct {
	Cid      string
	Filename string
	Mimetype string
	Data     []byte
}

// Entry describes a dataset in the image labels.
type Entry struct {
	Cid      string `json:"cid"`
	Filename string `json:"filename,omitempty"`
	Mimetype string `json:"mimetype,omitempty"`
	Size     int64  `json:"size"`
	Layer    string `json:"layer"`
}

type Mirror struct {
	ref         name.Reference
	auth        Authenticator
	concurrency int
	log         *logrus.Entry
}

// New creates a mirror from a standard image ref (e.g. "ttl.sh/codex/data:v1").
func New(imageRef string, auth Authenticator, opts ...name.Option) (*Mirror, error) {
	opts = append([]name.Option{name.WithDefaultTag("latest")}, opts...)
	ref, err := name.ParseReference(imageRef, opts...)
	if err != nil {
		return nil, fmt.Errorf("invalid image ref %q: %w", imageRef, err)
	}
	return &Mirror{
		ref:         ref,
		auth:        auth,
		concurrency: DefaultConcurrency,
		log:         logrus.WithFields(logrus.Fields{"component": "mirror", "ref": ref.String()}),
	}, nil
}

// SetConcurrency sets the number of parallel layer transfers.
func (m *Mirror) SetConcurrency(n int) {
	if n > 0 {
		m.concurrency = n
	}
}

func (m *Mirror) String() string   { return m.ref.String() }
func (m *Mirror) Registry() string { return m.ref.Context().RegistryStr() }

// blobLayer implements v1.Layer with zstd compression for remote transfer
type blobLayer struct {
	compressed   []byte
	uncompressed []byte
}

var zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))

func newBlobLayer(data []byte) *blobLayer {
	return &blobLayer{
		compressed:   zstdEncoder.EncodeAll(data, nil),
		uncompressed: data,
	}
}

func (l *blobLayer) Digest() (v1.Hash, error) {
	h, _, err := v1.SHA256(bytes.NewReader(l.compressed))
	return h, err
}

func (l *blobLayer) DiffID() (v1.Hash, error) {
	h, _, err := v1.SHA256(bytes.NewReader(l.uncompressed))
	return h, err
}

func (l *blobLayer) Compressed() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(l.compressed)), nil
}
func (l *blobLayer) Uncompressed() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(l.uncompressed)), nil
}
func (l *blobLayer) Size() (int64, error)                { return int64(len(l.compressed)), nil }
func (l *blobLayer) MediaType() (types.MediaType, error) { return types.OCILayerZStd, nil }

// Push packs datasets into layers and writes the image. Datasets sharing a
// CID are stored once.
func (m *Mirror) Push(ctx context.Context, datasets []Dataset) ([]Entry, error) {
	byCid := make(map[string]Dataset, len(datasets))
	sizes := make(map[string]int64, len(datasets))
	for _, ds := range datasets {
		if ds.Cid == "" {
			return nil, fmt.Errorf("dataset without cid")
		}
		byCid[ds.Cid] = ds
		sizes[ds.Cid] = int64(len(ds.Data))
	}

	plan := BuildLayerPlan(sizes)
	m.log.WithFields(logrus.Fields{
		"datasets": len(byCid),
		"layers":   len(plan),
	}).Info("Packing datasets")

	layers := make([]v1.Layer, 0, len(plan))
	entries := make([]Entry, 0, len(byCid))
	var totalRaw, totalCompressed int64
	for _, group := range plan {
		blobs := make(map[string][]byte, len(group))
		for _, cid := range group {
			blobs[cid] = byCid[cid].Data
		}
		data, err := PackLayer(blobs)
		if err != nil {
			return nil, fmt.Errorf("pack layer: %w", err)
		}
		layer := newBlobLayer(data)
		digest, err := layer.Digest()
		if err != nil {
			return nil, fmt.Errorf("layer digest: %w", err)
		}
		totalRaw += int64(len(data))
		totalCompressed += int64(len(layer.compressed))

		layers = append(layers, layer)
		for _, cid := range group {
			ds := byCid[cid]
			entries = append(entries, Entry{
				Cid:      cid,
				Filename: ds.Filename,
				Mimetype: ds.Mimetype,
				Size:     int64(len(ds.Data)),
				Layer:    digest.String(),
			})
		}
	}

	m.log.WithFields(logrus.Fields{
		"raw_bytes":        totalRaw,
		"compressed_bytes": totalCompressed,
	}).Debug("Uploading layers")

	img, err := m.buildImage(layers, entries)
	if err != nil {
		return nil, fmt.Errorf("build image: %w", err)
	}
	if err := m.pushImage(ctx, img); err != nil {
		return nil, fmt.Errorf("push image: %w", err)
	}

	m.log.Info("Push complete")
	return entries, nil
}

func (m *Mirror) buildImage(layers []v1.Layer, entries []Entry) (v1.Image, error) {
	img := empty.Image

	if len(layers) > 0 {
		var err error
		img, err = mutate.AppendLayers(img, layers...)
		if err != nil {
			return nil, err
		}
	}

	cfg, err := img.ConfigFile()
	if err != nil {
		return nil, err
	}

	index, err := json.Marshal(entries)
	if err != nil {
		return nil, err
	}

	cfg.Config.Labels = map[string]string{
		LabelDatasets: string(index),
		LabelCount:    fmt.Sprint(len(entries)),
	}

	return mutate.ConfigFile(img, cfg)
}

func (m *Mirror) pushImage(ctx context.Context, img v1.Image) error {
	options := m.remoteOptions(ctx)
	options = append(options, remote.WithJobs(m.concurrency))
	_, err := retry(ctx, 3, func() (struct{}, error) {
		return struct{}{}, remote.Write(m.ref, img, options...)
	})
	return err
}

func (m *Mirror) image(ctx context.Context) (v1.Image, []Entry, error) {
	img, err := retry(ctx, 3, func() (v1.Image, error) {
		return remote.Image(m.ref, m.remoteOptions(ctx)...)
	})
	if err != nil {
		return nil, nil, fmt.Errorf("fetch image: %w", err)
	}

	cfg, err := img.ConfigFile()
	if err != nil {
		return nil, nil, fmt.Errorf("get config: %w", err)
	}

	index, ok := cfg.Config.Labels[LabelDatasets]
	if !ok {
		return nil, nil, fmt.Errorf("missing %s label", LabelDatasets)
	}
	var entries []Entry
	if err := json.Unmarshal([]byte(index), &entries); err != nil {
		return nil, nil, fmt.Errorf("parse dataset index: %w", err)
	}
	return img, entries, nil
}

// List returns the dataset index without downloading any layer.
func (m *Mirror) List(ctx context.Context) ([]Entry, error) {
	_, entries, err := m.image(ctx)
	return entries, err
}

// Pull downloads every layer in parallel and returns the datasets in index
// order.
func (m *Mirror) Pull(ctx context.Context) ([]Dataset, error) {
	img, entries, err := m.image(ctx)
	if err != nil {
		return nil, err
	}

	layers, err := img.Layers()
	if err != nil {
		return nil, fmt.Errorf("get layers: %w", err)
	}

	m.log.WithFields(logrus.Fields{
		"datasets": len(entries),
		"layers":   len(layers),
	}).Info("Downloading layers")

	var mu sync.Mutex
	blobs := make(map[string][]byte, len(entries))

	p := pool.New().WithMaxGoroutines(m.concurrency).WithContext(ctx).WithCancelOnError()
	for _, layer := range layers {
		p.Go(func(ctx context.Context) error {
			rc, err := layer.Uncompressed()
			if err != nil {
				return fmt.Errorf("read layer: %w", err)
			}
			data, err := io.ReadAll(rc)
			if cerr := rc.Close(); cerr != nil {
				return fmt.Errorf("close layer: %w", cerr)
			}
			if err != nil {
				return fmt.Errorf("read layer: %w", err)
			}

			unpacked, err := UnpackLayer(data)
			if err != nil {
				return fmt.Errorf("unpack layer: %w", err)
			}

			mu.Lock()
			for k, v := range unpacked {
				blobs[k] = v
			}
			mu.Unlock()
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}

	datasets := make([]Dataset, 0, len(entries))
	for _, e := range entries {
		data, ok := blobs[e.Cid]
		if !ok {
			return nil, fmt.Errorf("dataset %s missing from layer %s", e.Cid, e.Layer)
		}
		if int64(len(data)) != e.Size {
			return nil, fmt.Errorf("dataset %s: got %d bytes, index says %d", e.Cid, len(data), e.Size)
		}
		datasets = append(datasets, Dataset{
			Cid:      e.Cid,
			Filename: e.Filename,
			Mimetype: e.Mimetype,
			Data:     data,
		})
	}

	m.log.WithField("datasets", len(datasets)).Info("Pull complete")
	return datasets, nil
}

func (m *Mirror) remoteOptions(ctx context.Context) []remote.Option {
	options := []remote.Option{remote.WithContext(ctx)}
	if m.auth != nil {
		username, password, err := m.auth.Authenticate(m.Registry())
		if err == nil && username != "" {
			return append(options, remote.WithAuth(&authn.Basic{
				Username: username,
				Password: password,
			}))
		}
		if err != nil {
			m.log.WithError(err).Debug("Falling back to default keychain")
		}
	}
	return append(options, remote.WithAuthFromKeychain(authn.DefaultKeychain))
}

func retry[T any](ctx context.Context, maxAttempts int, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	for i := range maxAttempts {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err
		if i < maxAttempts-1 {
			delay := time.Duration(1<<i) * 500 * time.Millisecond // 500ms, 1s, 2s, 4s...
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return zero, lastErr
}
