package codex

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/aweris/codex-go/internal/native"
)

const (
	DefaultDownloadChunkSize = 1024 * 1024
	MaxDownloadChunkSize     = 16 * 1024 * 1024
)

// DownloadOptions configures downloads.
type DownloadOptions struct {
	ChunkSize int
	// Local restricts the download to blocks already in the repository.
	Local bool
	// Filepath, if set, has the engine also write the dataset to this file.
	Filepath string
	// OnProgress receives the total number of bytes received so far.
	OnProgress func(downloaded int64)
}

// Validate checks the chunk size.
func (o DownloadOptions) Validate() error {
	if o.ChunkSize < 0 || o.ChunkSize > MaxDownloadChunkSize {
		return invalidParam("download", "chunk_size", fmt.Sprintf("must be between 1 and %d", MaxDownloadChunkSize))
	}
	return nil
}

func (o DownloadOptions) chunkSize() int {
	if o.ChunkSize > 0 {
		return o.ChunkSize
	}
	return DefaultDownloadChunkSize
}

func cidCall(call func(native.Library, native.Context, native.Buffer, native.Callback, uintptr) native.Status, cid string) issueFunc {
	return func(lib native.Library, nc native.Context, cb native.Callback, ud uintptr) native.Status {
		buf := lib.ToBuffer(cid)
		defer lib.Release(buf)
		return call(lib, nc, buf, cb, ud)
	}
}

func checkCID(op, cid string) error {
	if cid == "" {
		return invalidParam(op, "cid", "CID cannot be empty")
	}
	return nil
}

// DownloadInit prepares a chunked download of cid.
func (n *Node) DownloadInit(ctx context.Context, cid string, opts DownloadOptions) error {
	const op = "download_init"
	if err := checkCID(op, cid); err != nil {
		return err
	}
	if err := opts.Validate(); err != nil {
		return err
	}
	_, err := n.do(ctx, op, nil, func(lib native.Library, nc native.Context, cb native.Callback, ud uintptr) native.Status {
		buf := lib.ToBuffer(cid)
		defer lib.Release(buf)
		return lib.DownloadInit(nc, buf, opts.chunkSize(), opts.Local, cb, ud)
	})
	return err
}

// DownloadChunk returns the next chunk of a download started with
// DownloadInit. An empty chunk means the dataset is exhausted.
func (n *Node) DownloadChunk(ctx context.Context, cid string) ([]byte, error) {
	const op = "download_chunk"
	if err := checkCID(op, cid); err != nil {
		return nil, err
	}

	var chunk []byte
	capture := func(_ int, data []byte) {
		chunk = bytes.Clone(data)
	}
	if _, err := n.do(ctx, op, capture, cidCall(native.Library.DownloadChunk, cid)); err != nil {
		return nil, err
	}
	return chunk, nil
}

// DownloadCancel abandons a download started with DownloadInit.
func (n *Node) DownloadCancel(ctx context.Context, cid string) error {
	const op = "download_cancel"
	if err := checkCID(op, cid); err != nil {
		return err
	}
	_, err := n.do(ctx, op, nil, cidCall(native.Library.DownloadCancel, cid))
	return err
}

// DownloadStream writes the dataset to w as the engine delivers it and
// returns the number of bytes written. A write error stops further writes
// but the engine still runs the download to completion.
func (n *Node) DownloadStream(ctx context.Context, cid string, w io.Writer, opts DownloadOptions) (int64, error) {
	const op = "download_stream"
	if err := checkCID(op, cid); err != nil {
		return 0, err
	}
	if err := opts.Validate(); err != nil {
		return 0, err
	}

	// The engine may still deliver chunks after a cancelled wait; stopped
	// keeps them away from w once this call has returned.
	var (
		mu      sync.Mutex
		stopped bool
		written int64
		werr    error
	)
	sink := func(_ int, chunk []byte) {
		mu.Lock()
		defer mu.Unlock()
		if stopped || werr != nil || w == nil {
			return
		}
		m, err := w.Write(chunk)
		written += int64(m)
		if err != nil {
			werr = err
			return
		}
		if opts.OnProgress != nil {
			opts.OnProgress(written)
		}
	}

	_, err := n.do(ctx, op, sink, func(lib native.Library, nc native.Context, cb native.Callback, ud uintptr) native.Status {
		c := lib.ToBuffer(cid)
		defer lib.Release(c)
		p := lib.ToBuffer(opts.Filepath)
		defer lib.Release(p)
		return lib.DownloadStream(nc, c, opts.chunkSize(), opts.Local, p, cb, ud)
	})

	mu.Lock()
	stopped = true
	total, wrErr := written, werr
	mu.Unlock()

	if err != nil {
		return total, err
	}
	if wrErr != nil {
		return total, ioError(op, wrErr)
	}
	return total, nil
}

// DownloadManifest returns the manifest of cid.
func (n *Node) DownloadManifest(ctx context.Context, cid string) (Manifest, error) {
	const op = "download_manifest"
	var m Manifest
	if err := checkCID(op, cid); err != nil {
		return m, err
	}
	err := n.getJSON(ctx, op, cidCall(native.Library.DownloadManifest, cid), &m)
	return m, err
}
