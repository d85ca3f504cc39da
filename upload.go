package codex

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"

	"github.com/aweris/codex-go/internal/native"
)

// DefaultUploadChunkSize is used when UploadOptions.ChunkSize is zero.
const DefaultUploadChunkSize = 64 * 1024

// UploadOptions configures UploadReader and UploadFile.
type UploadOptions struct {
	// Filepath names the dataset for UploadReader and is the file read by
	// UploadFile.
	Filepath  string
	ChunkSize int
	// OnProgress receives the total number of bytes uploaded so far.
	OnProgress func(uploaded int64)
}

func (o UploadOptions) chunkSize() int {
	if o.ChunkSize > 0 {
		return o.ChunkSize
	}
	return DefaultUploadChunkSize
}

// UploadInit opens an upload session and returns its id.
func (n *Node) UploadInit(ctx context.Context, filepath string, chunkSize int) (string, error) {
	const op = "upload_init"
	if chunkSize < 0 {
		return "", invalidParam(op, "chunk_size", "must not be negative")
	}
	return n.getString(ctx, op, func(lib native.Library, nc native.Context, cb native.Callback, ud uintptr) native.Status {
		buf := lib.ToBuffer(filepath)
		defer lib.Release(buf)
		return lib.UploadInit(nc, buf, chunkSize, cb, ud)
	})
}

// UploadChunk appends data to an upload session.
func (n *Node) UploadChunk(ctx context.Context, sessionID string, chunk []byte) error {
	const op = "upload_chunk"
	if sessionID == "" {
		return invalidParam(op, "session_id", "session ID cannot be empty")
	}
	if len(chunk) == 0 {
		return invalidParam(op, "chunk", "chunk cannot be empty")
	}
	_, err := n.do(ctx, op, nil, func(lib native.Library, nc native.Context, cb native.Callback, ud uintptr) native.Status {
		buf := lib.ToBuffer(sessionID)
		defer lib.Release(buf)
		return lib.UploadChunk(nc, buf, chunk, cb, ud)
	})
	return err
}

// UploadFinalize closes an upload session and returns the dataset CID.
func (n *Node) UploadFinalize(ctx context.Context, sessionID string) (string, error) {
	return n.sessionCall(ctx, "upload_finalize", sessionID, native.Library.UploadFinalize)
}

// UploadCancel discards an upload session.
func (n *Node) UploadCancel(ctx context.Context, sessionID string) error {
	_, err := n.sessionCall(ctx, "upload_cancel", sessionID, native.Library.UploadCancel)
	return err
}

func (n *Node) sessionCall(ctx context.Context, op, sessionID string,
	call func(native.Library, native.Context, native.Buffer, native.Callback, uintptr) native.Status,
) (string, error) {
	if sessionID == "" {
		return "", invalidParam(op, "session_id", "session ID cannot be empty")
	}
	return n.getString(ctx, op, func(lib native.Library, nc native.Context, cb native.Callback, ud uintptr) native.Status {
		buf := lib.ToBuffer(sessionID)
		defer lib.Release(buf)
		return call(lib, nc, buf, cb, ud)
	})
}

// UploadReader streams r into a new dataset and returns its CID. The
// session is cancelled if any step fails.
func (n *Node) UploadReader(ctx context.Context, r io.Reader, opts UploadOptions) (string, error) {
	const op = "upload"
	if r == nil {
		return "", invalidParam(op, "reader", "reader cannot be nil")
	}

	size := opts.chunkSize()
	session, err := n.UploadInit(ctx, opts.Filepath, size)
	if err != nil {
		return "", err
	}

	buf := make([]byte, size)
	var total int64
	for {
		read, rerr := io.ReadFull(r, buf)
		if read > 0 {
			if err := n.UploadChunk(ctx, session, buf[:read]); err != nil {
				return n.abortUpload(ctx, session, err)
			}
			total += int64(read)
			if opts.OnProgress != nil {
				opts.OnProgress(total)
			}
		}
		if errors.Is(rerr, io.EOF) || errors.Is(rerr, io.ErrUnexpectedEOF) {
			break
		}
		if rerr != nil {
			return n.abortUpload(ctx, session, ioError(op, rerr))
		}
	}

	cid, err := n.UploadFinalize(ctx, session)
	if err != nil {
		return n.abortUpload(ctx, session, err)
	}
	return cid, nil
}

// UploadFile has the engine read opts.Filepath directly, reporting
// progress as it goes.
func (n *Node) UploadFile(ctx context.Context, opts UploadOptions) (string, error) {
	const op = "upload_file"
	if opts.Filepath == "" {
		return "", invalidParam(op, "filepath", "file path cannot be empty")
	}
	info, err := os.Stat(opts.Filepath)
	if err != nil {
		return "", invalidParam(op, "filepath", err.Error())
	}
	if info.IsDir() {
		return "", invalidParam(op, "filepath", opts.Filepath+" is a directory")
	}

	session, err := n.UploadInit(ctx, opts.Filepath, opts.chunkSize())
	if err != nil {
		return "", err
	}

	var (
		mu      sync.Mutex
		stopped bool
		total   int64
	)
	progress := func(length int, _ []byte) {
		mu.Lock()
		defer mu.Unlock()
		if stopped {
			return
		}
		total += int64(length)
		if opts.OnProgress != nil {
			opts.OnProgress(total)
		}
	}
	payload, err := n.do(ctx, op, progress, func(lib native.Library, nc native.Context, cb native.Callback, ud uintptr) native.Status {
		buf := lib.ToBuffer(session)
		defer lib.Release(buf)
		return lib.UploadFile(nc, buf, cb, ud)
	})

	mu.Lock()
	stopped = true
	mu.Unlock()

	if err != nil {
		if ctx.Err() != nil {
			// The engine still owns the upload; the cancel queues behind it.
			go n.abortUpload(ctx, session, err)
			return "", err
		}
		return n.abortUpload(ctx, session, err)
	}
	return string(payload), nil
}

// abortUpload cancels session, even when ctx is already done, and returns err.
func (n *Node) abortUpload(ctx context.Context, session string, err error) (string, error) {
	if cerr := n.UploadCancel(context.WithoutCancel(ctx), session); cerr != nil {
		n.st.log.WithField("session", session).WithError(cerr).Debug("Upload cancel failed")
	}
	return "", err
}
