package sim

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/aweris/codex-go/internal/native"
	"github.com/aweris/codex-go/internal/store"
	"github.com/google/uuid"
)

type upload struct {
	path      string
	blockSize int
	data      bytes.Buffer
}

func (l *Library) UploadInit(ctx native.Context, pathBuf native.Buffer, chunkSize int, cb native.Callback, ud uintptr) native.Status {
	path, _ := l.str(pathBuf)
	return l.dispatch("upload_init", ctx, true, cb, ud, func(e *engine, _ func(int, []byte)) (native.Status, []byte) {
		if chunkSize <= 0 {
			chunkSize = defaultBlockSize
		}
		id := uuid.New().String()
		e.uploads[id] = &upload{path: path, blockSize: chunkSize}
		return ok(id)
	})
}

func (l *Library) UploadChunk(ctx native.Context, sessionBuf native.Buffer, chunk []byte, cb native.Callback, ud uintptr) native.Status {
	id, _ := l.str(sessionBuf)
	data := bytes.Clone(chunk)
	return l.dispatch("upload_chunk", ctx, true, cb, ud, func(e *engine, _ func(int, []byte)) (native.Status, []byte) {
		u := e.uploads[id]
		if u == nil {
			return fail("upload session not found: " + id)
		}
		u.data.Write(data)
		return ok("")
	})
}

func (l *Library) UploadFinalize(ctx native.Context, sessionBuf native.Buffer, cb native.Callback, ud uintptr) native.Status {
	id, _ := l.str(sessionBuf)
	return l.dispatch("upload_finalize", ctx, true, cb, ud, func(e *engine, _ func(int, []byte)) (native.Status, []byte) {
		u := e.uploads[id]
		if u == nil {
			return fail("upload session not found: " + id)
		}
		delete(e.uploads, id)

		cid, err := e.finalize(u)
		if err != nil {
			return fail(err.Error())
		}
		return ok(cid)
	})
}

func (l *Library) UploadCancel(ctx native.Context, sessionBuf native.Buffer, cb native.Callback, ud uintptr) native.Status {
	id, _ := l.str(sessionBuf)
	return l.dispatch("upload_cancel", ctx, true, cb, ud, func(e *engine, _ func(int, []byte)) (native.Status, []byte) {
		if e.uploads[id] == nil {
			return fail("upload session not found: " + id)
		}
		delete(e.uploads, id)
		return ok("")
	})
}

// UploadFile reads the file named at init, reporting each block read as a
// progress notification carrying its length.
func (l *Library) UploadFile(ctx native.Context, sessionBuf native.Buffer, cb native.Callback, ud uintptr) native.Status {
	id, _ := l.str(sessionBuf)
	return l.dispatch("upload_file", ctx, true, cb, ud, func(e *engine, emit func(int, []byte)) (native.Status, []byte) {
		u := e.uploads[id]
		if u == nil {
			return fail("upload session not found: " + id)
		}
		delete(e.uploads, id)

		f, err := os.Open(u.path)
		if err != nil {
			return fail(err.Error())
		}
		defer f.Close()

		buf := make([]byte, u.blockSize)
		for {
			n, err := io.ReadFull(f, buf)
			if n > 0 {
				u.data.Write(buf[:n])
				emit(n, nil)
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			if err != nil {
				return fail(err.Error())
			}
		}

		cid, err := e.finalize(u)
		if err != nil {
			return fail(err.Error())
		}
		return ok(cid)
	})
}

// finalize splits the upload into blocks, stores them and records the
// dataset. The dataset id is the multihash of the whole content.
func (e *engine) finalize(u *upload) (string, error) {
	content := u.data.Bytes()

	quota := e.cfg.StorageQuota
	if quota == 0 {
		quota = defaultQuota
	}
	used, err := e.store.Size()
	if err != nil {
		return "", err
	}
	if uint64(used)+uint64(len(content)) > quota {
		return "", fmt.Errorf("storage quota exceeded (%d of %d bytes used)", used, quota)
	}

	var blocks [][]byte
	for off := 0; off < len(content); off += u.blockSize {
		blocks = append(blocks, content[off:min(off+u.blockSize, len(content))])
	}
	keys, err := e.store.PutMulti(context.Background(), blocks)
	if err != nil {
		return "", err
	}

	cid, err := store.Key(content)
	if err != nil {
		return "", err
	}
	tree, err := store.Key([]byte(strings.Join(keys, "\n")))
	if err != nil {
		return "", err
	}

	m := manifest{
		Cid:         cid,
		TreeCid:     tree,
		DatasetSize: int64(len(content)),
		BlockSize:   u.blockSize,
		Mimetype:    "application/octet-stream",
	}
	if u.path != "" {
		m.Filename = filepath.Base(u.path)
		if t := mime.TypeByExtension(filepath.Ext(u.path)); t != "" {
			m.Mimetype = t
		}
	}
	if err := e.index.put(entry{Manifest: m, Blocks: keys}); err != nil {
		return "", err
	}

	e.log.WithField("cid", cid).WithField("size", len(content)).Debug("Dataset stored")
	return cid, nil
}
