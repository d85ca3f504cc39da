package sim

import (
	"context"
	"fmt"
	"os"

	"github.com/aweris/codex-go/internal/native"
	"github.com/aweris/codex-go/internal/store"
)

type download struct {
	content   []byte
	off       int
	chunkSize int
}

// lookup finds a dataset entry locally, then with connected peers unless
// local is set. Entries found remotely are copied into this node.
func (e *engine) lookup(cid string, local bool) (entry, error) {
	if !store.ValidKey(cid) {
		return entry{}, fmt.Errorf("invalid cid: %s", cid)
	}
	en, found, err := e.index.get(cid)
	if err != nil {
		return entry{}, err
	}
	if found {
		return en, nil
	}
	if !local {
		if en, found, err = e.fetchRemote(cid); err != nil || found {
			return en, err
		}
	}
	return entry{}, fmt.Errorf("dataset not found: %s", cid)
}

func (e *engine) fetchRemote(cid string) (entry, bool, error) {
	ctx := context.Background()
	for _, p := range e.connected() {
		if !p.started.Load() {
			continue
		}
		en, found, err := p.index.get(cid)
		if err != nil || !found {
			continue
		}

		blocks, err := p.store.GetMulti(ctx, en.Blocks)
		if err != nil {
			return entry{}, false, fmt.Errorf("fetch from %s: %w", p.peerID(), err)
		}
		ordered := make([][]byte, len(en.Blocks))
		for i, k := range en.Blocks {
			ordered[i] = blocks[k]
		}
		if _, err := e.store.PutMulti(ctx, ordered); err != nil {
			return entry{}, false, err
		}
		if err := e.index.put(en); err != nil {
			return entry{}, false, err
		}
		e.log.WithField("cid", cid).WithField("from", p.peerID()).Debug("Dataset fetched")
		return en, true, nil
	}
	return entry{}, false, nil
}

func (e *engine) content(en entry) ([]byte, error) {
	blocks, err := e.store.GetMulti(context.Background(), en.Blocks)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, en.Manifest.DatasetSize)
	for _, k := range en.Blocks {
		out = append(out, blocks[k]...)
	}
	return out, nil
}

func (e *engine) load(cid string, local bool) ([]byte, error) {
	en, err := e.lookup(cid, local)
	if err != nil {
		return nil, err
	}
	return e.content(en)
}

func (l *Library) DownloadInit(ctx native.Context, cidBuf native.Buffer, chunkSize int, local bool, cb native.Callback, ud uintptr) native.Status {
	cid, _ := l.str(cidBuf)
	return l.dispatch("download_init", ctx, true, cb, ud, func(e *engine, _ func(int, []byte)) (native.Status, []byte) {
		data, err := e.load(cid, local)
		if err != nil {
			return fail(err.Error())
		}
		if chunkSize <= 0 {
			chunkSize = defaultBlockSize
		}
		e.downloads[cid] = &download{content: data, chunkSize: chunkSize}
		return ok("")
	})
}

// DownloadChunk emits the next chunk as a progress notification. Once the
// dataset is exhausted it completes without one.
func (l *Library) DownloadChunk(ctx native.Context, cidBuf native.Buffer, cb native.Callback, ud uintptr) native.Status {
	cid, _ := l.str(cidBuf)
	return l.dispatch("download_chunk", ctx, true, cb, ud, func(e *engine, emit func(int, []byte)) (native.Status, []byte) {
		d := e.downloads[cid]
		if d == nil {
			return fail("no download in progress for " + cid)
		}
		if d.off < len(d.content) {
			end := min(d.off+d.chunkSize, len(d.content))
			chunk := d.content[d.off:end]
			d.off = end
			emit(len(chunk), chunk)
		}
		return ok("")
	})
}

func (l *Library) DownloadStream(ctx native.Context, cidBuf native.Buffer, chunkSize int, local bool, pathBuf native.Buffer, cb native.Callback, ud uintptr) native.Status {
	cid, _ := l.str(cidBuf)
	path, _ := l.str(pathBuf)
	return l.dispatch("download_stream", ctx, true, cb, ud, func(e *engine, emit func(int, []byte)) (native.Status, []byte) {
		data, err := e.load(cid, local)
		if err != nil {
			return fail(err.Error())
		}
		if chunkSize <= 0 {
			chunkSize = defaultBlockSize
		}
		if path != "" {
			if err := os.WriteFile(path, data, 0644); err != nil {
				return fail(err.Error())
			}
		}
		for off := 0; off < len(data); off += chunkSize {
			chunk := data[off:min(off+chunkSize, len(data))]
			emit(len(chunk), chunk)
		}
		return ok("")
	})
}

func (l *Library) DownloadCancel(ctx native.Context, cidBuf native.Buffer, cb native.Callback, ud uintptr) native.Status {
	cid, _ := l.str(cidBuf)
	return l.dispatch("download_cancel", ctx, true, cb, ud, func(e *engine, _ func(int, []byte)) (native.Status, []byte) {
		if e.downloads[cid] == nil {
			return fail("no download in progress for " + cid)
		}
		delete(e.downloads, cid)
		return ok("")
	})
}

func (l *Library) DownloadManifest(ctx native.Context, cidBuf native.Buffer, cb native.Callback, ud uintptr) native.Status {
	cid, _ := l.str(cidBuf)
	return l.dispatch("download_manifest", ctx, true, cb, ud, func(e *engine, _ func(int, []byte)) (native.Status, []byte) {
		en, err := e.lookup(cid, false)
		if err != nil {
			return fail(err.Error())
		}
		return okJSON(en.Manifest)
	})
}
