package sim

import (
	"context"
	"strconv"

	"github.com/aweris/codex-go/internal/native"
	"github.com/aweris/codex-go/internal/store"
)

type space struct {
	TotalBlocks        int    `json:"totalBlocks"`
	QuotaMaxBytes      uint64 `json:"quotaMaxBytes"`
	QuotaUsedBytes     uint64 `json:"quotaUsedBytes"`
	QuotaReservedBytes uint64 `json:"quotaReservedBytes"`
}

func (l *Library) StorageList(ctx native.Context, cb native.Callback, ud uintptr) native.Status {
	return l.dispatch("storage_list", ctx, true, cb, ud, func(e *engine, _ func(int, []byte)) (native.Status, []byte) {
		all, err := e.index.entries()
		if err != nil {
			return fail(err.Error())
		}
		out := make([]manifest, len(all))
		for i, en := range all {
			out[i] = en.Manifest
		}
		return okJSON(out)
	})
}

func (l *Library) StorageSpace(ctx native.Context, cb native.Callback, ud uintptr) native.Status {
	return l.dispatch("storage_space", ctx, true, cb, ud, func(e *engine, _ func(int, []byte)) (native.Status, []byte) {
		all, err := e.index.entries()
		if err != nil {
			return fail(err.Error())
		}
		blocks := map[string]struct{}{}
		for _, en := range all {
			for _, b := range en.Blocks {
				blocks[b] = struct{}{}
			}
		}
		used, err := e.store.Size()
		if err != nil {
			return fail(err.Error())
		}
		quota := e.cfg.StorageQuota
		if quota == 0 {
			quota = defaultQuota
		}
		return okJSON(space{
			TotalBlocks:    len(blocks),
			QuotaMaxBytes:  quota,
			QuotaUsedBytes: uint64(used),
		})
	})
}

// StorageDelete removes a dataset and the blocks no other dataset uses.
// Deleting an unknown dataset succeeds.
func (l *Library) StorageDelete(ctx native.Context, cidBuf native.Buffer, cb native.Callback, ud uintptr) native.Status {
	cid, _ := l.str(cidBuf)
	return l.dispatch("storage_delete", ctx, true, cb, ud, func(e *engine, _ func(int, []byte)) (native.Status, []byte) {
		if !store.ValidKey(cid) {
			return fail("invalid cid: " + cid)
		}
		en, found, err := e.index.get(cid)
		if err != nil {
			return fail(err.Error())
		}
		if !found {
			return ok("")
		}
		for _, b := range en.Blocks {
			shared, err := e.index.referenced(b, cid)
			if err != nil {
				return fail(err.Error())
			}
			if shared {
				continue
			}
			if err := e.store.Delete(context.Background(), b); err != nil {
				return fail(err.Error())
			}
		}
		if err := e.index.remove(cid); err != nil {
			return fail(err.Error())
		}
		return ok("")
	})
}

func (l *Library) StorageFetch(ctx native.Context, cidBuf native.Buffer, cb native.Callback, ud uintptr) native.Status {
	cid, _ := l.str(cidBuf)
	return l.dispatch("storage_fetch", ctx, true, cb, ud, func(e *engine, _ func(int, []byte)) (native.Status, []byte) {
		en, err := e.lookup(cid, false)
		if err != nil {
			return fail(err.Error())
		}
		return okJSON(en.Manifest)
	})
}

func (l *Library) StorageExists(ctx native.Context, cidBuf native.Buffer, cb native.Callback, ud uintptr) native.Status {
	cid, _ := l.str(cidBuf)
	return l.dispatch("storage_exists", ctx, true, cb, ud, func(e *engine, _ func(int, []byte)) (native.Status, []byte) {
		if !store.ValidKey(cid) {
			return fail("invalid cid: " + cid)
		}
		_, found, err := e.index.get(cid)
		if err != nil {
			return fail(err.Error())
		}
		return ok(strconv.FormatBool(found))
	})
}
