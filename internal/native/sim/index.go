package sim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	ds "github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/query"
	dssync "github.com/ipfs/go-datastore/sync"
)

// manifest mirrors the engine's dataset description.
type manifest struct {
	Cid         string `json:"cid"`
	TreeCid     string `json:"treeCid"`
	DatasetSize int64  `json:"datasetSize"`
	BlockSize   int    `json:"blockSize"`
	Filename    string `json:"filename"`
	Mimetype    string `json:"mimetype"`
	Protected   bool   `json:"protected"`
}

// entry is what the index stores per dataset.
type entry struct {
	Manifest manifest `json:"manifest"`
	Blocks   []string `json:"blocks"`
}

const manifestPrefix = "/manifests"

// index keeps dataset entries in a datastore and mirrors them to a JSON
// file on sync.
type index struct {
	ds    ds.Datastore
	path  string
	dirty atomic.Bool
}

func openIndex(path string) (*index, error) {
	i := &index{ds: dssync.MutexWrap(ds.NewMapDatastore()), path: path}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return i, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}
	if err := i.load(data); err != nil {
		return nil, fmt.Errorf("load index: %w", err)
	}
	return i, nil
}

func manifestKey(cid string) ds.Key {
	return ds.NewKey(manifestPrefix).ChildString(cid)
}

func (i *index) put(e entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if err := i.ds.Put(context.Background(), manifestKey(e.Manifest.Cid), data); err != nil {
		return err
	}
	i.dirty.Store(true)
	return nil
}

func (i *index) get(cid string) (entry, bool, error) {
	data, err := i.ds.Get(context.Background(), manifestKey(cid))
	if errors.Is(err, ds.ErrNotFound) {
		return entry{}, false, nil
	}
	if err != nil {
		return entry{}, false, err
	}
	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		return entry{}, false, err
	}
	return e, true, nil
}

func (i *index) remove(cid string) error {
	if err := i.ds.Delete(context.Background(), manifestKey(cid)); err != nil {
		return err
	}
	i.dirty.Store(true)
	return nil
}

func (i *index) entries() ([]entry, error) {
	res, err := i.ds.Query(context.Background(), query.Query{
		Prefix: manifestPrefix,
		Orders: []query.Order{query.OrderByKey{}},
	})
	if err != nil {
		return nil, err
	}
	all, err := res.Rest()
	if err != nil {
		return nil, err
	}

	out := make([]entry, 0, len(all))
	for _, r := range all {
		var e entry
		if err := json.Unmarshal(r.Value, &e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", r.Key, err)
		}
		out = append(out, e)
	}
	return out, nil
}

// referenced reports whether any dataset other than skip uses block.
func (i *index) referenced(block, skip string) (bool, error) {
	all, err := i.entries()
	if err != nil {
		return false, err
	}
	for _, e := range all {
		if e.Manifest.Cid == skip {
			continue
		}
		for _, b := range e.Blocks {
			if b == block {
				return true, nil
			}
		}
	}
	return false, nil
}

func (i *index) sync() error {
	if !i.dirty.Load() {
		return nil
	}

	all, err := i.entries()
	if err != nil {
		return err
	}
	data, err := json.Marshal(all)
	if err != nil {
		return fmt.Errorf("serialize index: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(i.path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	if err := os.WriteFile(i.path, data, 0644); err != nil {
		return fmt.Errorf("write index: %w", err)
	}

	i.dirty.Store(false)
	return nil
}

func (i *index) load(data []byte) error {
	var all []entry
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for _, e := range all {
		if err := i.put(e); err != nil {
			return err
		}
	}
	i.dirty.Store(false)
	return nil
}
