package sim

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/aweris/codex-go/internal/native"
	"github.com/aweris/codex-go/internal/store"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

const (
	defaultQuota     = 8 << 30
	defaultBlockSize = 64 * 1024
	defaultListen    = "/ip4/127.0.0.1/tcp/0"
)

// config is the subset of the node configuration the simulator honours.
type config struct {
	DataDir      string   `json:"data-dir"`
	LogLevel     string   `json:"log-level"`
	ListenAddrs  []string `json:"listen-addrs"`
	StorageQuota uint64   `json:"storage-quota"`
	MaxPeers     int      `json:"max-peers"`
}

// engine is one node. Fields below the worker block are only touched from
// the worker goroutine unless noted.
type engine struct {
	lib *Library
	cfg config
	log *logrus.Entry

	qmu      sync.Mutex
	cond     *sync.Cond
	queue    []func()
	stopping bool
	exited   chan struct{}

	started atomic.Bool

	// mu guards identity and peers, which other nodes read when dialing.
	mu    sync.Mutex
	key   crypto.PrivKey
	id    peer.ID
	seq   uint64
	addrs []ma.Multiaddr
	peers map[string]*engine

	opened    bool
	closed    bool
	logLevel  string
	store     store.Store
	index     *index
	uploads   map[string]*upload
	downloads map[string]*download
}

func newEngine(l *Library, cfg config) *engine {
	e := &engine{
		lib:       l,
		cfg:       cfg,
		log:       l.log,
		exited:    make(chan struct{}),
		peers:     map[string]*engine{},
		logLevel:  cfg.LogLevel,
		uploads:   map[string]*upload{},
		downloads: map[string]*download{},
	}
	e.cond = sync.NewCond(&e.qmu)
	return e
}

// post queues fn on the worker. It fails once the node is being destroyed.
func (e *engine) post(fn func()) bool {
	e.qmu.Lock()
	defer e.qmu.Unlock()
	if e.stopping {
		return false
	}
	e.queue = append(e.queue, fn)
	e.cond.Signal()
	return true
}

// shutdown stops accepting work; queued jobs still run.
func (e *engine) shutdown() {
	e.qmu.Lock()
	e.stopping = true
	e.cond.Signal()
	e.qmu.Unlock()
}

func (e *engine) run() {
	defer close(e.exited)
	for {
		e.qmu.Lock()
		for len(e.queue) == 0 && !e.stopping {
			e.cond.Wait()
		}
		if len(e.queue) == 0 {
			e.qmu.Unlock()
			return
		}
		fn := e.queue[0]
		e.queue[0] = nil
		e.queue = e.queue[1:]
		e.qmu.Unlock()

		fn()
	}
}

func (e *engine) peerID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.id.String()
}

func (e *engine) open() error {
	if e.cfg.DataDir == "" {
		return errors.New("data-dir is required")
	}
	if err := os.MkdirAll(e.cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	listen := e.cfg.ListenAddrs
	if len(listen) == 0 {
		listen = []string{defaultListen}
	}
	addrs := make([]ma.Multiaddr, 0, len(listen))
	for _, s := range listen {
		a, err := ma.NewMultiaddr(s)
		if err != nil {
			return fmt.Errorf("invalid listen address %q: %w", s, err)
		}
		addrs = append(addrs, a)
	}

	key, err := loadOrCreateKey(filepath.Join(e.cfg.DataDir, "key"))
	if err != nil {
		return fmt.Errorf("load identity: %w", err)
	}
	id, err := peer.IDFromPrivateKey(key)
	if err != nil {
		return fmt.Errorf("derive peer id: %w", err)
	}

	idx, err := openIndex(filepath.Join(e.cfg.DataDir, "manifests.json"))
	if err != nil {
		return err
	}

	st, err := store.NewLocalStore(filepath.Join(e.cfg.DataDir, "repo"), store.DefaultOptions())
	if err != nil {
		return fmt.Errorf("open repo: %w", err)
	}

	e.mu.Lock()
	e.key, e.id, e.addrs = key, id, addrs
	e.mu.Unlock()

	e.store, e.index, e.opened = st, idx, true
	e.log = e.lib.log.WithField("peer", id.String())
	e.log.WithField("repo", e.cfg.DataDir).Debug("Node created")
	return nil
}

// release flushes the index and closes the repo.
func (e *engine) release() error {
	if !e.opened || e.closed {
		return nil
	}
	e.closed = true
	e.uploads = map[string]*upload{}
	e.downloads = map[string]*download{}

	return multierr.Combine(e.index.sync(), e.store.Close())
}

// disconnect drops every connection in both directions.
func (e *engine) disconnect() {
	e.mu.Lock()
	peers := e.peers
	e.peers = map[string]*engine{}
	self := e.id.String()
	e.mu.Unlock()

	for _, p := range peers {
		p.mu.Lock()
		delete(p.peers, self)
		p.mu.Unlock()
	}
}

func (e *engine) connected() []*engine {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*engine, 0, len(e.peers))
	for _, p := range e.peers {
		out = append(out, p)
	}
	return out
}

func (l *Library) New(cfgBuf native.Buffer, cb native.Callback, ud uintptr) native.Context {
	f, leave := l.enter("new")
	defer leave()

	if f.Reject {
		return nil
	}
	raw, valid := l.str(cfgBuf)
	if !valid {
		return nil
	}
	var cfg config
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		l.log.WithError(err).Debug("Rejecting malformed configuration")
		return nil
	}

	e := newEngine(l, cfg)
	ctx := ctxOf(e)
	l.mu.Lock()
	l.nodes[ctx] = e
	l.mu.Unlock()
	go e.run()

	l.queue(e, "new", f, false, cb, ud, func(e *engine, _ func(int, []byte)) (native.Status, []byte) {
		if err := e.open(); err != nil {
			return fail(err.Error())
		}
		return ok("")
	})
	return ctx
}

func (l *Library) Start(ctx native.Context, cb native.Callback, ud uintptr) native.Status {
	return l.dispatch("start", ctx, false, cb, ud, func(e *engine, _ func(int, []byte)) (native.Status, []byte) {
		switch {
		case !e.opened:
			return fail("node is not initialised")
		case e.closed:
			return fail("node is closed")
		case e.started.Load():
			return fail("node already started")
		}
		e.mu.Lock()
		e.seq++
		e.mu.Unlock()
		e.started.Store(true)
		e.log.Info("Node started")
		return ok("")
	})
}

func (l *Library) Stop(ctx native.Context, cb native.Callback, ud uintptr) native.Status {
	return l.dispatch("stop", ctx, false, cb, ud, func(e *engine, _ func(int, []byte)) (native.Status, []byte) {
		if !e.started.Load() {
			return fail("node is not started")
		}
		e.started.Store(false)
		e.disconnect()
		e.log.Info("Node stopped")
		return ok("")
	})
}

func (l *Library) Close(ctx native.Context, cb native.Callback, ud uintptr) native.Status {
	return l.dispatch("close", ctx, false, cb, ud, func(e *engine, _ func(int, []byte)) (native.Status, []byte) {
		if e.started.Load() {
			return fail("node is still running")
		}
		if err := e.release(); err != nil {
			return fail(err.Error())
		}
		return ok("")
	})
}

// Destroy forgets ctx immediately. The worker finishes queued calls and exits.
func (l *Library) Destroy(ctx native.Context, cb native.Callback, ud uintptr) native.Status {
	f, leave := l.enter("destroy")
	defer leave()

	if f.Reject {
		return native.StatusErr
	}
	l.mu.Lock()
	e := l.nodes[ctx]
	delete(l.nodes, ctx)
	l.mu.Unlock()
	if e == nil {
		return native.StatusErr
	}

	status := l.queue(e, "destroy", f, false, cb, ud, func(e *engine, _ func(int, []byte)) (native.Status, []byte) {
		e.started.Store(false)
		e.disconnect()
		if err := e.release(); err != nil {
			e.log.WithError(err).Warn("Release during destroy failed")
		}
		e.log.Debug("Node destroyed")
		return ok("")
	})
	e.shutdown()
	return status
}
