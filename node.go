package codex

import (
	"context"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/aweris/codex-go/internal/bridge"
	"github.com/aweris/codex-go/internal/native"
	"github.com/sirupsen/logrus"
)

// nodeState is shared by every handle of one engine node.
//
// Lock order is life, then mu. Calls in flight hold life for reading so the
// context cannot be destroyed under them; destroy and teardown take it for
// writing. mu guards nc, refs and transitions of started, and is held by
// start and stop for their whole duration.
type nodeState struct {
	life sync.RWMutex
	mu   sync.Mutex

	nc      native.Context
	refs    int64
	started atomic.Bool

	lib native.Library
	log *logrus.Entry
}

// Node is a handle to an engine node. Handles made with Clone share the
// node; the last one released tears it down.
type Node struct {
	st       *nodeState
	released atomic.Bool
	cleanup  runtime.Cleanup
}

// New creates a node. The node starts in the stopped state.
func New(opts ...Option) (*Node, error) {
	const op = "new"

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	if err := o.Config.Validate(); err != nil {
		return nil, err
	}
	raw, err := o.Config.JSON()
	if err != nil {
		return nil, &Error{Kind: KindInvalidParameter, Op: op, Param: "config", Err: err}
	}

	lib := o.Library
	if lib == nil {
		lib = defaultLibrary()
	}

	var nc native.Context
	c := bridge.New()
	err = c.Issue(op, func(cb native.Callback, ud uintptr) native.Status {
		buf := lib.ToBuffer(raw)
		defer lib.Release(buf)
		nc = lib.New(buf, cb, ud)
		if nc == nil {
			return native.StatusErr
		}
		return native.StatusOK
	})
	if err != nil {
		return nil, callError(op, err)
	}
	if _, err := c.Wait(); err != nil {
		bridge.WithExclusiveAccess(func() native.Status { return lib.Destroy(nc, nil, 0) })
		return nil, callError(op, err)
	}

	st := &nodeState{
		nc:   nc,
		refs: 1,
		lib:  lib,
		log:  o.Logger.WithField("component", "node"),
	}
	st.log.WithField("data_dir", o.Config.DataDir).Debug("Node created")
	return newHandle(st), nil
}

func newHandle(st *nodeState) *Node {
	n := &Node{st: st}
	n.cleanup = runtime.AddCleanup(n, (*nodeState).release, st)
	return n
}

// Clone returns another handle to the same node.
func (n *Node) Clone() (*Node, error) {
	if n.released.Load() {
		return nil, destroyed("clone")
	}
	st := n.st
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.refs == 0 {
		return nil, destroyed("clone")
	}
	st.refs++
	return newHandle(st), nil
}

// Release drops this handle. Releasing the last handle of a node that was
// not destroyed stops and destroys it, ignoring any failure. Safe to call
// more than once.
func (n *Node) Release() {
	if n.released.Swap(true) {
		return
	}
	n.cleanup.Stop()
	n.st.release()
}

func (st *nodeState) release() {
	st.mu.Lock()
	st.refs--
	last := st.refs == 0
	st.mu.Unlock()
	if last {
		st.teardown()
	}
}

// teardown is the best-effort path for nodes nobody destroyed. Results of
// the native stop and destroy are not checked.
func (st *nodeState) teardown() {
	st.life.Lock()
	st.mu.Lock()
	nc, started := st.nc, st.started.Load()
	st.nc = nil
	st.started.Store(false)
	st.mu.Unlock()
	st.life.Unlock()

	if nc == nil {
		return
	}
	if started {
		bridge.WithExclusiveAccess(func() native.Status { return st.lib.Stop(nc, nil, 0) })
	}
	bridge.WithExclusiveAccess(func() native.Status { return st.lib.Destroy(nc, nil, 0) })
	st.log.Debug("Node torn down")
}

// IsStarted reports the cached started flag. It makes no native call.
func (n *Node) IsStarted() bool {
	return n.st.started.Load()
}

// Start starts the node, blocking until the engine reports back.
func (n *Node) Start() error { return n.StartContext(context.Background()) }

// StartContext starts the node. If ctx ends first it returns ctx.Err(); the
// transition still completes in the background and the node stays locked
// against other transitions until it does.
func (n *Node) StartContext(ctx context.Context) error { return n.transition(ctx, "start", true) }

// Stop stops the node, blocking until the engine reports back.
func (n *Node) Stop() error { return n.StopContext(context.Background()) }

// StopContext stops the node. See StartContext for cancellation.
func (n *Node) StopContext(ctx context.Context) error { return n.transition(ctx, "stop", false) }

func (n *Node) transition(ctx context.Context, op string, want bool) error {
	if n.released.Load() {
		return destroyed(op)
	}
	st := n.st

	st.mu.Lock()
	if st.nc == nil {
		st.mu.Unlock()
		return destroyed(op)
	}
	if st.started.Load() == want {
		st.mu.Unlock()
		if want {
			return stateError(op, "node already started")
		}
		return stateError(op, "node is not started")
	}

	nc := st.nc
	c := bridge.New()
	err := c.Issue(op, func(cb native.Callback, ud uintptr) native.Status {
		if want {
			return st.lib.Start(nc, cb, ud)
		}
		return st.lib.Stop(nc, cb, ud)
	})
	if err != nil {
		st.mu.Unlock()
		return callError(op, err)
	}

	finish := func() error {
		defer st.mu.Unlock()
		if _, err := c.Result(); err != nil {
			st.log.WithFields(logrus.Fields{"op": op, "error": err.Error()}).Warn("State transition failed")
			return callError(op, err)
		}
		st.started.Store(want)
		st.log.WithField("op", op).Info("Node state changed")
		return nil
	}

	select {
	case <-c.Done():
		return finish()
	case <-ctx.Done():
		go func() {
			<-c.Done()
			_ = finish()
		}()
		return ctx.Err()
	}
}

// Destroy closes and destroys the node. It requires this to be the only
// handle and the node to be stopped. On success the handle is consumed.
func (n *Node) Destroy() error {
	const op = "destroy"

	if n.released.Load() {
		return destroyed(op)
	}
	st := n.st

	// Refuse before waiting on life: calls in flight on clones hold it.
	st.mu.Lock()
	err := st.destroyable(op)
	st.mu.Unlock()
	if err != nil {
		return err
	}

	st.life.Lock()
	defer st.life.Unlock()
	st.mu.Lock()
	defer st.mu.Unlock()

	if err := st.destroyable(op); err != nil {
		return err
	}

	nc := st.nc
	c := bridge.New()
	if err := c.Issue("close", func(cb native.Callback, ud uintptr) native.Status {
		return st.lib.Close(nc, cb, ud)
	}); err != nil {
		return callError(op, err)
	}
	if _, err := c.Wait(); err != nil {
		return callError(op, err)
	}

	// The engine reports nothing useful for destroy.
	bridge.WithExclusiveAccess(func() native.Status { return st.lib.Destroy(nc, nil, 0) })

	st.nc = nil
	st.refs = 0
	n.released.Store(true)
	n.cleanup.Stop()
	st.log.Debug("Node destroyed")
	return nil
}

// destroyable reports why the node cannot be destroyed now. mu must be held.
func (st *nodeState) destroyable(op string) error {
	switch {
	case st.nc == nil:
		return destroyed(op)
	case st.refs != 1:
		return stateError(op, "node is shared by other handles")
	case st.started.Load():
		return stateError(op, "node is still started")
	}
	return nil
}

// issueFunc performs one native call with the node's context.
type issueFunc func(lib native.Library, nc native.Context, cb native.Callback, ud uintptr) native.Status

// do runs a non-transition call: it reads the context, issues the call
// under the serializer and waits outside it.
func (n *Node) do(ctx context.Context, op string, progress bridge.ProgressFunc, issue issueFunc) ([]byte, error) {
	if n.released.Load() {
		return nil, destroyed(op)
	}
	st := n.st

	st.life.RLock()

	st.mu.Lock()
	nc := st.nc
	st.mu.Unlock()
	if nc == nil {
		st.life.RUnlock()
		return nil, destroyed(op)
	}

	c := bridge.New()
	if progress != nil {
		c.OnProgress(progress)
	}
	if err := c.Issue(op, func(cb native.Callback, ud uintptr) native.Status {
		return issue(st.lib, nc, cb, ud)
	}); err != nil {
		st.life.RUnlock()
		return nil, callError(op, err)
	}

	payload, err := c.Await(ctx)
	select {
	case <-c.Done():
		st.life.RUnlock()
	default:
		// The engine still owns the call; keep the context alive until it
		// reports back.
		go func() {
			<-c.Done()
			st.life.RUnlock()
		}()
	}
	if err != nil {
		return nil, callError(op, err)
	}
	return payload, nil
}

func (n *Node) getString(ctx context.Context, op string, issue issueFunc) (string, error) {
	payload, err := n.do(ctx, op, nil, issue)
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

// Version returns the engine version.
func (n *Node) Version(ctx context.Context) (string, error) {
	return n.getString(ctx, "version", native.Library.Version)
}

// Revision returns the engine source revision.
func (n *Node) Revision(ctx context.Context) (string, error) {
	return n.getString(ctx, "revision", native.Library.Revision)
}

// Repo returns the repository path.
func (n *Node) Repo(ctx context.Context) (string, error) {
	return n.getString(ctx, "repo", native.Library.Repo)
}

// SPR returns the node's signed peer record.
func (n *Node) SPR(ctx context.Context) (string, error) {
	return n.getString(ctx, "spr", native.Library.SPR)
}

// PeerID returns the node's peer id.
func (n *Node) PeerID(ctx context.Context) (string, error) {
	return n.getString(ctx, "peer_id", native.Library.PeerID)
}

// Debug returns identity and addressing information.
func (n *Node) Debug(ctx context.Context) (DebugInfo, error) {
	var info DebugInfo
	err := n.getJSON(ctx, "debug", native.Library.Debug, &info)
	return info, err
}

// SetLogLevel changes the engine log level at runtime.
func (n *Node) SetLogLevel(ctx context.Context, level string) error {
	const op = "log_level"
	if !slices.Contains(logLevels, level) {
		return invalidParam(op, "level", "unknown log level "+level)
	}
	_, err := n.do(ctx, op, nil, func(lib native.Library, nc native.Context, cb native.Callback, ud uintptr) native.Status {
		buf := lib.ToBuffer(level)
		defer lib.Release(buf)
		return lib.LogLevel(nc, buf, cb, ud)
	})
	return err
}
