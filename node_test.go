package codex

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aweris/codex-go/internal/native"
	"github.com/aweris/codex-go/internal/native/sim"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// newTestNode creates a stopped node on lib with its own data directory.
func newTestNode(t *testing.T, lib *sim.Library, opts ...Option) *Node {
	t.Helper()
	base := []Option{
		WithLibrary(lib),
		WithDataDir(t.TempDir()),
		WithListenAddrs("/ip4/127.0.0.1/tcp/0"),
		WithLogger(quietLogger()),
	}
	n, err := New(append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(n.Release)
	return n
}

func startedNode(t *testing.T, lib *sim.Library) *Node {
	t.Helper()
	n := newTestNode(t, lib)
	require.NoError(t, n.Start())
	return n
}

// assertClean checks the engine saw no overlapping entry and no leaked buffer.
func assertClean(t *testing.T, lib *sim.Library) {
	t.Helper()
	assert.Zero(t, lib.Violations(), "engine entered concurrently or buffer misuse")
	assert.Zero(t, lib.LiveBuffers(), "buffers not released")
}

func TestNewNodeIsStopped(t *testing.T) {
	lib := sim.New()
	n := newTestNode(t, lib)

	assert.False(t, n.IsStarted())
	assert.Equal(t, 1, lib.Nodes())
	assert.Equal(t, 1, lib.Calls("new"))
	assertClean(t, lib)
}

func TestNewInvalidConfig(t *testing.T) {
	lib := sim.New()
	_, err := New(WithLibrary(lib), WithDataDir(t.TempDir()), WithLogLevel("loud"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidParameter)
	assert.Zero(t, lib.Calls("new"), "invalid config must not reach the engine")
}

func TestNewRejected(t *testing.T) {
	lib := sim.New()
	lib.Inject("new", sim.Fault{Reject: true})

	_, err := New(WithLibrary(lib), WithDataDir(t.TempDir()), WithLogger(quietLogger()))
	assert.ErrorIs(t, err, ErrCallRejected)
	assert.Zero(t, lib.Nodes())
}

func TestNewEngineFailureDestroysContext(t *testing.T) {
	lib := sim.New()
	lib.Inject("new", sim.Fault{Fail: "repository is locked"})

	_, err := New(WithLibrary(lib), WithDataDir(t.TempDir()), WithLogger(quietLogger()))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNativeFailure)
	assert.Contains(t, err.Error(), "repository is locked")
	assert.Zero(t, lib.Nodes())
	assert.Equal(t, 1, lib.Calls("destroy"))
}

func TestStopBeforeStart(t *testing.T) {
	lib := sim.New()
	n := newTestNode(t, lib)

	err := n.Stop()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Zero(t, lib.Calls("stop"), "stop must be refused without calling the engine")
}

func TestDoubleStart(t *testing.T) {
	lib := sim.New()
	n := startedNode(t, lib)

	err := n.Start()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.True(t, n.IsStarted())
	assert.Equal(t, 1, lib.Calls("start"))
}

func TestStartStop(t *testing.T) {
	lib := sim.New()
	n := startedNode(t, lib)

	require.NoError(t, n.Stop())
	assert.False(t, n.IsStarted())
	require.NoError(t, n.Start())
	assert.True(t, n.IsStarted())
	assertClean(t, lib)
}

func TestStartFailureLeavesNodeStopped(t *testing.T) {
	lib := sim.New()
	n := newTestNode(t, lib)
	lib.Inject("start", sim.Fault{Fail: "address already in use"})

	err := n.Start()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNativeFailure)
	assert.Contains(t, err.Error(), "address already in use")
	assert.False(t, n.IsStarted())

	lib.Reset()
	require.NoError(t, n.Start())
}

func TestStartContextGivesUp(t *testing.T) {
	lib := sim.New()
	n := newTestNode(t, lib)

	hold := make(chan struct{})
	lib.Inject("start", sim.Fault{Hold: hold})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := n.StartContext(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, n.IsStarted())

	// The engine still finishes the transition.
	close(hold)
	require.Eventually(t, n.IsStarted, time.Second, 5*time.Millisecond)

	lib.Reset()
	require.NoError(t, n.Stop())
}

func TestCloneSharesState(t *testing.T) {
	lib := sim.New()
	n := newTestNode(t, lib)

	c, err := n.Clone()
	require.NoError(t, err)

	require.NoError(t, n.Start())
	assert.True(t, c.IsStarted())

	require.NoError(t, c.Stop())
	assert.False(t, n.IsStarted())

	c.Release()
	c.Release()
	assert.Equal(t, 1, lib.Nodes(), "releasing a clone keeps the node")

	v, err := n.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sim.Version, v)

	_, err = c.Version(context.Background())
	assert.ErrorIs(t, err, ErrNodeDestroyed)
}

func TestDestroyRequiresSoleStoppedHandle(t *testing.T) {
	lib := sim.New()
	n := newTestNode(t, lib)

	c, err := n.Clone()
	require.NoError(t, err)
	err = n.Destroy()
	assert.ErrorIs(t, err, ErrInvalidState)
	c.Release()

	require.NoError(t, n.Start())
	err = n.Destroy()
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Zero(t, lib.Calls("close"))

	require.NoError(t, n.Stop())
	require.NoError(t, n.Destroy())
	assert.Zero(t, lib.Nodes())
}

func TestDestroySharedDoesNotWaitForClones(t *testing.T) {
	lib := sim.New()
	n := newTestNode(t, lib)
	c, err := n.Clone()
	require.NoError(t, err)

	hold := make(chan struct{})
	lib.Inject("version", sim.Fault{Hold: hold})

	held := make(chan error, 1)
	go func() {
		_, err := c.Version(context.Background())
		held <- err
	}()
	require.Eventually(t, func() bool { return lib.Calls("version") == 1 }, time.Second, 5*time.Millisecond)

	refused := make(chan error, 1)
	go func() { refused <- n.Destroy() }()
	select {
	case err := <-refused:
		assert.ErrorIs(t, err, ErrInvalidState)
	case <-time.After(time.Second):
		t.Fatal("destroy waited for a call on another handle")
	}

	// Other calls on the node keep flowing while the clone's call is held.
	pong, err := n.Call(context.Background(), "ping", nil,
		func(_ Library, _ NativeContext, cb Callback, ud uintptr) Status {
			cb(native.StatusOK, []byte("pong"), 4, ud)
			return native.StatusOK
		})
	require.NoError(t, err)
	assert.Equal(t, "pong", string(pong))

	close(hold)
	require.NoError(t, <-held)
	lib.Reset()

	c.Release()
	require.NoError(t, n.Destroy())
	assert.Zero(t, lib.Nodes())
}

func TestDestroyWaitsForAbandonedCall(t *testing.T) {
	lib := sim.New()
	n := newTestNode(t, lib)

	hold := make(chan struct{})
	lib.Inject("version", sim.Fault{Hold: hold})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := n.Version(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	done := make(chan error, 1)
	go func() { done <- n.Destroy() }()

	// The engine still owns the version call, so the context must survive.
	assert.Never(t, func() bool { return lib.Calls("close") > 0 }, 50*time.Millisecond, 5*time.Millisecond)

	close(hold)
	require.NoError(t, <-done)
	assert.Equal(t, 1, lib.Calls("close"))
	assert.Zero(t, lib.Nodes())
	assert.Zero(t, lib.Violations())
}

func TestDestroyCloseFailure(t *testing.T) {
	lib := sim.New()
	n := newTestNode(t, lib)
	lib.Inject("close", sim.Fault{Fail: "flush failed"})

	err := n.Destroy()
	assert.ErrorIs(t, err, ErrNativeFailure)
	assert.Equal(t, 1, lib.Nodes(), "a failed close keeps the node")

	lib.Reset()
	require.NoError(t, n.Destroy())
	assert.Zero(t, lib.Nodes())
}

func TestUseAfterDestroy(t *testing.T) {
	lib := sim.New()
	n := newTestNode(t, lib)
	require.NoError(t, n.Destroy())

	ctx := context.Background()
	assert.ErrorIs(t, n.Destroy(), ErrNodeDestroyed)
	assert.ErrorIs(t, n.Start(), ErrNodeDestroyed)
	_, err := n.PeerID(ctx)
	assert.ErrorIs(t, err, ErrNodeDestroyed)
	_, err = n.Clone()
	assert.ErrorIs(t, err, ErrNodeDestroyed)

	var cerr *Error
	require.ErrorAs(t, n.Stop(), &cerr)
	assert.Equal(t, KindState, cerr.Kind)

	n.Release()
	assert.Equal(t, 1, lib.Calls("destroy"))
}

func TestReleaseTearsDownStartedNode(t *testing.T) {
	lib := sim.New()
	n := startedNode(t, lib)
	c, err := n.Clone()
	require.NoError(t, err)

	n.Release()
	assert.Equal(t, 1, lib.Nodes())
	assert.Zero(t, lib.Calls("stop"))

	c.Release()
	assert.Zero(t, lib.Nodes())
	assert.Equal(t, 1, lib.Calls("stop"))
	assert.Equal(t, 1, lib.Calls("destroy"))
	assert.Zero(t, lib.Calls("close"))
}

func TestConcurrentGetters(t *testing.T) {
	lib := sim.New()
	n := startedNode(t, lib)

	versions := make([]string, 5)
	errs := make([]error, 5)
	var wg conc.WaitGroup
	for i := range versions {
		wg.Go(func() {
			versions[i], errs[i] = n.Version(context.Background())
		})
	}
	wg.Wait()

	for i := range versions {
		require.NoError(t, errs[i])
		assert.Equal(t, sim.Version, versions[i])
	}
	assert.Equal(t, 5, lib.Calls("version"))
	assertClean(t, lib)
}

func TestDuplicateCallbackIsHarmless(t *testing.T) {
	lib := sim.New()
	n := newTestNode(t, lib)
	lib.Inject("revision", sim.Fault{Duplicate: true})

	for range 3 {
		rev, err := n.Revision(context.Background())
		require.NoError(t, err)
		assert.Equal(t, sim.Revision, rev)
	}
}

func TestRejectedCall(t *testing.T) {
	lib := sim.New()
	n := newTestNode(t, lib)
	lib.Inject("version", sim.Fault{Reject: true})

	_, err := n.Version(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCallRejected)

	var cerr *Error
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, KindCallRejected, cerr.Kind)
	assert.Equal(t, "version", cerr.Op)
}

func TestLifecycleEndToEnd(t *testing.T) {
	lib := sim.New()
	dir := t.TempDir()
	n := newTestNode(t, lib, WithDataDir(dir))
	ctx := context.Background()

	require.NoError(t, n.Start())

	id, err := n.PeerID(ctx)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "12D3KooW"), id)
	require.NoError(t, ValidatePeerID(id))

	spr, err := n.SPR(ctx)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(spr, "spr:"), spr)

	repo, err := n.Repo(ctx)
	require.NoError(t, err)
	assert.Equal(t, dir, repo)

	info, err := n.Debug(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, info.ID)
	assert.Equal(t, spr, info.Spr)
	assert.Equal(t, []string{"/ip4/127.0.0.1/tcp/0"}, info.Addrs)

	require.NoError(t, n.SetLogLevel(ctx, LogDebug))
	assert.ErrorIs(t, n.SetLogLevel(ctx, "loud"), ErrInvalidParameter)

	require.NoError(t, n.Stop())
	require.NoError(t, n.Destroy())
	assert.Error(t, n.Destroy())

	assertClean(t, lib)
}

func TestIdentitySurvivesRestart(t *testing.T) {
	lib := sim.New()
	dir := t.TempDir()
	ctx := context.Background()

	first := newTestNode(t, lib, WithDataDir(dir))
	id, err := first.PeerID(ctx)
	require.NoError(t, err)
	require.NoError(t, first.Destroy())

	second := newTestNode(t, lib, WithDataDir(dir))
	again, err := second.PeerID(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, again)
}

func TestCustomCall(t *testing.T) {
	lib := sim.New()
	n := newTestNode(t, lib)

	payload, err := n.Call(context.Background(), "version", nil,
		func(lib Library, nc NativeContext, cb Callback, ud uintptr) Status {
			return lib.Version(nc, cb, ud)
		})
	require.NoError(t, err)
	assert.Equal(t, sim.Version, string(payload))
}

func TestCallAwaitCancelled(t *testing.T) {
	lib := sim.New()
	n := newTestNode(t, lib)

	hold := make(chan struct{})
	defer close(hold)
	lib.Inject("version", sim.Fault{Hold: hold})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := n.Version(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrNativeFailure)
}

var _ native.Library = (*sim.Library)(nil)
