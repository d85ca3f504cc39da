package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aweris/codex-go/internal/metrics"
	"github.com/aweris/codex-go/internal/native"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fire invokes the trampoline from another goroutine, like the engine does.
func fire(events ...func(ud uintptr)) func(cb native.Callback, ud uintptr) native.Status {
	return func(cb native.Callback, ud uintptr) native.Status {
		go func() {
			for _, ev := range events {
				ev(ud)
			}
		}()
		return native.StatusOK
	}
}

func ok(payload string) func(uintptr) {
	return func(ud uintptr) { Trampoline(native.StatusOK, []byte(payload), len(payload), ud) }
}

func fail(msg string) func(uintptr) {
	return func(ud uintptr) { Trampoline(native.StatusErr, []byte(msg), len(msg), ud) }
}

func progress(chunk string) func(uintptr) {
	return func(ud uintptr) { Trampoline(native.StatusProgress, []byte(chunk), len(chunk), ud) }
}

func TestCompletionSuccess(t *testing.T) {
	c := New()
	require.NoError(t, c.Issue("version", fire(ok("v0.2.0"))))

	payload, err := c.Wait()
	require.NoError(t, err)
	assert.Equal(t, "v0.2.0", string(payload))
}

func TestCompletionNativeFailure(t *testing.T) {
	c := New()
	require.NoError(t, c.Issue("start", fire(fail("address already in use"))))

	_, err := c.Await(context.Background())
	require.Error(t, err)

	var nerr *NativeError
	require.True(t, errors.As(err, &nerr))
	assert.Equal(t, native.StatusErr, nerr.Status)
	assert.Equal(t, "address already in use", nerr.Error())
}

func TestCompletionResolvedTwice(t *testing.T) {
	before := testutil.ToFloat64(metrics.LateCallbacks)

	c := New()
	assert.True(t, c.Resolve(native.StatusOK, []byte("first"), 5))
	assert.False(t, c.Resolve(native.StatusOK, []byte("second"), 6))
	assert.False(t, c.Resolve(native.StatusErr, []byte("boom"), 4))

	payload, err := c.Wait()
	require.NoError(t, err)
	assert.Equal(t, "first", string(payload))
	assert.Equal(t, before+2, testutil.ToFloat64(metrics.LateCallbacks))
}

func TestCompletionDuplicateCallbackAfterRelease(t *testing.T) {
	c := New()
	ud := c.UserData()
	require.NoError(t, c.Issue("version", fire(ok("v1"))))

	_, err := c.Wait()
	require.NoError(t, err)

	// The trampoline no longer knows the token; a duplicate is dropped.
	assert.Nil(t, completions.lookup(ud))
	assert.NotPanics(t, func() { Trampoline(native.StatusOK, []byte("v2"), 2, ud) })

	payload, _ := c.Result()
	assert.Equal(t, "v1", string(payload))
}

func TestCompletionProgress(t *testing.T) {
	chunks := []string{"alpha", "beta", "gamma"}

	var got []string
	c := New()
	c.OnProgress(func(length int, chunk []byte) {
		assert.Equal(t, len(chunk), length)
		got = append(got, string(chunk))
	})

	events := make([]func(uintptr), 0, len(chunks)+1)
	for _, ch := range chunks {
		events = append(events, progress(ch))
	}
	events = append(events, ok("done"))

	require.NoError(t, c.Issue("download_stream", fire(events...)))
	payload, err := c.Wait()
	require.NoError(t, err)

	assert.Equal(t, "done", string(payload))
	assert.Equal(t, chunks, got)
}

func TestCompletionProgressWithoutHandler(t *testing.T) {
	c := New()
	assert.False(t, c.Resolve(native.StatusProgress, []byte("ignored"), 7))

	select {
	case <-c.Done():
		t.Fatal("progress must not resolve the completion")
	default:
	}

	assert.True(t, c.Resolve(native.StatusOK, nil, 0))
	payload, err := c.Wait()
	require.NoError(t, err)
	assert.Empty(t, payload)
}

func TestCompletionRejected(t *testing.T) {
	pending := Pending()

	c := New()
	err := c.Issue("stop", func(native.Callback, uintptr) native.Status {
		return native.StatusErr
	})
	require.Error(t, err)

	var rerr *RejectedError
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, "stop", rerr.Op)
	assert.Equal(t, pending, Pending())
}

func TestCompletionAwaitGivesUp(t *testing.T) {
	release := make(chan struct{})
	c := New()
	require.NoError(t, c.Issue("download_chunk", func(cb native.Callback, ud uintptr) native.Status {
		go func() {
			<-release
			cb(native.StatusOK, []byte("late"), 4, ud)
		}()
		return native.StatusOK
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Await(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// The engine finishes after the waiter left.
	close(release)
	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("late callback did not resolve the completion")
	}
	payload, err := c.Result()
	require.NoError(t, err)
	assert.Equal(t, "late", string(payload))
}

func TestCompletionConcurrentResolve(t *testing.T) {
	c := New()

	var wg sync.WaitGroup
	wins := make(chan int, 16)
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.Resolve(native.StatusOK, []byte{byte(i)}, 1) {
				wins <- i
			}
		}()
	}
	wg.Wait()
	close(wins)

	var winners []int
	for w := range wins {
		winners = append(winners, w)
	}
	require.Len(t, winners, 1)

	payload, err := c.Wait()
	require.NoError(t, err)
	assert.Equal(t, []byte{byte(winners[0])}, payload)
}

func TestTrampolineUnknownToken(t *testing.T) {
	before := testutil.ToFloat64(metrics.LateCallbacks)
	Trampoline(native.StatusOK, []byte("orphan"), 6, ^uintptr(0))
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.LateCallbacks))
}
