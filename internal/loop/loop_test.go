package loop

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startLoop(t *testing.T) (*Loop, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	l := New(clock, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = l.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-l.Done()
	})
	return l, clock
}

// advanceUntil moves the fake clock forward in small steps until cond holds.
func advanceUntil(t *testing.T, clock *clockwork.FakeClock, step time.Duration, cond func() bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		if cond() {
			return true
		}
		clock.Advance(step)
		return false
	}, 2*time.Second, time.Millisecond)
}

func TestLoop_RunsCallbacksInOrder(t *testing.T) {
	l, _ := startLoop(t)

	var mu sync.Mutex
	var got []int
	for i := 0; i < 50; i++ {
		i := i
		require.True(t, l.Post(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		}))
	}
	require.NoError(t, l.Do(context.Background(), func() {}))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 50)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestLoop_PostAfterStop(t *testing.T) {
	l := New(clockwork.NewFakeClock(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = l.Run(ctx) }()
	cancel()
	<-l.Done()

	assert.False(t, l.Post(func() {}))
	assert.ErrorIs(t, l.Do(context.Background(), func() {}), ErrClosed)
}

func TestLoop_RecoversFromPanic(t *testing.T) {
	l, _ := startLoop(t)
	l.Post(func() { panic("boom") })

	ran := false
	require.NoError(t, l.Do(context.Background(), func() { ran = true }))
	assert.True(t, ran)
}

func TestAfterFunc(t *testing.T) {
	l, clock := startLoop(t)
	var fired atomic.Bool
	l.AfterFunc(time.Second, func() { fired.Store(true) })

	clock.Advance(500 * time.Millisecond)
	require.NoError(t, l.Do(context.Background(), func() {}))
	assert.False(t, fired.Load())

	advanceUntil(t, clock, 100*time.Millisecond, fired.Load)
}

func TestPoll_StopsWhenHandlerReturnsFalse(t *testing.T) {
	l, clock := startLoop(t)

	var fetches, handled atomic.Int32
	task := Poll(l, "test", time.Second, false,
		func(context.Context) (int32, error) {
			return fetches.Add(1), nil
		},
		func(n int32, err error) bool {
			handled.Add(1)
			return n < 3
		})

	advanceUntil(t, clock, 250*time.Millisecond, func() bool { return handled.Load() == 3 })
	assert.False(t, task.Cancelled())

	for i := 0; i < 20; i++ {
		clock.Advance(time.Second)
	}
	require.NoError(t, l.Do(context.Background(), func() {}))
	assert.Equal(t, int32(3), fetches.Load())
}

func TestPoll_Immediate(t *testing.T) {
	l, _ := startLoop(t)
	got := make(chan error, 1)
	Poll(l, "immediate", time.Hour, true,
		func(context.Context) (struct{}, error) { return struct{}{}, errors.New("x") },
		func(_ struct{}, err error) bool {
			got <- err
			return false
		})

	select {
	case err := <-got:
		assert.EqualError(t, err, "x")
	case <-time.After(2 * time.Second):
		t.Fatal("immediate poll did not run")
	}
}

func TestPoll_CancelSuppressesInFlightResult(t *testing.T) {
	l, clock := startLoop(t)

	started := make(chan struct{})
	release := make(chan struct{})
	var handled atomic.Bool
	task := Poll(l, "inflight", time.Second, false,
		func(ctx context.Context) (int, error) {
			close(started)
			<-release
			return 1, nil
		},
		func(int, error) bool {
			handled.Store(true)
			return true
		})

	advanceUntil(t, clock, 250*time.Millisecond, func() bool {
		select {
		case <-started:
			return true
		default:
			return false
		}
	})
	task.Cancel()
	assert.Error(t, task.Context().Err())
	close(release)

	require.Never(t, handled.Load, 100*time.Millisecond, 5*time.Millisecond)
}

func TestEvery(t *testing.T) {
	l, clock := startLoop(t)

	var ticks atomic.Int32
	task := Every(l, "ticker", 800*time.Millisecond, func() bool {
		ticks.Add(1)
		return true
	})

	advanceUntil(t, clock, 400*time.Millisecond, func() bool { return ticks.Load() >= 3 })
	task.Cancel()
	require.NoError(t, l.Do(context.Background(), func() {}))
	n := ticks.Load()

	for i := 0; i < 10; i++ {
		clock.Advance(time.Second)
	}
	require.Never(t, func() bool { return ticks.Load() != n }, 100*time.Millisecond, 5*time.Millisecond)
}

func TestAfter(t *testing.T) {
	l, clock := startLoop(t)

	var fired atomic.Int32
	task := After(l, "delay", 1500*time.Millisecond, func() { fired.Add(1) })
	advanceUntil(t, clock, 500*time.Millisecond, func() bool { return fired.Load() == 1 })
	assert.True(t, task.Cancelled(), "a fired task reports done")

	var cancelled atomic.Bool
	task = After(l, "cancelled", time.Second, func() { cancelled.Store(true) })
	task.Cancel()
	clock.Advance(2 * time.Second)
	require.Never(t, cancelled.Load, 100*time.Millisecond, 5*time.Millisecond)
}

func TestTask_NilIsCancelled(t *testing.T) {
	var task *Task
	assert.True(t, task.Cancelled())
	task.Cancel()
}

func TestGo(t *testing.T) {
	l, _ := startLoop(t)
	got := make(chan int, 1)
	Go(l, "once", func(context.Context) (int, error) { return 7, nil }, func(v int, err error) {
		assert.NoError(t, err)
		got <- v
	})
	select {
	case v := <-got:
		assert.Equal(t, 7, v)
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not run")
	}
}
