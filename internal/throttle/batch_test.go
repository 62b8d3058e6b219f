package throttle

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatch_SharesOneInvocation(t *testing.T) {
	var calls atomic.Int32
	b := NewBatch(20*time.Millisecond, func(context.Context) (int32, error) {
		return calls.Add(1), nil
	})
	defer b.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var wg sync.WaitGroup
	results := make([]int32, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := b.Call(ctx)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, v := range results {
		assert.Equal(t, int32(1), v)
	}
}

func TestBatch_ErrorReachesEveryCaller(t *testing.T) {
	boom := errors.New("boom")
	b := NewBatch(10*time.Millisecond, func(context.Context) (string, error) {
		return "", boom
	})
	defer b.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := b.Call(ctx)
			assert.ErrorIs(t, err, boom)
		}()
	}
	wg.Wait()
}

func TestBatch_SeparateWindows(t *testing.T) {
	var calls atomic.Int32
	b := NewBatch(5*time.Millisecond, func(context.Context) (int32, error) {
		return calls.Add(1), nil
	})
	defer b.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	first, err := b.Call(ctx)
	require.NoError(t, err)
	second, err := b.Call(ctx)
	require.NoError(t, err)

	assert.Equal(t, int32(1), first)
	assert.Equal(t, int32(2), second)
}

func TestBatch_Wait(t *testing.T) {
	var calls atomic.Int32
	b := NewBatch(10*time.Millisecond, func(context.Context) (int32, error) {
		return calls.Add(1), nil
	})
	defer b.Stop()

	go func() { _, _ = b.Call(context.Background()) }()
	require.Eventually(t, func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		return len(b.open) == 1
	}, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, b.Wait(ctx))
	assert.Equal(t, int32(1), calls.Load())
}

func TestBatch_StopFailsPendingWindow(t *testing.T) {
	b := NewBatch(time.Hour, func(context.Context) (int, error) { return 1, nil })

	errs := make(chan error, 1)
	go func() {
		_, err := b.Call(context.Background())
		errs <- err
	}()
	require.Eventually(t, func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		return b.pending != nil
	}, time.Second, time.Millisecond)

	b.Stop()

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrStopped)
	case <-time.After(time.Second):
		t.Fatal("pending call not released by Stop")
	}

	_, err := b.Call(context.Background())
	assert.ErrorIs(t, err, ErrStopped)
}
