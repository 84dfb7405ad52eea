package loader

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSingleFlightExactlyOnce(t *testing.T) {
	l := New[int](nil)
	var calls atomic.Int32
	var wg sync.WaitGroup

	release := make(chan struct{})
	fetch := func(ctx context.Context) (int, error) {
		calls.Add(1)
		<-release
		return 42, nil
	}

	const n = 10
	results := make([]int, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := l.Load(context.Background(), "key", fetch)
			results[i] = v
			errs[i] = err
		}(i)
	}

	time.Sleep(20 * time.Millisecond) // let all goroutines park in Loading
	close(release)
	wg.Wait()

	require.Equal(t, int32(1), calls.Load(), "fetch should run exactly once")
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, 42, results[i])
	}
	require.Equal(t, Loaded, l.Status())
}

func TestRetryAfterFailure(t *testing.T) {
	l := New[string](nil)
	var calls atomic.Int32

	failing := func(ctx context.Context) (string, error) {
		calls.Add(1)
		return "", errors.New("boom")
	}

	_, err := l.Load(context.Background(), "key", failing)
	require.Error(t, err)
	require.Equal(t, NotLoaded, l.Status())

	succeeding := func(ctx context.Context) (string, error) {
		calls.Add(1)
		return "ok", nil
	}
	v, err := l.Load(context.Background(), "key", succeeding)
	require.NoError(t, err)
	require.Equal(t, "ok", v)
	require.Equal(t, int32(2), calls.Load())
}

func TestFailurePropagatesToAllWaiters(t *testing.T) {
	l := New[int](nil)
	release := make(chan struct{})
	wantErr := errors.New("network down")

	fetch := func(ctx context.Context) (int, error) {
		<-release
		return 0, wantErr
	}

	const n = 5
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := l.Load(context.Background(), "key", fetch)
			errs[i] = err
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := 0; i < n; i++ {
		require.ErrorIs(t, errs[i], wantErr)
	}
}

func TestConfigChangeInvalidatesCache(t *testing.T) {
	l := New[string](nil)
	var calls atomic.Int32
	fetch := func(ctx context.Context) (string, error) {
		calls.Add(1)
		return "v", nil
	}

	_, err := l.Load(context.Background(), "key1", fetch)
	require.NoError(t, err)
	_, err = l.Load(context.Background(), "key1", fetch)
	require.NoError(t, err)
	require.Equal(t, int32(1), calls.Load(), "same key should be cached")

	_, err = l.Load(context.Background(), "key2", fetch)
	require.NoError(t, err)
	require.Equal(t, int32(2), calls.Load(), "different key should re-fetch")
}

func TestResetWhileLoadingRejected(t *testing.T) {
	l := New[int](nil)
	release := make(chan struct{})
	fetch := func(ctx context.Context) (int, error) {
		<-release
		return 1, nil
	}
	go l.Load(context.Background(), "key", fetch)
	time.Sleep(10 * time.Millisecond)

	err := l.Reset()
	require.ErrorIs(t, err, ErrResetWhileLoading)
	close(release)
}

func TestGzipCorrection(t *testing.T) {
	plain := []byte("not gzipped model bytes")
	framed, err := ensureGzipFramed(plain)
	require.NoError(t, err)
	require.True(t, isGzipped(framed))

	already := framed
	again, err := ensureGzipFramed(already)
	require.NoError(t, err)
	require.Equal(t, already, again, "already-framed input should pass through unchanged")
}
