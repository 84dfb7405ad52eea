// Package loader implements the lazy, single-flight acquisition of a
// denoiser's compute kernel (and, for the neural denoiser, its model blob)
// described in spec.md §4.1. Regardless of how many callers invoke Load
// concurrently, the underlying fetch-and-materialize work happens at most
// once per (loader, configuration) pair.
package loader

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"noisepipe/logging"
)

// Status is the loader's state machine position (spec §3 Loader status).
type Status int

const (
	NotLoaded Status = iota
	Loading
	Loaded
)

func (s Status) String() string {
	switch s {
	case NotLoaded:
		return "NOT_LOADED"
	case Loading:
		return "LOADING"
	case Loaded:
		return "LOADED"
	default:
		return "UNKNOWN"
	}
}

// ErrResetWhileLoading is returned by Reset when a fetch is in flight;
// resetting during LOADING is not permitted per spec §4.1.
var ErrResetWhileLoading = errors.New("loader: reset not permitted while loading")

// LoadError surfaces which artifact failed to load and why, per spec §7
// LoadFailure{artifact, cause}.
type LoadError struct {
	Artifact string
	Cause    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("loader: load %s: %v", e.Artifact, e.Cause)
}

func (e *LoadError) Unwrap() error { return e.Cause }

// round is one in-flight (or just-completed) fetch attempt. It is
// immutable once done is closed, so waiters that captured a *round before
// unlocking can read value/err race-free without re-acquiring the mutex —
// a later round replacing l.current does not affect waiters of this one,
// which is what lets a failed fetch propagate the exact same error to
// every caller that was waiting on it (spec §4.1, testable property 3).
type round[T any] struct {
	done  chan struct{}
	value T
	err   error
}

// Loader is a generic single-flight, configuration-keyed lazy loader. T is
// the materialized artifact type (e.g. a *wasmrt.Module, or a struct
// bundling a module with a validated model blob).
//
// Grounded on the design note in spec §9 ("model as an explicit state
// machine with a stored in-flight completion handle. Concurrent callers
// subscribe to the handle; on resolution all subscribers receive the same
// value or error").
type Loader[T any] struct {
	mu      sync.Mutex
	status  Status
	key     any
	value   T
	current *round[T] // non-nil only while status == Loading

	logger logging.Logger
}

// New returns an unloaded Loader. A nil logger is replaced with a discard
// logger so callers never need a nil check.
func New[T any](logger logging.Logger) *Loader[T] {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Loader[T]{logger: logger}
}

// Status reports the current state machine position.
func (l *Loader[T]) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

// Reset drops any cached value and returns the loader to NOT_LOADED. Fails
// with ErrResetWhileLoading if a fetch is currently in flight.
func (l *Loader[T]) Reset() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.status == Loading {
		return ErrResetWhileLoading
	}
	var zero T
	l.status = NotLoaded
	l.value = zero
	l.key = nil
	return nil
}

// Load returns the cached value for key if one exists and is LOADED;
// otherwise it performs fetch exactly once even under concurrent callers,
// caches the result on success, and returns to NOT_LOADED on failure so a
// subsequent call retries (spec §4.1, testable properties 3 and 4).
//
// key must be comparable (structs of primitive fields are the expected
// shape — see SpectralKey/NeuralKey). A key change while LOADED silently
// invalidates the stale cache rather than returning it.
func (l *Loader[T]) Load(ctx context.Context, key any, fetch func(context.Context) (T, error)) (T, error) {
	l.mu.Lock()
	switch l.status {
	case Loaded:
		if l.key == key {
			v := l.value
			l.mu.Unlock()
			return v, nil
		}
		// Configuration changed: the cache is stale. Fall through to
		// materialize fresh as the leader of a new round.
		var zero T
		l.value = zero
		l.status = NotLoaded
	case Loading:
		r := l.current
		l.mu.Unlock()
		select {
		case <-r.done:
			return r.value, r.err
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}

	// We are the leader for this round: NOT_LOADED (or just invalidated).
	r := &round[T]{done: make(chan struct{})}
	l.status = Loading
	l.key = key
	l.current = r
	l.mu.Unlock()

	l.logger.Debug("loader: fetch starting", map[string]any{"key": fmt.Sprintf("%+v", key)})
	value, err := fetch(ctx)

	l.mu.Lock()
	r.value, r.err = value, err
	if err != nil {
		l.status = NotLoaded
		l.current = nil
		var zero T
		l.value = zero
		l.mu.Unlock()
		close(r.done)
		l.logger.Warn("loader: fetch failed", map[string]any{"error": err.Error()})
		return zero, err
	}
	l.status = Loaded
	l.value = value
	l.current = nil
	l.mu.Unlock()
	close(r.done)
	l.logger.Debug("loader: fetch complete", nil)
	return value, nil
}
