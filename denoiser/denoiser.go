// Package denoiser implements the pluggable denoiser abstraction (spec §4.2
// C4, §4.3 C5, §4.4 C6) and its registry/factory (§4.5 C7): a template-
// method base enforcing the initialize/process-frame/destroy lifecycle,
// over two concrete algorithms — a wazero-hosted spectral kernel with
// built-in VAD, and a wazero-hosted neural kernel without one.
package denoiser

import (
	"context"
	"fmt"
	"sync"

	"noisepipe"
	"noisepipe/logging"
)

// Type is the closed denoiser tag set (spec §3 DenoiserType).
type Type int

const (
	TypeSpectral Type = iota
	TypeNeural
)

// errKernelAlloc is wrapped with artifact-specific detail by the concrete
// denoisers when a kernel context or scratch buffer allocation fails.
var errKernelAlloc = noisepipe.ErrKernelAllocationFailure

func (t Type) String() string {
	switch t {
	case TypeSpectral:
		return "SPECTRAL"
	case TypeNeural:
		return "NEURAL"
	default:
		return "UNKNOWN"
	}
}

// Denoiser is the public polymorphic interface over both algorithms.
// Configure is a no-op for implementations with nothing runtime-tunable.
type Denoiser interface {
	Initialize(ctx context.Context) error
	ProcessFrame(buf []float32) (vad float32, err error)
	Destroy(ctx context.Context) error

	FrameSize() int
	Type() Type
	LastVADScore() float32
	SetVADLogging(enabled bool)
}

// lifecycleState is the base's internal state machine (spec §9 "internal
// struct field state ∈ {Uninitialized, Ready, Destroyed}").
type lifecycleState int

const (
	stateUninitialized lifecycleState = iota
	stateReady
	stateDestroyed
)

// base enforces the initialize/process-frame/destroy state machine and the
// frame-length precondition uniformly across algorithms; subclasses supply
// pure algorithm behavior via the unexported hook fields, set once in each
// concrete constructor. This is the "thin wrapper struct owning the
// variant" encoding the spec's design notes call out as the language-
// neutral equivalent of class inheritance with a template-method base
// (spec §9 "Polymorphism over algorithms").
type base struct {
	mu         sync.Mutex
	state      lifecycleState
	frameSize  int
	lastVAD    float32
	vadLogging bool
	logger     logging.Logger
	typ        Type

	// Hooks. Each concrete denoiser's constructor sets these to closures
	// over its own private fields; base never reaches into a subclass's
	// state directly.
	doInitialize         func(ctx context.Context) error
	doProcessFrame       func(buf []float32) (float32, error)
	doDestroy            func(ctx context.Context) error
	getFrameSizeInternal func() int
}

func newBase(typ Type, defaultFrameSize int, logger logging.Logger) *base {
	if logger == nil {
		logger = logging.Discard()
	}
	return &base{
		typ:       typ,
		frameSize: defaultFrameSize,
		logger:    logger,
	}
}

// Initialize is one-shot and asynchronous in spirit (it awaits the module
// loader); calling it twice logs a warning and is a no-op (spec §4.2).
func (b *base) Initialize(ctx context.Context) error {
	b.mu.Lock()
	if b.state == stateReady {
		b.mu.Unlock()
		b.logger.Warn("denoiser: Initialize called twice, ignoring", map[string]any{"type": b.typ.String()})
		return nil
	}
	if b.state == stateDestroyed {
		b.mu.Unlock()
		return fmt.Errorf("denoiser: cannot initialize a destroyed instance")
	}
	b.mu.Unlock()

	if err := b.doInitialize(ctx); err != nil {
		return err
	}

	b.mu.Lock()
	if b.getFrameSizeInternal != nil {
		b.frameSize = b.getFrameSizeInternal()
	}
	b.state = stateReady
	b.mu.Unlock()
	return nil
}

// ProcessFrame enforces the initialized + frame-length precondition, then
// delegates to the algorithm. Returns VAD in [0,1], or 0 if the algorithm
// has none.
func (b *base) ProcessFrame(buf []float32) (float32, error) {
	b.mu.Lock()
	if b.state != stateReady {
		b.mu.Unlock()
		return 0, noisepipe.ErrNotInitialized
	}
	if len(buf) != b.frameSize {
		b.mu.Unlock()
		return 0, noisepipe.ErrFrameSizeMismatch
	}
	b.mu.Unlock()

	vad, err := b.doProcessFrame(buf)
	if err != nil {
		return 0, err
	}

	b.mu.Lock()
	b.lastVAD = vad
	shouldLog := b.vadLogging
	b.mu.Unlock()
	if shouldLog {
		b.logger.Debug("denoiser: frame processed", map[string]any{"vad": vad})
	}
	return vad, nil
}

// Destroy is idempotent: a repeated call is a no-op.
func (b *base) Destroy(ctx context.Context) error {
	b.mu.Lock()
	if b.state == stateDestroyed {
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	err := b.doDestroy(ctx)

	b.mu.Lock()
	b.state = stateDestroyed
	b.mu.Unlock()
	return err
}

// FrameSize returns the denoiser's fixed frame size. Readable before
// Initialize, returning the algorithm's default.
func (b *base) FrameSize() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.frameSize
}

func (b *base) Type() Type { return b.typ }

func (b *base) LastVADScore() float32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastVAD
}

func (b *base) SetVADLogging(enabled bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.vadLogging = enabled
}
