// Package noisepipe implements a real-time single-channel audio
// noise-suppression pipeline: a pluggable denoiser abstraction (spectral and
// neural), a lazy single-flight module loader for their compute kernels, a
// VAD-driven gain controller, and a track processor that glues an inbound
// frame stream to a denoiser instance.
package noisepipe

import "errors"

// Format is the sample layout of a Frame. Only FormatF32Planar is
// supported; anything else is rejected at the track processor boundary.
type Format int

const (
	FormatF32Planar Format = iota
)

// Frame is the external audio frame descriptor: a variable-length block of
// samples as delivered by the media runtime, carrying enough metadata to
// derive outbound timestamps without consulting a wall clock.
type Frame struct {
	Format       Format
	SampleRateHz int
	ChannelCount int
	FrameCount   int
	TimestampUs  int64
	DurationUs   int64
	Samples      []float32 // planar-0 samples, length == FrameCount
}

// Sentinel errors per the pipeline's error-kind catalog. Each is tested with
// errors.Is; callers that need per-artifact detail type-assert the
// concrete wrapping error (e.g. *loader.LoadError).
var (
	// ErrNotInitialized is returned when an operation requires a prior
	// call to Initialize that never happened (or failed).
	ErrNotInitialized = errors.New("noisepipe: not initialized")

	// ErrAlreadyInitialized is never returned to a caller as a hard
	// failure; it is logged at warn and the second Initialize call is a
	// no-op. It exists as a sentinel so tests can assert on the benign
	// path with errors.Is against logged detail if needed.
	ErrAlreadyInitialized = errors.New("noisepipe: already initialized")

	// ErrFrameSizeMismatch is returned by ProcessFrame when the supplied
	// buffer's length does not equal the denoiser's FrameSize.
	ErrFrameSizeMismatch = errors.New("noisepipe: frame size mismatch")

	// ErrUnsupportedFormat is returned when an inbound Frame is not
	// single-channel planar f32.
	ErrUnsupportedFormat = errors.New("noisepipe: unsupported frame format")

	// ErrUnknownDenoiserType is returned by the registry when no entry is
	// registered under the requested DenoiserType.
	ErrUnknownDenoiserType = errors.New("noisepipe: unknown denoiser type")

	// ErrUnsupportedDenoiserType is returned by the registry when an
	// entry exists but its capability predicate reports false.
	ErrUnsupportedDenoiserType = errors.New("noisepipe: unsupported denoiser type")

	// ErrKernelAllocationFailure is returned when a denoiser's kernel
	// context or scratch buffers cannot be allocated.
	ErrKernelAllocationFailure = errors.New("noisepipe: kernel allocation failure")

	// ErrPipelineAborted signals cooperative session cancellation. It is
	// not logged as an error by callers that observe it from Stop.
	ErrPipelineAborted = errors.New("noisepipe: pipeline aborted")

	// ErrDownstreamClosed is a benign signal that the outbound sink ended
	// the track; it triggers a graceful stop, not a fatal error path.
	ErrDownstreamClosed = errors.New("noisepipe: downstream closed")
)
