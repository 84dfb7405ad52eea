// Package track implements the track processor (spec §4.7 C9): it
// re-blocks a variable-sized inbound frame stream into a denoiser's fixed
// frame size, runs the denoiser, optionally layers the VAD gain
// controller, applies a start-of-session fade-in and hard sample clamp,
// and emits reconstructed frames with correctly-derived timestamps.
//
// Grounded on the goroutine-loop-plus-stop-channel shape of
// client/audio.go's captureLoop/playbackLoop pair (a stopCh closed by Stop,
// a sync.WaitGroup the caller waits on, an atomic running flag guarding
// double-Start/Stop), generalized from a PortAudio device loop to a
// FrameSource/FrameSink pipeline.
package track

import (
	"context"
	"sync"
	"sync/atomic"

	"noisepipe"
	"noisepipe/denoiser"
	"noisepipe/gain"
	"noisepipe/logging"
)

// FadeInSamples is the ~20 ms fade-in window at 48 kHz (spec §4.7).
const FadeInSamples = 960

// defaultSampleRateHz is assumed only until the first inbound frame reports
// its actual rate (spec §6's frame contract carries sample_rate_hz
// per-frame, not as a fixed constant).
const defaultSampleRateHz = 48000

// FrameSource is the inbound track: a source of frame descriptors. Must
// yield f32 planar mono frames; anything else fails the session (spec §6).
type FrameSource interface {
	// NextFrame blocks until a frame is available, the source is
	// exhausted (ok == false, err == nil), or ctx is done.
	NextFrame(ctx context.Context) (frame noisepipe.Frame, ok bool, err error)
}

// FrameSink is the outbound track: a sink accepting reconstructed frames.
// Ended reports whether the sink has been closed downstream (spec §6
// "ready_state == ended").
type FrameSink interface {
	Emit(ctx context.Context, frame noisepipe.Frame) error
	Ended() bool
}

// Config is the track processor's recognized configuration surface
// (spec §6).
type Config struct {
	DenoiserType   denoiser.Type
	DenoiserConfig denoiser.Config
	VADConfig      gain.Config
	ApplyVADGain   bool
	Debug          bool
}

// Processor glues one denoiser instance to one inbound/outbound frame
// stream for the lifetime of a processing session. Only one session at a
// time; a second Start stops the prior session first (spec §4.7).
type Processor struct {
	d      denoiser.Denoiser
	gainer *gain.Controller
	cfg    Config
	logger logging.Logger

	mu      sync.Mutex
	running atomic.Bool
	stopCh  chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	frameSize int

	inputBuf    []float32
	originalBuf []float32
	outputBuf   []float32

	bufferedSamples int
	nextTimestampUs int64
	fadeInRemaining int
	previousGain    float32
	sampleRateHz    int

	framesIn        atomic.Uint64
	framesProcessed atomic.Uint64
	framesEmitted   atomic.Uint64

	lastErr error
}

// NewProcessor constructs a Processor around an already-initialized
// denoiser (spec §4.7 "must be constructed with an initialized denoiser").
// If cfg.ApplyVADGain is set, a gain.Controller is created from
// cfg.VADConfig.
func NewProcessor(d denoiser.Denoiser, cfg Config, logger logging.Logger) *Processor {
	if logger == nil {
		logger = logging.Discard()
	}
	p := &Processor{
		d:         d,
		cfg:       cfg,
		logger:    logger,
		frameSize: d.FrameSize(),
	}
	if cfg.ApplyVADGain {
		p.gainer = gain.New(cfg.VADConfig)
	}
	p.resetBuffers()
	return p
}

func (p *Processor) resetBuffers() {
	p.inputBuf = make([]float32, p.frameSize)
	p.originalBuf = make([]float32, p.frameSize)
	p.outputBuf = make([]float32, p.frameSize)
	p.bufferedSamples = 0
	p.fadeInRemaining = FadeInSamples
	p.previousGain = 1.0
	p.sampleRateHz = defaultSampleRateHz
}

// Stats reports the session's frame counters (spec §5's "dropped-frame
// accounting" supplement — grounded on client/audio.go's DroppedFrames()
// counter-pair pattern).
func (p *Processor) Stats() (framesIn, framesProcessed, framesEmitted uint64) {
	return p.framesIn.Load(), p.framesProcessed.Load(), p.framesEmitted.Load()
}

// Start begins a processing session reading from source and writing to
// sink. A second Start call stops any prior session first. Start returns
// once the session's goroutine has been launched; it does not block for
// the session to finish.
func (p *Processor) Start(ctx context.Context, source FrameSource, sink FrameSink) {
	p.Stop()

	p.mu.Lock()
	p.resetBuffers()
	if p.gainer != nil {
		p.gainer.Reset()
	}
	p.framesIn.Store(0)
	p.framesProcessed.Store(0)
	p.framesEmitted.Store(0)
	p.lastErr = nil
	p.stopCh = make(chan struct{})
	sessionCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	stopCh := p.stopCh
	p.mu.Unlock()

	p.running.Store(true)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.runLoop(sessionCtx, source, sink, stopCh)
	}()
}

// Stop sets the abort flag, cancels the session context (so a FrameSource
// blocked on ctx unblocks), and waits for the session's goroutine to
// release its resources. Idempotent; a Stop with no running session is a
// no-op.
func (p *Processor) Stop() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	p.mu.Lock()
	stopCh := p.stopCh
	cancel := p.cancel
	p.mu.Unlock()
	if stopCh != nil {
		close(stopCh)
	}
	if cancel != nil {
		cancel()
	}
	p.wg.Wait()

	framesIn, framesProcessed, framesEmitted := p.Stats()
	p.logger.Info("track processor: session ended", map[string]any{
		"frames_in": framesIn, "frames_processed": framesProcessed, "frames_emitted": framesEmitted,
	})
	if p.gainer != nil {
		p.gainer.Reset()
	}
}

// LastError returns the error that ended the most recent session, if any.
func (p *Processor) LastError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

func (p *Processor) setLastErr(err error) {
	p.mu.Lock()
	p.lastErr = err
	p.mu.Unlock()
}

func (p *Processor) runLoop(ctx context.Context, source FrameSource, sink FrameSink, stopCh chan struct{}) {
	defer p.running.Store(false)

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		inbound, ok, err := source.NextFrame(ctx)
		if err != nil {
			p.setLastErr(err)
			return
		}
		if !ok {
			return
		}
		p.framesIn.Add(1)

		if inbound.ChannelCount != 1 || inbound.Format != noisepipe.FormatF32Planar {
			p.setLastErr(noisepipe.ErrUnsupportedFormat)
			return
		}
		if inbound.SampleRateHz > 0 {
			p.sampleRateHz = inbound.SampleRateHz
		}

		if err := p.ingest(ctx, inbound, sink, stopCh); err != nil {
			if err != noisepipe.ErrDownstreamClosed && err != noisepipe.ErrPipelineAborted {
				p.setLastErr(err)
			}
			return
		}
	}
}

// ingest reblocks one inbound frame into frameSize chunks, emitting
// whenever a chunk fills the buffer (spec §4.7 steps 2-4).
func (p *Processor) ingest(ctx context.Context, inbound noisepipe.Frame, sink FrameSink, stopCh chan struct{}) error {
	if p.bufferedSamples == 0 {
		p.nextTimestampUs = inbound.TimestampUs
	}

	offset := 0
	for offset < len(inbound.Samples) {
		select {
		case <-stopCh:
			return noisepipe.ErrPipelineAborted
		default:
		}

		chunk := min(p.frameSize-p.bufferedSamples, len(inbound.Samples)-offset)
		copy(p.inputBuf[p.bufferedSamples:p.bufferedSamples+chunk], inbound.Samples[offset:offset+chunk])
		copy(p.originalBuf[p.bufferedSamples:p.bufferedSamples+chunk], inbound.Samples[offset:offset+chunk])
		p.bufferedSamples += chunk
		offset += chunk

		if p.bufferedSamples == p.frameSize {
			if err := p.emit(ctx, sink); err != nil {
				return err
			}
			p.bufferedSamples = 0
			if inbound.FrameCount > 0 {
				p.nextTimestampUs = inbound.TimestampUs + inbound.DurationUs*int64(offset)/int64(inbound.FrameCount)
			}
		}
	}
	return nil
}

// emit runs the denoiser, fade-in, clamp, optional VAD gain, and hands the
// reconstructed frame to sink (spec §4.7 "Emit sub-step").
func (p *Processor) emit(ctx context.Context, sink FrameSink) error {
	copy(p.outputBuf, p.inputBuf)

	vad, err := p.d.ProcessFrame(p.outputBuf)
	if err != nil {
		return err
	}
	p.framesProcessed.Add(1)

	p.applyFadeIn()
	clampBuf(p.outputBuf)

	if p.cfg.ApplyVADGain && p.d.Type() == denoiser.TypeSpectral && vad > 0 {
		g := p.gainer.ComputeGain(vad)
		gain.ApplyGainWithBlend(p.outputBuf, p.originalBuf, p.previousGain, g, 0.1)
		p.previousGain = g
	}

	if sink.Ended() {
		return noisepipe.ErrDownstreamClosed
	}

	durationUs := int64(p.frameSize) * 1_000_000 / int64(p.sampleRateHz)
	out := noisepipe.Frame{
		Format:       noisepipe.FormatF32Planar,
		SampleRateHz: p.sampleRateHz,
		ChannelCount: 1,
		FrameCount:   p.frameSize,
		TimestampUs:  p.nextTimestampUs,
		DurationUs:   durationUs,
		Samples:      append([]float32(nil), p.outputBuf...),
	}
	if err := sink.Emit(ctx, out); err != nil {
		return err
	}
	p.framesEmitted.Add(1)
	return nil
}

// applyFadeIn multiplies the leading edge of a new session's output by a
// smoothstep curve, decrementing the remaining window by the count
// actually faded (spec §4.7 step 3).
func (p *Processor) applyFadeIn() {
	if p.fadeInRemaining <= 0 {
		return
	}
	n := len(p.outputBuf)
	if n > p.fadeInRemaining {
		n = p.fadeInRemaining
	}
	for i := 0; i < n; i++ {
		remaining := p.fadeInRemaining - i
		progress := 1 - float32(remaining)/float32(FadeInSamples)
		mult := progress * progress * (3 - 2*progress)
		p.outputBuf[i] *= mult
	}
	p.fadeInRemaining -= n
}

func clampBuf(buf []float32) {
	for i, v := range buf {
		if v > 1 {
			buf[i] = 1
		} else if v < -1 {
			buf[i] = -1
		}
	}
}
