// Package gain implements the VAD-driven gain controller (spec §4.6): it
// turns a stream of per-frame VAD scores into a smoothly-varying per-sample
// gain, click-free at frame boundaries, with attack/release asymmetry and a
// hangover window that holds the gate open past the end of detected speech.
//
// Grounded on the asymmetric-smoothing shape of the teacher's
// internal/agc.AGC (attack/release coefficients applied to a lerp) and the
// hangover counter in internal/vad.VAD, generalized to the richer
// per-sample interpolated gain the track processor needs at frame
// boundaries.
package gain

import "noisepipe/internal/dsp"

// Config is the controller's seven-scalar tuning surface (spec §3 "VAD gain
// config"). All fields are pure configuration: Configure replaces named
// scalars without touching the others, and nothing here is mutated by
// processing.
type Config struct {
	VADSmoothingFactor float32 // asymmetric smoothing coefficient on the release side
	VADThreshold       float32
	HangoverFrames     int
	MinGateGain        float32
	AttackSmoothing    float32
	ReleaseSmoothing   float32
	HangoverFadeStart  float32
}

// DefaultConfig holds the spec's tuned defaults.
func DefaultConfig() Config {
	return Config{
		VADSmoothingFactor: 0.08,
		VADThreshold:       0.30,
		HangoverFrames:     45,
		MinGateGain:        0.15,
		AttackSmoothing:    0.15,
		ReleaseSmoothing:   0.03,
		HangoverFadeStart:  0.6,
	}
}

// State is the controller's per-frame scalar state (spec §3 "VAD gain
// state"), initialized to {0, 0, 1, 1}.
type State struct {
	SmoothedVAD             float32
	HangoverFramesRemaining int
	PreviousGain            float32
	TargetGain              float32
}

// Controller turns per-frame VAD scores into a per-sample gain curve. The
// zero value is not usable; use New.
type Controller struct {
	cfg   Config
	state State
}

// New returns a Controller configured with cfg merged over DefaultConfig
// zero fields, and state initialized to {0, 0, 1, 1}.
func New(cfg Config) *Controller {
	c := &Controller{cfg: withDefaults(cfg)}
	c.Reset()
	return c
}

// withDefaults fills zero-valued fields of cfg from DefaultConfig, the same
// "merge default under supplied" rule the registry applies to denoiser
// configs (spec §4.5).
func withDefaults(cfg Config) Config {
	d := DefaultConfig()
	if cfg.VADSmoothingFactor == 0 {
		cfg.VADSmoothingFactor = d.VADSmoothingFactor
	}
	if cfg.VADThreshold == 0 {
		cfg.VADThreshold = d.VADThreshold
	}
	if cfg.HangoverFrames == 0 {
		cfg.HangoverFrames = d.HangoverFrames
	}
	if cfg.MinGateGain == 0 {
		cfg.MinGateGain = d.MinGateGain
	}
	if cfg.AttackSmoothing == 0 {
		cfg.AttackSmoothing = d.AttackSmoothing
	}
	if cfg.ReleaseSmoothing == 0 {
		cfg.ReleaseSmoothing = d.ReleaseSmoothing
	}
	if cfg.HangoverFadeStart == 0 {
		cfg.HangoverFadeStart = d.HangoverFadeStart
	}
	return cfg
}

// Reset returns the controller to its initial state {0, 0, 1, 1} without
// changing its configuration.
func (c *Controller) Reset() {
	c.state = State{SmoothedVAD: 0, HangoverFramesRemaining: 0, PreviousGain: 1, TargetGain: 1}
}

// Configure replaces the named non-zero scalars in partial, leaving others
// untouched.
func (c *Controller) Configure(partial Config) {
	if partial.VADSmoothingFactor != 0 {
		c.cfg.VADSmoothingFactor = partial.VADSmoothingFactor
	}
	if partial.VADThreshold != 0 {
		c.cfg.VADThreshold = partial.VADThreshold
	}
	if partial.HangoverFrames != 0 {
		c.cfg.HangoverFrames = partial.HangoverFrames
	}
	if partial.MinGateGain != 0 {
		c.cfg.MinGateGain = partial.MinGateGain
	}
	if partial.AttackSmoothing != 0 {
		c.cfg.AttackSmoothing = partial.AttackSmoothing
	}
	if partial.ReleaseSmoothing != 0 {
		c.cfg.ReleaseSmoothing = partial.ReleaseSmoothing
	}
	if partial.HangoverFadeStart != 0 {
		c.cfg.HangoverFadeStart = partial.HangoverFadeStart
	}
}

// State returns a copy of the controller's current scalar state.
func (c *Controller) State() State { return c.state }

// ComputeGain advances the controller by one frame given vad (spec §4.6
// steps 1-4) and returns the newly smoothed gain, which also becomes
// PreviousGain for the next call and for ApplyGainInterpolated's start
// endpoint.
func (c *Controller) ComputeGain(vad float32) float32 {
	// 1. Asymmetric VAD smoothing.
	coef := c.cfg.VADSmoothingFactor
	if vad > c.state.SmoothedVAD {
		coef = c.cfg.AttackSmoothing
	}
	c.state.SmoothedVAD = dsp.Lerp(c.state.SmoothedVAD, vad, coef)

	// 2. Hangover.
	if c.state.SmoothedVAD > c.cfg.VADThreshold {
		c.state.HangoverFramesRemaining = c.cfg.HangoverFrames
	} else if c.state.HangoverFramesRemaining > 0 {
		c.state.HangoverFramesRemaining--
	}

	// 3. Target gain.
	c.state.TargetGain = c.computeTargetGain()

	// 4. Gain smoothing.
	gcoef := c.cfg.ReleaseSmoothing
	if c.state.TargetGain > c.state.PreviousGain {
		gcoef = c.cfg.AttackSmoothing
	}
	newGain := dsp.Lerp(c.state.PreviousGain, c.state.TargetGain, gcoef)
	c.state.PreviousGain = newGain
	return newGain
}

func (c *Controller) computeTargetGain() float32 {
	if c.state.SmoothedVAD > c.cfg.VADThreshold {
		return 1.0
	}
	if c.state.HangoverFramesRemaining > 0 {
		progress := 1 - float32(c.state.HangoverFramesRemaining)/float32(c.cfg.HangoverFrames)
		if progress < c.cfg.HangoverFadeStart {
			return 1.0
		}
		fade := (progress - c.cfg.HangoverFadeStart) / (1 - c.cfg.HangoverFadeStart)
		eased := 1 - cube(1-fade)
		return 1 - eased*(1-2*c.cfg.MinGateGain)
	}
	v := dsp.Clamp(c.state.SmoothedVAD/c.cfg.VADThreshold, 0, 1)
	return c.cfg.MinGateGain + (1-c.cfg.MinGateGain)*cube(v)
}

func cube(x float32) float32 { return x * x * x }

// ApplyGain scales every sample in buf by g.
func ApplyGain(buf []float32, g float32) {
	for i := range buf {
		buf[i] *= g
	}
}

// ApplyGainInterpolated linearly interpolates gain from start to end across
// buf, one sample per step, so the gain never jumps discontinuously at a
// frame boundary (spec testable property 9: start == end reduces to
// ApplyGain sample-exact).
func ApplyGainInterpolated(buf []float32, start, end float32) {
	n := len(buf)
	if n == 0 {
		return
	}
	if n == 1 {
		buf[0] *= end
		return
	}
	for i := range buf {
		t := float32(i) / float32(n-1)
		buf[i] *= dsp.Lerp(start, end, t)
	}
}

// ApplyGainWithBlend applies an interpolated gain from start to end on out,
// then blends in original weighted by max(0, 1-g)*blendRatio*g at each
// sample's local gain g, preserving some room character during attenuation
// instead of cutting to pure silence. original and out must be the same
// length; blendRatio defaults to 0.1 if 0.
func ApplyGainWithBlend(out, original []float32, start, end, blendRatio float32) {
	if blendRatio == 0 {
		blendRatio = 0.1
	}
	n := len(out)
	if n == 0 {
		return
	}
	for i := range out {
		var t float32
		if n > 1 {
			t = float32(i) / float32(n-1)
		}
		g := dsp.Lerp(start, end, t)
		blendWeight := max32(0, 1-g) * blendRatio * g
		out[i] = out[i]*g + original[i]*blendWeight
	}
}

func max32(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}

// ApplySoftClipping applies dsp.SoftClip to every sample in buf in place.
func ApplySoftClipping(buf []float32) {
	for i, v := range buf {
		buf[i] = dsp.SoftClip(v)
	}
}
