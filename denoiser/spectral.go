package denoiser

import (
	"context"
	"fmt"
	"math"
	"sync"

	"noisepipe/internal/dsp"
	"noisepipe/internal/wasmrt"
	"noisepipe/loader"
	"noisepipe/logging"
)

// SpectralConfig is the recognized configuration surface for the spectral
// denoiser (spec §6): AssetsPath/WasmFileName/PreferSIMD select the kernel
// build, Debug/SessionID/Logger are observability plumbing.
type SpectralConfig struct {
	AssetsPath   string
	WasmFileName string
	PreferSIMD   bool
	Debug        bool
	SessionID    string
	Logger       logging.Logger
}

// DefaultSpectralConfig mirrors the field defaults spec §6 lists for the
// spectral denoiser (prefer_simd = true; assets_path defaults inside the
// loader itself).
func DefaultSpectralConfig() SpectralConfig {
	return SpectralConfig{PreferSIMD: true}
}

const (
	spectralDefaultFrameSize = 480

	// Internal adaptive post-gain constants (spec §4.3), distinct from
	// and independent of the external VAD gain controller in package
	// gain.
	postGainVADFull     = 0.5
	postGainVADFloor    = 0.2
	postGainAttack      = 0.3
	postGainRelease     = 0.05
	postGainMinGain     = 0.1
	pcmScale            = 32767.0
	pcmScaleInv float32 = 1.0 / pcmScale
)

// Spectral is the wazero-hosted RNNoise-shaped denoiser: a fixed-rate
// recurrent spectral model with a built-in VAD output, plus an always-on
// internal adaptive post-gain driven by that VAD (spec §4.3).
type Spectral struct {
	*base

	rt     *wasmrt.Runtime
	loader *loader.SpectralLoader
	cfg    SpectralConfig

	mu          sync.Mutex
	mod         *wasmrt.Module
	ctx         uint32 // kernel context handle
	inPtr       uint32
	outPtr      uint32
	postGain    float32 // previous post-gain, for asymmetric smoothing
	smoothedVAD float32
}

// NewSpectral constructs a Spectral denoiser hosting its kernel on rt and
// acquiring it through ld. Initialize must be called before ProcessFrame.
func NewSpectral(rt *wasmrt.Runtime, ld *loader.SpectralLoader, cfg SpectralConfig) *Spectral {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	s := &Spectral{
		rt:       rt,
		loader:   ld,
		cfg:      cfg,
		postGain: 1.0,
	}
	s.base = newBase(TypeSpectral, spectralDefaultFrameSize, logger)
	s.base.doInitialize = s.doInitialize
	s.base.doProcessFrame = s.doProcessFrame
	s.base.doDestroy = s.doDestroy
	s.base.getFrameSizeInternal = s.getFrameSizeInternal
	return s
}

func (s *Spectral) doInitialize(ctx context.Context) error {
	key := loader.SpectralKey{
		AssetsPath: s.cfg.AssetsPath,
		FileName:   s.cfg.WasmFileName,
		PreferSIMD: s.cfg.PreferSIMD,
	}
	mod, err := s.loader.Load(ctx, key)
	if err != nil {
		return err
	}

	frameSize := spectralDefaultFrameSize
	if fn := mod.Func("get_frame_length"); fn != nil {
		if res, err := mod.Call(ctx, "get_frame_length"); err == nil && len(res) > 0 {
			frameSize = int(uint32(res[0]))
		}
	}

	kctx, err := s.allocKernelContext(ctx, mod)
	if err != nil {
		mod.Close(ctx)
		return err
	}

	inPtr, err := mod.Alloc(ctx, uint32(frameSize*4))
	if err != nil {
		mod.Close(ctx)
		return fmt.Errorf("%w: input scratch: %v", errKernelAlloc, err)
	}
	outPtr, err := mod.Alloc(ctx, uint32(frameSize*4))
	if err != nil {
		mod.Free(ctx, inPtr)
		mod.Close(ctx)
		return fmt.Errorf("%w: output scratch: %v", errKernelAlloc, err)
	}

	s.mu.Lock()
	s.mod = mod
	s.ctx = kctx
	s.inPtr = inPtr
	s.outPtr = outPtr
	s.mu.Unlock()
	return nil
}

func (s *Spectral) allocKernelContext(ctx context.Context, mod *wasmrt.Module) (uint32, error) {
	res, err := mod.Call(ctx, "create")
	if err != nil {
		return 0, fmt.Errorf("%w: kernel context: %v", errKernelAlloc, err)
	}
	if len(res) == 0 {
		return 0, fmt.Errorf("%w: kernel context: create returned no handle", errKernelAlloc)
	}
	return uint32(res[0]), nil
}

func (s *Spectral) getFrameSizeInternal() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mod == nil {
		return spectralDefaultFrameSize
	}
	if res, err := s.mod.Call(context.Background(), "get_frame_length"); err == nil && len(res) > 0 {
		return int(uint32(res[0]))
	}
	return spectralDefaultFrameSize
}

// doProcessFrame implements the numerical contract in spec §4.3: scale to
// int16 magnitude going in, invoke the kernel, scale back coming out, then
// apply the internal adaptive post-gain.
func (s *Spectral) doProcessFrame(buf []float32) (float32, error) {
	s.mu.Lock()
	mod, kctx, inPtr, outPtr := s.mod, s.ctx, s.inPtr, s.outPtr
	s.mu.Unlock()

	scaled := make([]float32, len(buf))
	for i, v := range buf {
		scaled[i] = v * pcmScale
	}
	if !mod.WriteFloats(inPtr, scaled) {
		return 0, fmt.Errorf("%w: write input scratch", errKernelAlloc)
	}

	res, err := mod.Call(context.Background(), "process_frame", uint64(kctx), uint64(outPtr), uint64(inPtr))
	if err != nil {
		return 0, err
	}
	var vad float32
	if len(res) > 0 {
		vad = math.Float32frombits(uint32(res[0]))
	}

	out, ok := mod.ReadFloats(outPtr, len(buf))
	if !ok {
		return 0, fmt.Errorf("%w: read output scratch", errKernelAlloc)
	}
	for i, v := range out {
		buf[i] = v * pcmScaleInv
	}

	s.applyPostGain(buf, vad)
	return dsp.Clamp(vad, 0, 1), nil
}

// applyPostGain is the always-on internal adaptive post-gain (spec §4.3),
// independent of and in addition to the external VAD gain controller in
// package gain (spec §9 open question (a): both paths are preserved
// because the source enables them in sequence).
func (s *Spectral) applyPostGain(buf []float32, vad float32) {
	coef := float32(postGainRelease)
	if vad > s.smoothedVAD {
		coef = postGainAttack
	}
	s.smoothedVAD = dsp.Lerp(s.smoothedVAD, vad, coef)

	var target float32
	switch {
	case s.smoothedVAD >= postGainVADFull:
		target = 1.0
	case s.smoothedVAD <= postGainVADFloor:
		target = postGainMinGain
	default:
		span := postGainVADFull - postGainVADFloor
		target = postGainMinGain + (1-postGainMinGain)*(s.smoothedVAD-postGainVADFloor)/span
	}

	gcoef := float32(postGainRelease)
	if target > s.postGain {
		gcoef = postGainAttack
	}
	s.postGain = dsp.Lerp(s.postGain, target, gcoef)

	for i := range buf {
		buf[i] *= s.postGain
	}
}

// doDestroy frees both scratch buffers and the kernel context in reverse
// allocation order, then closes the module (spec §4.3 "resource
// ownership").
func (s *Spectral) doDestroy(ctx context.Context) error {
	s.mu.Lock()
	mod, kctx, inPtr, outPtr := s.mod, s.ctx, s.inPtr, s.outPtr
	s.mod = nil
	s.mu.Unlock()

	if mod == nil {
		return nil
	}
	mod.Free(ctx, outPtr)
	mod.Free(ctx, inPtr)
	mod.Call(ctx, "destroy", uint64(kctx))
	return mod.Close(ctx)
}
