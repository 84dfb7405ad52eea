package denoiser

import (
	"context"
	"fmt"
	"math"
	"sync"

	"noisepipe/internal/wasmrt"
	"noisepipe/loader"
	"noisepipe/logging"
)

// NeuralConfig is the recognized configuration surface for the neural
// denoiser (spec §6).
type NeuralConfig struct {
	AssetsPath     string // aka wasm_base_path
	AttenLimitDB   float32
	PostFilterBeta float32
	Debug          bool
	SessionID      string
	Logger         logging.Logger
}

const (
	neuralDefaultAttenLimitDB   = 18.0
	neuralDefaultPostFilterBeta = 0.03
	neuralDefaultFrameSize      = 480
)

// DefaultNeuralConfig mirrors spec §4.4's defaults: attenuation limit
// 18 dB, post-filter beta 0.03.
func DefaultNeuralConfig() NeuralConfig {
	return NeuralConfig{AttenLimitDB: neuralDefaultAttenLimitDB, PostFilterBeta: neuralDefaultPostFilterBeta}
}

// Neural is the wazero-hosted DeepFilterNet-shaped denoiser: a model-driven
// kernel with runtime-reconfigurable attenuation limit and post-filter
// strength, and no VAD output of its own (spec §4.4).
type Neural struct {
	*base

	rt     *wasmrt.Runtime
	loader *loader.NeuralLoader
	cfg    NeuralConfig

	mu           sync.Mutex
	mod          *wasmrt.Module
	ctx          uint32
	diagnosedYet bool
}

// NewNeural constructs a Neural denoiser hosting its kernel on rt and
// acquiring its kernel + model through ld. Initialize must be called
// before ProcessFrame.
func NewNeural(rt *wasmrt.Runtime, ld *loader.NeuralLoader, cfg NeuralConfig) *Neural {
	if cfg.AttenLimitDB == 0 {
		cfg.AttenLimitDB = neuralDefaultAttenLimitDB
	}
	if cfg.PostFilterBeta == 0 {
		cfg.PostFilterBeta = neuralDefaultPostFilterBeta
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	n := &Neural{rt: rt, loader: ld, cfg: cfg}
	n.base = newBase(TypeNeural, neuralDefaultFrameSize, logger)
	n.base.doInitialize = n.doInitialize
	n.base.doProcessFrame = n.doProcessFrame
	n.base.doDestroy = n.doDestroy
	n.base.getFrameSizeInternal = n.getFrameSizeInternal
	return n
}

func (n *Neural) doInitialize(ctx context.Context) error {
	assets, err := n.loader.Load(ctx, loader.NeuralKey{AssetsPath: n.cfg.AssetsPath})
	if err != nil {
		return err
	}

	modelPtr, err := n.writeModelBlob(ctx, assets.Module, assets.Model)
	if err != nil {
		assets.Module.Close(ctx)
		return err
	}

	res, err := assets.Module.Call(ctx, "create", uint64(modelPtr), uint64(len(assets.Model)),
		uint64(math.Float32bits(n.cfg.AttenLimitDB)))
	assets.Module.Free(ctx, modelPtr)
	if err != nil {
		assets.Module.Close(ctx)
		return fmt.Errorf("%w: kernel context: %v", errKernelAlloc, err)
	}
	if len(res) == 0 {
		assets.Module.Close(ctx)
		return fmt.Errorf("%w: kernel context: create returned no handle", errKernelAlloc)
	}
	kctx := uint32(res[0])

	if n.cfg.PostFilterBeta != neuralDefaultPostFilterBeta {
		if _, err := assets.Module.Call(ctx, "set_post_filter_beta", uint64(kctx), uint64(math.Float32bits(n.cfg.PostFilterBeta))); err != nil {
			n.base.logger.Warn("neural denoiser: set_post_filter_beta failed", map[string]any{"error": err.Error()})
		}
	}

	n.mu.Lock()
	n.mod = assets.Module
	n.ctx = kctx
	n.mu.Unlock()
	return nil
}

func (n *Neural) writeModelBlob(ctx context.Context, mod *wasmrt.Module, model []byte) (uint32, error) {
	ptr, err := mod.Alloc(ctx, uint32(len(model)))
	if err != nil {
		return 0, fmt.Errorf("%w: model blob: %v", errKernelAlloc, err)
	}
	if !mod.WriteBytes(ptr, model) {
		mod.Free(ctx, ptr)
		return 0, fmt.Errorf("%w: model blob: write failed", errKernelAlloc)
	}
	return ptr, nil
}

func (n *Neural) getFrameSizeInternal() int {
	n.mu.Lock()
	mod, kctx := n.mod, n.ctx
	n.mu.Unlock()
	if mod == nil {
		return neuralDefaultFrameSize
	}
	if res, err := mod.Call(context.Background(), "get_frame_length", uint64(kctx)); err == nil && len(res) > 0 {
		return int(uint32(res[0]))
	}
	return neuralDefaultFrameSize
}

// Configure applies a runtime reconfiguration of attenuation limit and/or
// post-filter beta after Initialize (spec §4.4 "both are runtime-
// reconfigurable via configure(...)").
func (n *Neural) Configure(ctx context.Context, attenLimitDB, postFilterBeta *float32) error {
	n.mu.Lock()
	mod, kctx := n.mod, n.ctx
	n.mu.Unlock()
	if mod == nil {
		return fmt.Errorf("neural denoiser: configure before initialize")
	}
	if attenLimitDB != nil {
		if _, err := mod.Call(ctx, "set_atten_limit", uint64(kctx), uint64(math.Float32bits(*attenLimitDB))); err != nil {
			return err
		}
		n.cfg.AttenLimitDB = *attenLimitDB
	}
	if postFilterBeta != nil {
		if _, err := mod.Call(ctx, "set_post_filter_beta", uint64(kctx), uint64(math.Float32bits(*postFilterBeta))); err != nil {
			return err
		}
		n.cfg.PostFilterBeta = *postFilterBeta
	}
	return nil
}

// doProcessFrame copies input to output, invokes the kernel (which returns
// a kernel-owned slice, not an in-place transform), and copies the result
// back into the caller's frame. No VAD is produced (spec §4.4).
func (n *Neural) doProcessFrame(buf []float32) (float32, error) {
	n.mu.Lock()
	mod, kctx := n.mod, n.ctx
	n.mu.Unlock()

	inPtr, err := mod.Alloc(context.Background(), uint32(len(buf)*4))
	if err != nil {
		return 0, fmt.Errorf("%w: process scratch: %v", errKernelAlloc, err)
	}
	defer mod.Free(context.Background(), inPtr)
	if !mod.WriteFloats(inPtr, buf) {
		return 0, fmt.Errorf("%w: write process scratch", errKernelAlloc)
	}

	res, err := mod.Call(context.Background(), "process_frame", uint64(kctx), uint64(inPtr), uint64(len(buf)))
	if err != nil {
		return 0, err
	}
	if len(res) < 2 {
		return 0, fmt.Errorf("neural denoiser: process_frame returned no output pointer")
	}
	outPtr, outLen := uint32(res[0]), int(res[1])

	out, ok := mod.ReadFloats(outPtr, outLen)
	if !ok {
		return 0, fmt.Errorf("%w: read kernel output", errKernelAlloc)
	}

	n.finishOutput(buf, out)
	return 0, nil
}

// finishOutput diagnoses the first frame (using buf as the pre-kernel input
// and out as the kernel's output) before overwriting buf with out — the
// diagnostics must see buf's original contents, not the copied-over result,
// or "input" and "output" stats would be identical.
func (n *Neural) finishOutput(buf, out []float32) {
	n.mu.Lock()
	diagnosed := n.diagnosedYet
	n.diagnosedYet = true
	n.mu.Unlock()
	if !diagnosed {
		n.logDiagnostics(buf, out)
	}
	copy(buf, out)
}

// logDiagnostics emits a one-shot signal-sanity check on the first
// processed frame: input/output min/max/RMS at debug level (spec §4.4).
func (n *Neural) logDiagnostics(in, out []float32) {
	inMin, inMax, inRMS := minMaxRMS(in)
	outMin, outMax, outRMS := minMaxRMS(out)
	n.base.logger.Debug("neural denoiser: first-frame diagnostics", map[string]any{
		"input_min": inMin, "input_max": inMax, "input_rms": inRMS,
		"output_min": outMin, "output_max": outMax, "output_rms": outRMS,
	})
}

func minMaxRMS(buf []float32) (min, max, rms float32) {
	if len(buf) == 0 {
		return 0, 0, 0
	}
	min, max = buf[0], buf[0]
	var sumSq float64
	for _, v := range buf {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
		sumSq += float64(v) * float64(v)
	}
	rms = float32(math.Sqrt(sumSq / float64(len(buf))))
	return
}

func (n *Neural) doDestroy(ctx context.Context) error {
	n.mu.Lock()
	mod, kctx := n.mod, n.ctx
	n.mod = nil
	n.mu.Unlock()
	if mod == nil {
		return nil
	}
	mod.Call(ctx, "destroy", uint64(kctx))
	return mod.Close(ctx)
}
