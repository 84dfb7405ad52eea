package loader

import (
	"context"

	"noisepipe/internal/wasmrt"
	"noisepipe/logging"
)

// NeuralKey identifies a neural-kernel loader configuration. Changing
// AssetsPath invalidates the cache (spec §4.1: "(assets_path) for the
// neural kernel").
type NeuralKey struct {
	AssetsPath string
}

const (
	defaultNeuralAssetsPath = "./deepfilternet/"
	neuralWasmFile          = "df_bg.wasm"
	neuralModelFile         = "DeepFilterNet3_onnx.tar.gz"
)

// NeuralAssets bundles the materialized neural kernel with its validated,
// gzip-framed model blob. The runtime expects the model framed exactly as
// distributed (spec §3 "cache stores the original gzip bytes because the
// runtime expects them framed").
type NeuralAssets struct {
	Module *wasmrt.Module
	Model  []byte
}

// NeuralLoader lazily acquires and caches the neural denoiser's WASM
// kernel and model blob.
//
// The spec's three-artifact description (df.js glue, df_bg.wasm binary,
// DeepFilterNet3_onnx.tar.gz model) is browser-hosting language: "df.js" is
// the JS shim that bridges a WASM export table into a JS object on a web
// page. A Go host talks to the export table directly through wazero, so
// there is no Go equivalent artifact to fetch — NeuralLoader only acquires
// the two artifacts that have a systems-language meaning (kernel binary,
// model), which is the adaptation this component makes from the browser
// original.
type NeuralLoader struct {
	core    *Loader[*NeuralAssets]
	runtime *wasmrt.Runtime
	fetcher Fetcher
	logger  logging.Logger
}

// NewNeuralLoader returns a NeuralLoader hosting kernels on rt and fetching
// assets via fetcher.
func NewNeuralLoader(rt *wasmrt.Runtime, fetcher Fetcher, logger logging.Logger) *NeuralLoader {
	if logger == nil {
		logger = logging.Discard()
	}
	return &NeuralLoader{
		core:    New[*NeuralAssets](logger),
		runtime: rt,
		fetcher: fetcher,
		logger:  logger,
	}
}

func (l *NeuralLoader) Status() Status { return l.core.Status() }
func (l *NeuralLoader) Reset() error   { return l.core.Reset() }

// HasFetcher reports whether a Fetcher was configured, so callers (the
// registry's capability predicate) can check before committing to this
// loader instead of discovering the gap via a failed Load.
func (l *NeuralLoader) HasFetcher() bool { return l.fetcher != nil }

// Load fetches (or returns the cached) neural kernel + model for key.
func (l *NeuralLoader) Load(ctx context.Context, key NeuralKey) (*NeuralAssets, error) {
	if key.AssetsPath == "" {
		key.AssetsPath = defaultNeuralAssetsPath
	}
	return l.core.Load(ctx, key, func(ctx context.Context) (*NeuralAssets, error) {
		if l.fetcher == nil {
			return nil, &LoadError{Artifact: "kernel binary", Cause: ErrNoFetcher}
		}

		wasmBytes, err := l.fetcher.Fetch(ctx, joinAsset(key.AssetsPath, neuralWasmFile))
		if err != nil {
			return nil, &LoadError{Artifact: "kernel binary", Cause: err}
		}
		mod, err := l.runtime.Instantiate(ctx, "deepfilternet", wasmBytes)
		if err != nil {
			return nil, &LoadError{Artifact: "kernel binary", Cause: err}
		}

		modelRaw, err := l.fetcher.Fetch(ctx, joinAsset(key.AssetsPath, neuralModelFile))
		if err != nil {
			mod.Close(ctx)
			return nil, &LoadError{Artifact: "model", Cause: err}
		}
		model, err := ensureGzipFramed(modelRaw)
		if err != nil {
			mod.Close(ctx)
			return nil, &LoadError{Artifact: "model", Cause: err}
		}
		if !isGzipped(modelRaw) {
			l.logger.Debug("neural loader: re-gzipped model payload", map[string]any{"original_bytes": len(modelRaw)})
		}

		return &NeuralAssets{Module: mod, Model: model}, nil
	})
}
