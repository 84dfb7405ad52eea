package loader

import (
	"context"

	"noisepipe/internal/wasmrt"
	"noisepipe/logging"
)

// SpectralKey identifies a spectral-kernel loader configuration. Changing
// any field invalidates the cache (spec §4.1: "loader keyed on
// (assets_path, explicit_file_name, prefer_simd)").
type SpectralKey struct {
	AssetsPath string
	FileName   string // explicit override; "" lets SIMD preference decide
	PreferSIMD bool
}

const (
	defaultSpectralAssetsPath = "./rnnoise/"
	spectralPortableFile      = "rnnoise.wasm"
	spectralSIMDFile          = "rnnoise_simd.wasm"
)

// SpectralLoader lazily acquires and caches the spectral denoiser's WASM
// kernel.
type SpectralLoader struct {
	core    *Loader[*wasmrt.Module]
	runtime *wasmrt.Runtime
	fetcher Fetcher
	logger  logging.Logger
}

// NewSpectralLoader returns a SpectralLoader hosting kernels on rt and
// fetching assets via fetcher.
func NewSpectralLoader(rt *wasmrt.Runtime, fetcher Fetcher, logger logging.Logger) *SpectralLoader {
	if logger == nil {
		logger = logging.Discard()
	}
	return &SpectralLoader{
		core:    New[*wasmrt.Module](logger),
		runtime: rt,
		fetcher: fetcher,
		logger:  logger,
	}
}

func (l *SpectralLoader) Status() Status { return l.core.Status() }
func (l *SpectralLoader) Reset() error   { return l.core.Reset() }

// HasFetcher reports whether a Fetcher was configured, so callers (the
// registry's capability predicate) can check before committing to this
// loader instead of discovering the gap via a failed Load.
func (l *SpectralLoader) HasFetcher() bool { return l.fetcher != nil }

// Load fetches (or returns the cached) spectral WASM module for key.
func (l *SpectralLoader) Load(ctx context.Context, key SpectralKey) (*wasmrt.Module, error) {
	if key.AssetsPath == "" {
		key.AssetsPath = defaultSpectralAssetsPath
	}
	return l.core.Load(ctx, key, func(ctx context.Context) (*wasmrt.Module, error) {
		if l.fetcher == nil {
			return nil, &LoadError{Artifact: "kernel binary", Cause: ErrNoFetcher}
		}

		fileName := key.FileName
		var data []byte
		var err error

		switch {
		case fileName != "":
			data, err = l.fetcher.Fetch(ctx, joinAsset(key.AssetsPath, fileName))
		case key.PreferSIMD:
			fileName = spectralSIMDFile
			data, err = l.fetcher.Fetch(ctx, joinAsset(key.AssetsPath, fileName))
			if err != nil {
				l.logger.Warn("spectral loader: SIMD build unavailable, falling back to portable", map[string]any{"error": err.Error()})
				fileName = spectralPortableFile
				data, err = l.fetcher.Fetch(ctx, joinAsset(key.AssetsPath, fileName))
			}
		default:
			fileName = spectralPortableFile
			data, err = l.fetcher.Fetch(ctx, joinAsset(key.AssetsPath, fileName))
		}
		if err != nil {
			return nil, &LoadError{Artifact: "kernel binary (" + fileName + ")", Cause: err}
		}

		mod, err := l.runtime.Instantiate(ctx, "rnnoise", data)
		if err != nil {
			return nil, &LoadError{Artifact: "kernel binary (" + fileName + ")", Cause: err}
		}
		return mod, nil
	})
}
