package denoiser

import (
	"sync"

	"noisepipe"
	"noisepipe/internal/wasmrt"
	"noisepipe/loader"
	"noisepipe/logging"
)

// Config is the union of both algorithms' configuration surfaces, merged
// against each entry's default_config before construction (spec §4.5
// "Merges default_config under supplied config").
type Config struct {
	Spectral SpectralConfig
	Neural   NeuralConfig
}

// Entry binds a Type to how to construct it, whether it's currently
// supported, and its default configuration (spec §4.5).
type Entry struct {
	Type                Type
	Constructor         func(cfg Config) Denoiser
	CapabilityPredicate func() bool
	DefaultConfig       Config
}

// Registry maps Type to its Entry. Constructing one is explicit, not
// global, so tests can hold independent instances (spec §9 "Registry as
// global state" — tests reset by injecting an alternate registry via the
// factory rather than mutating shared state).
type Registry struct {
	mu      sync.RWMutex
	entries map[Type]Entry
}

// NewRegistry returns an empty registry. Callers that want the built-ins
// call RegisterBuiltins, or use Default() for the process-wide singleton.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[Type]Entry)}
}

// Register adds or overwrites the entry for entry.Type, logging a warning
// on overwrite (spec §4.5 "register(entry): overwrites existing entry with
// a warning").
func (r *Registry) Register(entry Entry, logger logging.Logger) {
	if logger == nil {
		logger = logging.Discard()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[entry.Type]; exists {
		logger.Warn("registry: overwriting existing entry", map[string]any{"type": entry.Type.String()})
	}
	r.entries[entry.Type] = entry
}

// IsSupported reports whether typ is registered and its capability
// predicate (if any) returns true.
func (r *Registry) IsSupported(typ Type) bool {
	r.mu.RLock()
	entry, ok := r.entries[typ]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	return entry.CapabilityPredicate == nil || entry.CapabilityPredicate()
}

// GetSupportedTypes returns every registered type whose capability
// predicate currently passes.
func (r *Registry) GetSupportedTypes() []Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Type
	for typ, entry := range r.entries {
		if entry.CapabilityPredicate == nil || entry.CapabilityPredicate() {
			out = append(out, typ)
		}
	}
	return out
}

// Create instantiates typ with cfg merged over the entry's default
// configuration. Fails with ErrUnknownDenoiserType if unregistered, or
// ErrUnsupportedDenoiserType if the capability predicate reports false
// (spec §4.5).
func (r *Registry) Create(typ Type, cfg Config) (Denoiser, error) {
	r.mu.RLock()
	entry, ok := r.entries[typ]
	r.mu.RUnlock()
	if !ok {
		return nil, noisepipe.ErrUnknownDenoiserType
	}
	if entry.CapabilityPredicate != nil && !entry.CapabilityPredicate() {
		return nil, noisepipe.ErrUnsupportedDenoiserType
	}
	merged := mergeConfig(entry.DefaultConfig, cfg)
	return entry.Constructor(merged), nil
}

// mergeConfig merges supplied over a default, field by field, preferring
// any non-zero value supplied by the caller.
func mergeConfig(def, supplied Config) Config {
	out := def
	if supplied.Spectral.AssetsPath != "" {
		out.Spectral.AssetsPath = supplied.Spectral.AssetsPath
	}
	if supplied.Spectral.WasmFileName != "" {
		out.Spectral.WasmFileName = supplied.Spectral.WasmFileName
	}
	if supplied.Spectral.PreferSIMD {
		out.Spectral.PreferSIMD = supplied.Spectral.PreferSIMD
	}
	if supplied.Spectral.Logger != nil {
		out.Spectral.Logger = supplied.Spectral.Logger
	}
	out.Spectral.Debug = out.Spectral.Debug || supplied.Spectral.Debug
	if supplied.Spectral.SessionID != "" {
		out.Spectral.SessionID = supplied.Spectral.SessionID
	}

	if supplied.Neural.AssetsPath != "" {
		out.Neural.AssetsPath = supplied.Neural.AssetsPath
	}
	if supplied.Neural.AttenLimitDB != 0 {
		out.Neural.AttenLimitDB = supplied.Neural.AttenLimitDB
	}
	if supplied.Neural.PostFilterBeta != 0 {
		out.Neural.PostFilterBeta = supplied.Neural.PostFilterBeta
	}
	if supplied.Neural.Logger != nil {
		out.Neural.Logger = supplied.Neural.Logger
	}
	out.Neural.Debug = out.Neural.Debug || supplied.Neural.Debug
	if supplied.Neural.SessionID != "" {
		out.Neural.SessionID = supplied.Neural.SessionID
	}
	return out
}

// defaultPriority is the priority list get_best_available iterates when
// none is supplied (spec §4.5: "default: [NEURAL, SPECTRAL]").
var defaultPriority = []Type{TypeNeural, TypeSpectral}

// GetBestAvailable iterates priority (or defaultPriority) and returns the
// first supported type; failing that, the first registered-and-supported
// entry in map iteration order; else ok is false.
func (r *Registry) GetBestAvailable(priority []Type) (Type, bool) {
	if priority == nil {
		priority = defaultPriority
	}
	for _, typ := range priority {
		if r.IsSupported(typ) {
			return typ, true
		}
	}
	supported := r.GetSupportedTypes()
	if len(supported) > 0 {
		return supported[0], true
	}
	return 0, false
}

// RegisterBuiltins registers the SPECTRAL and NEURAL entries against the
// given wazero runtime and loaders. Both predicates require a WASM runtime
// plus a loader that was itself configured with a Fetcher (spec §4.5
// "NEURAL additionally requires a fetch-like transport" — applied to both
// types here since SPECTRAL's kernel is fetched the same way NEURAL's is;
// a loader built with a nil Fetcher is unusable for either).
//
// Grounded on client/audio.go's resolveDevice pattern of probing
// availability before committing to a concrete implementation.
func RegisterBuiltins(r *Registry, rt *wasmrt.Runtime, spectralLoader *loader.SpectralLoader, neuralLoader *loader.NeuralLoader, logger logging.Logger) {
	r.Register(Entry{
		Type: TypeSpectral,
		Constructor: func(cfg Config) Denoiser {
			return NewSpectral(rt, spectralLoader, cfg.Spectral)
		},
		CapabilityPredicate: func() bool { return rt != nil && spectralLoader != nil && spectralLoader.HasFetcher() },
		DefaultConfig:       Config{Spectral: DefaultSpectralConfig()},
	}, logger)

	r.Register(Entry{
		Type: TypeNeural,
		Constructor: func(cfg Config) Denoiser {
			return NewNeural(rt, neuralLoader, cfg.Neural)
		},
		CapabilityPredicate: func() bool { return rt != nil && neuralLoader != nil && neuralLoader.HasFetcher() },
		DefaultConfig:       Config{Neural: DefaultNeuralConfig()},
	}, logger)
}

var (
	defaultOnce sync.Once
	defaultReg  *Registry
)

// Default returns the process-wide registry singleton. Most callers should
// prefer constructing their own Registry via NewRegistry for test
// isolation; Default exists for convenience callers that want one without
// wiring it through explicitly.
func Default() *Registry {
	defaultOnce.Do(func() { defaultReg = NewRegistry() })
	return defaultReg
}
