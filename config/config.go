// Package config manages on-disk pipeline tuning: asset base paths and the
// per-component defaults used when a caller constructs denoisers, the gain
// controller, and the track processor without hardcoding them.
//
// Grounded on client/internal/config (flat struct, Load/Save,
// zero-value-safe field access) but YAML-backed instead of JSON, per
// gopkg.in/yaml.v3 carried by the pack (doismellburning-samoyed/go.mod) —
// pipeline tuning is operator-facing config, the kind of file a deployer
// edits by hand, which favors YAML's comments and nesting over JSON.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the pipeline's on-disk tuning surface.
type Config struct {
	Spectral SpectralTuning `yaml:"spectral"`
	Neural   NeuralTuning   `yaml:"neural"`
	Gain     GainTuning     `yaml:"gain"`
	Track    TrackTuning    `yaml:"track"`
}

// SpectralTuning mirrors the spectral denoiser's configuration surface
// (spec §6).
type SpectralTuning struct {
	AssetsPath   string `yaml:"assets_path"`
	WasmFileName string `yaml:"wasm_file_name,omitempty"`
	PreferSIMD   bool   `yaml:"prefer_simd"`
}

// NeuralTuning mirrors the neural denoiser's configuration surface
// (spec §6).
type NeuralTuning struct {
	AssetsPath     string  `yaml:"assets_path"`
	AttenLimitDB   float32 `yaml:"atten_limit_db"`
	PostFilterBeta float32 `yaml:"post_filter_beta"`
}

// GainTuning mirrors the VAD gain controller's seven-scalar config
// (spec §3 "VAD gain config").
type GainTuning struct {
	VADSmoothingFactor float32 `yaml:"vad_smoothing_factor"`
	VADThreshold       float32 `yaml:"vad_threshold"`
	HangoverFrames     int     `yaml:"hangover_frames"`
	MinGateGain        float32 `yaml:"min_gate_gain"`
	AttackSmoothing    float32 `yaml:"attack_smoothing"`
	ReleaseSmoothing   float32 `yaml:"release_smoothing"`
	HangoverFadeStart  float32 `yaml:"hangover_fade_start"`
}

// TrackTuning mirrors the track processor's configuration surface
// (spec §6).
type TrackTuning struct {
	DenoiserType string `yaml:"denoiser_type"` // "SPECTRAL" or "NEURAL"
	ApplyVADGain bool   `yaml:"apply_vad_gain"`
	Debug        bool   `yaml:"debug"`
}

// Default returns a Config populated with every component's spec-defined
// defaults (spec §4.3, §4.4, §4.6, §6).
func Default() Config {
	return Config{
		Spectral: SpectralTuning{AssetsPath: "./rnnoise/", PreferSIMD: true},
		Neural:   NeuralTuning{AssetsPath: "./deepfilternet/", AttenLimitDB: 18, PostFilterBeta: 0.03},
		Gain: GainTuning{
			VADSmoothingFactor: 0.08,
			VADThreshold:       0.30,
			HangoverFrames:     45,
			MinGateGain:        0.15,
			AttackSmoothing:    0.15,
			ReleaseSmoothing:   0.03,
			HangoverFadeStart:  0.6,
		},
		Track: TrackTuning{DenoiserType: "SPECTRAL", ApplyVADGain: false},
	}
}

// Load reads a YAML config file at path, merging it over Default() so an
// absent or partial file still yields spec-correct defaults for every
// field it omits. A missing file returns Default() unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path as YAML.
func Save(path string, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}
