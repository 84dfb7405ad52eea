package denoiser

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"noisepipe"
	"noisepipe/logging"
)

func stubEntry(typ Type, supported bool) Entry {
	return Entry{
		Type: typ,
		Constructor: func(cfg Config) Denoiser {
			s := newStub(480)
			return s
		},
		CapabilityPredicate: func() bool { return supported },
		DefaultConfig:       Config{Spectral: SpectralConfig{AssetsPath: "./default/"}},
	}
}

func TestRegistryCreateUnknownType(t *testing.T) {
	r := NewRegistry()
	_, err := r.Create(TypeSpectral, Config{})
	if !errors.Is(err, noisepipe.ErrUnknownDenoiserType) {
		t.Fatalf("expected ErrUnknownDenoiserType, got %v", err)
	}
}

func TestRegistryCreateUnsupportedType(t *testing.T) {
	r := NewRegistry()
	r.Register(stubEntry(TypeSpectral, false), nil)
	_, err := r.Create(TypeSpectral, Config{})
	if !errors.Is(err, noisepipe.ErrUnsupportedDenoiserType) {
		t.Fatalf("expected ErrUnsupportedDenoiserType, got %v", err)
	}
}

func TestRegistryCreateMergesDefaultConfig(t *testing.T) {
	r := NewRegistry()
	entry := stubEntry(TypeSpectral, true)
	var got Config
	entry.Constructor = func(cfg Config) Denoiser {
		got = cfg
		return newStub(480)
	}
	r.Register(entry, nil)
	d, err := r.Create(TypeSpectral, Config{Spectral: SpectralConfig{PreferSIMD: true}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if d == nil {
		t.Fatal("expected non-nil denoiser")
	}
	if got.Spectral.AssetsPath != "./default/" || !got.Spectral.PreferSIMD {
		t.Fatalf("expected default AssetsPath merged under supplied PreferSIMD, got %+v", got.Spectral)
	}
}

func TestRegistryOverwriteLogsWarning(t *testing.T) {
	var logBuf bytes.Buffer
	logger := logging.NewSlog(&logBuf, logging.LevelWarn)
	r := NewRegistry()
	r.Register(stubEntry(TypeSpectral, true), logger)
	r.Register(stubEntry(TypeSpectral, false), logger) // should overwrite without panicking
	if r.IsSupported(TypeSpectral) {
		t.Fatal("expected second registration to take effect")
	}
	if !strings.Contains(logBuf.String(), "overwriting existing entry") {
		t.Fatalf("expected overwrite warning in log, got %q", logBuf.String())
	}
}

func TestGetBestAvailableDefaultPriority(t *testing.T) {
	r := NewRegistry()
	r.Register(stubEntry(TypeSpectral, true), nil)
	r.Register(stubEntry(TypeNeural, true), nil)
	best, ok := r.GetBestAvailable(nil)
	if !ok || best != TypeNeural {
		t.Fatalf("expected NEURAL to win default priority, got %v ok=%v", best, ok)
	}
}

func TestGetBestAvailableFallsBackWhenPreferredUnsupported(t *testing.T) {
	r := NewRegistry()
	r.Register(stubEntry(TypeSpectral, true), nil)
	r.Register(stubEntry(TypeNeural, false), nil)
	best, ok := r.GetBestAvailable(nil)
	if !ok || best != TypeSpectral {
		t.Fatalf("expected SPECTRAL as fallback, got %v ok=%v", best, ok)
	}
}

func TestGetBestAvailableNoneSupported(t *testing.T) {
	r := NewRegistry()
	r.Register(stubEntry(TypeSpectral, false), nil)
	_, ok := r.GetBestAvailable(nil)
	if ok {
		t.Fatal("expected no type to be available")
	}
}

func TestGetSupportedTypes(t *testing.T) {
	r := NewRegistry()
	r.Register(stubEntry(TypeSpectral, true), nil)
	r.Register(stubEntry(TypeNeural, false), nil)
	types := r.GetSupportedTypes()
	if len(types) != 1 || types[0] != TypeSpectral {
		t.Fatalf("expected only SPECTRAL supported, got %v", types)
	}
}
