package gain

import (
	"testing"

	"pgregory.net/rapid"
)

func TestComputeGainStaysInRange(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		cfg := DefaultConfig()
		c := New(cfg)
		v := rapid.Float32Range(0, 1).Draw(t, "v")
		steps := rapid.IntRange(1, 200).Draw(t, "steps")
		var g float32
		for i := 0; i < steps; i++ {
			g = c.ComputeGain(v)
			if g < cfg.MinGateGain || g > 1 {
				t.Fatalf("gain %f out of range [%f, 1] for v=%f at step %d", g, cfg.MinGateGain, v, i)
			}
		}
	})
}

func TestComputeGainConvergesToOneOnSustainedSpeech(t *testing.T) {
	c := New(DefaultConfig())
	var g float32
	// Enough frames for the attack-smoothed VAD and gain to both settle
	// near 1 under sustained vad=1 input.
	for i := 0; i < 200; i++ {
		g = c.ComputeGain(1.0)
	}
	if g < 0.99 {
		t.Fatalf("expected gain to converge to ~1 after sustained speech, got %f", g)
	}
}

func TestComputeGainGatesDownOnSustainedSilence(t *testing.T) {
	c := New(DefaultConfig())
	// Warm up on speech first so hangover has something to expire from.
	for i := 0; i < 100; i++ {
		c.ComputeGain(1.0)
	}
	var g float32
	for i := 0; i < 500; i++ {
		g = c.ComputeGain(0.0)
	}
	if g > DefaultConfig().MinGateGain+0.05 {
		t.Fatalf("expected gain to gate down near min_gate_gain after sustained silence, got %f", g)
	}
}

func TestApplyGainInterpolatedMatchesApplyGainWhenEndpointsEqual(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 64).Draw(t, "n")
		g := rapid.Float32Range(0, 1).Draw(t, "g")
		buf1 := make([]float32, n)
		buf2 := make([]float32, n)
		for i := range buf1 {
			v := rapid.Float32Range(-1, 1).Draw(t, "sample")
			buf1[i] = v
			buf2[i] = v
		}
		ApplyGain(buf1, g)
		ApplyGainInterpolated(buf2, g, g)
		for i := range buf1 {
			if buf1[i] != buf2[i] {
				t.Fatalf("sample %d: ApplyGain=%f ApplyGainInterpolated=%f", i, buf1[i], buf2[i])
			}
		}
	})
}

func TestApplyGainInterpolatedEndpoints(t *testing.T) {
	buf := make([]float32, 10)
	for i := range buf {
		buf[i] = 1.0
	}
	ApplyGainInterpolated(buf, 0.2, 0.8)
	if buf[0] < 0.19 || buf[0] > 0.21 {
		t.Fatalf("first sample should be ~start gain 0.2, got %f", buf[0])
	}
	if buf[len(buf)-1] < 0.79 || buf[len(buf)-1] > 0.81 {
		t.Fatalf("last sample should be ~end gain 0.8, got %f", buf[len(buf)-1])
	}
}

func TestApplyGainWithBlendPreservesCharacterDuringAttenuation(t *testing.T) {
	n := 16
	original := make([]float32, n)
	out := make([]float32, n)
	for i := range original {
		original[i] = 0.5
		out[i] = 0.5
	}
	ApplyGainWithBlend(out, original, 1.0, 0.0, 0.1)
	// The blend weight max(0, 1-g)*blendRatio*g vanishes at g == 0, so the
	// final sample is 0; one sample earlier (g = 1/15) the blend term adds
	// original signal on top of the pure out*g product.
	gNear := float32(1) / float32(n-1)
	if out[n-2] <= 0.5*gNear {
		t.Fatalf("expected blended sample near the attenuated end to exceed pure gain %f, got %f", 0.5*gNear, out[n-2])
	}
}

func TestApplySoftClippingNeverExceedsOne(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 32).Draw(t, "n")
		buf := make([]float32, n)
		for i := range buf {
			buf[i] = rapid.Float32Range(-5, 5).Draw(t, "sample")
		}
		ApplySoftClipping(buf)
		for i, v := range buf {
			if v > 1 || v < -1 {
				t.Fatalf("sample %d = %f exceeds [-1, 1] after soft clipping", i, v)
			}
		}
	})
}

func TestResetReturnsToInitialState(t *testing.T) {
	c := New(DefaultConfig())
	for i := 0; i < 50; i++ {
		c.ComputeGain(1.0)
	}
	c.Reset()
	st := c.State()
	if st.SmoothedVAD != 0 || st.HangoverFramesRemaining != 0 || st.PreviousGain != 1 || st.TargetGain != 1 {
		t.Fatalf("unexpected state after Reset: %+v", st)
	}
}

func TestConfigureReplacesOnlyNamedFields(t *testing.T) {
	c := New(DefaultConfig())
	c.Configure(Config{MinGateGain: 0.5})
	if c.cfg.MinGateGain != 0.5 {
		t.Fatalf("expected MinGateGain overridden to 0.5, got %f", c.cfg.MinGateGain)
	}
	if c.cfg.VADThreshold != DefaultConfig().VADThreshold {
		t.Fatalf("unrelated field VADThreshold should be untouched, got %f", c.cfg.VADThreshold)
	}
}
