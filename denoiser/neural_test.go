package denoiser

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"noisepipe/logging"
)

// newTestNeural builds a Neural with its base wired but no real wazero
// kernel behind it, for exercising pure post-kernel logic (finishOutput,
// logDiagnostics, minMaxRMS) the same way denoiser_test.go's stub exercises
// the base lifecycle without a real kernel.
func newTestNeural(logger logging.Logger) *Neural {
	return NewNeural(nil, nil, NeuralConfig{Logger: logger})
}

func TestFinishOutputDiagnosesInputBeforeOverwriting(t *testing.T) {
	var buf bytes.Buffer
	n := newTestNeural(logging.NewSlog(&buf, logging.LevelDebug))

	in := []float32{0.1, -0.2, 0.3, -0.4}
	kernelOut := []float32{0.5, 0.5, 0.5, 0.5}
	frame := append([]float32(nil), in...)

	n.finishOutput(frame, kernelOut)

	// buf must now hold the kernel's output, not the pre-call input.
	for i, v := range frame {
		if v != kernelOut[i] {
			t.Fatalf("finishOutput did not copy kernel output: frame[%d] = %v, want %v", i, v, kernelOut[i])
		}
	}

	logged := buf.String()
	wantInMin, wantInMax, wantInRMS := minMaxRMS(in)
	wantOutMin, wantOutMax, wantOutRMS := minMaxRMS(kernelOut)
	if wantInRMS == wantOutRMS {
		t.Fatal("test fixture invalid: input and output RMS coincide, can't distinguish diagnostics")
	}
	for _, want := range []float32{wantInMin, wantInMax, wantInRMS, wantOutMin, wantOutMax, wantOutRMS} {
		if !strings.Contains(logged, trimmedFloat(want)) {
			t.Errorf("diagnostics log missing expected stat %v; got %s", want, logged)
		}
	}
}

func TestFinishOutputOnlyDiagnosesFirstFrame(t *testing.T) {
	var buf bytes.Buffer
	n := newTestNeural(logging.NewSlog(&buf, logging.LevelDebug))

	frame1 := []float32{1, 2, 3}
	n.finishOutput(frame1, []float32{4, 5, 6})
	firstLen := buf.Len()
	if firstLen == 0 {
		t.Fatal("expected diagnostics log on first frame")
	}

	frame2 := []float32{1, 2, 3}
	n.finishOutput(frame2, []float32{7, 8, 9})
	if buf.Len() != firstLen {
		t.Errorf("expected no additional diagnostics log on second frame, buffer grew from %d to %d bytes", firstLen, buf.Len())
	}
	if frame2[0] != 7 || frame2[1] != 8 || frame2[2] != 9 {
		t.Errorf("second frame still not copied from kernel output, got %v", frame2)
	}
}

func TestMinMaxRMS(t *testing.T) {
	min, max, rms := minMaxRMS([]float32{-1, 0, 1})
	if min != -1 || max != 1 {
		t.Errorf("expected min -1, max 1, got min %v max %v", min, max)
	}
	wantRMS := float32(0.8164966) // sqrt((1+0+1)/3)
	if diff := rms - wantRMS; diff > 1e-5 || diff < -1e-5 {
		t.Errorf("expected rms ~%v, got %v", wantRMS, rms)
	}
}

func TestMinMaxRMSEmpty(t *testing.T) {
	min, max, rms := minMaxRMS(nil)
	if min != 0 || max != 0 || rms != 0 {
		t.Errorf("expected all-zero for empty input, got min %v max %v rms %v", min, max, rms)
	}
}

// trimmedFloat renders f the way slog's JSON handler writes a float32
// attribute: widened to float64 and encoded by encoding/json.
func trimmedFloat(f float32) string {
	b, err := json.Marshal(float64(f))
	if err != nil {
		panic(err)
	}
	return string(b)
}
