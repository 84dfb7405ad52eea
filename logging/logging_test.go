package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestLevelGating(t *testing.T) {
	var buf bytes.Buffer
	l := NewSlog(&buf, LevelWarn)

	l.Info("should not appear", nil)
	if buf.Len() != 0 {
		t.Fatalf("expected no output below level, got %q", buf.String())
	}

	l.Warn("should appear", map[string]any{"k": "v"})
	if !strings.Contains(buf.String(), "should appear") {
		t.Fatalf("expected message in output, got %q", buf.String())
	}
}

func TestWithContextIsIndependent(t *testing.T) {
	var buf bytes.Buffer
	parent := NewSlog(&buf, LevelInfo)
	child := parent.WithContext(map[string]any{"session": "abc"})

	child.SetLevel(LevelSilent)
	if parent.GetLevel() != LevelInfo {
		t.Fatalf("parent level mutated by child SetLevel: %v", parent.GetLevel())
	}

	child.Error("child error", nil)
	if buf.Len() != 0 {
		t.Fatalf("expected silenced child to produce no output, got %q", buf.String())
	}

	parent.Info("parent still live", nil)
	if !strings.Contains(buf.String(), "parent still live") {
		t.Fatalf("expected parent output, got %q", buf.String())
	}
}

func TestWithContextMergesFields(t *testing.T) {
	var buf bytes.Buffer
	parent := NewSlog(&buf, LevelInfo)
	child := parent.WithContext(map[string]any{"a": 1})
	grandchild := child.WithContext(map[string]any{"b": 2})

	grandchild.Info("msg", nil)
	out := buf.String()
	if !strings.Contains(out, `"a":1`) || !strings.Contains(out, `"b":2`) {
		t.Fatalf("expected merged context in output, got %q", out)
	}
}

func TestDiscardProducesNoOutput(t *testing.T) {
	d := Discard()
	if d.GetLevel() != LevelSilent {
		t.Fatalf("expected Discard to be at LevelSilent, got %v", d.GetLevel())
	}
	d.Error("anything", map[string]any{"x": 1})
}
