package wasmrt

import (
	"context"
	"testing"
)

func TestInstantiateRejectsInvalidModule(t *testing.T) {
	ctx := context.Background()
	rt, err := NewRuntime(ctx)
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	defer rt.Close(ctx)

	_, err = rt.Instantiate(ctx, "bad", []byte("not a wasm module"))
	if err == nil {
		t.Fatal("expected error instantiating garbage bytes, got nil")
	}
}

func TestModuleCloseNilIsNoop(t *testing.T) {
	var m *Module
	if err := m.Close(context.Background()); err != nil {
		t.Fatalf("Close on nil Module: %v", err)
	}
}
