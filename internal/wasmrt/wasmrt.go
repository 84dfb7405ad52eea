// Package wasmrt hosts the compute kernels the denoisers depend on. Both
// the spectral (RNNoise-shaped) and neural (DeepFilterNet-shaped) kernels
// the spec describes are WebAssembly binaries; this package is the "opaque
// interface of function handles plus a linear-memory view" design note
// (spec §9) made literal via wazero, grounded on the wazero dependency
// carried by other_examples/manifests/richinsley-goshadertoy.
package wasmrt

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// Runtime hosts zero or more instantiated kernel Modules. A process
// typically keeps one Runtime alive for its lifetime; constructing a new
// one per module would re-pay wazero's compilation cache cost on every
// load, which defeats the loader's "materialize once" contract.
type Runtime struct {
	rt wazero.Runtime
}

// NewRuntime constructs a wazero runtime with WASI preview1 wired in (the
// DeepFilterNet-shaped kernel's ONNX runtime build expects it; the
// RNNoise-shaped kernel ignores it harmlessly).
func NewRuntime(ctx context.Context) (*Runtime, error) {
	rt := wazero.NewRuntime(ctx)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("instantiate wasi: %w", err)
	}
	return &Runtime{rt: rt}, nil
}

// Close tears down the runtime and every module instantiated from it.
func (r *Runtime) Close(ctx context.Context) error {
	return r.rt.Close(ctx)
}

// Module wraps one instantiated kernel: its exported functions and a view
// onto its linear memory for writing/reading sample buffers.
type Module struct {
	inst api.Module
	mem  api.Memory
}

// Instantiate compiles and instantiates wasmBytes under the given name
// (kernels may import nothing beyond WASI, but each instance needs a
// unique module name within the runtime).
func (r *Runtime) Instantiate(ctx context.Context, name string, wasmBytes []byte) (*Module, error) {
	compiled, err := r.rt.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, fmt.Errorf("compile: %w", err)
	}
	cfg := wazero.NewModuleConfig().WithName(name).WithStartFunctions("_initialize")
	inst, err := r.rt.InstantiateModule(ctx, compiled, cfg)
	if err != nil {
		return nil, fmt.Errorf("instantiate: %w", err)
	}
	mem := inst.Memory()
	if mem == nil {
		inst.Close(ctx)
		return nil, fmt.Errorf("module %q exports no memory", name)
	}
	return &Module{inst: inst, mem: mem}, nil
}

// Close releases the module instance. Idempotent.
func (m *Module) Close(ctx context.Context) error {
	if m == nil || m.inst == nil {
		return nil
	}
	return m.inst.Close(ctx)
}

// Func looks up an exported function by name. Returns nil if absent —
// callers decide whether that's fatal (e.g. a SIMD-only export missing on
// a portable build is fine to probe for).
func (m *Module) Func(name string) api.Function {
	return m.inst.ExportedFunction(name)
}

// Call invokes the named exported function with the given uint64-encoded
// args and returns its results, or an error if the function doesn't exist
// or the call traps.
func (m *Module) Call(ctx context.Context, name string, args ...uint64) ([]uint64, error) {
	fn := m.Func(name)
	if fn == nil {
		return nil, fmt.Errorf("wasmrt: no exported function %q", name)
	}
	res, err := fn.Call(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("wasmrt: call %q: %w", name, err)
	}
	return res, nil
}

// WriteFloats writes data into the module's linear memory starting at ptr,
// little-endian IEEE 754, reporting false if the write would run off the
// end of memory.
func (m *Module) WriteFloats(ptr uint32, data []float32) bool {
	for i, v := range data {
		if !m.mem.WriteFloat32Le(ptr+uint32(i*4), v) {
			return false
		}
	}
	return true
}

// ReadFloats reads n float32 values from the module's linear memory
// starting at ptr.
func (m *Module) ReadFloats(ptr uint32, n int) ([]float32, bool) {
	out := make([]float32, n)
	for i := range out {
		v, ok := m.mem.ReadFloat32Le(ptr + uint32(i*4))
		if !ok {
			return nil, false
		}
		out[i] = v
	}
	return out, true
}

// WriteBytes writes raw bytes into the module's linear memory starting at
// ptr, for payloads that aren't float32 arrays (e.g. the neural denoiser's
// gzip-framed model blob).
func (m *Module) WriteBytes(ptr uint32, data []byte) bool {
	return m.mem.Write(ptr, data)
}

// ReadBytes reads n raw bytes from the module's linear memory starting at
// ptr.
func (m *Module) ReadBytes(ptr uint32, n int) ([]byte, bool) {
	return m.mem.Read(ptr, uint32(n))
}

// Alloc calls the module's exported "alloc" function (the convention every
// kernel build in scope here follows for scratch-buffer allocation) and
// returns the resulting linear-memory offset.
func (m *Module) Alloc(ctx context.Context, size uint32) (uint32, error) {
	res, err := m.Call(ctx, "alloc", uint64(size))
	if err != nil {
		return 0, err
	}
	return uint32(res[0]), nil
}

// Free calls the module's exported "free" function. Best-effort: kernel
// builds that never reclaim scratch memory (fixed one-context-per-process
// kernels) may not export it, so a missing export is not an error.
func (m *Module) Free(ctx context.Context, ptr uint32) error {
	if m.Func("free") == nil {
		return nil
	}
	_, err := m.Call(ctx, "free", uint64(ptr))
	return err
}
