package loader

import (
	"bytes"
	"compress/gzip"
	"fmt"
)

// gzipMagic is the two leading bytes of every gzip member (RFC 1952 §2.3).
var gzipMagic = [2]byte{0x1F, 0x8B}

// isGzipped reports whether data begins with the gzip magic.
func isGzipped(data []byte) bool {
	return len(data) >= 2 && data[0] == gzipMagic[0] && data[1] == gzipMagic[1]
}

// ensureGzipFramed returns data unchanged if it is already gzip-framed,
// otherwise re-gzips it in-process. This is the correctness requirement in
// spec §4.1: some HTTP middleware transparently decompresses a
// Content-Encoding: gzip response before the body reaches application
// code, but the neural kernel's model loader (the WASM-hosted ONNX
// runtime) expects the blob framed exactly as it would appear on disk.
func ensureGzipFramed(data []byte) ([]byte, error) {
	if isGzipped(data) {
		return data, nil
	}
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(data); err != nil {
		return nil, fmt.Errorf("re-gzip model: %w", err)
	}
	if err := gw.Close(); err != nil {
		return nil, fmt.Errorf("re-gzip model: close: %w", err)
	}
	return buf.Bytes(), nil
}
