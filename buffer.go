// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gozip

// defaultBufferSize is the coalescing buffer size used to reduce the number
// of Write calls issued against the underlying Sink.
const defaultBufferSize = 64 * 1024

// coalescingWriter buffers small writes (header bytes, extra fields, central
// directory records) before flushing to the underlying Sink, so that an
// entry made of many small field writes costs one syscall instead of a dozen.
// Entry body bytes, which already arrive in buffer-sized chunks from the
// caller, flow straight through once the internal buffer would overflow.
type coalescingWriter struct {
	dst Sink
	buf []byte
}

func newCoalescingWriter(dst Sink) *coalescingWriter {
	return &coalescingWriter{dst: dst, buf: make([]byte, 0, defaultBufferSize)}
}

// Write appends p to the internal buffer, flushing first if p would not fit,
// and flushing immediately (bypassing the buffer) for writes already at or
// above the buffer's capacity.
func (w *coalescingWriter) Write(p []byte) (int, error) {
	if len(p) >= cap(w.buf) {
		if err := w.Flush(); err != nil {
			return 0, err
		}
		return w.dst.Write(p)
	}
	if len(w.buf)+len(p) > cap(w.buf) {
		if err := w.Flush(); err != nil {
			return 0, err
		}
	}
	w.buf = append(w.buf, p...)
	return len(p), nil
}

// Flush writes any buffered bytes to the underlying Sink.
func (w *coalescingWriter) Flush() error {
	if len(w.buf) == 0 {
		return nil
	}
	_, err := w.dst.Write(w.buf)
	w.buf = w.buf[:0]
	return err
}
