// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gozip

import (
	"io"

	"github.com/klauspost/compress/flate"
)

// deflateLevel is a middle-ground setting that favors throughput over
// maximum ratio, suitable for a streaming producer that cannot afford to
// buffer an entire entry to try multiple levels.
const deflateLevel = flate.DefaultCompression

// deflateEncoder wraps a raw-DEFLATE stream writer from klauspost/compress,
// a drop-in for compress/flate with better throughput. It is a thin adapter
// rather than a raw *flate.Writer so a failed entry can be disposed of
// without the caller needing to know the compressor's internals.
type deflateEncoder struct {
	w   *flate.Writer
	dst io.Writer
}

// newDeflateEncoder returns an encoder that writes raw DEFLATE-compressed
// bytes to dst as they are fed in via Write.
func newDeflateEncoder(dst io.Writer) (*deflateEncoder, error) {
	w, err := flate.NewWriter(dst, deflateLevel)
	if err != nil {
		return nil, err
	}
	return &deflateEncoder{w: w, dst: dst}, nil
}

func (e *deflateEncoder) Write(p []byte) (int, error) {
	return e.w.Write(p)
}

// Close flushes any remaining compressed bytes and finalizes the DEFLATE
// stream. After Close, the encoder must not be reused.
func (e *deflateEncoder) Close() error {
	return e.w.Close()
}

// disposeOnFailure abandons the encoder after a write error partway through
// an entry: it makes no further attempt to flush or finalize the DEFLATE
// stream, since doing so would append corrupt trailing bytes to the sink
// on top of whatever was already written before the failure.
func (e *deflateEncoder) disposeOnFailure() {
	e.w = nil
}
