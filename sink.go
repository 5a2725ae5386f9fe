// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gozip

import "io"

// Sink is the append-only output a Streamer writes to. It is narrower than
// io.Writer only in spirit: any io.Writer already satisfies it, since Write
// is required to consume the entire buffer or return an error (the same
// contract io.Writer itself documents). Sink exists as a distinct name so
// Streamer's field and constructor read as "the thing bytes are appended
// to" rather than "some io.Writer".
type Sink interface {
	io.Writer
}

// tellingSink wraps a Sink and tracks the number of bytes written so far,
// giving the Streamer a running offset (tell) without requiring the
// underlying Sink to support Seek or Stat. This is what makes the Streamer
// usable against genuinely non-seekable destinations like a network
// connection or an os.Pipe writer.
type tellingSink struct {
	w   Sink
	pos uint64
}

func newTellingSink(w Sink) *tellingSink {
	return &tellingSink{w: w}
}

// Write appends p to the underlying sink and advances the running offset.
func (s *tellingSink) Write(p []byte) (int, error) {
	n, err := s.w.Write(p)
	s.pos += uint64(n)
	if err != nil {
		return n, err
	}
	if n != len(p) {
		return n, io.ErrShortWrite
	}
	return n, nil
}

// AdvanceBy records that n bytes were written to the underlying sink outside
// of Write — the splice-mode bypass path, where a caller writes directly to
// the real destination (e.g. for zero-copy sendfile) and only needs the
// tellingSink's accounting to stay in sync.
func (s *tellingSink) AdvanceBy(n uint64) {
	s.pos += n
}

// Tell returns the number of bytes written (directly or via AdvanceBy) so far.
func (s *tellingSink) Tell() uint64 {
	return s.pos
}

// discardSink implements Sink by dropping everything written to it, the
// destination a SizeEstimator binds its internal Streamer to.
type discardSink struct{}

func (discardSink) Write(p []byte) (int, error) { return len(p), nil }
