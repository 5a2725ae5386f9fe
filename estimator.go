// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gozip

import (
	"io/fs"
	"time"
)

// SizeEstimator predicts the exact byte size of an archive before producing
// it, by driving the same entry-addition surface as a Streamer over a Sink
// that discards everything written to it. No entry body bytes are ever fed
// in: each entry is declared with its sizes and CRC32 only, and the body
// span is accounted for the same way a spliced (sendfile) body would be.
// Because every byte-layout decision (Zip64 promotion, extra field widths,
// header lengths) is made by the exact code path a real Streamer uses, the
// predicted size is exact, not approximate.
type SizeEstimator struct {
	s *Streamer
}

// NewSizeEstimator returns an estimator with the same uniquify semantics a
// real Streamer would use for path-conflict handling.
func NewSizeEstimator(uniquify bool) *SizeEstimator {
	s, _ := NewStreamer(discardSink{}, uniquify) // discardSink is never nil
	return &SizeEstimator{s: s}
}

// AddEmptyDirectory mirrors Streamer.AddEmptyDirectory.
func (e *SizeEstimator) AddEmptyDirectory(name string, modTime time.Time, perm fs.FileMode) error {
	return e.s.AddEmptyDirectory(name, modTime, perm)
}

// AddStoredEntry accounts for a stored entry of the given size without its
// body. The CRC32 does not influence the archive's size but is part of the
// declaration so the same call script can later drive a real Streamer.
func (e *SizeEstimator) AddStoredEntry(name string, modTime time.Time, perm fs.FileMode, bodyCRC32 uint32, size uint64) error {
	_, err := e.s.AddSplicedStoredEntry(name, modTime, perm, bodyCRC32, size)
	if err != nil {
		return err
	}
	e.s.SimulateWrite(size)
	return nil
}

// AddDeflatedEntry accounts for a deflated entry whose compressed and
// uncompressed sizes are already known.
func (e *SizeEstimator) AddDeflatedEntry(name string, modTime time.Time, perm fs.FileMode, bodyCRC32 uint32, compressedSize, uncompressedSize uint64) error {
	_, err := e.s.AddSplicedDeflatedEntry(name, modTime, perm, bodyCRC32, compressedSize, uncompressedSize)
	if err != nil {
		return err
	}
	e.s.SimulateWrite(compressedSize)
	return nil
}

// Close finalizes the estimator's internal Streamer and returns the exact
// archive size that would result from closing a real Streamer fed the same
// sequence of entries with the same comment. After Close no further entries
// may be added to this estimator.
func (e *SizeEstimator) Close(comment string) (uint64, error) {
	if err := e.s.Close(comment); err != nil {
		return 0, err
	}
	return e.s.Offset(), nil
}
