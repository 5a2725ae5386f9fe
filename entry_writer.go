// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gozip

import "io"

// StorageMode selects how an entry's body is written to the archive.
type StorageMode int

const (
	// Stored writes the entry's bytes uncompressed.
	Stored StorageMode = iota
	// Deflated compresses the entry's bytes with raw DEFLATE.
	Deflated
	// Heuristic probes the first heuristicProbeSize bytes through a
	// throwaway DEFLATE pass and picks whichever storage mode the
	// compression ratio favors, skipping compression for already-dense
	// content such as media files.
	Heuristic
)

// heuristicProbeSize is the number of leading bytes sampled before an
// Heuristic entry commits to Stored or Deflated.
const heuristicProbeSize = 128 * 1024

// heuristicRatioThreshold is the compressed/uncompressed ratio at or below
// which deflation is judged worthwhile; content that does not compress past this
// ratio is written Stored instead, avoiding wasted CPU on incompressible
// data such as already-compressed media.
const heuristicRatioThreshold = 0.75

// countingWriter tracks the number of bytes written to an underlying writer.
type countingWriter struct {
	w io.Writer
	n uint64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += uint64(n)
	return n, err
}

// entryBodyWriter accumulates an entry's compressed bytes, its CRC32, and
// its uncompressed/compressed byte counts as the Streamer feeds body data
// in. It is the object behind Streamer.Write during an open entry.
type entryBodyWriter struct {
	mode    StorageMode
	crc     *CRC32Accumulator
	counted *countingWriter
	deflate *deflateEncoder

	uncompressedSize uint64

	// Heuristic-only probing state. commit is called exactly once, with the
	// resolved storage mode, to write the entry's local header and return
	// the writer the replayed and remaining body bytes go into.
	probing  bool
	probeBuf []byte
	commit   func(mode StorageMode) (io.Writer, error)
}

// newStoredEntryWriter returns a writer that copies bytes through to dst
// unmodified, tracking size and CRC32 as it goes.
func newStoredEntryWriter(dst io.Writer) *entryBodyWriter {
	return &entryBodyWriter{
		mode:    Stored,
		crc:     NewCRC32Accumulator(),
		counted: &countingWriter{w: dst},
	}
}

// newDeflatedEntryWriter returns a writer that compresses bytes into dst via
// raw DEFLATE, tracking uncompressed size/CRC32 off the caller's bytes and
// compressed size off what actually reaches dst.
func newDeflatedEntryWriter(dst io.Writer) (*entryBodyWriter, error) {
	counted := &countingWriter{w: dst}
	enc, err := newDeflateEncoder(counted)
	if err != nil {
		return nil, err
	}
	return &entryBodyWriter{
		mode:    Deflated,
		crc:     NewCRC32Accumulator(),
		counted: counted,
		deflate: enc,
	}, nil
}

// newHeuristicEntryWriter returns a writer that buffers up to
// heuristicProbeSize bytes before deciding whether to write the entry
// Stored or Deflated. Nothing reaches the archive until the decision is
// made: commit then writes the local header for the resolved mode and
// returns the destination the buffered bytes are replayed into.
func newHeuristicEntryWriter(commit func(mode StorageMode) (io.Writer, error)) *entryBodyWriter {
	return &entryBodyWriter{
		mode:     Heuristic,
		crc:      NewCRC32Accumulator(),
		probing:  true,
		probeBuf: make([]byte, 0, heuristicProbeSize),
		commit:   commit,
	}
}

// Write feeds p through the entry writer. During heuristic probing, bytes
// are buffered (and CRC32'd) until the probe threshold is reached, at which
// point the mode is resolved and probeBuf is replayed into it.
func (w *entryBodyWriter) Write(p []byte) (int, error) {
	w.uncompressedSize += uint64(len(p))
	w.crc.Update(p)

	if w.probing {
		w.probeBuf = append(w.probeBuf, p...)
		if len(w.probeBuf) < heuristicProbeSize {
			return len(p), nil
		}
		if err := w.resolveHeuristic(); err != nil {
			return 0, err
		}
		return len(p), nil
	}

	if w.deflate != nil {
		if _, err := w.deflate.Write(p); err != nil {
			return 0, err
		}
		return len(p), nil
	}
	if _, err := w.counted.Write(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// resolveHeuristic runs the buffered probe bytes through a throwaway DEFLATE
// pass to measure the achievable ratio, commits to Stored or Deflated for
// the rest of the entry (which writes the entry's local header), and replays
// the probe bytes into the chosen path. An empty probe buffer resolves to
// Stored: compressing nothing is never worthwhile.
func (w *entryBodyWriter) resolveHeuristic() error {
	w.probing = false

	ratio := 1.0
	if len(w.probeBuf) > 0 {
		discard := &countingWriter{w: discardSink{}}
		enc, err := newDeflateEncoder(discard)
		if err == nil {
			_, _ = enc.Write(w.probeBuf)
			_ = enc.Close()
			ratio = float64(discard.n) / float64(len(w.probeBuf))
		}
	}

	mode := Stored
	if ratio <= heuristicRatioThreshold {
		mode = Deflated
	}

	dst, err := w.commit(mode)
	if err != nil {
		return err
	}
	w.mode = mode
	w.counted = &countingWriter{w: dst}
	if mode == Deflated {
		enc, err := newDeflateEncoder(w.counted)
		if err != nil {
			return err
		}
		w.deflate = enc
	}

	buffered := w.probeBuf
	w.probeBuf = nil
	if w.deflate != nil {
		_, err := w.deflate.Write(buffered)
		return err
	}
	_, err = w.counted.Write(buffered)
	return err
}

// Finish flushes any pending compressed bytes (resolving the heuristic first
// if the entry never reached the probe threshold) and freezes the entry's
// final accounting.
func (w *entryBodyWriter) Finish() error {
	if w.probing {
		if err := w.resolveHeuristic(); err != nil {
			return err
		}
	}
	if w.deflate != nil {
		return w.deflate.Close()
	}
	return nil
}

// ResolvedMode reports which storage mode the entry was ultimately written
// with; for Stored/Deflated writers this is simply the mode they were
// constructed with, for Heuristic writers it is the decision Finish made.
func (w *entryBodyWriter) ResolvedMode() StorageMode { return w.mode }

// CompressedSize, UncompressedSize, and CRC32 report the entry's finished
// accounting. They are only meaningful after Finish has been called.
func (w *entryBodyWriter) CompressedSize() uint64   { return w.counted.n }
func (w *entryBodyWriter) UncompressedSize() uint64 { return w.uncompressedSize }
func (w *entryBodyWriter) CRC32() uint32            { return w.crc.Value() }

// disposeOnFailure releases any resources (namely a DEFLATE stream) held by
// a partially-written entry that is being rolled back, without attempting
// to finalize it.
func (w *entryBodyWriter) disposeOnFailure() {
	if w.deflate != nil {
		w.deflate.disposeOnFailure()
	}
}
