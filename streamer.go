// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gozip

import (
	"context"
	"io"
	"io/fs"
	"time"

	pkgerrors "github.com/pkg/errors"
)

// streamerState tracks where a Streamer is in its single-pass lifecycle.
// Unlike an in-memory archive builder, a Streamer moves strictly forward:
// bytes already handed to the sink can never be taken back, only rolled
// forward past with a Filler.
type streamerState int

const (
	stateInitial streamerState = iota
	stateEntryOpen
	stateClosed
)

// Filler marks a byte span in the archive that was written (to keep the
// sink's offset accounting correct) but does not correspond to any entry —
// the result of Rollback after a body write failed partway through: the
// bytes already pushed to the sink cannot be un-sent, so the Streamer
// instead records them as a gap the central directory skips over.
type Filler struct {
	Offset uint64
	Length uint64
}

// Streamer drives single-pass, append-only production of a ZIP archive. It
// never seeks its Sink and never re-reads a byte once written: every
// accounting fact it needs (CRC32, sizes, offsets) is derived as bytes pass
// through, not by looking back at what was already sent.
//
// A Streamer is not safe for concurrent use from multiple goroutines; only
// one entry may be open at a time, matching the single-writer-slot model in
// which a Streamer is normally driven by one directory walk.
type Streamer struct {
	zw      *ZipWriter
	paths   *PathSet
	state   streamerState
	fillers []Filler

	// accounted is the running total of bytes the Streamer has itself put
	// on the wire (headers, bodies, data descriptors) plus the declared
	// body sizes of spliced entries. Close compares it against the sink's
	// actual offset to catch a spliced body whose SimulateWrite call was
	// forgotten.
	accounted uint64

	cur *openEntry
}

// openEntry tracks the entry currently being written between an
// AddStoredEntry/AddDeflatedEntry/AddHeuristicEntry call and the matching
// Finish.
type openEntry struct {
	name              string
	localHeaderOffset uint64
	headerBytes       uint64
	headerWritten     bool
	useDataDescriptor bool
	declaredSize      uint64
	perm              fs.FileMode
	modTime           time.Time
	body              *entryBodyWriter
}

// NewStreamer constructs a Streamer over dst. uniquify controls whether
// colliding file paths are automatically renamed ("name (1)", "name (2)",
// ...) instead of rejected with a *PathConflictError.
func NewStreamer(dst Sink, uniquify bool) (*Streamer, error) {
	if dst == nil {
		return nil, ErrInvalidOutput
	}
	return NewStreamerWithWriter(NewZipWriter(dst), uniquify)
}

// NewStreamerWithWriter constructs a Streamer over an existing ZipWriter,
// for callers that need to share one writer between the Streamer's entry
// lifecycle and their own lower-level record writes. Bytes the writer has
// already emitted are taken as given for offset accounting.
func NewStreamerWithWriter(zw *ZipWriter, uniquify bool) (*Streamer, error) {
	if zw == nil {
		return nil, ErrInvalidOutput
	}
	return &Streamer{
		zw:        zw,
		paths:     NewPathSet(uniquify),
		state:     stateInitial,
		accounted: zw.Offset(),
	}, nil
}

// Offset reports the number of bytes written to the sink so far.
func (s *Streamer) Offset() uint64 { return s.zw.Offset() }

// AddEmptyDirectory adds a zero-length directory entry for name. Unlike a
// file entry, a directory entry never involves a data descriptor: its size
// and CRC32 are always zero and known up front. A zero perm records the
// conventional 0o755 directory mode.
func (s *Streamer) AddEmptyDirectory(name string, modTime time.Time, perm fs.FileMode) error {
	if s.state == stateClosed {
		return ErrStreamerClosed
	}
	if s.state == stateEntryOpen {
		return ErrConcurrentEntry
	}

	name = sanitizePath(name)
	if len(name) == 0 || name[len(name)-1] != '/' {
		name += "/"
	}
	if err := s.paths.AddDirectoryPath(name); err != nil {
		return err
	}

	offset, err := s.zw.WriteLocalHeader(name, Stored, false, 0, 0, 0, modTime)
	if err != nil {
		return pkgerrors.Wrap(err, "write local header for directory entry")
	}
	s.accounted += s.zw.Offset() - offset
	s.zw.RecordEntry(name, true, Stored, perm, false, 0, 0, 0, offset, modTime)
	return nil
}

// AddSplicedStoredEntry writes the local header for a stored entry whose body
// the caller will write directly to the real destination, bypassing the
// Streamer entirely (the zero-copy sendfile path). The entry's CRC32 and size
// must therefore already be known. It returns the sink offset at which the
// body must begin; after splicing exactly size body bytes, the caller must
// call SimulateWrite(size) so the Streamer's offset accounting stays in step —
// Close verifies this and fails with an *OffsetOutOfSyncError otherwise.
func (s *Streamer) AddSplicedStoredEntry(name string, modTime time.Time, perm fs.FileMode, bodyCRC32 uint32, size uint64) (uint64, error) {
	return s.addSplicedEntry(name, modTime, perm, Stored, bodyCRC32, size, size)
}

// AddSplicedDeflatedEntry is the deflated analogue of AddSplicedStoredEntry,
// for splicing a body that is already raw-DEFLATE compressed (for example,
// recompressing nothing while copying an entry out of another archive). Both
// the compressed and uncompressed sizes, and the CRC32 of the uncompressed
// bytes, must be known up front.
func (s *Streamer) AddSplicedDeflatedEntry(name string, modTime time.Time, perm fs.FileMode, bodyCRC32 uint32, compressedSize, uncompressedSize uint64) (uint64, error) {
	return s.addSplicedEntry(name, modTime, perm, Deflated, bodyCRC32, compressedSize, uncompressedSize)
}

func (s *Streamer) addSplicedEntry(name string, modTime time.Time, perm fs.FileMode, mode StorageMode, bodyCRC32 uint32, compressedSize, uncompressedSize uint64) (uint64, error) {
	if s.state == stateClosed {
		return 0, ErrStreamerClosed
	}
	if s.state == stateEntryOpen {
		return 0, ErrConcurrentEntry
	}

	name, err := s.claimFilePath(name)
	if err != nil {
		return 0, err
	}

	offset, err := s.zw.WriteLocalHeader(name, mode, false, bodyCRC32, compressedSize, uncompressedSize, modTime)
	if err != nil {
		return 0, pkgerrors.Wrap(err, "write local header")
	}
	// The header must reach the real destination before the caller splices
	// the body behind the Streamer's back, or the two would interleave out
	// of order.
	if err := s.zw.Flush(); err != nil {
		return 0, err
	}

	bodyOffset := s.zw.Offset()
	s.accounted += (bodyOffset - offset) + compressedSize
	s.zw.RecordEntry(name, false, mode, perm, false, bodyCRC32, compressedSize, uncompressedSize, offset, modTime)
	return bodyOffset, nil
}

// AddStoredEntry begins a new Stored entry named name and returns an
// io.Writer the caller streams the entry's uncompressed bytes into,
// followed by a Finish call once the body is complete. If sizeKnown is
// true, the local header carries the declared CRC32/size up front (the size
// must then exactly match what is written, or Finish returns
// ErrEntrySizeMismatch; the declared CRC32 is written as given and is not
// compared with the body's); otherwise the header defers those fields to a
// trailing data descriptor.
func (s *Streamer) AddStoredEntry(name string, modTime time.Time, perm fs.FileMode, sizeKnown bool, declaredCRC32 uint32, declaredSize uint64) (io.Writer, error) {
	return s.beginEntry(name, modTime, perm, Stored, sizeKnown, declaredCRC32, declaredSize)
}

// AddDeflatedEntry begins a new Deflated entry, the compressed analogue of
// AddStoredEntry. Since the compressed size of a streamed DEFLATE body is
// never known until the body is finished, a Deflated entry always defers its
// CRC32 and sizes to a trailing data descriptor: sizeKnown, declaredCRC32
// and declaredUncompressedSize are not written to the local header and are
// not checked against the body.
func (s *Streamer) AddDeflatedEntry(name string, modTime time.Time, perm fs.FileMode, sizeKnown bool, declaredCRC32 uint32, declaredUncompressedSize uint64) (io.Writer, error) {
	return s.beginEntry(name, modTime, perm, Deflated, sizeKnown, declaredCRC32, declaredUncompressedSize)
}

// AddHeuristicEntry begins a new entry whose storage mode (Stored vs.
// Deflated) is decided automatically from the first 128 KiB of its body.
// No local header is written until the decision is made, so the header's
// compression-method field always matches the mode the body was actually
// written with; the final CRC32 and sizes still arrive via a trailing data
// descriptor.
func (s *Streamer) AddHeuristicEntry(name string, modTime time.Time, perm fs.FileMode) (io.Writer, error) {
	if s.state == stateClosed {
		return nil, ErrStreamerClosed
	}
	if s.state == stateEntryOpen {
		return nil, ErrConcurrentEntry
	}

	name, err := s.claimFilePath(name)
	if err != nil {
		return nil, err
	}

	cur := &openEntry{name: name, useDataDescriptor: true, perm: perm, modTime: modTime}
	cur.body = newHeuristicEntryWriter(func(mode StorageMode) (io.Writer, error) {
		offset, err := s.zw.WriteLocalHeader(name, mode, true, 0, 0, 0, modTime)
		if err != nil {
			return nil, pkgerrors.Wrap(err, "write local header")
		}
		cur.localHeaderOffset = offset
		cur.headerBytes = s.zw.Offset() - offset
		cur.headerWritten = true
		s.accounted += cur.headerBytes
		return s.zw.sink, nil
	})
	s.cur = cur
	s.state = stateEntryOpen
	return cur.body, nil
}

func (s *Streamer) beginEntry(name string, modTime time.Time, perm fs.FileMode, mode StorageMode, sizeKnown bool, declaredCRC32 uint32, declaredSize uint64) (io.Writer, error) {
	if s.state == stateClosed {
		return nil, ErrStreamerClosed
	}
	if s.state == stateEntryOpen {
		return nil, ErrConcurrentEntry
	}

	name, err := s.claimFilePath(name)
	if err != nil {
		return nil, err
	}

	// A Deflated entry's compressed size is never known before its body is
	// written, regardless of whether the caller already knows the
	// uncompressed size, so it always defers to a trailing data descriptor.
	useDataDescriptor := !sizeKnown || mode == Deflated

	offset, err := s.zw.WriteLocalHeader(name, mode, useDataDescriptor, declaredCRC32, declaredSize, declaredSize, modTime)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "write local header")
	}
	if err := s.zw.Flush(); err != nil {
		return nil, err
	}

	headerBytes := s.zw.Offset() - offset
	s.accounted += headerBytes

	var body *entryBodyWriter
	switch mode {
	case Stored:
		body = newStoredEntryWriter(s.zw.sink)
	case Deflated:
		body, err = newDeflatedEntryWriter(s.zw.sink)
		if err != nil {
			return nil, err
		}
	default:
		return nil, ErrUnknownStorageMode
	}

	s.cur = &openEntry{name: name, localHeaderOffset: offset, headerBytes: headerBytes, headerWritten: true, useDataDescriptor: useDataDescriptor, declaredSize: declaredSize, perm: perm, modTime: modTime, body: body}
	s.state = stateEntryOpen
	return body, nil
}

func (s *Streamer) claimFilePath(name string) (string, error) {
	claimed, err := s.paths.AddFilePath(name)
	if err != nil {
		return "", err
	}
	return claimed, nil
}

// Finish completes the currently open entry: it flushes the compressor (if
// any), writes a trailing data descriptor if the entry's local header
// deferred its CRC32 and sizes (every Deflated or Heuristic entry, and a
// Stored entry opened without a known size), and records the entry's central-directory information. After
// Finish, the Streamer accepts a new AddXEntry call.
func (s *Streamer) Finish() error {
	if s.state != stateEntryOpen {
		return ErrNoOpenEntry
	}
	cur := s.cur

	if err := cur.body.Finish(); err != nil {
		cur.body.disposeOnFailure()
		// The partial body bytes already on the wire become a filler span,
		// same as an explicit Rollback, so the offset invariant still holds.
		s.discardOpenEntry(cur)
		return err
	}

	mode := cur.body.ResolvedMode()
	crc32 := cur.body.CRC32()
	compressedSize := cur.body.CompressedSize()
	uncompressedSize := cur.body.UncompressedSize()

	if !cur.useDataDescriptor && uncompressedSize != cur.declaredSize {
		// The local header already carries the declared size, so the entry
		// cannot be salvaged; the caller decides whether to Rollback it
		// into a filler or abandon the archive.
		return ErrEntrySizeMismatch
	}

	s.accounted += compressedSize

	if cur.useDataDescriptor {
		ddStart := s.zw.Offset()
		if err := s.zw.WriteDataDescriptor(crc32, compressedSize, uncompressedSize); err != nil {
			return err
		}
		s.accounted += s.zw.Offset() - ddStart
	}

	s.zw.RecordEntry(cur.name, false, mode, cur.perm, cur.useDataDescriptor, crc32, compressedSize, uncompressedSize, cur.localHeaderOffset, cur.modTime)

	s.state = stateInitial
	s.cur = nil
	return nil
}

// Rollback abandons the currently open entry after a failure partway
// through its body. Since the bytes already written to the sink cannot be
// retracted, Rollback instead records the span from the entry's local
// header through its current position as a Filler — a gap present in the
// archive's byte stream but absent from its central directory, so a
// well-behaved reader simply skips past it.
func (s *Streamer) Rollback() error {
	if s.state != stateEntryOpen {
		return ErrNoOpenEntry
	}
	cur := s.cur
	cur.body.disposeOnFailure()
	s.discardOpenEntry(cur)
	return nil
}

// discardOpenEntry abandons cur: whatever bytes it already put on the wire
// (local header plus partial body) become a Filler span, the path set is
// rebuilt from the surviving entries so cur's name may be claimed again, and
// the Streamer returns to accepting new entries. A heuristic entry still in
// its probing phase has written nothing, so it leaves no filler at all.
func (s *Streamer) discardOpenEntry(cur *openEntry) {
	if cur.headerWritten {
		end := s.zw.Offset()
		s.accounted += end - cur.localHeaderOffset - cur.headerBytes
		s.fillers = append(s.fillers, Filler{Offset: cur.localHeaderOffset, Length: end - cur.localHeaderOffset})
	}

	s.paths.Clear()
	for _, e := range s.zw.entries {
		if e.isDir {
			_ = s.paths.AddDirectoryPath(e.name)
		} else {
			_, _ = s.paths.AddFilePath(e.name)
		}
	}

	s.state = stateInitial
	s.cur = nil
}

// Fillers returns the byte spans recorded by Rollback so far.
func (s *Streamer) Fillers() []Filler {
	return s.fillers
}

// WriteFile is a convenience wrapper around AddStoredEntry/AddDeflatedEntry
// plus Finish: it streams r to completion as a single entry, respecting
// ctx cancellation while reading.
func (s *Streamer) WriteFile(ctx context.Context, name string, modTime time.Time, perm fs.FileMode, mode StorageMode, r io.Reader) error {
	var w io.Writer
	var err error

	switch mode {
	case Stored:
		w, err = s.AddStoredEntry(name, modTime, perm, false, 0, 0)
	case Deflated:
		w, err = s.AddDeflatedEntry(name, modTime, perm, false, 0, 0)
	case Heuristic:
		w, err = s.AddHeuristicEntry(name, modTime, perm)
	default:
		return ErrUnknownStorageMode
	}
	if err != nil {
		return err
	}

	cr := &contextReader{ctx: ctx, r: r}
	if _, err := io.Copy(w, cr); err != nil {
		_ = s.Rollback()
		return pkgerrors.Wrap(err, "stream entry body")
	}
	return s.Finish()
}

// SimulateWrite advances the Streamer's offset accounting by n bytes without
// writing anything to the sink itself — for splice mode, where the caller
// has written an entry's body directly to the real destination (e.g. via
// sendfile) and the Streamer only needs to stay in sync for subsequent
// central-directory bookkeeping. Pairs with AddSplicedStoredEntry and
// AddSplicedDeflatedEntry, which write the local header and declare the
// spliced body's span.
func (s *Streamer) SimulateWrite(n uint64) {
	s.zw.AdvanceBy(n)
}

// Close finalizes the archive: it verifies the sink's offset agrees with the
// sum of everything the Streamer accounted for, then writes the central
// directory and (Zip64) end-of-central-directory records.
func (s *Streamer) Close(comment string) error {
	if s.state == stateEntryOpen {
		return ErrConcurrentEntry
	}
	if s.state == stateClosed {
		return ErrStreamerClosed
	}
	if actual := s.zw.Offset(); actual != s.accounted {
		return &OffsetOutOfSyncError{ExpectedOffset: s.accounted, ActualOffset: actual}
	}
	s.state = stateClosed
	return s.zw.Close(comment)
}
