// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gozip

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"io/fs"
	"math"
	"strings"
	"time"

	"github.com/klauspost/compress/flate"
	pkgerrors "github.com/pkg/errors"

	"github.com/lemon4ksan/gozip/internal"
	"github.com/lemon4ksan/gozip/internal/sys"
)

const (
	localHeaderLen  = 30 // size of a local file header without filename/extra
	directoryEndLen = 22 // size of the EOCD record without a trailing comment
	zip64LocatorLen = 20 // size of the Zip64 EOCD locator
)

// FileEntry describes one file or directory recovered from an archive's
// central directory (or, in the fallback path, from a direct local-header
// scan). It carries everything needed to open and extract the entry but
// performs no I/O itself.
type FileEntry struct {
	Name              string
	IsDir             bool
	Mode              fs.FileMode
	CompressionMethod StorageMode
	UncompressedSize  uint64
	CompressedSize    uint64
	CRC32             uint32
	ModTime           time.Time

	localHeaderOffset uint64
	dataOffset        uint64
	dataOffsetKnown   bool
}

// LocalHeaderOffset returns the byte offset of the entry's local file header
// within the archive.
func (e *FileEntry) LocalHeaderOffset() uint64 { return e.localHeaderOffset }

// CompressedDataOffset returns the byte offset at which the entry's
// compressed body begins. The offset only becomes known once the entry's
// local header has been read (via FileReader.ReadLocalHeaders or Open),
// since the header's variable-length filename and extra fields sit between
// the header offset and the body; before that it fails with
// ErrLocalHeaderPending.
func (e *FileEntry) CompressedDataOffset() (uint64, error) {
	if !e.dataOffsetKnown {
		return 0, ErrLocalHeaderPending
	}
	return e.dataOffset, nil
}

// FileReader provides read access to a ZIP archive via an io.ReaderAt,
// parsing its central directory once at construction time (central-
// directory-first, the strategy every well-formed archive supports) and
// falling back to a direct local-header scan only when no usable central
// directory can be found — the same fallback a streamed, possibly
// truncated, archive might need.
type FileReader struct {
	src      io.ReaderAt
	fileSize int64
	entries  []*FileEntry
}

// OpenFileReader parses the archive in src (total length size) and returns
// a FileReader over its entries.
func OpenFileReader(ctx context.Context, src io.ReaderAt, size int64) (*FileReader, error) {
	fr := &FileReader{src: src, fileSize: size}

	endDir, eocdOffset, err := fr.findAndReadEndOfCentralDir(ctx)
	if err != nil {
		if pkgerrors.Is(err, ErrMissingEOCD) {
			entries, fallbackErr := fr.scanLocalHeaders(ctx)
			if fallbackErr != nil {
				return nil, fallbackErr
			}
			fr.entries = entries
			return fr, nil
		}
		return nil, err
	}

	centralDirOffset, entriesNum := uint64(endDir.CentralDirOffset), uint64(endDir.TotalNumberOfEntries)

	if centralDirOffset == math.MaxUint32 || uint64(endDir.CentralDirSize) == math.MaxUint32 || entriesNum == math.MaxUint16 {
		zip64End, err := fr.findAndReadZip64EndOfCentralDir(ctx, eocdOffset)
		switch {
		case err == nil:
			centralDirOffset, entriesNum = zip64End.CentralDirOffset, zip64End.TotalNumberOfEntries
		case pkgerrors.Is(err, errNoZip64Locator):
			// Sentinel-valued EOCD fields without a Zip64 trailer: the
			// legacy values really are the archive's values.
		default:
			return nil, err
		}
	}

	entries, err := fr.readCentralDir(ctx, int64(centralDirOffset), int64(entriesNum))
	if err != nil {
		return nil, err
	}
	fr.entries = entries
	return fr, nil
}

// Entries returns every file and directory recovered from the archive, in
// central-directory (or scan) order.
func (fr *FileReader) Entries() []*FileEntry {
	return fr.entries
}

// findAndReadEndOfCentralDir locates the EOCD record by reading the archive's
// trailing window (the fixed 22-byte record plus the longest possible
// comment) in one shot and scanning it backward for the signature. A stored
// entry body can legitimately contain the signature bytes, so each candidate
// is validated by its comment-length field: only the record whose comment
// runs exactly to the end of the file is the real EOCD, and scanning from
// the end returns the rightmost such candidate. Returns the parsed record
// and the file offset of its signature.
func (fr *FileReader) findAndReadEndOfCentralDir(ctx context.Context) (internal.EndOfCentralDirectory, int64, error) {
	var end internal.EndOfCentralDirectory

	if fr.fileSize < directoryEndLen {
		return end, 0, pkgerrors.Wrap(ErrMissingEOCD, "file too small")
	}
	if err := ctx.Err(); err != nil {
		return end, 0, err
	}

	windowSize := min(int64(directoryEndLen+math.MaxUint16), fr.fileSize)
	windowStart := fr.fileSize - windowSize
	window := make([]byte, windowSize)
	if _, err := fr.src.ReadAt(window, windowStart); err != nil && err != io.EOF {
		return end, 0, pkgerrors.Wrap(err, "read archive tail")
	}

	for p := windowSize - directoryEndLen; p >= 0; p-- {
		if binary.LittleEndian.Uint32(window[p:p+4]) != internal.EndOfCentralDirSignature {
			continue
		}
		commentLen := int64(binary.LittleEndian.Uint16(window[p+20 : p+22]))
		if windowStart+p+directoryEndLen+commentLen != fr.fileSize {
			continue
		}
		parsed, err := internal.ReadEndOfCentralDir(bytes.NewReader(window[p+4:]))
		if err != nil {
			return end, 0, pkgerrors.Wrap(err, "decode end of central directory")
		}
		return parsed, windowStart + p, nil
	}

	return end, 0, ErrMissingEOCD
}

// errNoZip64Locator reports that the fixed span before the EOCD holds no
// Zip64 locator, so the EOCD's own fields are authoritative — possible when
// a legacy-range value happens to equal a sentinel (an archive of exactly
// 65535 entries, say).
var errNoZip64Locator = pkgerrors.New("gozip: no zip64 end of central directory locator")

// findAndReadZip64EndOfCentralDir walks back the fixed locator length from
// the EOCD signature, reads the Zip64 EOCD locator found there, and follows
// its offset to the Zip64 EOCD record itself.
func (fr *FileReader) findAndReadZip64EndOfCentralDir(ctx context.Context, eocdOffset int64) (internal.Zip64EndOfCentralDirectory, error) {
	var zip64End internal.Zip64EndOfCentralDirectory

	if err := ctx.Err(); err != nil {
		return zip64End, err
	}

	locatorOffset := eocdOffset - zip64LocatorLen
	if locatorOffset < 0 {
		return zip64End, errNoZip64Locator
	}

	locReader := io.NewSectionReader(fr.src, locatorOffset, zip64LocatorLen)
	if !verifySignature(locReader, internal.Zip64EndOfCentralDirLocatorSignature) {
		return zip64End, errNoZip64Locator
	}

	locator, err := internal.ReadZip64EndOfCentralDirLocator(locReader)
	if err != nil {
		return zip64End, pkgerrors.Wrap(err, "read zip64 end of central dir locator")
	}

	eocdSize := fr.fileSize - int64(locator.Zip64EndOfCentralDirOffset)
	if eocdSize < 0 {
		return zip64End, pkgerrors.Wrap(ErrInvalidStructure, "invalid zip64 end of central directory offset")
	}

	eocdReader := io.NewSectionReader(fr.src, int64(locator.Zip64EndOfCentralDirOffset), eocdSize)
	if !verifySignature(eocdReader, internal.Zip64EndOfCentralDirSignature) {
		return zip64End, pkgerrors.Wrap(ErrInvalidStructure, "expected zip64 end of central directory signature")
	}

	return internal.ReadZip64EndOfCentralDir(eocdReader)
}

func (fr *FileReader) readCentralDir(ctx context.Context, offset int64, entriesNum int64) ([]*FileEntry, error) {
	safeCap := entriesNum
	if safeCap > 1024*1024 || safeCap < 0 {
		safeCap = 1024
	}
	entries := make([]*FileEntry, 0, safeCap)

	cdReader := io.NewSectionReader(fr.src, offset, fr.fileSize-offset)

	for i := int64(0); i < entriesNum; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if !verifySignature(cdReader, internal.CentralDirectorySignature) {
			return nil, pkgerrors.Wrapf(ErrInvalidStructure, "expected central directory signature at entry %d", i)
		}

		cd, err := internal.ReadCentralDirEntry(cdReader)
		if err != nil {
			return nil, pkgerrors.Wrap(err, "decode central dir entry")
		}

		entries = append(entries, fileEntryFromCentralDir(cd))
	}

	return entries, nil
}

// fileEntryFromCentralDir builds a FileEntry from a parsed central-directory
// record, resolving Zip64 widths only for the fields that actually
// overflowed their 32-bit counterpart, per the ZIP appnote's conditional
// field-order rule.
func fileEntryFromCentralDir(cd internal.CentralDirectory) *FileEntry {
	name := cd.Filename
	isDir := strings.HasSuffix(name, "/")

	uncompressedSize := uint64(cd.UncompressedSize)
	compressedSize := uint64(cd.CompressedSize)
	localHeaderOffset := uint64(cd.LocalHeaderOffset)

	// Extra-field map values carry the full record, 4-byte tag+size prefix
	// included; the payload parsers want only what follows it.
	if zip64Payload, ok := cd.ExtraField[internal.Zip64ExtraTag]; ok && len(zip64Payload) >= 4 {
		parsed := internal.ParseZip64Extra(
			zip64Payload[4:],
			uncompressedSize == math.MaxUint32,
			compressedSize == math.MaxUint32,
			localHeaderOffset == math.MaxUint32,
		)
		if parsed.UncompressedSize != nil {
			uncompressedSize = *parsed.UncompressedSize
		}
		if parsed.CompressedSize != nil {
			compressedSize = *parsed.CompressedSize
		}
		if parsed.LocalHeaderOffset != nil {
			localHeaderOffset = *parsed.LocalHeaderOffset
		}
	}

	modTime := internal.DOSToTime(cd.LastModFileDate, cd.LastModFileTime)
	if tsPayload, ok := cd.ExtraField[internal.ExtendedTimestampExtraTag]; ok && len(tsPayload) >= 4 {
		if mtime, ok := internal.ParseExtendedTimestampExtra(tsPayload[4:]); ok {
			modTime = time.Unix(mtime, 0).UTC()
		}
	}

	return &FileEntry{
		Name:              name,
		IsDir:             isDir,
		Mode:              modeFromExternalAttributes(cd),
		CompressionMethod: storageModeFromCompressionMethod(cd.CompressionMethod),
		UncompressedSize:  uncompressedSize,
		CompressedSize:    compressedSize,
		CRC32:             cd.CRC32,
		ModTime:           modTime,
		localHeaderOffset: localHeaderOffset,
	}
}

func storageModeFromCompressionMethod(method uint16) StorageMode {
	if method == 8 {
		return Deflated
	}
	return Stored
}

func modeFromExternalAttributes(cd internal.CentralDirectory) fs.FileMode {
	hostSystem := sys.HostSystem(cd.VersionMadeBy >> 8)
	isDir := strings.HasSuffix(cd.Filename, "/")

	if hostSystem == sys.HostSystemUNIX {
		unixMode := cd.ExternalFileAttributes >> 16
		mode := fs.FileMode(unixMode & 0o777)
		if isDir {
			mode |= fs.ModeDir
		}
		return mode
	}

	if isDir {
		return 0o755 | fs.ModeDir
	}
	return 0o644
}

// ReadLocalHeaders reads every entry's local file header to resolve its
// compressed-data offset, after which CompressedDataOffset succeeds for all
// entries. Callers that only extract via Open never need this: Open resolves
// the one header it needs on demand.
func (fr *FileReader) ReadLocalHeaders(ctx context.Context) error {
	for _, e := range fr.entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := fr.readLocalHeader(e); err != nil {
			return err
		}
	}
	return nil
}

// readLocalHeader parses e's local file header to find where its compressed
// body begins, caching the result on the entry. The filename and extra-field
// lengths in the local header may differ from the central directory's (some
// writers emit different extras in each), so the body offset must come from
// the local header itself.
func (fr *FileReader) readLocalHeader(e *FileEntry) (int64, error) {
	if e.dataOffsetKnown {
		return int64(e.dataOffset), nil
	}

	headerBuf := make([]byte, localHeaderLen)
	if _, err := io.ReadFull(io.NewSectionReader(fr.src, int64(e.localHeaderOffset), localHeaderLen), headerBuf); err != nil {
		return 0, pkgerrors.Wrap(err, "read local header")
	}
	if binary.LittleEndian.Uint32(headerBuf[0:4]) != internal.LocalFileHeaderSignature {
		return 0, pkgerrors.Wrap(ErrInvalidStructure, "expected local file header signature")
	}

	filenameLen := int64(binary.LittleEndian.Uint16(headerBuf[26:28]))
	extraLen := int64(binary.LittleEndian.Uint16(headerBuf[28:30]))
	dataOffset := int64(e.localHeaderOffset) + localHeaderLen + filenameLen + extraLen

	e.dataOffset = uint64(dataOffset)
	e.dataOffsetKnown = true
	return dataOffset, nil
}

// Open returns a reader over e's decompressed bytes. Reads are bounded by
// the entry's declared compressed size, so the returned reader can never
// run past the entry's body into the next record; the recorded CRC32 is
// reported on the entry but deliberately not re-verified while reading.
func (fr *FileReader) Open(e *FileEntry) (io.ReadCloser, error) {
	dataOffset, err := fr.readLocalHeader(e)
	if err != nil {
		return nil, err
	}

	dataR := io.NewSectionReader(fr.src, dataOffset, int64(e.CompressedSize))

	var decompressed io.Reader
	switch e.CompressionMethod {
	case Stored:
		decompressed = dataR
	case Deflated:
		decompressed = flate.NewReader(dataR)
	default:
		return nil, pkgerrors.Wrapf(ErrUnsupportedFeature, "compression method %d", e.CompressionMethod)
	}

	return &entryBodyReader{r: decompressed, size: e.UncompressedSize}, nil
}

// entryBodyReader wraps a decompressed entry body, tracking bytes read so
// Close can confirm the body decoded to exactly the length the central
// directory promised.
type entryBodyReader struct {
	r    io.Reader
	read uint64
	size uint64
}

func (er *entryBodyReader) Read(p []byte) (int, error) {
	n, err := er.r.Read(p)
	if n > 0 {
		er.read += uint64(n)
	}
	return n, err
}

func (er *entryBodyReader) Close() error {
	if closer, ok := er.r.(io.Closer); ok {
		_ = closer.Close()
	}
	if er.read != er.size {
		return pkgerrors.Wrapf(ErrEntrySizeMismatch, "read %d, want %d", er.read, er.size)
	}
	return nil
}

func verifySignature(r io.Reader, sig uint32) bool {
	buf := make([]byte, 4)
	if _, err := io.ReadFull(r, buf); err != nil {
		return false
	}
	return binary.LittleEndian.Uint32(buf) == sig
}

// scanLocalHeaders is the straight-ahead fallback used when no central
// directory can be located: it walks local file headers directly from the
// start of the archive. For an entry written with a data descriptor (sizes
// unknown at header time), the body's end is found by searching forward for
// the next signature (another local header, the central directory, or the
// EOCD) rather than trusting a header-declared size.
func (fr *FileReader) scanLocalHeaders(ctx context.Context) ([]*FileEntry, error) {
	var entries []*FileEntry
	offset := int64(0)

	for offset+4 <= fr.fileSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var sigBuf [4]byte
		if _, err := fr.src.ReadAt(sigBuf[:], offset); err != nil && err != io.EOF {
			return nil, pkgerrors.Wrap(err, "read signature")
		}
		sig := binary.LittleEndian.Uint32(sigBuf[:])
		if sig != internal.LocalFileHeaderSignature {
			break
		}

		hdrBuf := make([]byte, localHeaderLen)
		if _, err := io.ReadFull(io.NewSectionReader(fr.src, offset, localHeaderLen), hdrBuf); err != nil {
			return nil, pkgerrors.Wrap(err, "read local header")
		}

		gpFlag := binary.LittleEndian.Uint16(hdrBuf[6:8])
		compressionMethod := binary.LittleEndian.Uint16(hdrBuf[8:10])
		dosTime := binary.LittleEndian.Uint16(hdrBuf[10:12])
		dosDate := binary.LittleEndian.Uint16(hdrBuf[12:14])
		crc := binary.LittleEndian.Uint32(hdrBuf[14:18])
		compressedSize := uint64(binary.LittleEndian.Uint32(hdrBuf[18:22]))
		uncompressedSize := uint64(binary.LittleEndian.Uint32(hdrBuf[22:26]))
		filenameLen := int64(binary.LittleEndian.Uint16(hdrBuf[26:28]))
		extraLen := int64(binary.LittleEndian.Uint16(hdrBuf[28:30]))

		nameBuf := make([]byte, filenameLen)
		if _, err := io.ReadFull(io.NewSectionReader(fr.src, offset+localHeaderLen, filenameLen), nameBuf); err != nil {
			return nil, pkgerrors.Wrap(err, "read filename")
		}
		name := string(nameBuf)

		dataOffset := offset + localHeaderLen + filenameLen + extraLen
		usesDataDescriptor := gpFlag&gpFlagDataDescriptor != 0

		var nextOffset int64
		if usesDataDescriptor {
			bodyEnd, afterDescriptor, err := fr.locateDataDescriptor(dataOffset)
			if err != nil {
				return nil, err
			}
			compressedSize = uint64(bodyEnd - dataOffset)
			nextOffset = afterDescriptor
		} else {
			nextOffset = dataOffset + int64(compressedSize)
		}

		entries = append(entries, &FileEntry{
			Name:              name,
			IsDir:             strings.HasSuffix(name, "/"),
			Mode:              defaultModeFor(strings.HasSuffix(name, "/")),
			CompressionMethod: storageModeFromCompressionMethod(compressionMethod),
			UncompressedSize:  uncompressedSize,
			CompressedSize:    compressedSize,
			CRC32:             crc,
			ModTime:           internal.DOSToTime(dosDate, dosTime),
			localHeaderOffset: uint64(offset),
			dataOffset:        uint64(dataOffset),
			dataOffsetKnown:   true,
		})

		offset = nextOffset
	}

	if len(entries) == 0 {
		return nil, ErrMissingEOCD
	}
	return entries, nil
}

// locateDataDescriptor scans forward from start (the beginning of an
// entry's compressed body) for the data descriptor that follows it, and
// returns the offset where the compressed body ends (bodyEnd) and the
// offset immediately after the descriptor (afterDescriptor) where the next
// record begins.
//
// Most writers, including this module's own Streamer, emit the optional
// 0x08074b50 descriptor signature; when present it unambiguously marks
// bodyEnd. When absent, the descriptor is found indirectly by locating the
// next local-header/central-directory/EOCD signature and assuming the
// minimal non-Zip64 16-byte descriptor (crc32 + compressed size +
// uncompressed size, 4 bytes each) immediately precedes it — archives with
// Zip64-widened descriptors but no descriptor signature cannot be
// recovered by this fallback and are reported as ErrInvalidStructure.
func (fr *FileReader) locateDataDescriptor(start int64) (bodyEnd int64, afterDescriptor int64, err error) {
	const chunkSize = 4096
	buf := make([]byte, chunkSize+4)

	candidateSigs := []uint32{
		internal.DataDescriptorSignature,
		internal.LocalFileHeaderSignature,
		internal.CentralDirectorySignature,
		internal.EndOfCentralDirSignature,
	}

	for pos := start; pos < fr.fileSize; pos += chunkSize {
		n, readErr := fr.src.ReadAt(buf, pos)
		if readErr != nil && readErr != io.EOF {
			return 0, 0, pkgerrors.Wrap(readErr, "scan for data descriptor")
		}
		chunk := buf[:n]

		bestIdx := -1
		var bestSig uint32
		for _, sig := range candidateSigs {
			var sigBytes [4]byte
			binary.LittleEndian.PutUint32(sigBytes[:], sig)
			if idx := bytes.Index(chunk, sigBytes[:]); idx >= 0 && (bestIdx == -1 || idx < bestIdx) {
				bestIdx, bestSig = idx, sig
			}
		}
		if bestIdx == -1 {
			continue
		}

		found := pos + int64(bestIdx)
		if bestSig == internal.DataDescriptorSignature {
			return found, found + 16, nil
		}
		// No descriptor signature: assume the 16-byte minimal descriptor
		// immediately precedes the record we found.
		bodyEnd = found - 16
		if bodyEnd < start {
			return 0, 0, pkgerrors.Wrap(ErrInvalidStructure, "data descriptor shorter than expected")
		}
		return bodyEnd, found, nil
	}

	return 0, 0, ErrInvalidStructure
}

func defaultModeFor(isDir bool) fs.FileMode {
	if isDir {
		return 0o755 | fs.ModeDir
	}
	return 0o644
}
