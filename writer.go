// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gozip

import (
	"io/fs"
	"math"
	"time"

	"github.com/lemon4ksan/gozip/internal"
	"github.com/lemon4ksan/gozip/internal/sys"
)

// gpFlagDataDescriptor is general-purpose bit flag 3: the entry's CRC32 and
// sizes were not known at local-header time and instead follow the body as
// a data descriptor.
const gpFlagDataDescriptor uint16 = 1 << 3

// gpFlagUTF8 is general-purpose bit flag 11 (the EFS bit): the filename and
// comment are UTF-8, sparing the writer from having to pick a legacy
// codepage for non-ASCII names.
const gpFlagUTF8 uint16 = 1 << 11

// versionNeededDefault and versionNeededZip64 are the "version needed to
// extract" values for ordinary and Zip64-promoted entries respectively, per
// the ZIP appnote's documented minimums for deflate and Zip64 support.
const (
	versionNeededDefault uint16 = 20
	versionNeededZip64   uint16 = 45
)

const versionMadeBy uint16 = 52 // paired with the host system byte at encode time

const (
	defaultFilePerm = 0o644
	defaultDirPerm  = 0o755
)

// directoryDOSAttr is the MS-DOS FILE_ATTRIBUTE_DIRECTORY bit, carried in
// the low word of external file attributes alongside the UNIX mode bits in
// the high word, the layout UNIX-family zip tools use.
const directoryDOSAttr = 0x10

// finishedEntry is everything the ZipWriter needs to remember about an entry
// once its body has been fully written, so it can later emit that entry's
// central-directory record.
type finishedEntry struct {
	name               string
	isDir              bool
	mode               StorageMode
	perm               fs.FileMode
	crc32              uint32
	compressedSize     uint64
	uncompressedSize   uint64
	localHeaderOffset  uint64
	modTime            time.Time
	usedDataDescriptor bool
	zip64              bool
}

// ZipWriter encodes the byte-level records of a ZIP archive — local file
// headers, data descriptors, central-directory entries, and the (Zip64)
// end-of-central-directory — onto an append-only Sink. It never buffers an
// entire entry body; the Streamer feeds it header/trailer records around
// entry bodies it writes directly to the sink itself. ZipWriter owns no
// concurrency control of its own; serialization against a single sink is
// the Streamer's responsibility (see streamer.go).
type ZipWriter struct {
	sink    *coalescingWriter
	tell    *tellingSink
	entries []finishedEntry
}

// NewZipWriter wraps dst, which must already be validated as append-only by
// the caller (see ErrInvalidOutput in streamer.go).
func NewZipWriter(dst Sink) *ZipWriter {
	ts := newTellingSink(dst)
	return &ZipWriter{
		sink: newCoalescingWriter(ts),
		tell: ts,
	}
}

// Offset returns the number of bytes written to the sink so far, including
// anything still held in the coalescing buffer and anything accounted for
// via AdvanceBy for a splice-mode bypass write.
func (zw *ZipWriter) Offset() uint64 {
	return zw.tell.Tell() + uint64(len(zw.sink.buf))
}

// AdvanceBy records n bytes written directly to the real destination
// outside of ZipWriter (splice mode), keeping the offset accounting in sync
// without copying those bytes through the coalescing buffer. The caller
// must have already flushed zw before writing the bypassed bytes, so the
// coalescing buffer and the bypass write land in the sink in the right order.
func (zw *ZipWriter) AdvanceBy(n uint64) {
	zw.tell.AdvanceBy(n)
}

// Flush pushes any buffered header bytes to the sink, required before a
// splice-mode caller writes entry-body bytes directly to the real
// destination.
func (zw *ZipWriter) Flush() error {
	return zw.sink.Flush()
}

// WriteLocalHeader emits a local file header for name at the writer's
// current offset and returns that offset (the value later needed for the
// entry's central-directory record). When useDataDescriptor is true, the
// CRC32 and size fields are written as zero and bit 3 of the general
// purpose flag is set, deferring those values to a following data
// descriptor record.
func (zw *ZipWriter) WriteLocalHeader(name string, mode StorageMode, useDataDescriptor bool, crc32 uint32, compressedSize, uncompressedSize uint64, modTime time.Time) (uint64, error) {
	if len(name) > math.MaxUint16 {
		return 0, ErrFilenameTooLong
	}

	offset := zw.Offset()

	var gpFlag uint16
	if needsUTF8Flag(name) {
		gpFlag |= gpFlagUTF8
	}
	if useDataDescriptor {
		gpFlag |= gpFlagDataDescriptor
	}

	dosDate, dosTime := internal.TimeToDOS(modTime)

	zip64 := !useDataDescriptor && (compressedSize > math.MaxUint32 || uncompressedSize > math.MaxUint32)
	versionNeeded := versionNeededDefault
	var extra []byte
	if zip64 {
		versionNeeded = versionNeededZip64
		extra = append(extra, internal.EncodeZip64LocalExtra(uncompressedSize, compressedSize)...)
	}
	extra = append(extra, internal.EncodeExtendedTimestampExtra(modTime.Unix())...)

	var hdrCRC, hdrComp, hdrUncomp uint32
	if !useDataDescriptor {
		hdrCRC = crc32
		if zip64 {
			hdrComp, hdrUncomp = math.MaxUint32, math.MaxUint32
		} else {
			hdrComp = uint32(compressedSize)
			hdrUncomp = uint32(uncompressedSize)
		}
	}

	hdr := internal.LocalFileHeader{
		VersionNeededToExtract: versionNeeded,
		GeneralPurposeBitFlag:  gpFlag,
		CompressionMethod:      compressionMethodFor(mode),
		LastModFileTime:        dosTime,
		LastModFileDate:        dosDate,
		CRC32:                  hdrCRC,
		CompressedSize:         hdrComp,
		UncompressedSize:       hdrUncomp,
		FilenameLength:         uint16(len(name)),
		ExtraFieldLength:       uint16(len(extra)),
		Filename:               name,
		ExtraField:             extra,
	}

	if _, err := zw.sink.Write(hdr.Encode()); err != nil {
		return 0, err
	}
	return offset, nil
}

// WriteDataDescriptor emits a data descriptor record following an entry's
// body, for an entry whose local header was written with useDataDescriptor.
func (zw *ZipWriter) WriteDataDescriptor(crc32 uint32, compressedSize, uncompressedSize uint64) error {
	_, err := zw.sink.Write(internal.EncodeDataDescriptor(crc32, compressedSize, uncompressedSize))
	return err
}

// RecordEntry registers a finished entry (its body, and data descriptor if
// any, already fully written) so its central-directory record is emitted
// when Close is called. isDir marks a zero-length directory placeholder
// entry (trailing "/" name, Stored, no body). A zero perm selects the
// conventional default mode for the entry's type.
func (zw *ZipWriter) RecordEntry(name string, isDir bool, mode StorageMode, perm fs.FileMode, usedDataDescriptor bool, crc32 uint32, compressedSize, uncompressedSize, localHeaderOffset uint64, modTime time.Time) {
	zip64 := compressedSize > math.MaxUint32 || uncompressedSize > math.MaxUint32 || localHeaderOffset > math.MaxUint32
	zw.entries = append(zw.entries, finishedEntry{
		name:               name,
		isDir:              isDir,
		mode:               mode,
		perm:               perm,
		crc32:              crc32,
		compressedSize:     compressedSize,
		uncompressedSize:   uncompressedSize,
		localHeaderOffset:  localHeaderOffset,
		modTime:            modTime,
		usedDataDescriptor: usedDataDescriptor,
		zip64:              zip64,
	})
}

// EntryCount reports how many entries have been recorded so far.
func (zw *ZipWriter) EntryCount() int { return len(zw.entries) }

// Close writes the central directory and (Zip64) end-of-central-directory
// records and flushes the coalescing buffer. After Close the ZipWriter must
// not be used again.
func (zw *ZipWriter) Close(comment string) error {
	cdStart := zw.Offset()

	for _, e := range zw.entries {
		if err := zw.writeCentralDirEntry(e); err != nil {
			return err
		}
	}

	cdEnd := zw.Offset()
	cdSize := cdEnd - cdStart

	needsZip64 := cdStart > math.MaxUint32 || cdSize > math.MaxUint32 || len(zw.entries) > math.MaxUint16
	for _, e := range zw.entries {
		if e.zip64 {
			needsZip64 = true
			break
		}
	}

	if needsZip64 {
		zip64EOCDOffset := zw.Offset()
		if _, err := zw.sink.Write(internal.EncodeZip64EndOfCentralDirRecord(uint64(len(zw.entries)), cdSize, cdStart)); err != nil {
			return err
		}
		if _, err := zw.sink.Write(internal.EncodeZip64EndOfCentralDirLocator(zip64EOCDOffset)); err != nil {
			return err
		}
	}

	// The regular EOCD always follows, its fields clamped to their legacy
	// widths; a Zip64-aware reader takes the full values from the records
	// above instead.
	if _, err := zw.sink.Write(internal.EncodeEndOfCentralDirRecord(len(zw.entries), cdSize, cdStart, comment)); err != nil {
		return err
	}

	return zw.sink.Flush()
}

func (zw *ZipWriter) writeCentralDirEntry(e finishedEntry) error {
	dosDate, dosTime := internal.TimeToDOS(e.modTime)

	var extra []byte
	comp, uncomp, offset := e.compressedSize, e.uncompressedSize, e.localHeaderOffset
	versionNeeded := versionNeededDefault
	diskStart := uint16(0)

	if e.zip64 {
		versionNeeded = versionNeededZip64
		extra = append(extra, internal.EncodeZip64CentralExtra(uncomp, comp, offset)...)
		// The extra always carries all three values, and a reader takes a
		// value from it only when the fixed field holds the sentinel, so all
		// three fixed fields hold the sentinel.
		comp, uncomp, offset = math.MaxUint32, math.MaxUint32, math.MaxUint32
		// Mark disk-number-start with the Zip64 sentinel whenever Zip64
		// promotion is active; certain legacy extractors mis-parse the
		// record otherwise, even though this archive is never split
		// across disks.
		diskStart = 0xFFFF
	}
	extra = append(extra, internal.EncodeExtendedTimestampExtra(e.modTime.Unix())...)

	var gpFlag uint16
	if needsUTF8Flag(e.name) {
		gpFlag |= gpFlagUTF8
	}
	if e.usedDataDescriptor {
		gpFlag |= gpFlagDataDescriptor
	}

	cd := internal.CentralDirectory{
		VersionMadeBy:          uint16(sys.GetHostSystem())<<8 | versionMadeBy,
		VersionNeededToExtract: versionNeeded,
		GeneralPurposeBitFlag:  gpFlag,
		CompressionMethod:      compressionMethodFor(e.mode),
		LastModFileTime:        dosTime,
		LastModFileDate:        dosDate,
		CRC32:                  e.crc32,
		CompressedSize:         uint32(comp),
		UncompressedSize:       uint32(uncomp),
		FilenameLength:         uint16(len(e.name)),
		ExtraFieldLength:       uint16(len(extra)),
		DiskNumberStart:        diskStart,
		ExternalFileAttributes: externalAttributesFor(e.isDir, e.perm),
		LocalHeaderOffset:      uint32(offset),
		Filename:               e.name,
	}
	if len(extra) > 0 {
		// A single synthetic key preserves our own ordering (Zip64 first,
		// then extended-timestamp): CentralDirectory.Encode sorts by key
		// for multi-field maps, which would be meaningless here since we
		// already built the concatenated blob ourselves.
		cd.ExtraField = map[uint16][]byte{0: extra}
	}

	_, err := zw.sink.Write(cd.Encode())
	return err
}

// needsUTF8Flag reports whether name contains a byte outside 7-bit ASCII;
// the EFS flag is set only then, since pure-ASCII names decode identically
// under every legacy codepage and some extractors treat the flag itself as
// meaningful.
func needsUTF8Flag(name string) bool {
	for i := 0; i < len(name); i++ {
		if name[i] >= 0x80 {
			return true
		}
	}
	return false
}

// compressionMethodFor maps a StorageMode to its ZIP compression-method
// code. Heuristic is never recorded on a finishedEntry: by the time an
// entry reaches RecordEntry its Heuristic writer has already resolved to
// Stored or Deflated.
func compressionMethodFor(mode StorageMode) uint16 {
	if mode == Deflated {
		return 8
	}
	return 0
}

// externalAttributesFor packs the UNIX file-type and permission bits into
// the high word of external file attributes (with the MS-DOS directory bit
// set in the low word for directories), the layout UNIX-family zip tools
// use when VersionMadeBy's high byte is UNIX. A zero perm falls back to the
// conventional defaults for the entry's type.
func externalAttributesFor(isDir bool, perm fs.FileMode) uint32 {
	permBits := uint32(perm) & 0o7777
	if isDir {
		if permBits == 0 {
			permBits = defaultDirPerm
		}
		unixMode := uint32(sys.SIFDIR)<<12 | permBits
		return unixMode<<16 | directoryDOSAttr
	}
	if permBits == 0 {
		permBits = defaultFilePerm
	}
	unixMode := uint32(sys.SIFREG)<<12 | permBits
	return unixMode << 16
}
