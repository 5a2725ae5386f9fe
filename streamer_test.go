// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gozip

import (
	"bytes"
	"context"
	"encoding/binary"
	"hash/crc32"
	"io"
	"io/fs"
	"math/rand"
	"strings"
	"testing"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lemon4ksan/gozip/internal"
)

var testModTime = time.Date(2024, time.March, 15, 10, 30, 0, 0, time.UTC)

// readCentralEntries decodes every central-directory record of a finished,
// comment-less, non-Zip64 archive, locating the directory via the EOCD's
// offset field.
func readCentralEntries(t *testing.T, data []byte) []internal.CentralDirectory {
	t.Helper()

	require.GreaterOrEqual(t, len(data), 22)
	tail := data[len(data)-22:]
	require.Equal(t, internal.EndOfCentralDirSignature, binary.LittleEndian.Uint32(tail[0:4]))

	count := int(binary.LittleEndian.Uint16(tail[10:12]))
	cdOffset := binary.LittleEndian.Uint32(tail[16:20])

	r := bytes.NewReader(data[cdOffset:])
	entries := make([]internal.CentralDirectory, 0, count)
	for i := 0; i < count; i++ {
		var sig [4]byte
		_, err := io.ReadFull(r, sig[:])
		require.NoError(t, err)
		require.Equal(t, internal.CentralDirectorySignature, binary.LittleEndian.Uint32(sig[:]))

		cd, err := internal.ReadCentralDirEntry(r)
		require.NoError(t, err)
		entries = append(entries, cd)
	}
	return entries
}

// extractAll reads the archive in data back through a FileReader and returns
// every non-directory entry's contents keyed by name.
func extractAll(t *testing.T, data []byte) map[string][]byte {
	t.Helper()

	fr, err := OpenFileReader(context.Background(), bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	out := make(map[string][]byte)
	for _, e := range fr.Entries() {
		if e.IsDir {
			continue
		}
		rc, err := fr.Open(e)
		require.NoError(t, err)
		body, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		out[e.Name] = body
	}
	return out
}

func TestEmptyArchive(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	s, err := NewStreamer(&buf, false)
	require.NoError(t, err)
	require.NoError(t, s.Close(""))

	data := buf.Bytes()
	require.Equal(t, 22, len(data))
	assert.Equal(t, internal.EndOfCentralDirSignature, binary.LittleEndian.Uint32(data[0:4]))
	for _, b := range data[4:] {
		assert.Zero(t, b)
	}
}

func TestStoredRoundtrip(t *testing.T) {
	t.Parallel()

	first := bytes.Repeat([]byte{0xA5, 0x01, 0x7F}, 20*1024/3)
	second := make([]byte, 128*1024)
	for i := range second {
		second[i] = byte(i * 7)
	}

	var buf bytes.Buffer
	s, err := NewStreamer(&buf, false)
	require.NoError(t, err)

	for name, body := range map[string][]byte{"first-file.bin": first, "second-file.bin": second} {
		w, err := s.AddStoredEntry(name, testModTime, 0, false, 0, 0)
		require.NoError(t, err)
		_, err = w.Write(body)
		require.NoError(t, err)
		require.NoError(t, s.Finish())
	}
	require.NoError(t, s.Close(""))

	extracted := extractAll(t, buf.Bytes())
	assert.Equal(t, first, extracted["first-file.bin"])
	assert.Equal(t, second, extracted["second-file.bin"])

	for _, cd := range readCentralEntries(t, buf.Bytes()) {
		assert.Zero(t, cd.GeneralPurposeBitFlag&(1<<11), "EFS bit must not be set for ASCII name %q", cd.Filename)
		assert.Equal(t, uint16(0), cd.CompressionMethod)
		// No Zip64 promotion below the thresholds.
		assert.NotEqual(t, uint32(0xFFFFFFFF), cd.CompressedSize)
		assert.Nil(t, cd.ExtraField[internal.Zip64ExtraTag])
	}
}

func TestStoredEntryCRC32Recorded(t *testing.T) {
	t.Parallel()

	body := []byte("check the checksum of this body")

	var buf bytes.Buffer
	s, err := NewStreamer(&buf, false)
	require.NoError(t, err)
	w, err := s.AddStoredEntry("crc.bin", testModTime, 0, false, 0, 0)
	require.NoError(t, err)
	_, err = w.Write(body)
	require.NoError(t, err)
	require.NoError(t, s.Finish())
	require.NoError(t, s.Close(""))

	cds := readCentralEntries(t, buf.Bytes())
	require.Len(t, cds, 1)
	assert.Equal(t, crc32.ChecksumIEEE(body), cds[0].CRC32)
}

func TestUnicodeFilenameSetsEFS(t *testing.T) {
	t.Parallel()

	name := "второй-файл.bin"
	body := make([]byte, 128*1024)

	var buf bytes.Buffer
	s, err := NewStreamer(&buf, false)
	require.NoError(t, err)
	w, err := s.AddStoredEntry(name, testModTime, 0, false, 0, 0)
	require.NoError(t, err)
	_, err = w.Write(body)
	require.NoError(t, err)
	require.NoError(t, s.Finish())
	require.NoError(t, s.Close(""))

	data := buf.Bytes()
	localGPFlag := binary.LittleEndian.Uint16(data[6:8])
	assert.NotZero(t, localGPFlag&(1<<11), "EFS bit in local header")

	cds := readCentralEntries(t, data)
	require.Len(t, cds, 1)
	assert.NotZero(t, cds[0].GeneralPurposeBitFlag&(1<<11), "EFS bit in central directory")
	assert.Equal(t, name, cds[0].Filename)
}

func TestDataDescriptorRoundtrip(t *testing.T) {
	t.Parallel()

	body := bytes.Repeat([]byte("descriptor material "), 4096)

	var buf bytes.Buffer
	s, err := NewStreamer(&buf, false)
	require.NoError(t, err)
	w, err := s.AddDeflatedEntry("dd.txt", testModTime, 0, false, 0, 0)
	require.NoError(t, err)
	_, err = w.Write(body)
	require.NoError(t, err)
	require.NoError(t, s.Finish())
	require.NoError(t, s.Close(""))

	data := buf.Bytes()

	// Local header defers CRC and sizes to the descriptor.
	assert.NotZero(t, binary.LittleEndian.Uint16(data[6:8])&(1<<3), "bit 3 in local GP flags")
	assert.Zero(t, binary.LittleEndian.Uint32(data[14:18]), "local CRC32")
	assert.Zero(t, binary.LittleEndian.Uint32(data[18:22]), "local compressed size")
	assert.Zero(t, binary.LittleEndian.Uint32(data[22:26]), "local uncompressed size")

	cds := readCentralEntries(t, data)
	require.Len(t, cds, 1)
	cd := cds[0]
	assert.NotZero(t, cd.GeneralPurposeBitFlag&(1<<3))
	assert.Equal(t, uint16(8), cd.CompressionMethod)
	assert.Equal(t, crc32.ChecksumIEEE(body), cd.CRC32)
	assert.Equal(t, uint32(len(body)), cd.UncompressedSize)

	// The descriptor sits right after the compressed body and repeats the
	// central directory's values.
	ddOffset := bytes.Index(data, binary.LittleEndian.AppendUint32(nil, internal.DataDescriptorSignature))
	require.GreaterOrEqual(t, ddOffset, 0)
	assert.Equal(t, cd.CRC32, binary.LittleEndian.Uint32(data[ddOffset+4:ddOffset+8]))
	assert.Equal(t, cd.CompressedSize, binary.LittleEndian.Uint32(data[ddOffset+8:ddOffset+12]))
	assert.Equal(t, cd.UncompressedSize, binary.LittleEndian.Uint32(data[ddOffset+12:ddOffset+16]))

	extracted := extractAll(t, data)
	assert.Equal(t, body, extracted["dd.txt"])
}

func TestHeuristicSelectsDeflatedForCompressibleData(t *testing.T) {
	t.Parallel()

	var body bytes.Buffer
	for body.Len() < 130*1024 {
		body.WriteString("many many delicious, compressible words ")
	}

	var buf bytes.Buffer
	s, err := NewStreamer(&buf, false)
	require.NoError(t, err)
	w, err := s.AddHeuristicEntry("words.txt", testModTime, 0)
	require.NoError(t, err)
	_, err = w.Write(body.Bytes())
	require.NoError(t, err)
	require.NoError(t, s.Finish())
	require.NoError(t, s.Close(""))

	cds := readCentralEntries(t, buf.Bytes())
	require.Len(t, cds, 1)
	assert.Equal(t, uint16(8), cds[0].CompressionMethod)
	assert.Less(t, cds[0].CompressedSize, cds[0].UncompressedSize)

	extracted := extractAll(t, buf.Bytes())
	assert.Equal(t, body.Bytes(), extracted["words.txt"])
}

func TestHeuristicSelectsStoredForIncompressibleData(t *testing.T) {
	t.Parallel()

	body := make([]byte, 130*1024)
	rng := rand.New(rand.NewSource(42))
	_, err := rng.Read(body)
	require.NoError(t, err)

	var buf bytes.Buffer
	s, err := NewStreamer(&buf, false)
	require.NoError(t, err)
	w, err := s.AddHeuristicEntry("noise.bin", testModTime, 0)
	require.NoError(t, err)
	_, err = w.Write(body)
	require.NoError(t, err)
	require.NoError(t, s.Finish())
	require.NoError(t, s.Close(""))

	cds := readCentralEntries(t, buf.Bytes())
	require.Len(t, cds, 1)
	assert.Equal(t, uint16(0), cds[0].CompressionMethod)
	assert.Equal(t, uint32(len(body)), cds[0].CompressedSize)

	extracted := extractAll(t, buf.Bytes())
	assert.Equal(t, body, extracted["noise.bin"])
}

func TestHeuristicEmptyEntryIsStored(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	s, err := NewStreamer(&buf, false)
	require.NoError(t, err)
	_, err = s.AddHeuristicEntry("empty.bin", testModTime, 0)
	require.NoError(t, err)
	require.NoError(t, s.Finish())
	require.NoError(t, s.Close(""))

	cds := readCentralEntries(t, buf.Bytes())
	require.Len(t, cds, 1)
	assert.Equal(t, uint16(0), cds[0].CompressionMethod)
	assert.Zero(t, cds[0].UncompressedSize)
}

func TestRollbackAllowsReusingName(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	s, err := NewStreamer(&buf, false)
	require.NoError(t, err)

	w, err := s.AddHeuristicEntry("deflated.txt", testModTime, 0)
	require.NoError(t, err)
	_, err = w.Write([]byte("this is attempt 1"))
	require.NoError(t, err)
	require.NoError(t, s.Rollback())

	w, err = s.AddHeuristicEntry("deflated.txt", testModTime, 0)
	require.NoError(t, err)
	_, err = w.Write([]byte("this is attempt 2"))
	require.NoError(t, err)
	require.NoError(t, s.Finish())
	require.NoError(t, s.Close(""))

	cds := readCentralEntries(t, buf.Bytes())
	require.Len(t, cds, 1, "rolled-back entry must not appear in the central directory")
	assert.Equal(t, "deflated.txt", cds[0].Filename)

	extracted := extractAll(t, buf.Bytes())
	assert.Equal(t, []byte("this is attempt 2"), extracted["deflated.txt"])
}

func TestRollbackMidBodyLeavesFiller(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	s, err := NewStreamer(&buf, false)
	require.NoError(t, err)

	// A stored entry writes its header and body bytes immediately; rolling
	// it back cannot unsend them, so they become a filler span.
	w, err := s.AddStoredEntry("doomed.bin", testModTime, 0, false, 0, 0)
	require.NoError(t, err)
	_, err = w.Write([]byte("partial body already on the wire"))
	require.NoError(t, err)
	require.NoError(t, s.Rollback())

	fillers := s.Fillers()
	require.Len(t, fillers, 1)
	assert.NotZero(t, fillers[0].Length)

	w, err = s.AddStoredEntry("survivor.bin", testModTime, 0, false, 0, 0)
	require.NoError(t, err)
	_, err = w.Write([]byte("kept"))
	require.NoError(t, err)
	require.NoError(t, s.Finish())
	require.NoError(t, s.Close(""))

	// The filler's bytes sit in the stream but the archive only lists the
	// surviving entry, at an offset the reader can still resolve.
	extracted := extractAll(t, buf.Bytes())
	require.Len(t, extracted, 1)
	assert.Equal(t, []byte("kept"), extracted["survivor.bin"])
}

func TestOffsetOutOfSyncOnMissingSimulateWrite(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	s, err := NewStreamer(&buf, false)
	require.NoError(t, err)

	_, err = s.AddSplicedStoredEntry("foo", testModTime, 0, 0xCC, 1024)
	require.NoError(t, err)

	err = s.Close("")
	require.Error(t, err)
	require.True(t, pkgerrors.Is(err, ErrOffsetOutOfSync))

	var sync *OffsetOutOfSyncError
	require.True(t, pkgerrors.As(err, &sync))
	assert.Equal(t, sync.ActualOffset+1024, sync.ExpectedOffset)
	assert.Contains(t, err.Error(), "SimulateWrite")
}

func TestSplicedStoredEntryRoundtrip(t *testing.T) {
	t.Parallel()

	body := []byte("these bytes bypass the streamer entirely")

	var buf bytes.Buffer
	s, err := NewStreamer(&buf, false)
	require.NoError(t, err)

	bodyOffset, err := s.AddSplicedStoredEntry("spliced.bin", testModTime, 0, crc32.ChecksumIEEE(body), uint64(len(body)))
	require.NoError(t, err)
	require.Equal(t, uint64(buf.Len()), bodyOffset, "header must be flushed before the body is spliced")

	// The caller writes the body straight to the destination, then tells
	// the streamer how many bytes went past it.
	buf.Write(body)
	s.SimulateWrite(uint64(len(body)))

	require.NoError(t, s.Close(""))

	extracted := extractAll(t, buf.Bytes())
	assert.Equal(t, body, extracted["spliced.bin"])
}

func TestAddEmptyDirectory(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	s, err := NewStreamer(&buf, false)
	require.NoError(t, err)
	require.NoError(t, s.AddEmptyDirectory("docs", testModTime, 0))
	require.NoError(t, s.Close(""))

	cds := readCentralEntries(t, buf.Bytes())
	require.Len(t, cds, 1)
	assert.Equal(t, "docs/", cds[0].Filename, "directory names carry a trailing slash")
	assert.Equal(t, uint32(0o040755), cds[0].ExternalFileAttributes>>16, "unix directory mode in external attrs")

	fr, err := OpenFileReader(context.Background(), bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	require.Len(t, fr.Entries(), 1)
	assert.True(t, fr.Entries()[0].IsDir)
}

func TestStoredEntrySizeMismatch(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	s, err := NewStreamer(&buf, false)
	require.NoError(t, err)

	w, err := s.AddStoredEntry("short.bin", testModTime, 0, true, 0, 10)
	require.NoError(t, err)
	_, err = w.Write([]byte("only5"))
	require.NoError(t, err)

	err = s.Finish()
	require.True(t, pkgerrors.Is(err, ErrEntrySizeMismatch))
}

func TestSecondOpenEntryRejected(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	s, err := NewStreamer(&buf, false)
	require.NoError(t, err)

	_, err = s.AddStoredEntry("one.bin", testModTime, 0, false, 0, 0)
	require.NoError(t, err)

	_, err = s.AddStoredEntry("two.bin", testModTime, 0, false, 0, 0)
	require.True(t, pkgerrors.Is(err, ErrConcurrentEntry))

	err = s.AddEmptyDirectory("dir", testModTime, 0)
	require.True(t, pkgerrors.Is(err, ErrConcurrentEntry))
}

func TestCloseIsTerminal(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	s, err := NewStreamer(&buf, false)
	require.NoError(t, err)
	require.NoError(t, s.Close(""))

	require.True(t, pkgerrors.Is(s.Close(""), ErrStreamerClosed))
	_, err = s.AddStoredEntry("late.bin", testModTime, 0, false, 0, 0)
	require.True(t, pkgerrors.Is(err, ErrStreamerClosed))
}

func TestWriteFileRollsBackOnReaderFailure(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var buf bytes.Buffer
	s, err := NewStreamer(&buf, false)
	require.NoError(t, err)

	err = s.WriteFile(ctx, "canceled.bin", testModTime, 0, Stored, strings.NewReader("never read"))
	require.Error(t, err)

	// The failed entry was rolled back, so the archive still closes clean
	// and the name is free again.
	err = s.WriteFile(context.Background(), "canceled.bin", testModTime, 0, Stored, strings.NewReader("second try"))
	require.NoError(t, err)
	require.NoError(t, s.Close(""))

	extracted := extractAll(t, buf.Bytes())
	require.Len(t, extracted, 1)
	assert.Equal(t, []byte("second try"), extracted["canceled.bin"])
}

func TestCentralDirectoryOffsetsMatchLocalHeaders(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	s, err := NewStreamer(&buf, false)
	require.NoError(t, err)
	for _, name := range []string{"a.bin", "b.bin", "c.bin"} {
		require.NoError(t, s.WriteFile(context.Background(), name, testModTime, 0, Deflated, strings.NewReader(name+" body")))
	}
	require.NoError(t, s.Close(""))

	data := buf.Bytes()
	for _, cd := range readCentralEntries(t, data) {
		off := cd.LocalHeaderOffset
		sig := binary.LittleEndian.Uint32(data[off : off+4])
		assert.Equal(t, internal.LocalFileHeaderSignature, sig, "entry %q", cd.Filename)
	}
}

func TestArchiveWithComment(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	s, err := NewStreamer(&buf, false)
	require.NoError(t, err)
	require.NoError(t, s.WriteFile(context.Background(), "x.bin", testModTime, 0, Stored, strings.NewReader("x")))
	require.NoError(t, s.Close("streamed with gozip"))

	fr, err := OpenFileReader(context.Background(), bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	require.Len(t, fr.Entries(), 1)
}

func TestZip64PromotionForHugeSplicedEntry(t *testing.T) {
	t.Parallel()

	const hugeSize = uint64(5) << 30 // past the 32-bit size threshold

	var buf spanRecordingSink
	s, err := NewStreamer(&buf, false)
	require.NoError(t, err)

	_, err = s.AddSplicedStoredEntry("huge.bin", testModTime, 0, 0xDEADBEEF, hugeSize)
	require.NoError(t, err)
	s.SimulateWrite(hugeSize)
	require.NoError(t, s.Close(""))

	data := buf.buf.Bytes()

	// Local header: overflowed size fields hold the sentinel and the Zip64
	// extra leads the extra field block with the real values.
	assert.Equal(t, uint16(45), binary.LittleEndian.Uint16(data[4:6]), "version needed")
	assert.Equal(t, uint32(0xFFFFFFFF), binary.LittleEndian.Uint32(data[18:22]))
	assert.Equal(t, uint32(0xFFFFFFFF), binary.LittleEndian.Uint32(data[22:26]))
	nameLen := int(binary.LittleEndian.Uint16(data[26:28]))
	extraStart := 30 + nameLen
	assert.Equal(t, internal.Zip64ExtraTag, binary.LittleEndian.Uint16(data[extraStart:extraStart+2]))
	assert.Equal(t, hugeSize, binary.LittleEndian.Uint64(data[extraStart+4:extraStart+12]))

	// The tail must carry the Zip64 EOCD record and its locator before the
	// regular EOCD.
	assert.True(t, bytes.Contains(data, binary.LittleEndian.AppendUint32(nil, internal.Zip64EndOfCentralDirSignature)))
	assert.True(t, bytes.Contains(data, binary.LittleEndian.AppendUint32(nil, internal.Zip64EndOfCentralDirLocatorSignature)))

	// The regular EOCD still closes the archive, with the real entry count
	// since it fits the 16-bit field.
	eocd := data[len(data)-22:]
	require.Equal(t, internal.EndOfCentralDirSignature, binary.LittleEndian.Uint32(eocd[0:4]))
	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(eocd[10:12]), "entry count stays un-clamped below 65535")
}

// spanRecordingSink keeps the structural bytes of an archive whose entry
// bodies are only simulated, so Zip64 layouts can be inspected without
// materializing multi-gigabyte bodies.
type spanRecordingSink struct {
	buf bytes.Buffer
}

func (s *spanRecordingSink) Write(p []byte) (int, error) { return s.buf.Write(p) }

func TestCustomPermissionsInExternalAttributes(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	s, err := NewStreamer(&buf, false)
	require.NoError(t, err)
	w, err := s.AddStoredEntry("tool.sh", testModTime, 0o750, false, 0, 0)
	require.NoError(t, err)
	_, err = w.Write([]byte("#!/bin/sh\n"))
	require.NoError(t, err)
	require.NoError(t, s.Finish())
	require.NoError(t, s.Close(""))

	cds := readCentralEntries(t, buf.Bytes())
	require.Len(t, cds, 1)
	assert.Equal(t, uint32(0o100750), cds[0].ExternalFileAttributes>>16)

	fr, err := OpenFileReader(context.Background(), bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	assert.Equal(t, fs.FileMode(0o750), fr.Entries()[0].Mode)
}
