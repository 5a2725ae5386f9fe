// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gozip

import (
	"bytes"
	"hash/crc32"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSizeEstimatorMatchesRealArchive(t *testing.T) {
	t.Parallel()

	bodyA := bytes.Repeat([]byte("estimate me "), 512)
	bodyB := []byte{0xDE, 0xAD}
	crcA, crcB := crc32.ChecksumIEEE(bodyA), crc32.ChecksumIEEE(bodyB)

	// The deflated declaration stands in for a body compressed elsewhere;
	// only its sizes matter here.
	const deflCompressed, deflUncompressed = uint64(777), uint64(2048)

	est := NewSizeEstimator(false)
	require.NoError(t, est.AddEmptyDirectory("docs", testModTime, 0))
	require.NoError(t, est.AddStoredEntry("docs/a.txt", testModTime, 0, crcA, uint64(len(bodyA))))
	require.NoError(t, est.AddStoredEntry("b.bin", testModTime, 0, crcB, uint64(len(bodyB))))
	require.NoError(t, est.AddDeflatedEntry("c.z", testModTime, 0, 0x1234, deflCompressed, deflUncompressed))
	predicted, err := est.Close("final comment")
	require.NoError(t, err)

	// Produce the real archive from the same declarations, with the bodies
	// spliced in.
	var buf bytes.Buffer
	s, err := NewStreamer(&buf, false)
	require.NoError(t, err)
	require.NoError(t, s.AddEmptyDirectory("docs", testModTime, 0))

	for _, entry := range []struct {
		name string
		crc  uint32
		body []byte
	}{
		{"docs/a.txt", crcA, bodyA},
		{"b.bin", crcB, bodyB},
	} {
		_, err := s.AddSplicedStoredEntry(entry.name, testModTime, 0, entry.crc, uint64(len(entry.body)))
		require.NoError(t, err)
		buf.Write(entry.body)
		s.SimulateWrite(uint64(len(entry.body)))
	}

	_, err = s.AddSplicedDeflatedEntry("c.z", testModTime, 0, 0x1234, deflCompressed, deflUncompressed)
	require.NoError(t, err)
	buf.Write(make([]byte, deflCompressed))
	s.SimulateWrite(deflCompressed)

	require.NoError(t, s.Close("final comment"))

	assert.Equal(t, predicted, uint64(buf.Len()))
}

func TestSizeEstimatorEmptyArchive(t *testing.T) {
	t.Parallel()

	est := NewSizeEstimator(false)
	size, err := est.Close("")
	require.NoError(t, err)
	assert.Equal(t, uint64(22), size)
}

func TestSizeEstimatorZip64Entry(t *testing.T) {
	t.Parallel()

	// A past-4GiB entry drags in Zip64 extras and trailer records; the
	// estimator must account for every one of those bytes too.
	const huge = uint64(6) << 30

	est := NewSizeEstimator(false)
	require.NoError(t, est.AddStoredEntry("huge.bin", testModTime, 0, 0, huge))
	predicted, err := est.Close("")
	require.NoError(t, err)

	var sink spanRecordingSink
	s, err := NewStreamer(&sink, false)
	require.NoError(t, err)
	_, err = s.AddSplicedStoredEntry("huge.bin", testModTime, 0, 0, huge)
	require.NoError(t, err)
	s.SimulateWrite(huge)
	require.NoError(t, s.Close(""))

	assert.Equal(t, predicted, uint64(sink.buf.Len())+huge)
}

func TestSizeEstimatorRejectsConflicts(t *testing.T) {
	t.Parallel()

	est := NewSizeEstimator(false)
	require.NoError(t, est.AddStoredEntry("same.txt", testModTime, 0, 0, 1))
	err := est.AddStoredEntry("same.txt", testModTime, 0, 0, 1)
	require.Error(t, err)
}
