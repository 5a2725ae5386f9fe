// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gozip

import (
	"hash/crc32"
	"io"
)

// CRC32Accumulator computes the IEEE CRC32 of an entry's uncompressed bytes
// incrementally, exposed standalone so the Streamer can carry one per open
// entry and, separately, combine two accumulators when a block written via
// a bypass path needs to be folded into the running checksum without
// re-reading its bytes.
type CRC32Accumulator struct {
	crc uint32
	len uint64
}

// NewCRC32Accumulator returns a zero-valued accumulator, equivalent to the
// CRC32 of an empty byte stream.
func NewCRC32Accumulator() *CRC32Accumulator {
	return &CRC32Accumulator{}
}

// Update folds p into the running checksum and returns the number of bytes
// consumed, mirroring io.Writer so an accumulator can sit in a write chain.
func (c *CRC32Accumulator) Update(p []byte) (int, error) {
	c.crc = crc32.Update(c.crc, crc32.IEEETable, p)
	c.len += uint64(len(p))
	return len(p), nil
}

// FromStream consumes r to EOF, updating the accumulator, and returns the
// number of bytes read.
func (c *CRC32Accumulator) FromStream(r io.Reader) (uint64, error) {
	n, err := io.Copy(writerFunc(c.Update), r)
	return uint64(n), err
}

// Value returns the CRC32 of all bytes seen so far.
func (c *CRC32Accumulator) Value() uint32 { return c.crc }

// Len returns the number of bytes folded into the accumulator so far.
func (c *CRC32Accumulator) Len() uint64 { return c.len }

// Append returns the CRC32 of the concatenation of a byte stream whose CRC32
// is c.Value() over c.Len() bytes, followed by a second stream of length
// otherLen whose CRC32 is otherCRC, without re-reading either stream. This is
// the GF(2) polynomial-matrix "combine" operation used by splice mode: a
// caller who wrote a block directly to the sink outside the Streamer can
// still fold its precomputed checksum into the entry's running CRC32.
func (c *CRC32Accumulator) Append(otherCRC uint32, otherLen uint64) {
	c.crc = crc32Combine(crc32.IEEE, c.crc, otherCRC, int64(otherLen))
	c.len += otherLen
}

// crc32Combine computes the CRC32 of two back-to-back byte streams given only
// each stream's individual CRC32 and the length of the second stream, using
// the standard polynomial-matrix combination algorithm (as implemented by
// zlib's crc32_combine and gzip-family tools). hash/crc32 does not expose
// this operation, so it is reimplemented here over GF(2) matrices built from
// the reversed polynomial hash/crc32.IEEE uses.
func crc32Combine(poly uint32, crc1, crc2 uint32, len2 int64) uint32 {
	if len2 <= 0 {
		return crc1
	}

	var odd, even [32]uint32

	odd[0] = poly
	row := uint32(1)
	for n := 1; n < 32; n++ {
		odd[n] = row
		row <<= 1
	}

	even = gf2MatrixSquare(odd) // even = odd^2
	odd = gf2MatrixSquare(even) // odd = even^2

	n := len2
	for {
		even = gf2MatrixSquare(odd) // even = odd^2
		if n&1 != 0 {
			crc1 = gf2MatrixTimes(even, crc1)
		}
		n >>= 1
		if n == 0 {
			break
		}

		odd = gf2MatrixSquare(even) // odd = even^2
		if n&1 != 0 {
			crc1 = gf2MatrixTimes(odd, crc1)
		}
		n >>= 1
		if n == 0 {
			break
		}
	}

	return crc1 ^ crc2
}

// gf2MatrixTimes multiplies a GF(2) matrix by a column vector.
func gf2MatrixTimes(mat [32]uint32, vec uint32) uint32 {
	var sum uint32
	for i := 0; vec != 0; i++ {
		if vec&1 != 0 {
			sum ^= mat[i]
		}
		vec >>= 1
	}
	return sum
}

// gf2MatrixSquare squares a GF(2) matrix (multiplies it by itself).
func gf2MatrixSquare(mat [32]uint32) [32]uint32 {
	var out [32]uint32
	for i := range mat {
		out[i] = gf2MatrixTimes(mat, mat[i])
	}
	return out
}

// writerFunc adapts a func([]byte) (int, error) to io.Writer.
type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }
