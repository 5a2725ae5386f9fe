// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gozip

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrInvalidOutput is returned at construction when the sink does not
	// support append-write.
	ErrInvalidOutput = errors.New("gozip: sink does not support append-write")

	// ErrUnknownStorageMode is returned when a storage mode other than
	// stored (0) or deflated (8) is requested.
	ErrUnknownStorageMode = errors.New("gozip: unknown storage mode")

	// ErrFilenameTooLong is returned when a filename exceeds 65535 bytes.
	ErrFilenameTooLong = errors.New("gozip: filename exceeds 65535 bytes")

	// ErrPathConflict is the sentinel wrapped by every *PathConflictError.
	ErrPathConflict = errors.New("gozip: path conflict")

	// ErrEntrySizeMismatch is returned when a stored entry's declared size
	// does not match the number of bytes actually written.
	ErrEntrySizeMismatch = errors.New("gozip: declared entry size does not match bytes written")

	// ErrOffsetOutOfSync is returned by Close when the sum of entry and
	// filler byte spans does not equal the sink's current position.
	ErrOffsetOutOfSync = errors.New("gozip: sink offset out of sync with entry accounting")

	// ErrNoOpenEntry is returned when Finish or Rollback is called with no
	// entry body writer open.
	ErrNoOpenEntry = errors.New("gozip: no entry is currently open")

	// ErrStreamerClosed is returned by any write operation after Close.
	ErrStreamerClosed = errors.New("gozip: streamer already closed")

	// ErrConcurrentEntry is returned when a second entry body writer is
	// requested while one is already open.
	ErrConcurrentEntry = errors.New("gozip: an entry body is already open")

	// Reader-side sentinels.

	ErrReadFailure        = errors.New("gozip: read failure")
	ErrInvalidStructure   = errors.New("gozip: invalid archive structure")
	ErrUnsupportedFeature = errors.New("gozip: unsupported archive feature")
	ErrMissingEOCD        = errors.New("gozip: end of central directory record not found")
	ErrLocalHeaderPending = errors.New("gozip: local header has not been read for this entry yet")
)

// PathConflictKind distinguishes the three ways adding a path to a PathSet
// can fail.
type PathConflictKind int

const (
	// FileClobbersDirectory: a requested directory path, or one of its
	// ancestors, was already added as a file.
	FileClobbersDirectory PathConflictKind = iota
	// DirectoryClobbersFile: a requested file path was already added as a
	// directory.
	DirectoryClobbersFile
	// Conflict: a requested file path duplicates an existing file, or runs
	// underneath one.
	Conflict
)

func (k PathConflictKind) String() string {
	switch k {
	case FileClobbersDirectory:
		return "file clobbers directory"
	case DirectoryClobbersFile:
		return "directory clobbers file"
	case Conflict:
		return "conflict"
	default:
		return "unknown path conflict"
	}
}

// PathConflictError reports a PathSet invariant violation.
type PathConflictError struct {
	Kind PathConflictKind
	Path string
}

func (e *PathConflictError) Error() string {
	return fmt.Sprintf("gozip: %s: %q", e.Kind, e.Path)
}

func (e *PathConflictError) Unwrap() error { return ErrPathConflict }

// OffsetOutOfSyncError carries the diagnostic detail for ErrOffsetOutOfSync.
type OffsetOutOfSyncError struct {
	ExpectedOffset uint64
	ActualOffset   uint64
}

func (e *OffsetOutOfSyncError) Error() string {
	return fmt.Sprintf(
		"gozip: entries account for %d bytes but the sink is at %d; "+
			"a bypass write may be missing a matching SimulateWrite call",
		e.ExpectedOffset, e.ActualOffset,
	)
}

func (e *OffsetOutOfSyncError) Unwrap() error { return ErrOffsetOutOfSync }
