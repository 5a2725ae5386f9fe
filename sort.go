// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gozip

import "sort"

// PendingEntry describes a file discovered by a directory walk before it has
// been handed to a Streamer. It carries no open handle and no archive state;
// it exists only to be reordered by SortPending before the walker starts
// calling Streamer methods, since the Streamer cannot reorder bytes once
// they are on the wire.
type PendingEntry struct {
	Path             string
	UncompressedSize int64
}

// SortStrategy defines the order in which discovered files are handed to a
// Streamer. Entry order is an observable property of the archive, and the
// right order can shrink it: every entry whose local header lands past the
// 4 GiB mark needs a Zip64 offset extra in its central-directory record, so
// front-loading the entries that fit legacy widths keeps those extras off
// as many records as possible.
type SortStrategy int

const (
	SortDefault         SortStrategy = iota
	SortLargeFilesLast               // Zip64-sized entries after everything else
	SortLargeFilesFirst              // Zip64-sized entries before everything else
	SortSizeAscending                // Smallest first
	SortSizeDescending               // Largest first
	SortZIP64Optimized               // Legacy-width entries first, size ascending within each class
	SortAlphabetical                 // A-Z by path
)

// zip64SizeThreshold is the uncompressed size at which an entry's own size
// fields overflow their 32-bit widths and force Zip64 extras.
const zip64SizeThreshold = int64(1) << 32

// SortPending returns a reordered copy of entries according to strategy.
// Sorting is stable, so entries the strategy considers equal keep their
// discovery order; the input slice is never modified.
func SortPending(entries []PendingEntry, strategy SortStrategy) []PendingEntry {
	sorted := make([]PendingEntry, len(entries))
	copy(sorted, entries)

	less := pendingLess(strategy)
	if less != nil && len(sorted) > 1 {
		sort.SliceStable(sorted, func(i, j int) bool {
			return less(sorted[i], sorted[j])
		})
	}
	return sorted
}

// pendingLess maps a strategy to its ordering. A nil ordering means the
// strategy imposes none and discovery order stands.
func pendingLess(strategy SortStrategy) func(a, b PendingEntry) bool {
	switch strategy {
	case SortLargeFilesLast:
		return func(a, b PendingEntry) bool {
			return !needsZip64Size(a) && needsZip64Size(b)
		}

	case SortLargeFilesFirst:
		return func(a, b PendingEntry) bool {
			return needsZip64Size(a) && !needsZip64Size(b)
		}

	case SortSizeAscending:
		return func(a, b PendingEntry) bool {
			return a.UncompressedSize < b.UncompressedSize
		}

	case SortSizeDescending:
		return func(a, b PendingEntry) bool {
			return a.UncompressedSize > b.UncompressedSize
		}

	case SortZIP64Optimized:
		// Two-level ordering: all legacy-width entries ahead of Zip64-sized
		// ones, and smallest-first inside each class. The small entries
		// packed at the front maximize how many local headers stay below
		// the 4 GiB offset boundary before the inevitable giants push
		// everything after them into Zip64 territory.
		return func(a, b PendingEntry) bool {
			if az, bz := needsZip64Size(a), needsZip64Size(b); az != bz {
				return bz
			}
			return a.UncompressedSize < b.UncompressedSize
		}

	case SortAlphabetical:
		return func(a, b PendingEntry) bool {
			return a.Path < b.Path
		}

	default:
		return nil
	}
}

// needsZip64Size reports whether the entry's size alone forces Zip64
// extras. A negative size means the walker could not determine it; such
// entries are grouped with the Zip64 class since they must be assumed
// oversized.
func needsZip64Size(e PendingEntry) bool {
	return e.UncompressedSize >= zip64SizeThreshold || e.UncompressedSize < 0
}
