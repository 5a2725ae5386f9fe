// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gozip

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func pendingPaths(entries []PendingEntry) []string {
	paths := make([]string, len(entries))
	for i, e := range entries {
		paths[i] = e.Path
	}
	return paths
}

func TestSortPendingStrategies(t *testing.T) {
	t.Parallel()

	const gb4 = int64(1) << 32
	input := []PendingEntry{
		{Path: "huge-1", UncompressedSize: gb4 + 5},
		{Path: "tiny", UncompressedSize: 12},
		{Path: "huge-2", UncompressedSize: gb4},
		{Path: "medium", UncompressedSize: 50 * 1024 * 1024},
	}

	tests := []struct {
		name     string
		strategy SortStrategy
		want     []string
	}{
		{"default keeps input order", SortDefault, []string{"huge-1", "tiny", "huge-2", "medium"}},
		{"large last", SortLargeFilesLast, []string{"tiny", "medium", "huge-1", "huge-2"}},
		{"large first", SortLargeFilesFirst, []string{"huge-1", "huge-2", "tiny", "medium"}},
		{"size ascending", SortSizeAscending, []string{"tiny", "medium", "huge-2", "huge-1"}},
		{"size descending", SortSizeDescending, []string{"huge-1", "huge-2", "medium", "tiny"}},
		{"zip64 optimized", SortZIP64Optimized, []string{"tiny", "medium", "huge-2", "huge-1"}},
		{"alphabetical", SortAlphabetical, []string{"huge-1", "huge-2", "medium", "tiny"}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := SortPending(input, tt.strategy)
			assert.Equal(t, tt.want, pendingPaths(got))
			// The input must never be reordered in place.
			assert.Equal(t, "huge-1", input[0].Path)
		})
	}
}

func TestSortPendingEmptyAndSingle(t *testing.T) {
	t.Parallel()

	assert.Empty(t, SortPending(nil, SortSizeAscending))

	one := []PendingEntry{{Path: "only"}}
	assert.Equal(t, []string{"only"}, pendingPaths(SortPending(one, SortAlphabetical)))
}

func TestSortPendingStability(t *testing.T) {
	t.Parallel()

	input := []PendingEntry{
		{Path: "first", UncompressedSize: 10},
		{Path: "second", UncompressedSize: 10},
		{Path: "third", UncompressedSize: 10},
	}
	got := SortPending(input, SortSizeAscending)
	assert.Equal(t, []string{"first", "second", "third"}, pendingPaths(got), "equal sizes keep their relative order")
}
