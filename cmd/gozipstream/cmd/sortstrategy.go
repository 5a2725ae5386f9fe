// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cmd

import (
	"fmt"

	"github.com/lemon4ksan/gozip"
)

func parseSortStrategy(name string) (gozip.SortStrategy, error) {
	switch name {
	case "", "default":
		return gozip.SortDefault, nil
	case "large-last":
		return gozip.SortLargeFilesLast, nil
	case "large-first":
		return gozip.SortLargeFilesFirst, nil
	case "size-asc":
		return gozip.SortSizeAscending, nil
	case "size-desc":
		return gozip.SortSizeDescending, nil
	case "zip64-optimized":
		return gozip.SortZIP64Optimized, nil
	case "alphabetical":
		return gozip.SortAlphabetical, nil
	default:
		return gozip.SortDefault, fmt.Errorf("unknown sort strategy %q", name)
	}
}
