// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gozip

import (
	"bytes"
	"context"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildReadFS(t *testing.T) *ReadFS {
	t.Helper()

	data := buildArchive(t, "",
		[2]string{"top.txt", "top level"},
		[2]string{"docs/guide.md", "guide body"},
		[2]string{"docs/api/index.md", "api body"},
	)
	fr, err := OpenFileReader(context.Background(), bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	return NewReadFS(fr)
}

func TestReadFSReadFile(t *testing.T) {
	t.Parallel()

	zfs := buildReadFS(t)

	body, err := fs.ReadFile(zfs, "docs/guide.md")
	require.NoError(t, err)
	assert.Equal(t, "guide body", string(body))

	_, err = fs.ReadFile(zfs, "docs/missing.md")
	require.Error(t, err)
}

func TestReadFSWalk(t *testing.T) {
	t.Parallel()

	zfs := buildReadFS(t)

	var visited []string
	err := fs.WalkDir(zfs, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		visited = append(visited, p)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{".", "docs", "docs/api", "docs/api/index.md", "docs/guide.md", "top.txt"}, visited)
}

func TestReadFSImplicitDirectories(t *testing.T) {
	t.Parallel()

	// "docs/api" exists only as an ancestor of a file entry, never as an
	// explicit directory entry in the archive.
	zfs := buildReadFS(t)

	info, err := fs.Stat(zfs, "docs/api")
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestReadFSReadDir(t *testing.T) {
	t.Parallel()

	zfs := buildReadFS(t)

	entries, err := zfs.ReadDir("docs")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "api", entries[0].Name())
	assert.True(t, entries[0].IsDir())
	assert.Equal(t, "guide.md", entries[1].Name())
	assert.False(t, entries[1].IsDir())
}

func TestReadFSInvalidPath(t *testing.T) {
	t.Parallel()

	zfs := buildReadFS(t)
	_, err := zfs.Open("../escape")
	require.Error(t, err)
}
