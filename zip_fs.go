// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gozip

import (
	"io"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"
)

var (
	_ fs.FS        = (*ReadFS)(nil)
	_ fs.StatFS    = (*ReadFS)(nil)
	_ fs.ReadDirFS = (*ReadFS)(nil)
)

// ReadFS adapts a FileReader's parsed entries into a read-only fs.FS, so an
// archive produced by a Streamer (and later read back) can be walked with
// fs.WalkDir or opened with fs.ReadFile like any other filesystem.
type ReadFS struct {
	fr *FileReader
}

// NewReadFS wraps fr as an fs.FS.
func NewReadFS(fr *FileReader) *ReadFS {
	return &ReadFS{fr: fr}
}

// Open implements fs.FS.
func (zfs *ReadFS) Open(name string) (fs.File, error) {
	entry, err := zfs.getFileEntry(name)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}

	if entry.IsDir {
		return &fsDir{entry: entry, zfs: zfs}, nil
	}

	f, err := newFsFile(zfs.fr, entry)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}
	return f, nil
}

// Stat implements fs.StatFS.
func (zfs *ReadFS) Stat(name string) (fs.FileInfo, error) {
	entry, err := zfs.getFileEntry(name)
	if err != nil {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: err}
	}
	return fileInfoAdapter{entry}, nil
}

// ReadDir implements fs.ReadDirFS.
func (zfs *ReadFS) ReadDir(name string) ([]fs.DirEntry, error) {
	file, err := zfs.Open(name)
	if err != nil {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: err}
	}
	defer file.Close()

	dir, ok := file.(fs.ReadDirFile)
	if !ok {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrInvalid}
	}
	return dir.ReadDir(-1)
}

// getFileEntry resolves name to a FileEntry, synthesizing a directory entry
// for the archive root and for any path that is only implicitly present as
// an ancestor of some file (an archive need not carry explicit directory
// entries for every path component).
func (zfs *ReadFS) getFileEntry(name string) (*FileEntry, error) {
	if !fs.ValidPath(name) {
		return nil, fs.ErrInvalid
	}

	if name == "." {
		return &FileEntry{Name: ".", IsDir: true, Mode: fs.ModeDir | 0o755, ModTime: time.Now()}, nil
	}

	for _, e := range zfs.fr.Entries() {
		if strings.TrimSuffix(e.Name, "/") == name {
			return e, nil
		}
	}

	if zfs.hasImplicitDir(name) {
		return &FileEntry{Name: name, IsDir: true, Mode: fs.ModeDir | 0o755, ModTime: time.Now()}, nil
	}

	return nil, fs.ErrNotExist
}

func (zfs *ReadFS) hasImplicitDir(name string) bool {
	prefix := name + "/"
	for _, e := range zfs.fr.Entries() {
		if strings.HasPrefix(e.Name, prefix) {
			return true
		}
	}
	return false
}

// fsFile wraps a regular archive entry to satisfy fs.File.
type fsFile struct {
	entry *FileEntry
	rc    io.ReadCloser
}

func newFsFile(fr *FileReader, e *FileEntry) (*fsFile, error) {
	rc, err := fr.Open(e)
	if err != nil {
		return nil, err
	}
	return &fsFile{entry: e, rc: rc}, nil
}

func (f *fsFile) Stat() (fs.FileInfo, error) { return fileInfoAdapter{f.entry}, nil }
func (f *fsFile) Read(b []byte) (int, error) { return f.rc.Read(b) }
func (f *fsFile) Close() error               { return f.rc.Close() }

// fsDir wraps a directory entry to satisfy fs.ReadDirFile.
type fsDir struct {
	entry *FileEntry
	zfs   *ReadFS
}

func (d *fsDir) Stat() (fs.FileInfo, error) { return fileInfoAdapter{d.entry}, nil }
func (d *fsDir) Close() error               { return nil }
func (d *fsDir) Read(b []byte) (int, error) {
	return 0, &fs.PathError{Op: "read", Path: d.entry.Name, Err: fs.ErrInvalid}
}

// ReadDir scans the archive's entry list to find the current directory's
// immediate children, since nothing in the archive itself indexes entries
// by parent the way a real filesystem directory would.
func (d *fsDir) ReadDir(n int) ([]fs.DirEntry, error) {
	dirPath := strings.TrimSuffix(d.entry.Name, "/")
	if dirPath == "." {
		dirPath = ""
	}
	if dirPath != "" {
		dirPath += "/"
	}

	seen := make(map[string]bool)
	var entries []fs.DirEntry

	for _, e := range d.zfs.fr.Entries() {
		if !strings.HasPrefix(e.Name, dirPath) {
			continue
		}

		rel := strings.TrimPrefix(e.Name, dirPath)
		if rel == "" {
			continue
		}

		parts := strings.SplitN(rel, "/", 2)
		childName := parts[0]
		if seen[childName] {
			continue
		}
		seen[childName] = true

		isDir := len(parts) > 1 || e.IsDir
		entries = append(entries, fsDirEntryAdapter{
			name:  childName,
			isDir: isDir,
			info:  fileInfoAdapter{e},
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	if n <= 0 {
		return entries, nil
	}
	if len(entries) <= n {
		return entries, io.EOF
	}
	return entries[:n], nil
}

type fileInfoAdapter struct{ e *FileEntry }

func (i fileInfoAdapter) Name() string       { return path.Base(strings.TrimSuffix(i.e.Name, "/")) }
func (i fileInfoAdapter) Size() int64        { return int64(i.e.UncompressedSize) }
func (i fileInfoAdapter) Mode() fs.FileMode  { return i.e.Mode }
func (i fileInfoAdapter) ModTime() time.Time { return i.e.ModTime }
func (i fileInfoAdapter) IsDir() bool        { return i.e.IsDir }
func (i fileInfoAdapter) Sys() interface{}   { return nil }

type fsDirEntryAdapter struct {
	name  string
	isDir bool
	info  fs.FileInfo
}

func (e fsDirEntryAdapter) Name() string               { return e.name }
func (e fsDirEntryAdapter) IsDir() bool                { return e.isDir }
func (e fsDirEntryAdapter) Type() fs.FileMode          { return e.info.Mode().Type() }
func (e fsDirEntryAdapter) Info() (fs.FileInfo, error) { return e.info, nil }
