// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gozip

import (
	"fmt"
	"path"
	"strings"
)

// PathSet tracks every directory and file path added to an archive so far,
// enforcing that no file path is added twice, that a file never claims the
// same path as an existing directory (or vice versa), and that a directory
// is never implicitly shadowed by a file added under one of its ancestors.
// It is not safe for concurrent use; the Streamer that owns one is itself
// not safe for concurrent use and keeps at most one entry open (see
// streamer.go).
type PathSet struct {
	knownDirectories map[string]struct{}
	knownFiles       map[string]struct{}
	uniquify         bool
}

// NewPathSet returns an empty PathSet. When uniquify is true, AddFilePath
// resolves a Conflict by appending " (1)", " (2)", ... to the basename
// instead of returning an error.
func NewPathSet(uniquify bool) *PathSet {
	return &PathSet{
		knownDirectories: make(map[string]struct{}),
		knownFiles:       make(map[string]struct{}),
		uniquify:         uniquify,
	}
}

// sanitizePath normalizes a caller-supplied archive path: backslashes become
// underscores (ZIP paths are always '/'-separated; a literal backslash in a
// name is far more likely to be a Windows path typo than an intentional
// filename character), and the path is rebuilt from its non-empty
// '/'-separated components, collapsing leading, trailing and duplicate
// separators so every path is a canonical relative key.
func sanitizePath(p string) string {
	p = strings.ReplaceAll(p, "\\", "_")
	if !strings.Contains(p, "/") {
		return p
	}
	components := strings.Split(p, "/")
	kept := components[:0]
	for _, c := range components {
		if c != "" {
			kept = append(kept, c)
		}
	}
	return strings.Join(kept, "/")
}

// ancestors returns every proper ancestor directory of p, ordered from the
// root down, e.g. "a/b/c.txt" -> ["a", "a/b"].
func ancestors(p string) []string {
	dir := path.Dir(p)
	if dir == "." || dir == "/" {
		return nil
	}
	parent := ancestors(dir)
	return append(parent, dir)
}

// Contains reports whether p has already been added as a file or directory.
func (s *PathSet) Contains(p string) bool {
	p = sanitizePath(p)
	_, isDir := s.knownDirectories[p]
	_, isFile := s.knownFiles[p]
	return isDir || isFile
}

// AddDirectoryPath registers p, and every ancestor of p, as a directory.
// It fails with a *PathConflictError of kind FileClobbersDirectory if any
// segment of p was already added as a file.
func (s *PathSet) AddDirectoryPath(p string) error {
	p = strings.TrimSuffix(sanitizePath(p), "/")
	if p == "" {
		return nil
	}

	// ancestors(p+"/x") yields every path segment down to and including p
	// itself (the sentinel "x" component is never part of the result).
	segments := ancestors(p + "/x")
	for _, dir := range segments {
		if _, isFile := s.knownFiles[dir]; isFile {
			return &PathConflictError{Kind: FileClobbersDirectory, Path: dir}
		}
	}
	for _, dir := range segments {
		s.knownDirectories[dir] = struct{}{}
	}
	return nil
}

// AddFilePath registers p as a file, implicitly registering every ancestor
// directory of p as a directory. It fails with a *PathConflictError if p
// collides with an existing directory (DirectoryClobbersFile), an ancestor
// of p collides with an existing file (Conflict), or p was already added as
// a file (Conflict) — unless the PathSet was constructed with uniquify, in
// which case a duplicate file path is resolved by renaming.
func (s *PathSet) AddFilePath(p string) (string, error) {
	p = sanitizePath(p)

	for _, dir := range ancestors(p) {
		if _, isFile := s.knownFiles[dir]; isFile {
			return "", &PathConflictError{Kind: Conflict, Path: dir}
		}
	}

	if _, isDir := s.knownDirectories[p]; isDir {
		return "", &PathConflictError{Kind: DirectoryClobbersFile, Path: p}
	}

	if _, exists := s.knownFiles[p]; exists {
		if !s.uniquify {
			return "", &PathConflictError{Kind: Conflict, Path: p}
		}
		p = s.uniquifyPath(p)
	}

	for _, dir := range ancestors(p) {
		s.knownDirectories[dir] = struct{}{}
	}
	s.knownFiles[p] = struct{}{}
	return p, nil
}

// uniquifyPath finds the first "name (n)"-style variant of p not already
// present, preserving p's extension.
func (s *PathSet) uniquifyPath(p string) string {
	dir, base := path.Split(p)
	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s%s (%d)%s", dir, stem, n, ext)
		if _, exists := s.knownFiles[candidate]; !exists {
			if _, isDir := s.knownDirectories[candidate]; !isDir {
				return candidate
			}
		}
	}
}

// Clear resets the PathSet to empty, as if newly constructed.
func (s *PathSet) Clear() {
	s.knownDirectories = make(map[string]struct{})
	s.knownFiles = make(map[string]struct{})
}
