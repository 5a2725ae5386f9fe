// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cmd

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lemon4ksan/gozip"
)

var streamCmd = &cobra.Command{
	Use:   "stream <directory>",
	Short: "Stream a directory into a ZIP archive",
	Long: `Stream walks a directory and produces a ZIP archive one entry at a time,
writing to --out (or stdout) without ever seeking: the archive can go
straight to a pipe or socket. Entry storage is chosen per file by sampling
how well its leading bytes compress, unless --mode forces one.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := parseStorageMode(viper.GetString("mode"))
		if err != nil {
			return err
		}
		strategy, err := parseSortStrategy(viper.GetString("sort"))
		if err != nil {
			return err
		}

		dst, closeDst, err := openOutput(viper.GetString("out"))
		if err != nil {
			return err
		}
		defer closeDst()

		return streamDirectory(cmd, args[0], dst, mode, strategy)
	},
}

func init() {
	rootCmd.AddCommand(streamCmd)

	streamCmd.Flags().StringP("out", "o", "", "output file (default stdout)")
	streamCmd.Flags().String("mode", "auto", "entry storage: auto, stored, deflated")
	streamCmd.Flags().String("comment", "", "archive comment")

	_ = viper.BindPFlag("out", streamCmd.Flags().Lookup("out"))
	_ = viper.BindPFlag("mode", streamCmd.Flags().Lookup("mode"))
	_ = viper.BindPFlag("comment", streamCmd.Flags().Lookup("comment"))
}

func parseStorageMode(name string) (gozip.StorageMode, error) {
	switch name {
	case "", "auto":
		return gozip.Heuristic, nil
	case "stored":
		return gozip.Stored, nil
	case "deflated":
		return gozip.Deflated, nil
	default:
		return gozip.Heuristic, fmt.Errorf("unknown storage mode %q", name)
	}
}

// openOutput resolves an --out path (with ~ expansion) to a writable file,
// or stdout when the path is empty.
func openOutput(path string) (io.Writer, func(), error) {
	if path == "" {
		return os.Stdout, func() {}, nil
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Create(expanded)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}

// walkPending collects the files and directories under root as
// archive-relative pending entries, files with their sizes so a sort
// strategy can reorder them.
func walkPending(root string) (files []gozip.PendingEntry, dirs []string, err error) {
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			dirs = append(dirs, rel)
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		files = append(files, gozip.PendingEntry{Path: rel, UncompressedSize: info.Size()})
		return nil
	})
	return files, dirs, err
}

func streamDirectory(cmd *cobra.Command, root string, dst io.Writer, mode gozip.StorageMode, strategy gozip.SortStrategy) error {
	files, dirs, err := walkPending(root)
	if err != nil {
		return err
	}
	files = gozip.SortPending(files, strategy)

	streamer, err := gozip.NewStreamer(dst, viper.GetBool("uniquify"))
	if err != nil {
		return err
	}

	for _, dir := range dirs {
		info, err := os.Stat(filepath.Join(root, filepath.FromSlash(dir)))
		if err != nil {
			return err
		}
		if err := streamer.AddEmptyDirectory(dir, info.ModTime(), info.Mode().Perm()); err != nil {
			return err
		}
		logger.Debug("added directory", "path", dir)
	}

	for _, pending := range files {
		src := filepath.Join(root, filepath.FromSlash(pending.Path))
		info, err := os.Stat(src)
		if err != nil {
			return err
		}
		f, err := os.Open(src)
		if err != nil {
			return err
		}
		err = streamer.WriteFile(cmd.Context(), pending.Path, info.ModTime(), info.Mode().Perm(), mode, f)
		_ = f.Close()
		if err != nil {
			return fmt.Errorf("stream %s: %w", pending.Path, err)
		}
		logger.Debug("added file", "path", pending.Path, "size", pending.UncompressedSize)
	}

	if err := streamer.Close(viper.GetString("comment")); err != nil {
		return err
	}
	logger.Info("archive complete", "entries", len(files)+len(dirs), "bytes", streamer.Offset())
	return nil
}
