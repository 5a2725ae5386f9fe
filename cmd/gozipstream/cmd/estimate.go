// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lemon4ksan/gozip"
)

var estimateCmd = &cobra.Command{
	Use:   "estimate <directory>",
	Short: "Predict the exact archive size for a directory without writing it",
	Long: `Estimate walks a directory the way stream does, in the same --sort order,
but declares every file as a stored entry of known size through a discarding
sink instead of producing any bytes. The reported size is exact for an
archive built from those declarations (every header, extra field and
central-directory byte is accounted for by the same code that would write
them). Deflated sizes are not estimated: a deflated entry's size cannot be
known without actually compressing it. No data descriptors are counted,
while stream writes one after every file, so the output of stream --mode
stored for the same directory is 16 bytes larger per file below 4 GiB.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root := args[0]
		files, dirs, err := walkPending(root)
		if err != nil {
			return err
		}
		strategy, err := parseSortStrategy(viper.GetString("sort"))
		if err != nil {
			return err
		}
		files = gozip.SortPending(files, strategy)

		est := gozip.NewSizeEstimator(viper.GetBool("uniquify"))

		for _, dir := range dirs {
			info, err := os.Stat(filepath.Join(root, filepath.FromSlash(dir)))
			if err != nil {
				return err
			}
			if err := est.AddEmptyDirectory(dir, info.ModTime(), info.Mode().Perm()); err != nil {
				return err
			}
		}
		for _, pending := range files {
			info, err := os.Stat(filepath.Join(root, filepath.FromSlash(pending.Path)))
			if err != nil {
				return err
			}
			if err := est.AddStoredEntry(pending.Path, info.ModTime(), info.Mode().Perm(), 0, uint64(pending.UncompressedSize)); err != nil {
				return err
			}
		}

		size, err := est.Close(viper.GetString("comment"))
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), size)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(estimateCmd)
}
