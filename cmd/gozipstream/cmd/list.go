// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"

	"github.com/lemon4ksan/gozip"
)

var listCmd = &cobra.Command{
	Use:   "list <archive>",
	Short: "List the entries of an existing ZIP archive",
	Long: `List parses an archive's central directory and prints every entry with its
storage mode, sizes and modification time. Archives whose central directory
is missing or truncated are recovered entry-by-entry from their local file
headers instead, as far as that is possible.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := homedir.Expand(args[0])
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return err
		}

		fr, err := gozip.OpenFileReader(cmd.Context(), f, info.Size())
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "MODE\tSTORAGE\tSIZE\tPACKED\tMODIFIED\tNAME")
		for _, e := range fr.Entries() {
			storage := "stored"
			if e.CompressionMethod == gozip.Deflated {
				storage = "deflated"
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\n",
				e.Mode, storage, e.UncompressedSize, e.CompressedSize,
				e.ModTime.Format("2006-01-02 15:04:05"), e.Name)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
