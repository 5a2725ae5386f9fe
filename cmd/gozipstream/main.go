// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command gozipstream drives the gozip library from the command line: it
// streams a directory into a ZIP archive, predicts an archive's final size
// without writing it, and lists the entries of an existing archive.
package main

import "github.com/lemon4ksan/gozip/cmd/gozipstream/cmd"

func main() {
	cmd.Execute()
}
