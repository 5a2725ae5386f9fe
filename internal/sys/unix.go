// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sys

// GetHostSystem returns the HostSystem value written into the version-made-by
// field of a central-directory entry. This module only ever produces archives
// on UNIX-family hosts, so the OS byte is always HostSystemUNIX.
func GetHostSystem() HostSystem {
	return HostSystemUNIX
}
