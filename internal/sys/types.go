// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sys

// HostSystem represents the host system on which the ZIP file was created,
// as written into the high byte of the version-made-by field.
type HostSystem uint8

// Supported host systems according to the ZIP specification. Only
// HostSystemUNIX is ever produced by this module; the rest document the
// full byte range a reader may encounter in third-party archives.
const (
	HostSystemFAT    HostSystem = 0  // MS-DOS and OS/2 (FAT / VFAT / FAT32 file systems)
	HostSystemUNIX   HostSystem = 3  // UNIX
	HostSystemNTFS   HostSystem = 10 // Windows NTFS
	HostSystemVFAT   HostSystem = 14 // VFAT
	HostSystemDarwin HostSystem = 19 // OS X (Darwin)
)

// Unix file-type bits for the high word of external file attributes.
const (
	SIFREG = 0o10 // Regular file, as packed into external attrs (file_type << 12)
	SIFDIR = 0o04 // Directory, as packed into external attrs (file_type << 12)
)
