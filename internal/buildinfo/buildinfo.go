// Copyright (c) 2025, the tinytorrent panel contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package buildinfo

// Set at build time via ldflags.
var (
	Version = "dev"
	Commit  = ""
	Date    = ""
)
