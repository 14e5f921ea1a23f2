// Copyright (c) 2025, the tinytorrent panel contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package jobs

// Record is one torrent tracked by the engine, as reported by the job list
// RPC. The panel never mutates records; it only reads polled snapshots.
type Record struct {
	ID          string `json:"id"`
	ContentID   string `json:"contentId"`
	DisplayName string `json:"displayName"`
}
