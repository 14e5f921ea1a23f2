// Copyright (c) 2025, the tinytorrent panel contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package engine

import "encoding/base64"

// Intent is one control-protocol request the panel can dispatch. The wire
// protocol is request/response only: there is no abort primitive and the
// add response carries no correlation identifier.
type Intent interface {
	method() string
	arguments() map[string]any
}

// AddMagnetIntent adds a torrent by magnet-style URI.
type AddMagnetIntent struct {
	URI         string
	DownloadDir string
	Paused      bool
}

func (AddMagnetIntent) method() string { return "torrent-add" }

func (i AddMagnetIntent) arguments() map[string]any {
	return map[string]any{
		"uri":          i.URI,
		"download-dir": i.DownloadDir,
		"paused":       i.Paused,
	}
}

// AddMetainfoIntent adds a torrent from uploaded metadata. The blob goes on
// the wire base64-encoded, matching the engine's torrent-add contract.
type AddMetainfoIntent struct {
	Metainfo    []byte
	DownloadDir string
	Paused      bool
}

func (AddMetainfoIntent) method() string { return "torrent-add" }

func (i AddMetainfoIntent) arguments() map[string]any {
	return map[string]any{
		"metainfo":     base64.StdEncoding.EncodeToString(i.Metainfo),
		"download-dir": i.DownloadDir,
		"paused":       i.Paused,
	}
}

// FinalizeIntent starts a previously staged job.
type FinalizeIntent struct {
	JobID string
}

func (FinalizeIntent) method() string { return "torrent-start" }

func (i FinalizeIntent) arguments() map[string]any {
	return map[string]any{"ids": []string{i.JobID}}
}

// RemoveIntent removes a job, optionally deleting its data.
type RemoveIntent struct {
	JobID      string
	DeleteData bool
}

func (RemoveIntent) method() string { return "torrent-remove" }

func (i RemoveIntent) arguments() map[string]any {
	return map[string]any{
		"ids":         []string{i.JobID},
		"delete-data": i.DeleteData,
	}
}

type jobListIntent struct{}

func (jobListIntent) method() string { return "torrent-get" }

func (jobListIntent) arguments() map[string]any { return map[string]any{} }
