// Copyright (c) 2025, the tinytorrent panel contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

// Config is the unmarshaled application configuration.
type Config struct {
	Version string

	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
	BaseURL string `mapstructure:"baseUrl"`

	LogLevel      string `mapstructure:"logLevel"`
	LogPath       string `mapstructure:"logPath"`
	LogMaxSize    int    `mapstructure:"logMaxSize"`
	LogMaxBackups int    `mapstructure:"logMaxBackups"`

	// EngineURL is the base URL of the torrent engine's control endpoint.
	EngineURL string `mapstructure:"engineUrl"`

	// EngineTimeoutMs bounds each control-protocol request and drives the
	// submission deadline.
	EngineTimeoutMs int `mapstructure:"engineTimeoutMs"`

	// PollIntervalMs is the job-list refresh cadence.
	PollIntervalMs int `mapstructure:"pollIntervalMs"`

	// StartAddedByDefault starts new torrents immediately instead of adding
	// them paused.
	StartAddedByDefault bool `mapstructure:"startAddedByDefault"`

	// DefaultDownloadDir is used when an add request names no destination.
	DefaultDownloadDir string `mapstructure:"defaultDownloadDir"`

	MetricsEnabled bool `mapstructure:"metricsEnabled"`
}
