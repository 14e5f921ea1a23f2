// Copyright (c) 2025, the tinytorrent panel contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tinytorrent/panel/internal/jobs"
)

var (
	ErrUnsupported = errors.New("engine does not support this intent")
	ErrRejected    = errors.New("engine rejected the intent")
)

// Status is the engine's answer to a dispatched intent.
type Status string

const (
	StatusApplied     Status = "applied"
	StatusUnsupported Status = "unsupported"
	StatusRejected    Status = "rejected"
)

// Result carries the decoded response of one dispatch.
type Result struct {
	Status    Status
	Arguments json.RawMessage
}

type envelope struct {
	Method    string         `json:"method"`
	Arguments map[string]any `json:"arguments"`
}

type response struct {
	Result    string          `json:"result"`
	Arguments json.RawMessage `json:"arguments"`
}

// Client speaks the engine's JSON request/response control protocol. One
// request maps to one engine operation; the client never retries command
// intents, since a duplicated torrent-add cannot be correlated or undone.
type Client struct {
	rpcURL     string
	httpClient *http.Client
	logger     zerolog.Logger
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		rpcURL: baseURL + "/rpc",
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: log.Logger.With().Str("module", "engine").Logger(),
	}
}

// Dispatch sends one intent and decodes the engine's status. A non-applied
// status is returned alongside the matching sentinel error so callers can
// treat it as a plain failure.
func (c *Client) Dispatch(ctx context.Context, intent Intent) (*Result, error) {
	body, err := json.Marshal(envelope{Method: intent.method(), Arguments: intent.arguments()})
	if err != nil {
		return nil, errors.Wrap(err, "encode intent")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	c.logger.Debug().Str("method", intent.method()).Msg("Dispatching intent")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "dispatch %s", intent.method())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("dispatch %s: engine returned HTTP %d", intent.method(), resp.StatusCode)
	}

	var decoded response
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, errors.Wrapf(err, "decode %s response", intent.method())
	}

	result := &Result{Status: Status(decoded.Result), Arguments: decoded.Arguments}

	switch result.Status {
	case StatusApplied:
		return result, nil
	case StatusUnsupported:
		return result, errors.Wrap(ErrUnsupported, intent.method())
	default:
		return result, errors.Wrapf(ErrRejected, "%s: %s", intent.method(), decoded.Result)
	}
}

// JobList fetches the current job list. Implements jobs.Source.
func (c *Client) JobList(ctx context.Context) ([]jobs.Record, error) {
	result, err := c.Dispatch(ctx, jobListIntent{})
	if err != nil {
		return nil, err
	}

	var payload struct {
		Jobs []jobs.Record `json:"jobs"`
	}
	if err := json.Unmarshal(result.Arguments, &payload); err != nil {
		return nil, errors.Wrap(err, "decode job list")
	}
	return payload.Jobs, nil
}
