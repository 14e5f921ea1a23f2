// Copyright (c) 2025, the tinytorrent panel contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package engine

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedRequest struct {
	Method    string         `json:"method"`
	Arguments map[string]any `json:"arguments"`
}

func newEngineStub(t *testing.T, respond func(req capturedRequest) (int, string)) (*Client, *[]capturedRequest) {
	t.Helper()

	var mu sync.Mutex
	var captured []capturedRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/rpc", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req capturedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		mu.Lock()
		captured = append(captured, req)
		mu.Unlock()

		status, body := respond(req)
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	return NewClient(srv.URL, 5*time.Second), &captured
}

func TestDispatchApplied(t *testing.T) {
	t.Parallel()

	client, captured := newEngineStub(t, func(capturedRequest) (int, string) {
		return http.StatusOK, `{"result":"applied"}`
	})

	result, err := client.Dispatch(context.Background(), AddMagnetIntent{
		URI:         "magnet:?xt=urn:btih:aa11",
		DownloadDir: "/downloads",
		Paused:      true,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusApplied, result.Status)

	require.Len(t, *captured, 1)
	req := (*captured)[0]
	assert.Equal(t, "torrent-add", req.Method)
	assert.Equal(t, "magnet:?xt=urn:btih:aa11", req.Arguments["uri"])
	assert.Equal(t, "/downloads", req.Arguments["download-dir"])
	assert.Equal(t, true, req.Arguments["paused"])
}

func TestDispatchMetainfoEncoding(t *testing.T) {
	t.Parallel()

	client, captured := newEngineStub(t, func(capturedRequest) (int, string) {
		return http.StatusOK, `{"result":"applied"}`
	})

	metainfo := []byte("d8:announce0:e")
	_, err := client.Dispatch(context.Background(), AddMetainfoIntent{
		Metainfo:    metainfo,
		DownloadDir: "/downloads",
	})
	require.NoError(t, err)

	require.Len(t, *captured, 1)
	assert.Equal(t, base64.StdEncoding.EncodeToString(metainfo), (*captured)[0].Arguments["metainfo"])
}

func TestDispatchUnsupported(t *testing.T) {
	t.Parallel()

	client, _ := newEngineStub(t, func(capturedRequest) (int, string) {
		return http.StatusOK, `{"result":"unsupported"}`
	})

	result, err := client.Dispatch(context.Background(), FinalizeIntent{JobID: "7"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupported))
	assert.Equal(t, StatusUnsupported, result.Status)
}

func TestDispatchRejected(t *testing.T) {
	t.Parallel()

	client, _ := newEngineStub(t, func(capturedRequest) (int, string) {
		return http.StatusOK, `{"result":"duplicate torrent"}`
	})

	_, err := client.Dispatch(context.Background(), RemoveIntent{JobID: "7", DeleteData: true})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRejected))
	assert.Contains(t, err.Error(), "duplicate torrent")
}

func TestDispatchHTTPError(t *testing.T) {
	t.Parallel()

	client, _ := newEngineStub(t, func(capturedRequest) (int, string) {
		return http.StatusBadGateway, ""
	})

	_, err := client.Dispatch(context.Background(), FinalizeIntent{JobID: "7"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestJobList(t *testing.T) {
	t.Parallel()

	client, captured := newEngineStub(t, func(capturedRequest) (int, string) {
		return http.StatusOK, `{"result":"applied","arguments":{"jobs":[{"id":"7","contentId":"aa11","displayName":"ubuntu.iso"}]}}`
	})

	records, err := client.JobList(context.Background())
	require.NoError(t, err)

	require.Len(t, records, 1)
	assert.Equal(t, "7", records[0].ID)
	assert.Equal(t, "aa11", records[0].ContentID)
	assert.Equal(t, "ubuntu.iso", records[0].DisplayName)

	require.Len(t, *captured, 1)
	assert.Equal(t, "torrent-get", (*captured)[0].Method)
}
