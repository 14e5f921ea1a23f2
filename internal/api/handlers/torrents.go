// Copyright (c) 2025, the tinytorrent panel contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/tinytorrent/panel/internal/domain"
	"github.com/tinytorrent/panel/internal/engine"
	"github.com/tinytorrent/panel/internal/submission"
)

const addTorrentMaxFormMemory int64 = 64 << 20 // 64 MiB cap for metadata uploads

// submitter is the slice of the orchestrator the handler needs (used for
// testing).
type submitter interface {
	Begin(p submission.Payload) submission.Outcome
	Retry() submission.Outcome
	RefreshAndResolve(ctx context.Context) (submission.Outcome, bool)
}

// dispatcher is the engine call surface (used for testing).
type dispatcher interface {
	Dispatch(ctx context.Context, intent engine.Intent) (*engine.Result, error)
}

type TorrentsHandler struct {
	orchestrator submitter
	dispatcher   dispatcher
	cfg          *domain.Config
}

func NewTorrentsHandler(orchestrator submitter, dispatcher dispatcher, cfg *domain.Config) *TorrentsHandler {
	return &TorrentsHandler{
		orchestrator: orchestrator,
		dispatcher:   dispatcher,
		cfg:          cfg,
	}
}

// outcomeResponse is the uniform body for every add-flow endpoint.
type outcomeResponse struct {
	Outcome submission.Outcome `json:"outcome"`
	Reason  string             `json:"reason,omitempty"`
}

func respondOutcome(w http.ResponseWriter, outcome submission.Outcome) {
	RespondJSON(w, outcomeStatus(outcome), outcomeResponse{Outcome: outcome})
}

func respondInvalid(w http.ResponseWriter, reason submission.InvalidReason) {
	RespondJSON(w, http.StatusBadRequest, outcomeResponse{
		Outcome: submission.OutcomeInvalidInput,
		Reason:  string(reason),
	})
}

func respondFailed(w http.ResponseWriter, reason submission.FailureKind) {
	RespondJSON(w, http.StatusBadRequest, outcomeResponse{
		Outcome: submission.OutcomeFailed,
		Reason:  string(reason),
	})
}

func outcomeStatus(outcome submission.Outcome) int {
	switch outcome {
	case submission.OutcomeBlockedInFlight, submission.OutcomeBlockedPendingDelete:
		return http.StatusConflict
	default:
		return http.StatusOK
	}
}

// AddTorrent admits a new submission from either a magnet-style descriptor
// or an uploaded metadata file. The call returns as soon as the submission
// is queued; settlement is reported through the notification channel.
func (h *TorrentsHandler) AddTorrent(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(addTorrentMaxFormMemory); err != nil {
		if errors.Is(err, multipart.ErrMessageTooLarge) {
			RespondError(w, http.StatusRequestEntityTooLarge, "Upload too large")
			return
		}
		RespondError(w, http.StatusBadRequest, "Failed to parse form data")
		return
	}

	downloadDir := r.FormValue("downloadDir")
	if downloadDir == "" {
		downloadDir = h.cfg.DefaultDownloadDir
	}
	if strings.TrimSpace(downloadDir) == "" {
		respondInvalid(w, submission.InvalidDestination)
		return
	}

	paused := !h.cfg.StartAddedByDefault
	if v := r.FormValue("paused"); v != "" {
		paused = v == "true"
	}

	if metainfo, filename, ok := h.readMetadataFile(w, r); ok {
		if metainfo == nil {
			// readMetadataFile already responded
			return
		}
		h.beginFileAdd(w, r, metainfo, filename, downloadDir, paused)
		return
	}

	h.beginMagnetAdd(w, r, downloadDir, paused)
}

// readMetadataFile pulls the first uploaded "torrent" file out of the form.
// The bool reports whether a file part was present at all; a nil byte slice
// with ok=true means the read failed and a response was already written.
func (h *TorrentsHandler) readMetadataFile(w http.ResponseWriter, r *http.Request) ([]byte, string, bool) {
	if r.MultipartForm == nil || r.MultipartForm.File == nil {
		return nil, "", false
	}

	fileHeaders := r.MultipartForm.File["torrent"]
	if len(fileHeaders) == 0 {
		return nil, "", false
	}

	fileHeader := fileHeaders[0]
	file, err := fileHeader.Open()
	if err != nil {
		log.Warn().Err(err).Str("filename", fileHeader.Filename).Msg("Failed to open metadata file")
		respondFailed(w, submission.FailureMetadataRead)
		return nil, "", true
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		log.Warn().Err(err).Str("filename", fileHeader.Filename).Msg("Failed to read metadata file")
		respondFailed(w, submission.FailureMetadataRead)
		return nil, "", true
	}

	return content, fileHeader.Filename, true
}

func (h *TorrentsHandler) beginFileAdd(w http.ResponseWriter, r *http.Request, metainfo []byte, filename, downloadDir string, paused bool) {
	label := filename
	if label == "" {
		label = "torrent"
	}

	payload := submission.Payload{
		Label:       label,
		SourceName:  r.FormValue("name"),
		SuccessKind: submission.SuccessAdded,
		FailureKind: submission.FailureFileAdd,
	}
	if hash := r.FormValue("hash"); hash != "" {
		if normalized, ok := submission.Normalize(hash); ok {
			payload.TargetContentID = normalized
		}
	}

	intent := engine.AddMetainfoIntent{
		Metainfo:    metainfo,
		DownloadDir: downloadDir,
		Paused:      paused,
	}
	payload.Execute = func(ctx context.Context) error {
		_, err := h.dispatcher.Dispatch(ctx, intent)
		return err
	}

	respondOutcome(w, h.orchestrator.Begin(payload))
}

func (h *TorrentsHandler) beginMagnetAdd(w http.ResponseWriter, r *http.Request, downloadDir string, paused bool) {
	uri := strings.TrimSpace(r.FormValue("urls"))
	if i := strings.IndexAny(uri, ",\n"); i >= 0 {
		uri = strings.TrimSpace(uri[:i])
	}
	if !strings.HasPrefix(strings.ToLower(uri), "magnet:") {
		respondInvalid(w, submission.InvalidDescriptor)
		return
	}

	label := r.FormValue("name")
	if label == "" {
		label = "magnet"
	}

	payload := submission.Payload{
		Label:       label,
		SourceName:  r.FormValue("name"),
		SuccessKind: submission.SuccessAdded,
		FailureKind: submission.FailureDescriptorAdd,
	}
	if hash := r.FormValue("hash"); hash != "" {
		if normalized, ok := submission.Normalize(hash); ok {
			payload.TargetContentID = normalized
		}
	}

	intent := engine.AddMagnetIntent{
		URI:         uri,
		DownloadDir: downloadDir,
		Paused:      paused,
	}
	payload.Execute = func(ctx context.Context) error {
		_, err := h.dispatcher.Dispatch(ctx, intent)
		return err
	}

	respondOutcome(w, h.orchestrator.Begin(payload))
}

// StageTorrent adds an uploaded metadata file paused, so the confirm dialog
// can show it before the user finalizes. The staged add is a regular
// submission; the endpoint answers "opened" so the dialog opens while it
// runs.
func (h *TorrentsHandler) StageTorrent(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(addTorrentMaxFormMemory); err != nil {
		RespondError(w, http.StatusBadRequest, "Failed to parse form data")
		return
	}

	downloadDir := r.FormValue("downloadDir")
	if downloadDir == "" {
		downloadDir = h.cfg.DefaultDownloadDir
	}
	if strings.TrimSpace(downloadDir) == "" {
		respondInvalid(w, submission.InvalidDestination)
		return
	}

	metainfo, filename, ok := h.readMetadataFile(w, r)
	if !ok {
		respondInvalid(w, submission.InvalidDescriptor)
		return
	}
	if metainfo == nil {
		return
	}

	label := filename
	if label == "" {
		label = "torrent"
	}

	payload := submission.Payload{
		Label:       label,
		SourceName:  r.FormValue("name"),
		SuccessKind: submission.SuccessAdded,
		FailureKind: submission.FailureFileAdd,
	}
	if hash := r.FormValue("hash"); hash != "" {
		if normalized, ok := submission.Normalize(hash); ok {
			payload.TargetContentID = normalized
		}
	}

	intent := engine.AddMetainfoIntent{
		Metainfo:    metainfo,
		DownloadDir: downloadDir,
		Paused:      true,
	}
	payload.Execute = func(ctx context.Context) error {
		_, err := h.dispatcher.Dispatch(ctx, intent)
		return err
	}

	outcome := h.orchestrator.Begin(payload)
	if outcome == submission.OutcomeQueued {
		outcome = submission.OutcomeOpened
	}
	respondOutcome(w, outcome)
}

// FinalizeTorrent starts a previously staged job.
func (h *TorrentsHandler) FinalizeTorrent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		JobID string `json:"jobId"`
		Name  string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if strings.TrimSpace(req.JobID) == "" {
		respondInvalid(w, submission.MissingTarget)
		return
	}

	label := req.Name
	if label == "" {
		label = req.JobID
	}

	intent := engine.FinalizeIntent{JobID: req.JobID}
	payload := submission.Payload{
		Label:       label,
		SourceName:  req.Name,
		TargetJobID: req.JobID,
		SuccessKind: submission.SuccessFinalized,
		FailureKind: submission.FailureFinalize,
		Execute: func(ctx context.Context) error {
			_, err := h.dispatcher.Dispatch(ctx, intent)
			return err
		},
	}

	respondOutcome(w, h.orchestrator.Begin(payload))
}

// CancelStage acknowledges a dismissed confirm dialog. The protocol has no
// abort, so a staged add that is still running settles in the background;
// only the dialog state is dropped.
func (h *TorrentsHandler) CancelStage(w http.ResponseWriter, r *http.Request) {
	log.Debug().Msg("Stage dialog dismissed")
	respondOutcome(w, submission.OutcomeCancelled)
}

// RetrySubmission re-submits the last payload.
func (h *TorrentsHandler) RetrySubmission(w http.ResponseWriter, r *http.Request) {
	respondOutcome(w, h.orchestrator.Retry())
}

// RefreshSubmission manually reconciles an unknown-outcome submission
// against a freshly refreshed job list.
func (h *TorrentsHandler) RefreshSubmission(w http.ResponseWriter, r *http.Request) {
	outcome, ok := h.orchestrator.RefreshAndResolve(r.Context())
	if !ok {
		RespondError(w, http.StatusNotFound, "No submission awaiting reconciliation")
		return
	}
	respondOutcome(w, outcome)
}
