// Copyright (c) 2025, the tinytorrent panel contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/tinytorrent/panel/internal/engine"
	"github.com/tinytorrent/panel/internal/jobs"
	"github.com/tinytorrent/panel/internal/submission"
)

// jobLister is the slice of the poller the handler needs (used for testing).
type jobLister interface {
	Records() []jobs.Record
	Refresh(ctx context.Context) error
}

type JobsHandler struct {
	poller     jobLister
	pending    *submission.PendingDeletes
	dispatcher dispatcher
}

func NewJobsHandler(poller jobLister, pending *submission.PendingDeletes, dispatcher dispatcher) *JobsHandler {
	return &JobsHandler{
		poller:     poller,
		pending:    pending,
		dispatcher: dispatcher,
	}
}

// ListJobs returns the last polled job list snapshot.
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, struct {
		Jobs []jobs.Record `json:"jobs"`
	}{Jobs: h.poller.Records()})
}

// RefreshJobs forces an out-of-band job list refresh and returns the result.
func (h *JobsHandler) RefreshJobs(w http.ResponseWriter, r *http.Request) {
	if err := h.poller.Refresh(r.Context()); err != nil {
		log.Error().Err(err).Msg("Manual job list refresh failed")
		RespondError(w, http.StatusBadGateway, "Failed to refresh job list")
		return
	}

	RespondJSON(w, http.StatusOK, struct {
		Jobs []jobs.Record `json:"jobs"`
	}{Jobs: h.poller.Records()})
}

// DeleteJob removes a job from the engine. The job's content identifier is
// marked pending-delete first, so an immediate re-add of the same content is
// blocked until the removal is observed complete in a later poll.
func (h *JobsHandler) DeleteJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if jobID == "" {
		RespondError(w, http.StatusBadRequest, "Job ID required")
		return
	}

	var contentID string
	for _, record := range h.poller.Records() {
		if record.ID == jobID {
			contentID = record.ContentID
			break
		}
	}
	if contentID == "" {
		RespondError(w, http.StatusNotFound, "Unknown job")
		return
	}

	h.pending.Mark(contentID)

	deleteData := r.URL.Query().Get("deleteData") == "true"
	if _, err := h.dispatcher.Dispatch(r.Context(), engine.RemoveIntent{JobID: jobID, DeleteData: deleteData}); err != nil {
		// The removal never started, so the job stays in the list and the
		// block would never self-prune.
		h.pending.Unmark(contentID)
		log.Error().Err(err).Str("jobID", jobID).Msg("Failed to remove job")
		RespondError(w, http.StatusBadGateway, "Failed to remove job")
		return
	}

	log.Info().Str("jobID", jobID).Str("contentID", contentID).Bool("deleteData", deleteData).Msg("Job removal dispatched")
	RespondJSON(w, http.StatusOK, map[string]string{"status": "removing"})
}
