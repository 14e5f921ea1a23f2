// Copyright (c) 2025, the tinytorrent panel contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package submission

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tinytorrent/panel/internal/jobs"
	"github.com/tinytorrent/panel/internal/metrics"
)

const (
	// The deadline for the unknown-outcome transition is derived from the
	// configured engine request timeout, with a floor so a very short
	// timeout does not flap the warning toast.
	minSubmitTimeout        = 2 * time.Second
	submitTimeoutMultiplier = 2
)

// Payload describes one add-or-finalize command ready to submit. Execute
// performs the remote call; it is invoked at most once per submission and
// must not be retried internally, since the protocol offers no way to
// correlate or deduplicate a resubmitted add.
type Payload struct {
	// Label is the user-facing description, e.g. the file name or magnet
	// display name.
	Label string

	// SourceName is the display name the resulting job is expected to carry,
	// when the collaborator could derive one. Used by the match heuristics.
	SourceName string

	// TargetJobID is set for finalize-existing submissions.
	TargetJobID string

	// TargetContentID is the content identifier candidate, when derivable.
	// Checked against the pending-deletion guard and used for matching.
	TargetContentID string

	SuccessKind SuccessKind
	FailureKind FailureKind

	Execute func(ctx context.Context) error
}

type phase int

const (
	phaseInFlight phase = iota
	phaseUnknown
)

// flight is the single live submission record. Exactly zero or one exists at
// any instant; it is created by a successful admission check and destroyed
// exactly once, by whichever path first observes settlement.
type flight struct {
	id          string
	payload     Payload
	startedAt   time.Time
	knownBefore map[string]struct{}
	phase       phase
	notif       Handle
}

// JobSource provides snapshots of the externally polled job list and a way
// to force a refresh for manual reconciliation.
type JobSource interface {
	Records() []jobs.Record
	Refresh(ctx context.Context) error
}

// Orchestrator turns add-torrent commands into tracked, single-flight
// background submissions. The engine's add call returns no correlation id
// tying it to the job that eventually appears in the polled list, so the
// orchestrator snapshots the known list up front, races the call against a
// deadline, and reconciles ambiguous completions heuristically.
//
// All settlement paths compare the live submission's id before mutating
// state, so a completion belonging to a superseded (retried) submission is
// discarded instead of corrupting the current one. That comparison is the
// load-bearing race-safety mechanism here.
type Orchestrator struct {
	jobs     JobSource
	notifier Notifier
	pending  *PendingDeletes
	metrics  *metrics.Recorder
	timeout  time.Duration
	logger   zerolog.Logger

	// openJob, when set, is invoked with the matched job id after a
	// successful settlement so the panel can surface the new job.
	openJob func(jobID string)

	mu          sync.Mutex
	seq         uint64
	live        *flight
	lastPayload *Payload
	closed      bool
}

// Options carries the optional collaborators.
type Options struct {
	Metrics *metrics.Recorder
	OpenJob func(jobID string)
}

func NewOrchestrator(source JobSource, notifier Notifier, pending *PendingDeletes, engineTimeout time.Duration, opts Options) *Orchestrator {
	return &Orchestrator{
		jobs:     source,
		notifier: notifier,
		pending:  pending,
		metrics:  opts.Metrics,
		openJob:  opts.OpenJob,
		timeout:  engineTimeout,
		logger:   log.Logger.With().Str("module", "submission").Logger(),
	}
}

// Begin admits and launches a submission. It returns immediately:
// OutcomeQueued on admission, or a blocked outcome with no side effects.
func (o *Orchestrator) Begin(p Payload) Outcome {
	o.mu.Lock()

	if o.closed {
		o.mu.Unlock()
		return OutcomeCancelled
	}

	if o.live != nil {
		o.mu.Unlock()
		o.logger.Debug().Str("label", p.Label).Msg("Submission rejected, another is in flight")
		o.metrics.SubmissionBlocked(string(OutcomeBlockedInFlight))
		return OutcomeBlockedInFlight
	}

	if p.TargetContentID != "" && o.pending.Blocked(p.TargetContentID) {
		o.mu.Unlock()
		o.logger.Info().Str("contentID", p.TargetContentID).Msg("Submission rejected, identifier is pending deletion")
		o.metrics.SubmissionBlocked(string(OutcomeBlockedPendingDelete))
		return OutcomeBlockedPendingDelete
	}

	deadline := o.deadline()
	f := &flight{
		id:          o.nextIDLocked(),
		payload:     p,
		startedAt:   time.Now(),
		knownBefore: knownContentIDs(o.jobs.Records()),
	}
	o.live = f
	o.lastPayload = &p
	f.notif = o.notifier.Open(submittingNotification(p.Label, deadline))
	o.mu.Unlock()

	o.metrics.SubmissionStarted()
	o.logger.Info().Str("submissionID", f.id).Str("label", p.Label).Dur("deadline", deadline).Msg("Submission started")

	go o.race(f, deadline)
	return OutcomeQueued
}

// nextIDLocked builds a monotonically unique token. Caller holds o.mu.
func (o *Orchestrator) nextIDLocked() string {
	o.seq++
	return fmt.Sprintf("%d-%d", time.Now().UnixMilli(), o.seq)
}

func (o *Orchestrator) deadline() time.Duration {
	d := o.timeout * submitTimeoutMultiplier
	if d < minSubmitTimeout {
		d = minSubmitTimeout
	}
	return d
}

// SetEngineTimeout updates the timeout the deadline derives from. Applies to
// submissions started after the call; a live flight keeps its deadline.
func (o *Orchestrator) SetEngineTimeout(timeout time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.timeout = timeout
}

// race runs the remote call and the deadline timer. If the timer wins, the
// submission enters the unknown phase but the call is not abandoned: the
// protocol has no abort, so the eventual result is still honored if the
// submission is still live when it lands.
func (o *Orchestrator) race(f *flight, deadline time.Duration) {
	done := make(chan error, 1)
	go func() {
		done <- f.payload.Execute(context.Background())
	}()

	timer := time.NewTimer(deadline)
	defer timer.Stop()

	select {
	case err := <-done:
		o.settle(f, err)
	case <-timer.C:
		o.markUnknown(f)
		o.settle(f, <-done)
	}
}

func (o *Orchestrator) markUnknown(f *flight) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.live == nil || o.live.id != f.id {
		return
	}

	f.phase = phaseUnknown
	f.notif = o.notifier.Replace(f.notif, unknownNotification(f.payload.Label))
	o.metrics.SubmissionTimedOut()
	o.logger.Warn().Str("submissionID", f.id).Str("label", f.payload.Label).Msg("Deadline expired, submission outcome unknown")
}

// settle is the terminal transition for a background completion. Idempotent
// through the live-id guard: a stale completion is logged and dropped.
func (o *Orchestrator) settle(f *flight, execErr error) {
	o.mu.Lock()
	if o.live == nil || o.live.id != f.id {
		o.mu.Unlock()
		o.logger.Debug().Str("submissionID", f.id).Msg("Ignoring settlement of superseded submission")
		return
	}
	o.live = nil
	notif := f.notif
	o.mu.Unlock()

	if execErr != nil {
		o.notifier.Replace(notif, failureNotification(f.payload.FailureKind, f.payload.Label))
		o.metrics.SubmissionSettled(string(OutcomeFailed))
		o.logger.Error().Err(execErr).Str("submissionID", f.id).Str("label", f.payload.Label).Str("reason", string(f.payload.FailureKind)).Msg("Submission failed")
		return
	}

	o.finishSuccess(f, notif)
}

// finishSuccess closes out a successful submission: run the match resolver
// against the latest job list, show the success toast, and surface the
// matched job if any. A nil match is not an error; the toast just has no
// View affordance.
func (o *Orchestrator) finishSuccess(f *flight, notif Handle) {
	records := o.jobs.Records()
	match := resolve(f.payload, f.knownBefore, records)

	preexisting := false
	if match != nil {
		_, preexisting = f.knownBefore[strings.ToLower(match.ContentID)]
	}

	o.notifier.Replace(notif, successNotification(f.payload.SuccessKind, f.payload.Label, match, preexisting))
	o.metrics.SubmissionSettled(string(f.payload.SuccessKind.Outcome()))

	ev := o.logger.Info().Str("submissionID", f.id).Str("label", f.payload.Label)
	if match != nil {
		ev = ev.Str("jobID", match.ID)
	}
	ev.Msg("Submission succeeded")

	if match != nil && o.openJob != nil {
		o.openJob(match.ID)
	}
}

// Retry re-submits the last payload. After a failure the lifecycle is idle
// and the stored payload is re-begun. After a timeout the unknown submission
// is abandoned first; its late completion will fail the live-id guard and be
// discarded. While a submission is still in flight, Retry is a blocked no-op.
func (o *Orchestrator) Retry() Outcome {
	o.mu.Lock()

	if o.live != nil {
		if o.live.phase != phaseUnknown {
			o.mu.Unlock()
			return OutcomeBlockedInFlight
		}

		f := o.live
		o.live = nil
		o.notifier.Close(f.notif)
		p := f.payload
		o.mu.Unlock()

		o.logger.Info().Str("submissionID", f.id).Msg("Retrying, abandoning unknown submission")
		return o.Begin(p)
	}

	p := o.lastPayload
	o.mu.Unlock()

	if p == nil {
		return OutcomeCancelled
	}
	return o.Begin(*p)
}

// RefreshAndResolve is the manual reconciliation path for an unknown
// submission: refresh the job list, then re-run the match resolver. On a
// match the submission settles as a success; otherwise it stays unknown and
// the warning toast re-offers retry. The bool result reports whether an
// unknown submission was there to reconcile.
func (o *Orchestrator) RefreshAndResolve(ctx context.Context) (Outcome, bool) {
	o.mu.Lock()
	f := o.live
	if f == nil || f.phase != phaseUnknown {
		o.mu.Unlock()
		return "", false
	}
	id := f.id
	o.mu.Unlock()

	if err := o.jobs.Refresh(ctx); err != nil {
		// Resolve against whatever snapshot we have.
		o.logger.Warn().Err(err).Msg("Job list refresh failed during reconciliation")
	}

	o.mu.Lock()
	if o.live == nil || o.live.id != id {
		// The background completion won the race while we refreshed.
		o.mu.Unlock()
		return "", false
	}

	match := resolve(f.payload, f.knownBefore, o.jobs.Records())
	if match == nil {
		f.notif = o.notifier.Replace(f.notif, stillUnknownNotification(f.payload.Label))
		o.mu.Unlock()
		return OutcomeUnknown, true
	}

	o.live = nil
	notif := f.notif
	o.mu.Unlock()

	o.finishSuccess(f, notif)
	return f.payload.SuccessKind.Outcome(), true
}

// Busy reports whether a submission is live, and if so whether it has
// entered the unknown phase.
func (o *Orchestrator) Busy() (live bool, unknown bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.live == nil {
		return false, false
	}
	return true, o.live.phase == phaseUnknown
}

// Close tears the orchestrator down: the open toast is closed and the live
// reference cleared. An already-started remote call is not aborted; past
// this point it is fire-and-forget and its completion is discarded by the
// live-id guard.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.closed = true
	f := o.live
	o.live = nil
	o.mu.Unlock()

	if f != nil {
		o.notifier.Close(f.notif)
	}
}

func knownContentIDs(records []jobs.Record) map[string]struct{} {
	ids := make(map[string]struct{}, len(records))
	for _, r := range records {
		ids[strings.ToLower(r.ContentID)] = struct{}{}
	}
	return ids
}
