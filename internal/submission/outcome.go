// Copyright (c) 2025, the tinytorrent panel contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package submission

// Outcome is the caller-visible result of one panel command. The set is
// exhaustive: every code path through the add flow maps to exactly one of
// these values.
type Outcome string

const (
	// OutcomeOpened means a metadata upload was staged and the confirm
	// dialog should open.
	OutcomeOpened Outcome = "opened"

	// OutcomeQueued means the submission was admitted and is now running in
	// the background; Begin never blocks its caller.
	OutcomeQueued Outcome = "queued"

	OutcomeAdded     Outcome = "added"
	OutcomeFinalized Outcome = "finalized"

	OutcomeInvalidInput Outcome = "invalid_input"

	// Admission-time rejections. Neither is a failure; the caller surfaces
	// them as a no-op notice.
	OutcomeBlockedPendingDelete Outcome = "blocked_pending_delete"
	OutcomeBlockedInFlight      Outcome = "blocked_in_flight"

	// OutcomeUnknown means the deadline expired before the engine answered.
	// The submission is still alive and will settle later, or can be
	// reconciled manually via RefreshAndResolve.
	OutcomeUnknown Outcome = "unknown"

	OutcomeCancelled Outcome = "cancelled"
	OutcomeFailed    Outcome = "failed"
)

// InvalidReason narrows an invalid_input outcome. These are detected
// synchronously, before any remote call.
type InvalidReason string

const (
	InvalidDescriptor  InvalidReason = "invalid_descriptor"
	InvalidDestination InvalidReason = "invalid_destination"
	MissingTarget      InvalidReason = "missing_target"
)

// SuccessKind selects the terminal outcome of a successful submission.
type SuccessKind string

const (
	SuccessAdded     SuccessKind = "added"
	SuccessFinalized SuccessKind = "finalized"
)

// Outcome maps the success kind to its terminal outcome.
func (k SuccessKind) Outcome() Outcome {
	if k == SuccessFinalized {
		return OutcomeFinalized
	}
	return OutcomeAdded
}

// FailureKind names the submission step that failed, for the failure
// notification and the failed outcome's reason field.
type FailureKind string

const (
	FailureDescriptorAdd FailureKind = "descriptor_add_failed"
	FailureMetadataRead  FailureKind = "metadata_read_failed"
	FailureFileAdd       FailureKind = "file_add_failed"
	FailureFinalize      FailureKind = "finalize_failed"
)
