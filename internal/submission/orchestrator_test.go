// Copyright (c) 2025, the tinytorrent panel contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package submission

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinytorrent/panel/internal/jobs"
)

type recordedToast struct {
	op     string // open | replace | close
	handle Handle
	n      Notification
}

// fakeNotifier records every toast mutation in order.
type fakeNotifier struct {
	mu     sync.Mutex
	seq    int
	toasts []recordedToast
}

func (f *fakeNotifier) Open(n Notification) Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	h := Handle(fmt.Sprintf("h%d", f.seq))
	f.toasts = append(f.toasts, recordedToast{op: "open", handle: h, n: n})
	return h
}

func (f *fakeNotifier) Replace(old Handle, n Notification) Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	h := Handle(fmt.Sprintf("h%d", f.seq))
	f.toasts = append(f.toasts, recordedToast{op: "replace", handle: h, n: n})
	return h
}

func (f *fakeNotifier) Close(h Handle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toasts = append(f.toasts, recordedToast{op: "close", handle: h})
}

func (f *fakeNotifier) last() recordedToast {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.toasts) == 0 {
		return recordedToast{}
	}
	return f.toasts[len(f.toasts)-1]
}

func (f *fakeNotifier) all() []recordedToast {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedToast(nil), f.toasts...)
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.toasts)
}

// fakeSource serves a fixed job list snapshot.
type fakeSource struct {
	mu         sync.Mutex
	records    []jobs.Record
	refreshErr error
	refreshes  int
}

func (f *fakeSource) Records() []jobs.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]jobs.Record(nil), f.records...)
}

func (f *fakeSource) Refresh(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	return f.refreshErr
}

func (f *fakeSource) setRecords(records []jobs.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = records
}

func newTestOrchestrator(source *fakeSource, notifier *fakeNotifier) *Orchestrator {
	return NewOrchestrator(source, notifier, NewPendingDeletes(), 100*time.Millisecond, Options{})
}

func waitIdle(t *testing.T, o *Orchestrator) {
	t.Helper()
	require.Eventually(t, func() bool {
		live, _ := o.Busy()
		return !live
	}, 2*time.Second, 5*time.Millisecond)
}

func TestBeginSettlesSuccess(t *testing.T) {
	t.Parallel()

	source := &fakeSource{}
	notifier := &fakeNotifier{}
	o := newTestOrchestrator(source, notifier)

	executed := make(chan struct{}, 1)
	outcome := o.Begin(Payload{
		Label:       "ubuntu.iso",
		SourceName:  "ubuntu.iso",
		SuccessKind: SuccessAdded,
		FailureKind: FailureFileAdd,
		Execute: func(ctx context.Context) error {
			executed <- struct{}{}
			return nil
		},
	})

	assert.Equal(t, OutcomeQueued, outcome)
	<-executed
	waitIdle(t, o)

	last := notifier.last()
	assert.Equal(t, "replace", last.op)
	assert.Equal(t, ToneSuccess, last.n.Tone)
}

func TestBeginSurfacesMatchedJob(t *testing.T) {
	t.Parallel()

	source := &fakeSource{}
	notifier := &fakeNotifier{}

	var mu sync.Mutex
	var focused string
	o := NewOrchestrator(source, notifier, NewPendingDeletes(), 100*time.Millisecond, Options{
		OpenJob: func(jobID string) {
			mu.Lock()
			focused = jobID
			mu.Unlock()
		},
	})

	o.Begin(Payload{
		Label:       "ubuntu.iso",
		SourceName:  "ubuntu.iso",
		SuccessKind: SuccessAdded,
		Execute: func(ctx context.Context) error {
			// The job appears in the list before the call returns.
			source.setRecords([]jobs.Record{{ID: "42", ContentID: "aa11", DisplayName: "ubuntu.iso"}})
			return nil
		},
	})
	waitIdle(t, o)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "42", focused)

	last := notifier.last()
	require.Len(t, last.n.Actions, 1)
	assert.Equal(t, ActionView, last.n.Actions[0].Kind)
	assert.Equal(t, "42", last.n.Actions[0].JobID)
}

func TestBeginSingleFlight(t *testing.T) {
	t.Parallel()

	source := &fakeSource{}
	notifier := &fakeNotifier{}
	o := newTestOrchestrator(source, notifier)

	release := make(chan struct{})
	first := o.Begin(Payload{
		Label: "first",
		Execute: func(ctx context.Context) error {
			<-release
			return nil
		},
	})
	require.Equal(t, OutcomeQueued, first)

	second := o.Begin(Payload{
		Label:   "second",
		Execute: func(ctx context.Context) error { return nil },
	})
	assert.Equal(t, OutcomeBlockedInFlight, second)

	close(release)
	waitIdle(t, o)

	// Once idle, admission opens up again.
	third := o.Begin(Payload{
		Label:   "third",
		Execute: func(ctx context.Context) error { return nil },
	})
	assert.Equal(t, OutcomeQueued, third)
	waitIdle(t, o)
}

func TestBeginBlockedPendingDelete(t *testing.T) {
	t.Parallel()

	source := &fakeSource{}
	notifier := &fakeNotifier{}
	pending := NewPendingDeletes()
	pending.Mark("aa11")
	o := NewOrchestrator(source, notifier, pending, 100*time.Millisecond, Options{})

	outcome := o.Begin(Payload{
		Label:           "dup",
		TargetContentID: "AA11",
		Execute:         func(ctx context.Context) error { t.Error("execute must not run"); return nil },
	})

	assert.Equal(t, OutcomeBlockedPendingDelete, outcome)
	assert.Zero(t, notifier.count(), "a blocked submission opens no toast")
}

func TestBeginFailure(t *testing.T) {
	t.Parallel()

	source := &fakeSource{}
	notifier := &fakeNotifier{}
	o := newTestOrchestrator(source, notifier)

	o.Begin(Payload{
		Label:       "bad",
		FailureKind: FailureDescriptorAdd,
		Execute: func(ctx context.Context) error {
			return errors.New("engine said no")
		},
	})
	waitIdle(t, o)

	last := notifier.last()
	assert.Equal(t, ToneError, last.n.Tone)
	assert.Equal(t, string(FailureDescriptorAdd), last.n.Body)
	require.Len(t, last.n.Actions, 1)
	assert.Equal(t, ActionRetry, last.n.Actions[0].Kind)
}

func TestRetryAfterFailure(t *testing.T) {
	t.Parallel()

	source := &fakeSource{}
	notifier := &fakeNotifier{}
	o := newTestOrchestrator(source, notifier)

	var mu sync.Mutex
	runs := 0
	o.Begin(Payload{
		Label: "flaky",
		Execute: func(ctx context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			runs++
			if runs == 1 {
				return errors.New("transient")
			}
			return nil
		},
	})
	waitIdle(t, o)

	outcome := o.Retry()
	assert.Equal(t, OutcomeQueued, outcome)
	waitIdle(t, o)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, runs)
}

func TestRetryWithNothingToRetry(t *testing.T) {
	t.Parallel()

	o := newTestOrchestrator(&fakeSource{}, &fakeNotifier{})
	assert.Equal(t, OutcomeCancelled, o.Retry())
}

func TestRetryBlockedWhileInFlight(t *testing.T) {
	t.Parallel()

	source := &fakeSource{}
	notifier := &fakeNotifier{}
	o := newTestOrchestrator(source, notifier)

	release := make(chan struct{})
	o.Begin(Payload{
		Label: "slow",
		Execute: func(ctx context.Context) error {
			<-release
			return nil
		},
	})

	assert.Equal(t, OutcomeBlockedInFlight, o.Retry())

	close(release)
	waitIdle(t, o)
}

func TestUnknownPhaseThenLateSuccess(t *testing.T) {
	t.Parallel()

	source := &fakeSource{}
	notifier := &fakeNotifier{}
	o := newTestOrchestrator(source, notifier)

	f := &flight{
		id:          "f1",
		payload:     Payload{Label: "slow", SourceName: "slow", SuccessKind: SuccessAdded},
		knownBefore: map[string]struct{}{},
	}
	f.notif = notifier.Open(submittingNotification("slow", time.Second))
	o.live = f

	o.markUnknown(f)
	assert.Equal(t, phaseUnknown, f.phase)
	last := notifier.last()
	assert.Equal(t, ToneWarning, last.n.Tone)

	live, unknown := o.Busy()
	assert.True(t, live)
	assert.True(t, unknown)

	// The remote call lands after the deadline; the submission is still
	// live, so the late result is honored.
	source.setRecords([]jobs.Record{{ID: "9", ContentID: "aa11", DisplayName: "slow"}})
	o.settle(f, nil)

	live, _ = o.Busy()
	assert.False(t, live)
	assert.Equal(t, ToneSuccess, notifier.last().n.Tone)
}

func TestSettleIgnoresSupersededFlight(t *testing.T) {
	t.Parallel()

	source := &fakeSource{}
	notifier := &fakeNotifier{}
	o := newTestOrchestrator(source, notifier)

	current := &flight{id: "current", payload: Payload{Label: "current"}}
	o.live = current

	stale := &flight{id: "stale", payload: Payload{Label: "stale", SuccessKind: SuccessAdded}}
	o.settle(stale, nil)

	live, _ := o.Busy()
	assert.True(t, live, "a stale completion must not clear the live submission")
	assert.Zero(t, notifier.count())

	o.markUnknown(stale)
	assert.Zero(t, notifier.count(), "a stale deadline must not touch the toast surface")
}

func TestRetryAbandonsUnknownFlight(t *testing.T) {
	t.Parallel()

	source := &fakeSource{}
	notifier := &fakeNotifier{}
	o := newTestOrchestrator(source, notifier)

	f := &flight{
		id:      "f1",
		payload: Payload{Label: "stuck", SuccessKind: SuccessAdded, Execute: func(ctx context.Context) error { return nil }},
		phase:   phaseUnknown,
	}
	f.notif = notifier.Open(unknownNotification("stuck"))
	o.live = f

	outcome := o.Retry()
	assert.Equal(t, OutcomeQueued, outcome)
	waitIdle(t, o)

	// The abandoned flight's eventual completion is dropped.
	o.settle(f, errors.New("late failure"))
	for _, toast := range notifier.all() {
		assert.NotEqual(t, ToneError, toast.n.Tone)
	}
}

func TestRefreshAndResolveNoUnknownFlight(t *testing.T) {
	t.Parallel()

	o := newTestOrchestrator(&fakeSource{}, &fakeNotifier{})

	_, ok := o.RefreshAndResolve(context.Background())
	assert.False(t, ok)
}

func TestRefreshAndResolveFindsMatch(t *testing.T) {
	t.Parallel()

	source := &fakeSource{}
	notifier := &fakeNotifier{}
	o := newTestOrchestrator(source, notifier)

	f := &flight{
		id:          "f1",
		payload:     Payload{Label: "slow", SourceName: "slow", SuccessKind: SuccessAdded},
		knownBefore: map[string]struct{}{},
		phase:       phaseUnknown,
	}
	f.notif = notifier.Open(unknownNotification("slow"))
	o.live = f

	source.setRecords([]jobs.Record{{ID: "5", ContentID: "aa11", DisplayName: "slow"}})

	outcome, ok := o.RefreshAndResolve(context.Background())
	require.True(t, ok)
	assert.Equal(t, OutcomeAdded, outcome)
	assert.Equal(t, 1, source.refreshes)

	live, _ := o.Busy()
	assert.False(t, live)
	assert.Equal(t, ToneSuccess, notifier.last().n.Tone)
}

func TestRefreshAndResolveStillUnknown(t *testing.T) {
	t.Parallel()

	source := &fakeSource{}
	notifier := &fakeNotifier{}
	o := newTestOrchestrator(source, notifier)

	f := &flight{
		id:          "f1",
		payload:     Payload{Label: "slow", SourceName: "slow", SuccessKind: SuccessAdded},
		knownBefore: map[string]struct{}{},
		phase:       phaseUnknown,
	}
	f.notif = notifier.Open(unknownNotification("slow"))
	o.live = f

	outcome, ok := o.RefreshAndResolve(context.Background())
	require.True(t, ok)
	assert.Equal(t, OutcomeUnknown, outcome)

	live, unknown := o.Busy()
	assert.True(t, live, "an unmatched submission stays live")
	assert.True(t, unknown)
	assert.Len(t, notifier.last().n.Actions, 2, "the toast re-offers refresh and retry")
}

func TestRefreshAndResolveSurvivesRefreshError(t *testing.T) {
	t.Parallel()

	source := &fakeSource{refreshErr: errors.New("engine down")}
	notifier := &fakeNotifier{}
	o := newTestOrchestrator(source, notifier)

	f := &flight{
		id:          "f1",
		payload:     Payload{Label: "slow", SourceName: "slow", SuccessKind: SuccessAdded},
		knownBefore: map[string]struct{}{},
		phase:       phaseUnknown,
	}
	f.notif = notifier.Open(unknownNotification("slow"))
	o.live = f

	// Refresh fails; the resolver still runs against the stale snapshot.
	outcome, ok := o.RefreshAndResolve(context.Background())
	require.True(t, ok)
	assert.Equal(t, OutcomeUnknown, outcome)
}

func TestCloseRejectsFurtherSubmissions(t *testing.T) {
	t.Parallel()

	source := &fakeSource{}
	notifier := &fakeNotifier{}
	o := newTestOrchestrator(source, notifier)

	f := &flight{id: "f1", payload: Payload{Label: "live"}}
	f.notif = notifier.Open(submittingNotification("live", time.Second))
	o.live = f

	o.Close()

	assert.Equal(t, "close", notifier.last().op)

	outcome := o.Begin(Payload{
		Label:   "after close",
		Execute: func(ctx context.Context) error { return nil },
	})
	assert.Equal(t, OutcomeCancelled, outcome)

	// The torn-down flight's completion is discarded.
	o.settle(f, nil)
	assert.Equal(t, "close", notifier.last().op)
}

func TestDeadlineFloor(t *testing.T) {
	t.Parallel()

	o := NewOrchestrator(&fakeSource{}, &fakeNotifier{}, NewPendingDeletes(), time.Second, Options{})
	assert.Equal(t, 2*time.Second, o.deadline(), "floor applies when timeout*2 is below it")

	o.SetEngineTimeout(30 * time.Second)
	assert.Equal(t, time.Minute, o.deadline())
}
