// Copyright (c) 2025, the tinytorrent panel contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package submission

import (
	"fmt"
	"time"

	"github.com/tinytorrent/panel/internal/jobs"
)

// Tone classifies a notification for the panel's toast surface.
type Tone string

const (
	ToneInfo    Tone = "info"
	ToneSuccess Tone = "success"
	ToneWarning Tone = "warning"
	ToneError   Tone = "error"
)

// ActionKind names an affordance the panel may render on a notification.
// The frontend posts the matching command back through the API.
type ActionKind string

const (
	ActionRetry   ActionKind = "retry"
	ActionRefresh ActionKind = "refresh"
	ActionView    ActionKind = "view"
)

type Action struct {
	Kind  ActionKind `json:"kind"`
	Label string     `json:"label"`
	JobID string     `json:"jobId,omitempty"`
}

// Notification is a pure projection of submission phase onto the toast
// surface. TimeoutMs of zero means the toast stays until replaced or closed.
type Notification struct {
	Tone      Tone     `json:"tone"`
	Title     string   `json:"title"`
	Body      string   `json:"body,omitempty"`
	TimeoutMs int64    `json:"timeoutMs,omitempty"`
	Actions   []Action `json:"actions,omitempty"`
}

// Handle identifies one open notification. The orchestrator holds at most
// one, on the live submission, and opens/replaces/closes it in lockstep with
// lifecycle transitions.
type Handle string

// Notifier is the user-facing toast channel.
type Notifier interface {
	Open(n Notification) Handle
	Replace(h Handle, n Notification) Handle
	Close(h Handle)
}

func submittingNotification(label string, deadline time.Duration) Notification {
	return Notification{
		Tone:      ToneInfo,
		Title:     fmt.Sprintf("Adding %s", label),
		TimeoutMs: deadline.Milliseconds(),
	}
}

func successNotification(kind SuccessKind, label string, match *jobs.Record, preexisting bool) Notification {
	n := Notification{
		Tone:      ToneSuccess,
		TimeoutMs: (5 * time.Second).Milliseconds(),
	}

	switch {
	case kind == SuccessFinalized:
		n.Title = fmt.Sprintf("Started %s", label)
	case preexisting:
		n.Title = fmt.Sprintf("%s is already present", label)
	default:
		n.Title = fmt.Sprintf("Added %s", label)
	}

	if match != nil {
		n.Actions = []Action{{Kind: ActionView, Label: "View", JobID: match.ID}}
	}
	return n
}

func failureNotification(kind FailureKind, label string) Notification {
	return Notification{
		Tone:    ToneError,
		Title:   fmt.Sprintf("Could not add %s", label),
		Body:    string(kind),
		Actions: []Action{{Kind: ActionRetry, Label: "Retry"}},
	}
}

func unknownNotification(label string) Notification {
	return Notification{
		Tone:    ToneWarning,
		Title:   fmt.Sprintf("Still waiting on %s", label),
		Body:    "The engine has not answered yet. It may still finish in the background.",
		Actions: []Action{{Kind: ActionRefresh, Label: "Refresh list"}},
	}
}

func stillUnknownNotification(label string) Notification {
	return Notification{
		Tone:    ToneWarning,
		Title:   fmt.Sprintf("No sign of %s yet", label),
		Body:    "The job list does not show it. Wait for the engine to answer, or retry.",
		Actions: []Action{{Kind: ActionRefresh, Label: "Refresh list"}, {Kind: ActionRetry, Label: "Retry"}},
	}
}
