// Copyright (c) 2025, the tinytorrent panel contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package notifications pushes toast events to connected panels over a
// websocket. The hub is the concrete submission.Notifier: the orchestrator
// opens, replaces, and closes handles; browsers render whatever arrives.
package notifications

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/tinytorrent/panel/internal/jobs"
	"github.com/tinytorrent/panel/internal/submission"
)

const (
	writeTimeout    = 5 * time.Second
	subscriberSlack = 32
)

// Event mirrors one mutation of the toast surface.
type Event struct {
	Op           string                   `json:"op"` // open | replace | close | focus | jobs
	Handle       string                   `json:"handle,omitempty"`
	Replaces     string                   `json:"replaces,omitempty"`
	Notification *submission.Notification `json:"notification,omitempty"`
	JobID        string                   `json:"jobId,omitempty"`
	Jobs         []jobs.Record            `json:"jobs,omitempty"`
}

type subscriber struct {
	ch chan Event
}

// Hub fans toast events out to all connected panels and keeps the set of
// currently open notifications so a late-joining panel starts in sync.
type Hub struct {
	logger zerolog.Logger

	mu          sync.Mutex
	subscribers map[*subscriber]struct{}
	open        map[submission.Handle]submission.Notification
}

func NewHub() *Hub {
	return &Hub{
		logger:      log.Logger.With().Str("module", "notifications").Logger(),
		subscribers: make(map[*subscriber]struct{}),
		open:        make(map[submission.Handle]submission.Notification),
	}
}

// Open implements submission.Notifier.
func (h *Hub) Open(n submission.Notification) submission.Handle {
	handle := submission.Handle(uuid.NewString())

	h.mu.Lock()
	h.open[handle] = n
	h.mu.Unlock()

	h.broadcast(Event{Op: "open", Handle: string(handle), Notification: &n})
	return handle
}

// Replace implements submission.Notifier. The old handle is retired and a
// new one issued, so stale handles never address a live toast.
func (h *Hub) Replace(old submission.Handle, n submission.Notification) submission.Handle {
	handle := submission.Handle(uuid.NewString())

	h.mu.Lock()
	delete(h.open, old)
	h.open[handle] = n
	h.mu.Unlock()

	h.broadcast(Event{Op: "replace", Handle: string(handle), Replaces: string(old), Notification: &n})
	return handle
}

// Close implements submission.Notifier.
func (h *Hub) Close(handle submission.Handle) {
	h.mu.Lock()
	_, ok := h.open[handle]
	delete(h.open, handle)
	h.mu.Unlock()

	if !ok {
		return
	}
	h.broadcast(Event{Op: "close", Handle: string(handle)})
}

// FocusJob asks connected panels to surface a job's detail view. Wired as
// the orchestrator's openJob collaborator.
func (h *Hub) FocusJob(jobID string) {
	h.broadcast(Event{Op: "focus", JobID: jobID})
}

// PublishJobs pushes a fresh job list snapshot to connected panels. Wired as
// a poller refresh listener so panels track the list without re-polling over
// HTTP.
func (h *Hub) PublishJobs(records []jobs.Record) {
	h.broadcast(Event{Op: "jobs", Jobs: records})
}

func (h *Hub) broadcast(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subscribers {
		select {
		case sub.ch <- ev:
		default:
			// Slow consumer; drop it rather than block the lifecycle.
			delete(h.subscribers, sub)
			close(sub.ch)
			h.logger.Warn().Msg("Dropping slow notification subscriber")
		}
	}
}

// snapshot returns replay events for the currently open toasts.
func (h *Hub) snapshot() []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	events := make([]Event, 0, len(h.open))
	for handle, n := range h.open {
		n := n
		events = append(events, Event{Op: "open", Handle: string(handle), Notification: &n})
	}
	return events
}

func (h *Hub) subscribe() *subscriber {
	sub := &subscriber{ch: make(chan Event, subscriberSlack)}

	h.mu.Lock()
	h.subscribers[sub] = struct{}{}
	h.mu.Unlock()

	return sub
}

func (h *Hub) unsubscribe(sub *subscriber) {
	h.mu.Lock()
	if _, ok := h.subscribers[sub]; ok {
		delete(h.subscribers, sub)
		close(sub.ch)
	}
	h.mu.Unlock()
}

// ServeWS upgrades the request and streams toast events until the client
// disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Warn().Err(err).Msg("Websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "")

	// We never expect client frames; CloseRead surfaces disconnects.
	ctx := conn.CloseRead(r.Context())

	sub := h.subscribe()
	defer h.unsubscribe(sub)

	for _, ev := range h.snapshot() {
		if err := h.write(ctx, conn, ev); err != nil {
			return
		}
	}

	for {
		select {
		case ev, ok := <-sub.ch:
			if !ok {
				conn.Close(websocket.StatusPolicyViolation, "too slow")
				return
			}
			if err := h.write(ctx, conn, ev); err != nil {
				return
			}
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		}
	}
}

func (h *Hub) write(ctx context.Context, conn *websocket.Conn, ev Event) error {
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(writeCtx, conn, ev)
}
