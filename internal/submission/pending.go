// Copyright (c) 2025, the tinytorrent panel contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package submission

import (
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/tinytorrent/panel/internal/jobs"
)

// PendingDeletes tracks content identifiers whose removal has been requested
// but not yet observed to complete. Re-adding one of these before the engine
// finishes deleting it would race the removal, so submissions targeting a
// tracked identifier are rejected up front.
//
// The set lives for the process lifetime and is pruned against every fresh
// job list: once the job carrying an identifier is gone from the list, the
// deletion is done and the block is lifted.
type PendingDeletes struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func NewPendingDeletes() *PendingDeletes {
	return &PendingDeletes{ids: make(map[string]struct{})}
}

// Mark records a content identifier as scheduled for removal.
func (p *PendingDeletes) Mark(contentID string) {
	if contentID == "" {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.ids[strings.ToLower(contentID)] = struct{}{}
}

// Unmark lifts a block early, for removals that never started.
func (p *PendingDeletes) Unmark(contentID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.ids, strings.ToLower(contentID))
}

// Blocked reports whether the identifier is mid-deletion.
func (p *PendingDeletes) Blocked(contentID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, ok := p.ids[strings.ToLower(contentID)]
	return ok
}

// Prune drops every tracked identifier that no longer appears in the job
// list. Runs on every refresh, independent of submission activity.
func (p *PendingDeletes) Prune(records []jobs.Record) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.ids) == 0 {
		return
	}

	present := make(map[string]struct{}, len(records))
	for _, r := range records {
		present[strings.ToLower(r.ContentID)] = struct{}{}
	}

	for id := range p.ids {
		if _, ok := present[id]; !ok {
			delete(p.ids, id)
			log.Debug().Str("contentID", id).Msg("Deletion observed complete, lifting pending-delete block")
		}
	}
}

// Len reports the number of identifiers currently blocked.
func (p *PendingDeletes) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ids)
}
