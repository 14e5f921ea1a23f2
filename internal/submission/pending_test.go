// Copyright (c) 2025, the tinytorrent panel contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package submission

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinytorrent/panel/internal/jobs"
)

func TestPendingDeletesMarkAndBlock(t *testing.T) {
	t.Parallel()

	p := NewPendingDeletes()

	assert.False(t, p.Blocked("aa11"))

	p.Mark("AA11")
	assert.True(t, p.Blocked("aa11"), "lookup is case-insensitive")
	assert.True(t, p.Blocked("AA11"))
	assert.Equal(t, 1, p.Len())

	p.Mark("")
	assert.Equal(t, 1, p.Len(), "empty identifiers are ignored")
}

func TestPendingDeletesUnmark(t *testing.T) {
	t.Parallel()

	p := NewPendingDeletes()
	p.Mark("aa11")

	p.Unmark("AA11")
	assert.False(t, p.Blocked("aa11"))
	assert.Zero(t, p.Len())
}

func TestPendingDeletesPrune(t *testing.T) {
	t.Parallel()

	p := NewPendingDeletes()
	p.Mark("aa11")
	p.Mark("bb22")

	// aa11 still appears in the list, so only bb22 is lifted.
	p.Prune([]jobs.Record{
		{ID: "1", ContentID: "AA11", DisplayName: "one"},
		{ID: "2", ContentID: "cc33", DisplayName: "three"},
	})

	assert.True(t, p.Blocked("aa11"), "identifier still present stays blocked")
	assert.False(t, p.Blocked("bb22"), "identifier gone from the list is lifted")

	// Once the job disappears the remaining block is lifted too.
	p.Prune([]jobs.Record{{ID: "2", ContentID: "cc33", DisplayName: "three"}})
	require.Zero(t, p.Len())
}

func TestPendingDeletesPruneEmptyList(t *testing.T) {
	t.Parallel()

	p := NewPendingDeletes()
	p.Mark("aa11")

	p.Prune(nil)
	assert.False(t, p.Blocked("aa11"), "empty list means every deletion completed")
}
