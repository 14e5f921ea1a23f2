// Copyright (c) 2025, the tinytorrent panel contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package submission

import (
	"strings"

	"github.com/tinytorrent/panel/internal/jobs"
)

// resolve locates the job record a settled submission produced. The engine's
// add call returns no correlation identifier, so anything past the two
// targeted forms is heuristic, in priority order:
//
//  1. exact job id (finalize-existing submissions)
//  2. normalized content id
//  3. name match among jobs that appeared after submission start
//  4. name match against the full list (duplicate adds land here)
//
// The step-4 fallback can misattribute the result to a pre-existing job with
// the same name. That risk is accepted over failing the match; a nil result
// only costs the success toast its View affordance.
//
// If the protocol ever grows a correlation id in the acceptance response,
// steps 3-4 should be replaced with direct correlation.
func resolve(p Payload, knownBefore map[string]struct{}, records []jobs.Record) *jobs.Record {
	if p.TargetJobID != "" {
		return findByID(records, p.TargetJobID)
	}

	if p.TargetContentID != "" {
		want, ok := Normalize(p.TargetContentID)
		if !ok {
			return nil
		}
		return findByContentID(records, want)
	}

	if p.SourceName == "" {
		return nil
	}

	for i := range records {
		if _, known := knownBefore[strings.ToLower(records[i].ContentID)]; known {
			continue
		}
		if strings.EqualFold(records[i].DisplayName, p.SourceName) {
			return &records[i]
		}
	}

	for i := range records {
		if strings.EqualFold(records[i].DisplayName, p.SourceName) {
			return &records[i]
		}
	}

	return nil
}

func findByID(records []jobs.Record, id string) *jobs.Record {
	for i := range records {
		if records[i].ID == id {
			return &records[i]
		}
	}
	return nil
}

func findByContentID(records []jobs.Record, want string) *jobs.Record {
	for i := range records {
		if strings.ToLower(records[i].ContentID) == want {
			return &records[i]
		}
	}
	return nil
}
