// SPDX-License-Identifier: MIT

// Package assign turns time-ranged playback demands into slot assignments for
// one pool of interchangeable players. BuildRequests flattens pieces and
// lookahead timeline objects into session requests; ResolveAssignments maps
// those requests onto the pool's slots, maximizing continuity with the
// previous pass.
package assign

import "github.com/openplayout/abresolver/timeline"

// Options tunes the slot assignment resolver. Times are milliseconds.
type Options struct {
	// IdealGapBefore is the preferred clearance between a request and the
	// preceding content on the same slot, so hardware has time to preload.
	IdealGapBefore int64
	// NowWindow is the forward-looking buffer added to "now"; content inside
	// it is treated as effectively already airing.
	NowWindow int64
}

// Request is the unit of scheduling demand: one distinct session's claim on
// one slot. Exactly one Request exists per session id per pass.
type Request struct {
	SessionID string
	Start     int64
	End       *int64 // nil = open-ended, still playing
	Optional  bool
	// LookaheadRank is set (>0) only for not-yet-airing lookahead requests;
	// smaller ranks are assigned first.
	LookaheadRank int
	// Slot carries the previous pass's assignment in as a hint and is
	// overwritten with the new assignment. nil = unassigned.
	Slot *int
}

// Lookahead reports whether the request is a speculative lookahead entry.
func (r *Request) Lookahead() bool { return r.LookaheadRank > 0 }

// Result is the outcome of one resolution pass. Requests are the input
// requests sorted by start time, each carrying its resolved Slot. Failed
// session ids are expected outcomes, not errors; callers should warn on
// FailedRequired and may ignore FailedOptional.
type Result struct {
	Requests       []*Request
	FailedRequired []string
	FailedOptional []string
}

// ApplyAssignments folds resolved requests into a fresh assignment map for
// the caller to persist until the next pass. Unassigned requests are omitted.
func ApplyAssignments(requests []*Request) timeline.AssignmentMap {
	out := make(timeline.AssignmentMap, len(requests))
	for _, req := range requests {
		if req.Slot == nil {
			continue
		}
		out[req.SessionID] = timeline.SessionAssignment{
			SessionID: req.SessionID,
			SlotID:    *req.Slot,
			Lookahead: req.Lookahead(),
			Rank:      req.LookaheadRank,
		}
	}
	return out
}
