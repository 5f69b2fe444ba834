// SPDX-License-Identifier: MIT
package assign

import (
	"math"
	"sort"
)

// slotState is one slot's working occupancy during a resolution pass.
// Occupants are kept sorted by start time.
type slotState struct {
	id        int
	occupants []*Request
}

func (s *slotState) insert(req *Request) {
	i := sort.Search(len(s.occupants), func(i int) bool {
		return s.occupants[i].Start > req.Start
	})
	s.occupants = append(s.occupants, nil)
	copy(s.occupants[i+1:], s.occupants[i:])
	s.occupants[i] = req
}

func (s *slotState) remove(req *Request) {
	for i, o := range s.occupants {
		if o == req {
			s.occupants = append(s.occupants[:i], s.occupants[i+1:]...)
			return
		}
	}
}

// availability is an immutable snapshot of one slot's occupancy relative to a
// request: the nearest occupant ending before the request starts, the nearest
// occupant starting at or after it ends, and the occupants overlapping its
// range. An occupant ending exactly at the request's start counts as a
// zero-width clash. Lookahead requests never occupy a slot during the main
// pass, so occupants need no lookahead handling.
type availability struct {
	slot    *slotState
	before  *Request
	after   *Request
	clashes []*Request
}

func computeAvailability(s *slotState, req *Request) availability {
	a := availability{slot: s}
	for _, o := range s.occupants {
		switch {
		case o.End != nil && *o.End < req.Start:
			if a.before == nil || *o.End > *a.before.End {
				a.before = o
			}
		case req.End != nil && o.Start >= *req.End:
			if a.after == nil || o.Start < a.after.Start {
				a.after = o
			}
		default:
			a.clashes = append(a.clashes, o)
		}
	}
	return a
}

func (a availability) clear() bool { return len(a.clashes) == 0 }

// gapBefore is the clearance between the preceding occupant and the request.
func (a availability) gapBefore(req *Request) int64 {
	if a.before == nil {
		return math.MaxInt64
	}
	return req.Start - *a.before.End
}

// gapAfter is the clearance between the request and the following occupant.
func (a availability) gapAfter(req *Request) int64 {
	if a.after == nil {
		return math.MaxInt64
	}
	if req.End == nil {
		return 0
	}
	return a.after.Start - *req.End
}

// earliestClashStart assumes at least one clash.
func (a availability) earliestClashStart() int64 {
	start := a.clashes[0].Start
	for _, c := range a.clashes[1:] {
		if c.Start < start {
			start = c.Start
		}
	}
	return start
}

// latestClashStart assumes at least one clash.
func (a availability) latestClashStart() int64 {
	start := a.clashes[0].Start
	for _, c := range a.clashes[1:] {
		if c.Start > start {
			start = c.Start
		}
	}
	return start
}

// touchOnly reports whether every clash ends exactly when the request starts.
func (a availability) touchOnly(req *Request) bool {
	if len(a.clashes) == 0 {
		return false
	}
	for _, c := range a.clashes {
		if c.End == nil || *c.End != req.Start {
			return false
		}
	}
	return true
}

// canDisplaceClash: an optional occupant may be displaced by a non-optional
// requester; a non-optional occupant only by a zero-width touch.
func canDisplaceClash(req, occ *Request) bool {
	if occ.Optional && !req.Optional {
		return true
	}
	return occ.End != nil && *occ.End == req.Start
}

// canDisplaceFuture applies to occupants scheduled after the request: future
// load may be reshuffled unless an optional requester would bump a required
// occupant.
func canDisplaceFuture(req, occ *Request) bool {
	return occ.Optional || !req.Optional
}
