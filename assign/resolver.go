// SPDX-License-Identifier: MIT
package assign

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/openplayout/abresolver/internal/log"
)

// maxIterations caps the main assignment loop. Exhausting it means an
// assignment/invalidation cycle that never converges, which is a logic
// defect, not an input problem.
const maxIterations = 200

var (
	// ErrResolutionCycle classifies a resolution pass that hit the iteration
	// cap. Use errors.Is(err, ErrResolutionCycle).
	ErrResolutionCycle = errors.New("slot assignment did not converge")
)

// choice is the outcome of candidate selection for one request: the slot to
// take and, when a future occupant is being displaced, the start time from
// which that slot's occupants must re-compete.
type choice struct {
	slot      *slotState
	evictFrom *int64
}

// ResolveAssignments computes a fresh slot-to-session assignment for one
// pool. Requests may carry previous-pass slots in Request.Slot; those are
// kept whenever possible. The previous-assignment semantics live entirely in
// those hints — the resolver holds no state across calls.
//
// Near-term requests (inside now+NowWindow) pack densely so assignments match
// what hardware has already been told to preload; future requests spread out
// so idle slots stay available for lookahead content.
func ResolveAssignments(opts Options, slotIDs []int, requests []*Request, now int64) (*Result, error) {
	sorted := append([]*Request(nil), requests...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })
	res := &Result{Requests: sorted}

	// A single-slot pool is best-effort: everything plays on that slot.
	if len(slotIDs) == 1 {
		for _, req := range sorted {
			slot := slotIDs[0]
			req.Slot = &slot
		}
		return res, nil
	}

	logger := log.WithComponent("assign.resolver")
	safeNow := now + opts.NowWindow

	known := make(map[int]bool, len(slotIDs))
	for _, id := range slotIDs {
		known[id] = true
	}

	// Set lookahead requests aside; they are assigned after the main pass
	// and never occupy a slot meanwhile. Their previous slots are remembered
	// separately so the slots are not double-counted.
	prevLookaheadSlot := make(map[string]int)
	var lookaheads, normal []*Request
	for _, req := range sorted {
		if req.Slot != nil && !known[*req.Slot] {
			req.Slot = nil
		}
		if req.Lookahead() {
			if req.Slot != nil {
				prevLookaheadSlot[req.SessionID] = *req.Slot
				req.Slot = nil
			}
			lookaheads = append(lookaheads, req)
			continue
		}
		normal = append(normal, req)
	}
	sort.SliceStable(lookaheads, func(i, j int) bool {
		return lookaheads[i].LookaheadRank < lookaheads[j].LookaheadRank
	})

	discardStaleHints(normal, safeNow)

	slots := make([]*slotState, 0, len(slotIDs))
	bySlot := make(map[int]*slotState, len(slotIDs))
	for _, id := range slotIDs {
		s := &slotState{id: id}
		slots = append(slots, s)
		bySlot[id] = s
	}

	var pending []*Request
	for _, req := range normal {
		if req.Slot != nil {
			bySlot[*req.Slot].insert(req)
			continue
		}
		pending = insertPending(pending, req)
	}

	for i := 0; len(pending) > 0; i++ {
		if i >= maxIterations {
			return nil, fmt.Errorf("%d iterations: %w", maxIterations, ErrResolutionCycle)
		}
		req := pending[0]
		pending = pending[1:]

		c := chooseSlot(slots, req, safeNow, opts.IdealGapBefore)
		if c.slot == nil {
			if req.Optional {
				res.FailedOptional = append(res.FailedOptional, req.SessionID)
				logger.Debug().Str("session", req.SessionID).Msg("optional session has no slot")
			} else {
				res.FailedRequired = append(res.FailedRequired, req.SessionID)
				logger.Warn().Str("session", req.SessionID).Msg("required session has no slot")
			}
			continue
		}

		for _, evicted := range placeRequest(c, req) {
			evicted.Slot = nil
			pending = insertPending(pending, evicted)
		}
	}

	assignLookahead(slots, lookaheads, prevLookaheadSlot, safeNow)

	logger.Debug().
		Int("requests", len(sorted)).
		Int("failed_required", len(res.FailedRequired)).
		Int("failed_optional", len(res.FailedOptional)).
		Msg("resolved slot assignments")
	return res, nil
}

// discardStaleHints drops carried-over slots that the hardware could not
// honor: when the preceding request on the same slot ends before the safe-now
// window while this one starts at or after it, there is no realistic chance
// the slot was preloaded with this content. Only the entry found by the gap
// scan is invalidated; its neighbors re-validate at their own turn.
func discardStaleHints(requests []*Request, safeNow int64) {
	byHint := make(map[int][]*Request)
	for _, req := range requests {
		if req.Slot != nil {
			byHint[*req.Slot] = append(byHint[*req.Slot], req)
		}
	}
	for _, group := range byHint {
		sort.SliceStable(group, func(i, j int) bool { return group[i].Start < group[j].Start })
		for i := 1; i < len(group); i++ {
			prev, cur := group[i-1], group[i]
			if prev.End != nil && *prev.End < safeNow && cur.Start >= safeNow {
				cur.Slot = nil
			}
		}
	}
}

func chooseSlot(slots []*slotState, req *Request, safeNow, idealGap int64) choice {
	avails := make([]availability, 0, len(slots))
	for _, s := range slots {
		avails = append(avails, computeAvailability(s, req))
	}

	var c choice
	if req.Start <= safeNow {
		c = pickDense(avails, req, safeNow, idealGap)
	} else {
		c = pickSpread(avails, req)
	}
	if c.slot != nil {
		return c
	}
	if c = pickTouch(avails, req); c.slot != nil {
		return c
	}
	return pickDisplaceableOptionals(avails, req)
}

// pickDense packs a request that should air now or very soon: keep the ideal
// preload gap if any slot offers it, otherwise any clash-free slot, otherwise
// a slot whose clash sits entirely beyond the safe-now window.
func pickDense(avails []availability, req *Request, safeNow, idealGap int64) choice {
	var best *availability
	bestGap := int64(-1)
	for i := range avails {
		a := &avails[i]
		if !a.clear() || a.gapBefore(req) < idealGap {
			continue
		}
		if g := a.gapAfter(req); g > bestGap {
			best, bestGap = a, g
		}
	}
	if best != nil {
		return choice{slot: best.slot}
	}

	best, bestGap = nil, -1
	for i := range avails {
		a := &avails[i]
		if !a.clear() {
			continue
		}
		if g := a.gapAfter(req); g > bestGap {
			best, bestGap = a, g
		}
	}
	if best != nil {
		return choice{slot: best.slot}
	}

	// Tail clash: the slot is free at the request's start and only collides
	// beyond the safe-now window. The colliding occupant is evicted and
	// re-competes as future load — but only when it may legitimately be
	// displaced; a required occupant never yields to an optional requester.
	best = nil
	bestStart := int64(math.MinInt64)
	for i := range avails {
		a := &avails[i]
		if a.clear() {
			continue
		}
		earliest := a.earliestClashStart()
		if earliest < safeNow || earliest <= req.Start {
			continue
		}
		displaceable := true
		for _, cl := range a.clashes {
			if !canDisplaceClash(req, cl) {
				displaceable = false
				break
			}
		}
		if !displaceable {
			continue
		}
		if earliest > bestStart {
			best, bestStart = a, earliest
		}
	}
	if best != nil {
		return choice{slot: best.slot}
	}
	return choice{}
}

// pickSpread places a future request while leaving idle slots for lookahead:
// prefer a slot with nothing scheduled after, then reshuffle the latest
// displaceable future occupant, then clashes confined before the request's
// start.
func pickSpread(avails []availability, req *Request) choice {
	var best *availability
	bestGap := int64(-1)
	for i := range avails {
		a := &avails[i]
		if !a.clear() || a.after != nil {
			continue
		}
		if g := a.gapBefore(req); g > bestGap {
			best, bestGap = a, g
		}
	}
	if best != nil {
		return choice{slot: best.slot}
	}

	best = nil
	bestStart := int64(math.MinInt64)
	for i := range avails {
		a := &avails[i]
		if !a.clear() || a.after == nil || !canDisplaceFuture(req, a.after) {
			continue
		}
		if a.after.Start > bestStart {
			best, bestStart = a, a.after.Start
		}
	}
	if best != nil {
		from := best.after.Start
		return choice{slot: best.slot, evictFrom: &from}
	}

	best = nil
	bestStart = int64(math.MinInt64)
	for i := range avails {
		a := &avails[i]
		if a.clear() {
			continue
		}
		ok := true
		for _, cl := range a.clashes {
			if cl.Start >= req.Start || !canDisplaceFuture(req, cl) {
				ok = false
				break
			}
		}
		if !ok {
			continue
		}
		if s := a.latestClashStart(); s > bestStart {
			best, bestStart = a, s
		}
	}
	if best != nil {
		from := bestStart
		return choice{slot: best.slot, evictFrom: &from}
	}
	return choice{}
}

// pickTouch rescues a request whose only collisions are zero-width: every
// clash ends exactly when the request starts. The touching entries are
// displaced even when not optional.
func pickTouch(avails []availability, req *Request) choice {
	var best *availability
	bestGap := int64(-1)
	for i := range avails {
		a := &avails[i]
		if !a.touchOnly(req) {
			continue
		}
		if g := a.gapAfter(req); g > bestGap {
			best, bestGap = a, g
		}
	}
	if best != nil {
		return choice{slot: best.slot}
	}
	return choice{}
}

// pickDisplaceableOptionals is the last resort: a non-optional request may
// claim a slot whose clashes are all optional, bumping them back into
// competition.
func pickDisplaceableOptionals(avails []availability, req *Request) choice {
	if req.Optional {
		return choice{}
	}
	for i := range avails {
		a := &avails[i]
		if a.clear() {
			continue
		}
		allOptional := true
		for _, cl := range a.clashes {
			if !cl.Optional {
				allOptional = false
				break
			}
		}
		if allOptional {
			return choice{slot: a.slot}
		}
	}
	return choice{}
}

// placeRequest assigns the request to the chosen slot and returns the
// occupants displaced by it: direct clashes, plus anything starting at or
// after a displaced future occupant.
func placeRequest(c choice, req *Request) []*Request {
	s := c.slot
	var evicted []*Request
	occupants := append([]*Request(nil), s.occupants...)
	for _, o := range occupants {
		switch {
		case clashesWith(req, o):
		case c.evictFrom != nil && o.Start >= *c.evictFrom:
		default:
			continue
		}
		s.remove(o)
		evicted = append(evicted, o)
	}
	id := s.id
	req.Slot = &id
	s.insert(req)
	return evicted
}

// clashesWith mirrors the availability classification: an occupant that is
// neither safely before the request nor at/after its end collides with it.
func clashesWith(req, o *Request) bool {
	if o.End != nil && *o.End < req.Start {
		return false
	}
	if req.End != nil && o.Start >= *req.End {
		return false
	}
	return true
}

// assignLookahead hands leftover slot capacity to speculative content. A slot
// is available from the defined end of its last real occupant, or from the
// beginning of time when it holds nothing; slots whose last occupant is
// open-ended are of no use to lookahead. Previous lookahead slots are kept
// when they free up before the safe-now window.
func assignLookahead(slots []*slotState, lookaheads []*Request, prevSlot map[string]int, safeNow int64) {
	type slotAvail struct {
		slot *slotState
		from int64
	}
	var avail []slotAvail
	for _, s := range slots {
		if len(s.occupants) == 0 {
			avail = append(avail, slotAvail{slot: s, from: math.MinInt64})
			continue
		}
		last := s.occupants[len(s.occupants)-1]
		if last.End == nil {
			continue
		}
		avail = append(avail, slotAvail{slot: s, from: *last.End})
	}

	if len(lookaheads) > len(avail) {
		lookaheads = lookaheads[:len(avail)]
	}

	taken := make(map[*slotState]bool)
	var fresh []*Request
	for _, la := range lookaheads {
		prev, ok := prevSlot[la.SessionID]
		if !ok {
			fresh = append(fresh, la)
			continue
		}
		sticky := false
		for i := range avail {
			sa := avail[i]
			if sa.slot.id == prev && !taken[sa.slot] && sa.from < safeNow {
				id := prev
				la.Slot = &id
				taken[sa.slot] = true
				sticky = true
				break
			}
		}
		if !sticky {
			fresh = append(fresh, la)
		}
	}

	var remaining []slotAvail
	for _, sa := range avail {
		if !taken[sa.slot] {
			remaining = append(remaining, sa)
		}
	}
	sort.SliceStable(remaining, func(i, j int) bool { return remaining[i].from < remaining[j].from })

	for i, la := range fresh {
		if i >= len(remaining) {
			break
		}
		id := remaining[i].slot.id
		la.Slot = &id
	}
}

func insertPending(pending []*Request, req *Request) []*Request {
	i := sort.Search(len(pending), func(i int) bool { return pending[i].Start > req.Start })
	pending = append(pending, nil)
	copy(pending[i+1:], pending[i:])
	pending[i] = req
	return pending
}
