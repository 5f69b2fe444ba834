// SPDX-License-Identifier: MIT

// Package session produces stable session ids for playback items. A session
// id survives recomputation, infinite-piece continuations, continuation
// across adjacent parts, and promotion of lookahead-only sessions into real
// ones, so that slot assignments downstream stay continuous.
package session

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/openplayout/abresolver/internal/log"
	"github.com/openplayout/abresolver/timeline"
)

var (
	// ErrUnknownPartInstance classifies a piece whose part-instance linkage
	// cannot be found. This indicates inconsistent caller state and is never
	// guessed at. Use errors.Is(err, ErrUnknownPartInstance).
	ErrUnknownPartInstance = errors.New("unknown part instance")
)

// record is one known session plus its liveness mark for the current pass.
type record struct {
	meta    timeline.SessionMetadata
	touched bool
}

// Resolver owns the session table for one resolution pass. Construct it from
// the metadata persisted after the previous pass; after resolving everything,
// read KnownSessions and persist that for the next pass. Sessions never
// touched during the pass are dropped at that boundary.
//
// Not safe for concurrent use; the caller's per-playlist lock covers it.
type Resolver struct {
	logger        zerolog.Logger
	partInstances []timeline.PartInstance // ordered by part rank
	records       []*record               // scan order is creation order, kept deterministic
	newID         func() string
}

// NewResolver begins a pass. partInstances must be the relevant loaded part
// instances ordered by part rank; previous is the metadata persisted after
// the prior pass (nil on first run).
func NewResolver(partInstances []timeline.PartInstance, previous []timeline.SessionMetadata) *Resolver {
	r := &Resolver{
		logger:        log.WithComponent("session.resolver"),
		partInstances: partInstances,
		newID:         func() string { return uuid.New().String() },
	}
	for _, meta := range previous {
		m := meta
		m.PartInstanceIDs = append([]timeline.PartInstanceID(nil), meta.PartInstanceIDs...)
		r.records = append(r.records, &record{meta: m})
	}
	return r
}

// PieceSessionID resolves the stable session id for a piece instance and a
// logical session name. It fails only when the piece's part instance is not
// among the known part instances.
func (r *Resolver) PieceSessionID(piece timeline.PieceInstance, name string) (string, error) {
	part, ok := r.partInstance(piece.PartInstanceID)
	if !ok {
		return "", fmt.Errorf("piece %q: part instance %q: %w", piece.ID, piece.PartInstanceID, ErrUnknownPartInstance)
	}

	// An infinite continuation reuses the session of its earlier segment.
	if piece.InfiniteInstanceID != "" {
		if rec := r.findInfinite(piece.InfiniteInstanceID, name); rec != nil {
			r.reuse(rec, piece.InfiniteInstanceID)
			return rec.meta.ID, nil
		}
	}

	// The same part instance asking again gets the same session.
	if rec := r.findByPartInstance(piece.PartInstanceID, name); rec != nil {
		r.reuse(rec, piece.InfiniteInstanceID)
		return rec.meta.ID, nil
	}

	// Continuation across a take: the part instance ordered immediately
	// before this one may already hold the session under the same name.
	if prev, ok := r.previousPartInstance(part.ID); ok {
		if rec := r.findByPartInstance(prev.ID, name); rec != nil {
			rec.meta.PartInstanceIDs = append(rec.meta.PartInstanceIDs, piece.PartInstanceID)
			r.reuse(rec, piece.InfiniteInstanceID)
			return rec.meta.ID, nil
		}
	}

	// A lookahead-only session tagged for this part becomes the real one.
	if rec := r.findLookahead(part.PartID, name); rec != nil {
		rec.meta.PartInstanceIDs = []timeline.PartInstanceID{piece.PartInstanceID}
		rec.meta.LookaheadForPartID = ""
		rec.touched = true
		r.logger.Debug().Str("session", rec.meta.ID).Str("name", name).Msg("promoted lookahead session")
		return rec.meta.ID, nil
	}

	meta := timeline.SessionMetadata{
		ID:                 r.newID(),
		Name:               name,
		InfiniteInstanceID: piece.InfiniteInstanceID,
	}
	if piece.InfiniteInstanceID == "" {
		meta.PartInstanceIDs = []timeline.PartInstanceID{piece.PartInstanceID}
	}
	r.records = append(r.records, &record{meta: meta, touched: true})
	r.logger.Debug().Str("session", meta.ID).Str("name", name).Msg("created session")
	return meta.ID, nil
}

// TimelineObjectSessionID resolves the session id for a generated timeline
// object, or "" when the object has no part or infinite linkage to resolve
// against.
func (r *Resolver) TimelineObjectSessionID(obj timeline.Object, name string) string {
	if obj.InfiniteInstanceID != "" {
		if rec := r.findInfinite(obj.InfiniteInstanceID, name); rec != nil {
			rec.touched = true
			return rec.meta.ID
		}
	}

	if obj.PartInstanceID == "" {
		return ""
	}

	if rec := r.findByPartInstance(obj.PartInstanceID, name); rec != nil {
		rec.touched = true
		return rec.meta.ID
	}

	if !obj.IsLookahead {
		return ""
	}

	// A lookahead object references its nominal part, either directly or via
	// a currently-loaded part instance.
	partID := timeline.PartID(obj.PartInstanceID)
	part, partInstanceKnown := r.partInstance(obj.PartInstanceID)
	if partInstanceKnown {
		partID = part.PartID
	}

	if rec := r.findLookahead(partID, name); rec != nil {
		if partInstanceKnown && !containsPartInstance(rec.meta.PartInstanceIDs, obj.PartInstanceID) {
			rec.meta.PartInstanceIDs = append(rec.meta.PartInstanceIDs, obj.PartInstanceID)
		}
		rec.touched = true
		return rec.meta.ID
	}

	meta := timeline.SessionMetadata{
		ID:                 r.newID(),
		Name:               name,
		LookaheadForPartID: partID,
	}
	if partInstanceKnown {
		meta.PartInstanceIDs = []timeline.PartInstanceID{obj.PartInstanceID}
	}
	r.records = append(r.records, &record{meta: meta, touched: true})
	r.logger.Debug().Str("session", meta.ID).Str("name", name).Str("part", string(partID)).Msg("created lookahead session")
	return meta.ID
}

// KnownSessions ends the pass: it returns the sessions touched during this
// pass in persistable form. Untouched sessions are not carried forward.
func (r *Resolver) KnownSessions() []timeline.SessionMetadata {
	out := make([]timeline.SessionMetadata, 0, len(r.records))
	for _, rec := range r.records {
		if !rec.touched {
			continue
		}
		m := rec.meta
		m.PartInstanceIDs = append([]timeline.PartInstanceID(nil), rec.meta.PartInstanceIDs...)
		out = append(out, m)
	}
	return out
}

// reuse marks a continued session live, attaches the infinite linkage when
// the piece carries one, and clears any stale lookahead tag.
func (r *Resolver) reuse(rec *record, infinite timeline.InfiniteInstanceID) {
	if infinite != "" {
		rec.meta.InfiniteInstanceID = infinite
	}
	rec.meta.LookaheadForPartID = ""
	rec.touched = true
}

func (r *Resolver) partInstance(id timeline.PartInstanceID) (timeline.PartInstance, bool) {
	for _, pi := range r.partInstances {
		if pi.ID == id {
			return pi, true
		}
	}
	return timeline.PartInstance{}, false
}

// previousPartInstance returns the part instance ordered immediately before
// the given one, if any.
func (r *Resolver) previousPartInstance(id timeline.PartInstanceID) (timeline.PartInstance, bool) {
	for i, pi := range r.partInstances {
		if pi.ID == id {
			if i == 0 {
				return timeline.PartInstance{}, false
			}
			return r.partInstances[i-1], true
		}
	}
	return timeline.PartInstance{}, false
}

func (r *Resolver) findInfinite(infinite timeline.InfiniteInstanceID, name string) *record {
	for _, rec := range r.records {
		if rec.meta.InfiniteInstanceID == infinite && rec.meta.Name == name {
			return rec
		}
	}
	return nil
}

func (r *Resolver) findByPartInstance(id timeline.PartInstanceID, name string) *record {
	for _, rec := range r.records {
		if rec.meta.Name == name && containsPartInstance(rec.meta.PartInstanceIDs, id) {
			return rec
		}
	}
	return nil
}

func (r *Resolver) findLookahead(partID timeline.PartID, name string) *record {
	for _, rec := range r.records {
		if rec.meta.LookaheadForPartID == partID && rec.meta.Name == name {
			return rec
		}
	}
	return nil
}

func containsPartInstance(ids []timeline.PartInstanceID, id timeline.PartInstanceID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
