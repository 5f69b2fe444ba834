// SPDX-License-Identifier: MIT
package timeline

import "math"

// Times are timeline-relative milliseconds. TimeInfinite marks a start that
// sorts after every real start (used for lookahead placeholders).
const TimeInfinite = int64(math.MaxInt64)

type (
	PartID             string
	PartInstanceID     string
	PieceInstanceID    string
	InfiniteInstanceID string
	ObjectID           string
)

// PartInstance is one loaded instance of a rundown part. Instances handed to
// the session resolver must be ordered by part rank.
type PartInstance struct {
	ID     PartInstanceID
	PartID PartID
	Rank   float64
}

// AB tags a piece or timeline object as demanding exclusive use of one slot
// from the named pool for the lifetime of the tagged content.
type AB struct {
	PoolName    string
	SessionName string
	Optional    bool
}

// PieceInstance is the playback-item descriptor the resolver consumes. The
// rundown data model that produces it is out of scope.
type PieceInstance struct {
	ID                 PieceInstanceID
	PartInstanceID     PartInstanceID
	InfiniteInstanceID InfiniteInstanceID // empty unless continuing an infinite piece
	Sessions           []AB
}

// ResolvedPiece is a piece instance placed on the timeline. A nil End means
// the piece is open-ended (still playing until replaced).
type ResolvedPiece struct {
	Piece PieceInstance
	Start int64
	End   *int64
}

// Object is a generated timeline object. Lookahead placeholders carry
// IsLookahead with no duration; PartInstanceID may name either a loaded part
// instance or, for lookahead objects, the nominal part itself.
type Object struct {
	ID                 ObjectID
	Priority           float64
	IsLookahead        bool
	HasDuration        bool
	PartInstanceID     PartInstanceID
	InfiniteInstanceID InfiniteInstanceID
	Sessions           []AB
}

// SessionMetadata is the persistable form of one known session. The caller
// stores the list returned by session.Resolver.KnownSessions across passes
// and feeds it back in on the next pass.
type SessionMetadata struct {
	ID                 string
	Name               string
	InfiniteInstanceID InfiniteInstanceID
	LookaheadForPartID PartID
	PartInstanceIDs    []PartInstanceID
}

// SessionAssignment records which slot a session held at the end of a pass.
type SessionAssignment struct {
	SessionID string
	SlotID    int
	Lookahead bool
	Rank      int
}

// AssignmentMap is the previous-assignment snapshot, keyed by session id.
// The resolver never mutates a supplied map; it always produces a fresh one.
type AssignmentMap map[string]SessionAssignment
