// SPDX-License-Identifier: MIT
package assign

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openplayout/abresolver/session"
	"github.com/openplayout/abresolver/timeline"
)

func i64(v int64) *int64 { return &v }

func intp(v int) *int { return &v }

func testParts() []timeline.PartInstance {
	return []timeline.PartInstance{
		{ID: "inst1", PartID: "part1", Rank: 0},
		{ID: "inst2", PartID: "part2", Rank: 1},
	}
}

func TestBuildRequests_MergesSharedSession(t *testing.T) {
	r := session.NewResolver(testParts(), nil)
	pieces := []timeline.ResolvedPiece{
		{
			Piece: timeline.PieceInstance{
				ID: "pc1", PartInstanceID: "inst1",
				Sessions: []timeline.AB{{PoolName: "clip", SessionName: "server", Optional: true}},
			},
			Start: 0, End: i64(1000),
		},
		{
			Piece: timeline.PieceInstance{
				ID: "pc2", PartInstanceID: "inst1",
				Sessions: []timeline.AB{{PoolName: "clip", SessionName: "server"}},
			},
			Start: 500, End: i64(2000),
		},
	}

	reqs, err := BuildRequests("clip", r, pieces, nil, nil)
	require.NoError(t, err)
	require.Len(t, reqs, 1)

	assert.Equal(t, int64(0), reqs[0].Start)
	require.NotNil(t, reqs[0].End)
	assert.Equal(t, int64(2000), *reqs[0].End)
	assert.False(t, reqs[0].Optional, "merged optional flag is the AND of both tags")
}

func TestBuildRequests_OpenEndWinsMerge(t *testing.T) {
	r := session.NewResolver(testParts(), nil)
	pieces := []timeline.ResolvedPiece{
		{
			Piece: timeline.PieceInstance{
				ID: "pc1", PartInstanceID: "inst1",
				Sessions: []timeline.AB{{PoolName: "clip", SessionName: "server"}},
			},
			Start: 0, End: i64(1000),
		},
		{
			Piece: timeline.PieceInstance{
				ID: "pc2", PartInstanceID: "inst1",
				Sessions: []timeline.AB{{PoolName: "clip", SessionName: "server"}},
			},
			Start: 500, // open-ended
		},
	}

	reqs, err := BuildRequests("clip", r, pieces, nil, nil)
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Nil(t, reqs[0].End)
}

func TestBuildRequests_FiltersPool(t *testing.T) {
	r := session.NewResolver(testParts(), nil)
	pieces := []timeline.ResolvedPiece{
		{
			Piece: timeline.PieceInstance{
				ID: "pc1", PartInstanceID: "inst1",
				Sessions: []timeline.AB{
					{PoolName: "clip", SessionName: "server"},
					{PoolName: "audio", SessionName: "server"},
				},
			},
			Start: 0, End: i64(1000),
		},
	}

	reqs, err := BuildRequests("clip", r, pieces, nil, nil)
	require.NoError(t, err)
	assert.Len(t, reqs, 1)
}

func TestBuildRequests_UnknownPartInstance(t *testing.T) {
	r := session.NewResolver(testParts(), nil)
	pieces := []timeline.ResolvedPiece{
		{
			Piece: timeline.PieceInstance{
				ID: "pc1", PartInstanceID: "missing",
				Sessions: []timeline.AB{{PoolName: "clip", SessionName: "server"}},
			},
			Start: 0, End: i64(1000),
		},
	}

	_, err := BuildRequests("clip", r, pieces, nil, nil)
	require.ErrorIs(t, err, session.ErrUnknownPartInstance)
}

func TestBuildRequests_CarriesPreviousSlot(t *testing.T) {
	parts := testParts()
	pieces := []timeline.ResolvedPiece{
		{
			Piece: timeline.PieceInstance{
				ID: "pc1", PartInstanceID: "inst1",
				Sessions: []timeline.AB{{PoolName: "clip", SessionName: "server"}},
			},
			Start: 0, End: i64(1000),
		},
	}

	first := session.NewResolver(parts, nil)
	reqs, err := BuildRequests("clip", first, pieces, nil, nil)
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	require.Nil(t, reqs[0].Slot)
	id := reqs[0].SessionID

	previous := timeline.AssignmentMap{
		id: {SessionID: id, SlotID: 2},
	}
	second := session.NewResolver(parts, first.KnownSessions())
	reqs, err = BuildRequests("clip", second, pieces, nil, previous)
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, id, reqs[0].SessionID, "session id must be stable across passes")
	require.NotNil(t, reqs[0].Slot)
	assert.Equal(t, 2, *reqs[0].Slot)
}

func TestBuildRequests_LookaheadRankedByPriority(t *testing.T) {
	r := session.NewResolver(testParts(), nil)
	objects := []timeline.Object{
		{
			ID: "obj1", IsLookahead: true, Priority: 1, PartInstanceID: "partX",
			Sessions: []timeline.AB{{PoolName: "clip", SessionName: "server"}},
		},
		{
			ID: "obj2", IsLookahead: true, Priority: 5, PartInstanceID: "partY",
			Sessions: []timeline.AB{{PoolName: "clip", SessionName: "server"}},
		},
		{
			// Same nominal part as obj1: joins its group and lifts its priority.
			ID: "obj3", IsLookahead: true, Priority: 3, PartInstanceID: "partX",
			Sessions: []timeline.AB{{PoolName: "clip", SessionName: "server"}},
		},
		{
			// Lookahead with a concrete duration is not a placeholder.
			ID: "obj4", IsLookahead: true, HasDuration: true, Priority: 9, PartInstanceID: "partZ",
			Sessions: []timeline.AB{{PoolName: "clip", SessionName: "server"}},
		},
	}

	reqs, err := BuildRequests("clip", r, nil, objects, nil)
	require.NoError(t, err)
	require.Len(t, reqs, 2)

	assert.Equal(t, 1, reqs[0].LookaheadRank)
	assert.Equal(t, 2, reqs[1].LookaheadRank)
	assert.Equal(t, timeline.TimeInfinite, reqs[0].Start)
	assert.True(t, reqs[0].Optional)

	// obj2's group (priority 5) outranks obj1+obj3's (priority 3).
	id2 := r.TimelineObjectSessionID(objects[1], "server")
	assert.Equal(t, id2, reqs[0].SessionID)
}

func TestApplyAssignments(t *testing.T) {
	reqs := []*Request{
		{SessionID: "a", Start: 0, End: i64(1000), Slot: intp(1)},
		{SessionID: "b", Start: 2000, End: i64(3000)},
		{SessionID: "c", Start: timeline.TimeInfinite, LookaheadRank: 1, Slot: intp(2)},
	}

	m := ApplyAssignments(reqs)
	require.Len(t, m, 2)
	assert.Equal(t, timeline.SessionAssignment{SessionID: "a", SlotID: 1}, m["a"])
	assert.Equal(t, timeline.SessionAssignment{SessionID: "c", SlotID: 2, Lookahead: true, Rank: 1}, m["c"])
}
