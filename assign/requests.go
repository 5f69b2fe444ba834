// SPDX-License-Identifier: MIT
package assign

import (
	"sort"

	"github.com/openplayout/abresolver/session"
	"github.com/openplayout/abresolver/timeline"
)

// BuildRequests produces the flat request list for one pool from resolved
// pieces and generated timeline objects. Pieces sharing a session id merge
// into a single request spanning the union of their ranges; lookahead
// placeholders become ranked open requests sorting after all real content.
// Previous-pass slot assignments are carried in as hints.
func BuildRequests(
	pool string,
	resolver *session.Resolver,
	pieces []timeline.ResolvedPiece,
	objects []timeline.Object,
	previous timeline.AssignmentMap,
) ([]*Request, error) {
	byID := make(map[string]*Request)
	var requests []*Request

	slotHint := func(id string) *int {
		if prev, ok := previous[id]; ok {
			slot := prev.SlotID
			return &slot
		}
		return nil
	}

	for _, piece := range pieces {
		for _, tag := range piece.Piece.Sessions {
			if tag.PoolName != pool {
				continue
			}
			id, err := resolver.PieceSessionID(piece.Piece, tag.SessionName)
			if err != nil {
				return nil, err
			}

			if existing, ok := byID[id]; ok {
				if piece.Start < existing.Start {
					existing.Start = piece.Start
				}
				if existing.End == nil || piece.End == nil {
					existing.End = nil
				} else if *piece.End > *existing.End {
					end := *piece.End
					existing.End = &end
				}
				existing.Optional = existing.Optional && tag.Optional
				continue
			}

			req := &Request{
				SessionID: id,
				Start:     piece.Start,
				Optional:  tag.Optional,
				Slot:      slotHint(id),
			}
			if piece.End != nil {
				end := *piece.End
				req.End = &end
			}
			byID[id] = req
			requests = append(requests, req)
		}
	}

	// Lookahead placeholders: instantaneous lookahead objects grouped by
	// session id, ranked by the highest object priority in each group.
	type lookaheadGroup struct {
		sessionID string
		priority  float64
	}
	groupIndex := make(map[string]int)
	var groups []lookaheadGroup

	for _, obj := range objects {
		if !obj.IsLookahead || obj.HasDuration {
			continue
		}
		for _, tag := range obj.Sessions {
			if tag.PoolName != pool {
				continue
			}
			id := resolver.TimelineObjectSessionID(obj, tag.SessionName)
			if id == "" {
				continue
			}
			if _, taken := byID[id]; taken {
				continue
			}
			if i, ok := groupIndex[id]; ok {
				if obj.Priority > groups[i].priority {
					groups[i].priority = obj.Priority
				}
				continue
			}
			groupIndex[id] = len(groups)
			groups = append(groups, lookaheadGroup{sessionID: id, priority: obj.Priority})
		}
	}

	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].priority > groups[j].priority
	})

	for i, g := range groups {
		requests = append(requests, &Request{
			SessionID:     g.sessionID,
			Start:         timeline.TimeInfinite,
			Optional:      true,
			LookaheadRank: i + 1,
			Slot:          slotHint(g.sessionID),
		})
	}

	return requests, nil
}
