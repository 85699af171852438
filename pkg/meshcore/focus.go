package meshcore

import (
	"time"
)

// SelectionFade is the fade-out applied when focus clears instead of an
// instant removal.
const SelectionFade = 1400 * time.Millisecond

// MaxFocusRoutes caps the historical routes replayed for a focused node.
const MaxFocusRoutes = 5

// Focus tracks the selected node, its neighbor/link highlight sets and
// its recent routes. Asynchronous enrichment responses are only merged
// while the generation they were requested under is still current.
type Focus struct {
	NodeID    *uint32
	Neighbors map[uint32]struct{}
	LinkKeys  map[string]struct{}
	Routes    []RouteRecord

	generation uint64
	clearedAt  time.Time
}

func NewFocus() *Focus {
	return &Focus{}
}

// Generation returns the current selection generation. Callers snapshot
// it before an async fetch and hand it back to MergeDetail.
func (f *Focus) Generation() uint64 { return f.generation }

// Active reports whether a node is focused.
func (f *Focus) Active() bool { return f.NodeID != nil }

// Select toggles focus: picking the focused node again clears it,
// anything else becomes the new focus with neighbors recomputed
// synchronously from current links. Returns whether a node is now
// focused and the new generation.
func (f *Focus) Select(s *State, fx *Effects, id uint32, now time.Time) (bool, uint64) {
	f.generation++
	if f.NodeID != nil && *f.NodeID == id {
		f.clear(now)
		return false, f.generation
	}
	f.NodeID = &id
	f.clearedAt = time.Time{}
	f.Neighbors = s.NeighborIDs(id)
	f.LinkKeys = s.IncidentLinkKeys(id)
	f.Routes = nil
	if fx != nil {
		for i := len(fx.RecentRoutes) - 1; i >= 0 && len(f.Routes) < MaxFocusRoutes; i-- {
			rec := fx.RecentRoutes[i]
			for _, h := range rec.Hops {
				if h == id {
					f.Routes = append(f.Routes, rec)
					break
				}
			}
		}
	}
	return true, f.generation
}

// Clear drops focus with a fade.
func (f *Focus) Clear(now time.Time) {
	f.generation++
	f.clear(now)
}

func (f *Focus) clear(now time.Time) {
	f.NodeID = nil
	f.Neighbors = nil
	f.LinkKeys = nil
	f.Routes = nil
	f.clearedAt = now
}

// Alpha is the focus overlay opacity: 1 while focused, fading linearly
// to 0 after a clear.
func (f *Focus) Alpha(now time.Time) float64 {
	if f.NodeID != nil {
		return 1
	}
	if f.clearedAt.IsZero() {
		return 0
	}
	a := 1 - float64(now.Sub(f.clearedAt))/float64(SelectionFade)
	if a < 0 {
		return 0
	}
	return a
}

// MergeDetail folds an authoritative /api/node response into the focus
// sets. A response for a superseded generation or a different node is
// discarded silently; that is the cancellation mechanism for in-flight
// fetches.
func (f *Focus) MergeDetail(gen uint64, id uint32, detail *NodeDetailResponse, s *State, now time.Time) bool {
	if detail == nil || gen != f.generation || f.NodeID == nil || *f.NodeID != id {
		return false
	}
	for _, peer := range detail.Peers {
		s.EnsureNode(peer.PeerID, "", now)
		f.Neighbors[peer.PeerID] = struct{}{}
		// Peer rows aggregate across ports; highlight whatever links
		// already exist for the pair rather than inventing one.
		for key, l := range s.Links {
			if (l.Source == id && l.Target == peer.PeerID) || (l.Source == peer.PeerID && l.Target == id) {
				f.LinkKeys[key] = struct{}{}
			}
		}
	}
	for _, p := range detail.Packets {
		p.Normalize(now)
		for _, route := range p.RoutePaths() {
			if len(f.Routes) >= MaxFocusRoutes {
				break
			}
			f.Routes = append(f.Routes, RouteRecord{Hops: route.Hops, Return: route.Return, At: time.Unix(p.CreatedAt, 0)})
		}
	}
	return true
}
