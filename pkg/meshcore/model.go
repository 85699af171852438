package meshcore

import (
	"fmt"
	"image/color"
	"math"
	"time"
)

// Heat tuning. Heat is a decaying activity scalar read lazily at draw
// time; nothing ticks it in the background.
const (
	NodeHeatGain     = 0.7
	NodeHeatMax      = 4.5
	NodeHeatHalfLife = 3400 * time.Millisecond

	LinkHeatGain         = 1.0
	LinkHeatMax          = 6.0
	LinkHeatHalfLife     = 30 * time.Second
	LinkHeatHalfLifeWide = 45 * time.Second

	LinkFlashDuration = 650 * time.Millisecond
)

// DefaultPacketRing caps the recent-packet feed.
const DefaultPacketRing = 200

// Node palette. Ids hash deterministically into this table so a node
// keeps its color across restarts and views.
var nodePalette = []color.RGBA{
	{91, 200, 255, 255},
	{123, 255, 155, 255},
	{255, 209, 102, 255},
	{255, 107, 154, 255},
	{181, 155, 255, 255},
	{96, 255, 231, 255},
	{255, 158, 94, 255},
	{173, 255, 47, 255},
	{255, 120, 203, 255},
	{120, 162, 255, 255},
}

// NodeColor hashes an id into the palette.
func NodeColor(id uint32) color.RGBA {
	return nodePalette[(id*2654435761)%uint32(len(nodePalette))]
}

// Node is one mesh participant, including the distinguished broadcast
// pseudo-node. Layout fields are owned by the graph view's simulation;
// geo fields by the topo view.
type Node struct {
	ID         uint32
	Label      string
	LongName   string
	ShortName  string
	Count      int
	LastSeen   int64
	LastActive time.Time
	Color      color.RGBA

	heat       float64
	lastHeatAt time.Time

	LastSendColor    color.RGBA
	LastReceiveColor color.RGBA

	// Geographic position, when a position packet has been seen.
	Lat, Lon       *float64
	Alt            *int64
	LastPositionAt time.Time

	// Force-layout state.
	X, Y   float64
	VX, VY float64
	FX, FY *float64
	HasPos bool
	Degree int
}

// Heat returns the current decayed heat without mutating stored state.
func (n *Node) Heat(now time.Time) float64 {
	return decayHeat(n.heat, n.lastHeatAt, now, NodeHeatHalfLife)
}

// BumpHeat folds decay-to-now into the stored value, adds the bump and
// clamps. Bumping twice at the same instant equals one summed bump.
func (n *Node) BumpHeat(amount float64, now time.Time) {
	n.heat = decayHeat(n.heat, n.lastHeatAt, now, NodeHeatHalfLife)
	n.lastHeatAt = now
	n.heat = math.Min(n.heat+amount, NodeHeatMax)
}

// IsBroadcast reports whether this is the broadcast pseudo-node.
func (n *Node) IsBroadcast() bool { return n.ID == BroadcastID }

// DisplayName prefers self-reported names over the fallback label.
func (n *Node) DisplayName() string {
	if n.ShortName != "" {
		return n.ShortName
	}
	if n.LongName != "" {
		return n.LongName
	}
	return n.Label
}

// Link is an observed unicast pair plus port, keyed by LinkKey. Links are
// never deleted; stale ones fade out visually once LastSeen ages.
type Link struct {
	Source, Target uint32
	Portnum        int32
	Portname       string
	Count          int
	LastSeen       int64
	FlashUntil     time.Time
	Color          color.RGBA

	heat       float64
	lastHeatAt time.Time
	halfLife   time.Duration
}

// LinkKey builds the map key for a directed pair and port.
func LinkKey(source, target uint32, portnum int32) string {
	return fmt.Sprintf("%d-%d-%d", source, target, portnum)
}

func (l *Link) Key() string { return LinkKey(l.Source, l.Target, l.Portnum) }

func (l *Link) Heat(now time.Time) float64 {
	return decayHeat(l.heat, l.lastHeatAt, now, l.halfLife)
}

func (l *Link) BumpHeat(amount float64, now time.Time) {
	l.heat = decayHeat(l.heat, l.lastHeatAt, now, l.halfLife)
	l.lastHeatAt = now
	l.heat = math.Min(l.heat+amount, LinkHeatMax)
}

func decayHeat(stored float64, last, now time.Time, halfLife time.Duration) float64 {
	if stored <= 0 || last.IsZero() {
		return 0
	}
	dt := now.Sub(last)
	if dt <= 0 {
		return stored
	}
	return stored * math.Exp(-float64(dt)/float64(halfLife))
}

// ConnState is the feed connection status surfaced on the HUD.
type ConnState int

const (
	ConnConnecting ConnState = iota
	ConnOnline
	ConnOffline
)

func (c ConnState) String() string {
	switch c {
	case ConnOnline:
		return "online"
	case ConnOffline:
		return "offline"
	default:
		return "connecting"
	}
}

// State is the single source of truth both views render from. It is
// guarded by the owning engine's mutex; State itself does no locking.
type State struct {
	Nodes   map[uint32]*Node
	Links   map[string]*Link
	Packets []*Packet // most recent first, capped at MaxPackets

	MaxPackets   int
	LinkHalfLife time.Duration

	Filters Filters
	Paused  bool
	Conn    ConnState
}

func NewState() *State {
	return &State{
		Nodes:        make(map[uint32]*Node),
		Links:        make(map[string]*Link),
		MaxPackets:   DefaultPacketRing,
		LinkHalfLife: LinkHeatHalfLife,
		Filters:      NewFilters(),
		Conn:         ConnConnecting,
	}
}

// EnsureNode resolves or creates a node entry. The second return reports
// creation, which callers treat as a topology change.
func (s *State) EnsureNode(id uint32, label string, now time.Time) (*Node, bool) {
	if n, ok := s.Nodes[id]; ok {
		if label != "" && label != FallbackLabel(&id) {
			n.Label = label
		}
		return n, false
	}
	if label == "" {
		label = FallbackLabel(&id)
	}
	n := &Node{
		ID:         id,
		Label:      label,
		Color:      NodeColor(id),
		LastActive: now,
	}
	if id == BroadcastID {
		n.Label = "broadcast"
		n.Color = color.RGBA{255, 255, 255, 255}
	}
	s.Nodes[id] = n
	return n, true
}

// EnsureLink resolves or creates the directed link for a unicast pair.
func (s *State) EnsureLink(source, target uint32, portnum int32, portname string, now time.Time) (*Link, bool) {
	key := LinkKey(source, target, portnum)
	if l, ok := s.Links[key]; ok {
		return l, false
	}
	l := &Link{
		Source:   source,
		Target:   target,
		Portnum:  portnum,
		Portname: portname,
		Color:    PortColor(portnum),
		halfLife: s.LinkHalfLife,
	}
	s.Links[key] = l
	if a, ok := s.Nodes[source]; ok {
		a.Degree++
	}
	if b, ok := s.Nodes[target]; ok {
		b.Degree++
	}
	return l, true
}

// LabelFor resolves a node id to its best known display label.
func (s *State) LabelFor(id uint32) string {
	if n, ok := s.Nodes[id]; ok {
		return n.DisplayName()
	}
	return FallbackLabel(&id)
}

// PushPacket prepends to the bounded recent-packet ring.
func (s *State) PushPacket(p *Packet) {
	s.Packets = append(s.Packets, nil)
	copy(s.Packets[1:], s.Packets)
	s.Packets[0] = p
	if len(s.Packets) > s.MaxPackets {
		s.Packets = s.Packets[:s.MaxPackets]
	}
}

// NeighborIDs collects the ids linked to the given node.
func (s *State) NeighborIDs(id uint32) map[uint32]struct{} {
	out := make(map[uint32]struct{})
	for _, l := range s.Links {
		if l.Source == id {
			out[l.Target] = struct{}{}
		}
		if l.Target == id {
			out[l.Source] = struct{}{}
		}
	}
	return out
}

// IncidentLinkKeys collects keys of links touching the given node.
func (s *State) IncidentLinkKeys(id uint32) map[string]struct{} {
	out := make(map[string]struct{})
	for key, l := range s.Links {
		if l.Source == id || l.Target == id {
			out[key] = struct{}{}
		}
	}
	return out
}

// ApplyGraph reconciles a polled /api/graph summary into the model,
// reporting whether topology changed. Counts from the summary win over
// locally accumulated ones; live heat state is left untouched.
func (s *State) ApplyGraph(g *GraphResponse, now time.Time) bool {
	if g == nil {
		return false
	}
	changed := false
	for _, gn := range g.Nodes {
		if _, created := s.EnsureNode(gn.ID, gn.Label, now); created {
			changed = true
		}
	}
	for _, gl := range g.Links {
		_, createdA := s.EnsureNode(gl.Source, "", now)
		_, createdB := s.EnsureNode(gl.Target, "", now)
		l, created := s.EnsureLink(gl.Source, gl.Target, gl.Portnum, gl.Portname, now)
		if gl.Count > l.Count {
			l.Count = gl.Count
		}
		if gl.LastSeen > l.LastSeen {
			l.LastSeen = gl.LastSeen
		}
		changed = changed || created || createdA || createdB
	}
	return changed
}

// PortColor maps a port number to the accent color used for its links
// and pulses.
func PortColor(portnum int32) color.RGBA {
	switch portnum {
	case PortText:
		return color.RGBA{91, 200, 255, 255}
	case PortPosition:
		return color.RGBA{123, 255, 155, 255}
	case PortNodeInfo:
		return color.RGBA{255, 209, 102, 255}
	case PortRouting:
		return color.RGBA{255, 107, 154, 255}
	case PortTelemetry:
		return color.RGBA{181, 155, 255, 255}
	case PortTraceroute:
		return color.RGBA{96, 255, 231, 255}
	default:
		return color.RGBA{150, 160, 180, 255}
	}
}
