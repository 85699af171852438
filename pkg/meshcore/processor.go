package meshcore

import (
	"image/color"
	"time"
)

// EffectKind selects the ripple profile a visual event spawns with.
type EffectKind int

const (
	EffectSend EffectKind = iota
	EffectReceive
	EffectBroadcast
	EffectBroadcastCore
	EffectRoute
	EffectLink
)

// EffectSink receives visual-only requests emitted while packets mutate
// the model. Implementations must be cheap and must never fail the
// data-model update; the engines implement this, tests use a recorder.
type EffectSink interface {
	NodePulse(id uint32, kind EffectKind, c color.RGBA)
	LinkShock(key string, c color.RGBA)
	RouteAnimation(path []uint32, ret bool)
	MessageBubble(id uint32, text string)
}

// NopSink discards all effect requests.
type NopSink struct{}

func (NopSink) NodePulse(uint32, EffectKind, color.RGBA) {}
func (NopSink) LinkShock(string, color.RGBA)             {}
func (NopSink) RouteAnimation([]uint32, bool)            {}
func (NopSink) MessageBubble(uint32, string)             {}

// Directory is the optional write-through store for node identity and
// positions so they survive restarts.
type Directory interface {
	PutNames(id uint32, long, short string) error
	PutPosition(id uint32, lat, lon float64, alt *int64) error
}

// ApplyResult tells the caller what kind of re-render a flush warrants.
// RoutesEmitted counts individual route legs so rate displays stay
// accurate when one flush carries several traceroutes.
type ApplyResult struct {
	TopologyChanged bool
	RoutesChanged   bool
	Processed       bool
	RoutesEmitted   int
}

func (r *ApplyResult) merge(o ApplyResult) {
	r.TopologyChanged = r.TopologyChanged || o.TopologyChanged
	r.RoutesChanged = r.RoutesChanged || o.RoutesChanged
	r.Processed = r.Processed || o.Processed
	r.RoutesEmitted += o.RoutesEmitted
}

// Heat bump asymmetry. Receivers of unicast traffic glow harder than
// senders; broadcasts warm the shared pseudo-node gently.
const (
	sendHeatFactor      = 0.55
	receiveHeatFactor   = 0.9
	broadcastHeatFactor = 0.4
)

// Processor owns all per-packet model mutation.
type Processor struct {
	State *State
	Sink  EffectSink
	Dir   Directory
}

func NewProcessor(s *State, sink EffectSink) *Processor {
	if sink == nil {
		sink = NopSink{}
	}
	return &Processor{State: s, Sink: sink}
}

// Apply runs one normalized packet through the model: node/link upkeep,
// heat bumps, route detection, effect emission, feed ring update. A
// malformed packet degrades to whatever subset of these is possible.
func (pr *Processor) Apply(p *Packet, now time.Time) ApplyResult {
	var res ApplyResult
	s := pr.State
	if p == nil || s.Paused {
		return res
	}
	p.Normalize(now)
	if !s.Filters.Match(p, now) {
		return res
	}
	res.Processed = true

	portnum := int32(-1)
	if p.Portnum != nil {
		portnum = *p.Portnum
	}
	accent := PortColor(portnum)

	var from *Node
	if p.FromID != nil {
		var created bool
		from, created = s.EnsureNode(*p.FromID, p.FromLabel, now)
		res.TopologyChanged = res.TopologyChanged || created
		from.Count++
		from.LastSeen = p.CreatedAt
		from.LastActive = now
		from.LastSendColor = accent
	}

	if p.IsBroadcast() {
		bc, created := s.EnsureNode(BroadcastID, "broadcast", now)
		res.TopologyChanged = res.TopologyChanged || created
		bc.Count++
		bc.LastSeen = p.CreatedAt
		bc.LastActive = now
		bc.BumpHeat(NodeHeatGain*broadcastHeatFactor, now)
		if from != nil {
			from.BumpHeat(NodeHeatGain*sendHeatFactor, now)
			pr.Sink.NodePulse(from.ID, EffectBroadcast, accent)
		}
		pr.Sink.NodePulse(BroadcastID, EffectBroadcastCore, accent)
	} else if p.ToID != nil {
		to, created := s.EnsureNode(*p.ToID, p.ToLabel, now)
		res.TopologyChanged = res.TopologyChanged || created
		to.Count++
		to.LastSeen = p.CreatedAt
		to.LastActive = now
		to.LastReceiveColor = accent
		to.BumpHeat(NodeHeatGain*receiveHeatFactor, now)
		if from != nil {
			from.BumpHeat(NodeHeatGain*sendHeatFactor, now)
			link, linkCreated := s.EnsureLink(from.ID, to.ID, portnum, p.Portname, now)
			res.TopologyChanged = res.TopologyChanged || linkCreated
			link.Count++
			if p.CreatedAt > link.LastSeen {
				link.LastSeen = p.CreatedAt
			}
			link.BumpHeat(LinkHeatGain, now)
			link.FlashUntil = now.Add(LinkFlashDuration)
			pr.Sink.NodePulse(from.ID, EffectSend, accent)
			pr.Sink.NodePulse(to.ID, EffectReceive, accent)
			pr.Sink.LinkShock(link.Key(), accent)
		}
	}

	pr.applyDetails(p, now)

	for _, route := range p.RoutePaths() {
		pr.Sink.RouteAnimation(route.Hops, route.Return)
		res.RoutesChanged = true
		res.RoutesEmitted++
		if !route.Return {
			// Readable "a -> b -> c" bubble at the route origin.
			pr.Sink.MessageBubble(route.Hops[0], RouteText(route.Hops, s.LabelFor))
		}
	}

	if text, ok := p.MessageText(); ok && from != nil {
		pr.Sink.MessageBubble(from.ID, text)
	}

	s.PushPacket(p)
	return res
}

// ApplyBatch processes packets in arrival order, merging results.
func (pr *Processor) ApplyBatch(packets []*Packet, now time.Time) ApplyResult {
	var res ApplyResult
	for _, p := range packets {
		res.merge(pr.Apply(p, now))
	}
	return res
}

// applyDetails folds port-specific payloads into node state: identity
// from nodeinfo, coordinates from position reports. Directory writes are
// best-effort.
func (pr *Processor) applyDetails(p *Packet, now time.Time) {
	if p.FromID == nil {
		return
	}
	n, ok := pr.State.Nodes[*p.FromID]
	if !ok {
		return
	}
	switch d := p.Details.(type) {
	case *NodeInfoDetails:
		long, short := d.Names()
		if long != "" {
			n.LongName = long
		}
		if short != "" {
			n.ShortName = short
		}
		if pr.Dir != nil && (long != "" || short != "") {
			_ = pr.Dir.PutNames(n.ID, n.LongName, n.ShortName)
		}
	case *PositionDetails:
		if lat, lon, ok := d.Coords(); ok && (lat != 0 || lon != 0) {
			n.Lat, n.Lon = &lat, &lon
			n.Alt = d.Altitude
			n.LastPositionAt = now
			if pr.Dir != nil {
				_ = pr.Dir.PutPosition(n.ID, lat, lon, d.Altitude)
			}
		}
	}
}
