package meshcore

import (
	"image/color"
	"strings"
	"testing"
	"time"
)

// recorderSink captures emitted effects for assertions.
type recorderSink struct {
	pulses []struct {
		id   uint32
		kind EffectKind
	}
	shocks  []string
	routes  [][]uint32
	returns []bool
	bubbles []string
}

func (r *recorderSink) NodePulse(id uint32, kind EffectKind, _ color.RGBA) {
	r.pulses = append(r.pulses, struct {
		id   uint32
		kind EffectKind
	}{id, kind})
}
func (r *recorderSink) LinkShock(key string, _ color.RGBA) { r.shocks = append(r.shocks, key) }
func (r *recorderSink) RouteAnimation(path []uint32, ret bool) {
	r.routes = append(r.routes, path)
	r.returns = append(r.returns, ret)
}
func (r *recorderSink) MessageBubble(_ uint32, text string) { r.bubbles = append(r.bubbles, text) }

// memDirectory is an in-memory Directory for tests.
type memDirectory struct {
	names     map[uint32][2]string
	positions map[uint32][2]float64
}

func newMemDirectory() *memDirectory {
	return &memDirectory{names: make(map[uint32][2]string), positions: make(map[uint32][2]float64)}
}

func (d *memDirectory) PutNames(id uint32, long, short string) error {
	d.names[id] = [2]string{long, short}
	return nil
}

func (d *memDirectory) PutPosition(id uint32, lat, lon float64, _ *int64) error {
	d.positions[id] = [2]float64{lat, lon}
	return nil
}

func TestApplyUnicastCreatesLink(t *testing.T) {
	now := time.Unix(1700000000, 0)
	s := NewState()
	sink := &recorderSink{}
	pr := NewProcessor(s, sink)

	res := pr.Apply(textPacket(1, 2, "hi", now.Unix()), now)
	if !res.Processed || !res.TopologyChanged {
		t.Errorf("res = %+v", res)
	}
	link := s.Links[LinkKey(1, 2, PortText)]
	if link == nil {
		t.Fatal("link not created")
	}
	if link.Count != 1 {
		t.Errorf("link count = %d", link.Count)
	}
	if s.Nodes[1].Count != 1 || s.Nodes[2].Count != 1 {
		t.Error("endpoint counts not bumped")
	}
	// Receiver glows harder than the sender.
	if hs, hr := s.Nodes[1].Heat(now), s.Nodes[2].Heat(now); hs >= hr {
		t.Errorf("sender heat %v >= receiver heat %v", hs, hr)
	}
	if len(sink.shocks) != 1 || sink.shocks[0] != link.Key() {
		t.Errorf("shocks = %v", sink.shocks)
	}
	if len(sink.bubbles) != 1 || sink.bubbles[0] != "hi" {
		t.Errorf("bubbles = %v", sink.bubbles)
	}

	// Second packet over the same pair only bumps counters.
	res = pr.Apply(textPacket(1, 2, "again", now.Unix()), now)
	if res.TopologyChanged {
		t.Error("repeat packet reported topology change")
	}
	if link.Count != 2 {
		t.Errorf("link count = %d, want 2", link.Count)
	}
}

func TestApplyBroadcastNeverCreatesLinks(t *testing.T) {
	now := time.Unix(1700000000, 0)
	s := NewState()
	sink := &recorderSink{}
	pr := NewProcessor(s, sink)

	p := textPacket(1, BroadcastID, "to everyone", now.Unix())
	res := pr.Apply(p, now)
	if !res.Processed {
		t.Fatal("not processed")
	}
	if len(s.Links) != 0 {
		t.Errorf("broadcast created %d links", len(s.Links))
	}
	if _, ok := s.Nodes[BroadcastID]; !ok {
		t.Error("broadcast pseudo-node missing")
	}
	// Sender ripple plus the broadcast core ripple.
	var kinds []EffectKind
	for _, pulse := range sink.pulses {
		kinds = append(kinds, pulse.kind)
	}
	if len(kinds) != 2 || kinds[0] != EffectBroadcast || kinds[1] != EffectBroadcastCore {
		t.Errorf("pulse kinds = %v", kinds)
	}

	// Nil destination counts as broadcast too.
	p2 := &Packet{FromID: u32(3), Portnum: i32(PortText), Text: "implicit"}
	pr.Apply(p2, now)
	if len(s.Links) != 0 {
		t.Error("nil destination created a link")
	}
}

func TestApplyPausedDropsEverything(t *testing.T) {
	now := time.Unix(1700000000, 0)
	s := NewState()
	s.Paused = true
	pr := NewProcessor(s, nil)

	res := pr.Apply(textPacket(1, 2, "hi", now.Unix()), now)
	if res.Processed {
		t.Error("paused state processed a packet")
	}
	if len(s.Nodes) != 0 || len(s.Packets) != 0 {
		t.Error("paused state mutated the model")
	}
}

func TestApplyFilteredPacketSkipped(t *testing.T) {
	now := time.Unix(1700000000, 0)
	s := NewState()
	s.Filters.SetPortnums([]int32{PortTelemetry})
	pr := NewProcessor(s, nil)

	res := pr.Apply(textPacket(1, 2, "hi", now.Unix()), now)
	if res.Processed {
		t.Error("filtered packet processed")
	}
	if len(s.Nodes) != 0 {
		t.Error("filtered packet mutated nodes")
	}
}

func TestApplyNodeInfoUpdatesNames(t *testing.T) {
	now := time.Unix(1700000000, 0)
	s := NewState()
	dir := newMemDirectory()
	pr := NewProcessor(s, nil)
	pr.Dir = dir

	p := &Packet{
		FromID:     u32(5),
		ToID:       u32(BroadcastID),
		Portnum:    i32(PortNodeInfo),
		RawDetails: []byte(`{"user":{"long_name":"Ridge Repeater","short_name":"RDGE"}}`),
	}
	pr.Apply(p, now)

	n := s.Nodes[5]
	if n.LongName != "Ridge Repeater" || n.ShortName != "RDGE" {
		t.Errorf("names = %q/%q", n.LongName, n.ShortName)
	}
	if n.DisplayName() != "RDGE" {
		t.Errorf("DisplayName = %q", n.DisplayName())
	}
	if got := dir.names[5]; got != [2]string{"Ridge Repeater", "RDGE"} {
		t.Errorf("directory names = %v", got)
	}
}

func TestApplyPositionUpdatesCoords(t *testing.T) {
	now := time.Unix(1700000000, 0)
	s := NewState()
	dir := newMemDirectory()
	pr := NewProcessor(s, nil)
	pr.Dir = dir

	p := &Packet{
		FromID:     u32(6),
		ToID:       u32(BroadcastID),
		Portnum:    i32(PortPosition),
		RawDetails: []byte(`{"latitude":48.2,"longitude":16.4}`),
	}
	pr.Apply(p, now)

	n := s.Nodes[6]
	if n.Lat == nil || n.Lon == nil || *n.Lat != 48.2 || *n.Lon != 16.4 {
		t.Errorf("coords = %v, %v", n.Lat, n.Lon)
	}
	if got := dir.positions[6]; got != [2]float64{48.2, 16.4} {
		t.Errorf("directory position = %v", got)
	}

	// A zero/zero report is treated as "no fix" and ignored.
	p2 := &Packet{
		FromID:     u32(6),
		ToID:       u32(BroadcastID),
		Portnum:    i32(PortPosition),
		RawDetails: []byte(`{"latitude":0,"longitude":0}`),
	}
	pr.Apply(p2, now)
	if *s.Nodes[6].Lat != 48.2 {
		t.Error("zero position overwrote a real fix")
	}
}

func TestApplyTracerouteEmitsRoutes(t *testing.T) {
	now := time.Unix(1700000000, 0)
	s := NewState()
	sink := &recorderSink{}
	pr := NewProcessor(s, sink)

	p := &Packet{
		FromID:     u32(1),
		ToID:       u32(4),
		Portnum:    i32(PortTraceroute),
		RawDetails: []byte(`{"route":[2,3],"route_back":[3,2]}`),
	}
	res := pr.Apply(p, now)
	if !res.RoutesChanged {
		t.Error("RoutesChanged not set")
	}
	if res.RoutesEmitted != 2 {
		t.Errorf("RoutesEmitted = %d, want 2 (one per leg)", res.RoutesEmitted)
	}
	if len(sink.routes) != 2 {
		t.Fatalf("routes = %v", sink.routes)
	}
	if !equalHops(sink.routes[0], []uint32{1, 2, 3, 4}) || sink.returns[0] {
		t.Errorf("forward leg = %v", sink.routes[0])
	}
	if !equalHops(sink.routes[1], []uint32{4, 3, 2, 1}) || !sink.returns[1] {
		t.Errorf("return leg = %v", sink.routes[1])
	}
	// The forward leg also surfaces as a readable route bubble.
	if len(sink.bubbles) != 1 || !strings.Contains(sink.bubbles[0], " -> ") {
		t.Errorf("route bubbles = %v", sink.bubbles)
	}
}

func TestApplyMalformedPacket(t *testing.T) {
	now := time.Unix(1700000000, 0)
	s := NewState()
	pr := NewProcessor(s, nil)

	// No ids at all: still processed and kept in the feed ring.
	res := pr.Apply(&Packet{Text: "mystery"}, now)
	if !res.Processed {
		t.Error("malformed packet not processed")
	}
	if len(s.Packets) != 1 {
		t.Error("malformed packet not recorded")
	}
	if res.TopologyChanged && len(s.Nodes) > 1 {
		t.Errorf("unexpected nodes: %v", s.Nodes)
	}

	if res := pr.Apply(nil, now); res.Processed {
		t.Error("nil packet processed")
	}
}

func TestApplyBatchMergesResults(t *testing.T) {
	now := time.Unix(1700000000, 0)
	s := NewState()
	pr := NewProcessor(s, nil)

	res := pr.ApplyBatch([]*Packet{
		textPacket(1, 2, "a", now.Unix()),
		textPacket(2, 3, "b", now.Unix()),
		{
			FromID:     u32(1),
			ToID:       u32(3),
			Portnum:    i32(PortTraceroute),
			RawDetails: []byte(`{"route":[2],"route_back":[2]}`),
		},
	}, now)
	if !res.Processed || !res.TopologyChanged {
		t.Errorf("res = %+v", res)
	}
	if len(s.Nodes) != 3 || len(s.Links) != 3 {
		t.Errorf("nodes=%d links=%d", len(s.Nodes), len(s.Links))
	}
	// Leg counts accumulate across the batch.
	if res.RoutesEmitted != 2 {
		t.Errorf("RoutesEmitted = %d, want 2", res.RoutesEmitted)
	}
}
