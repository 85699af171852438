package meshcore

import (
	"math"
	"testing"
	"time"
)

func TestHeatDecay(t *testing.T) {
	now := time.Unix(1700000000, 0)
	n := &Node{}
	n.BumpHeat(1.0, now)

	if got := n.Heat(now); math.Abs(got-1.0) > 1e-9 {
		t.Errorf("Heat at bump time = %v, want 1.0", got)
	}
	// One half-life-ish interval later the value must have dropped and
	// reading must not mutate.
	later := now.Add(NodeHeatHalfLife)
	first := n.Heat(later)
	second := n.Heat(later)
	if first >= 1.0 || first <= 0 {
		t.Errorf("decayed heat = %v, want (0, 1)", first)
	}
	if first != second {
		t.Errorf("Heat read mutated state: %v then %v", first, second)
	}
	want := math.Exp(-1)
	if math.Abs(first-want) > 1e-9 {
		t.Errorf("decay = %v, want e^-1 = %v", first, want)
	}
}

func TestHeatDecayMonotone(t *testing.T) {
	now := time.Unix(1700000000, 0)
	n := &Node{}
	n.BumpHeat(2.0, now)
	prev := n.Heat(now)
	for i := 1; i <= 10; i++ {
		cur := n.Heat(now.Add(time.Duration(i) * time.Second))
		if cur > prev {
			t.Fatalf("heat increased without a bump: %v -> %v", prev, cur)
		}
		prev = cur
	}
}

func TestBumpHeatSameInstantSums(t *testing.T) {
	now := time.Unix(1700000000, 0)

	a := &Node{}
	a.BumpHeat(0.5, now)
	a.BumpHeat(0.5, now)

	b := &Node{}
	b.BumpHeat(1.0, now)

	if ha, hb := a.Heat(now), b.Heat(now); math.Abs(ha-hb) > 1e-9 {
		t.Errorf("two bumps %v != one summed bump %v", ha, hb)
	}
}

func TestBumpHeatClamps(t *testing.T) {
	now := time.Unix(1700000000, 0)
	n := &Node{}
	for i := 0; i < 100; i++ {
		n.BumpHeat(NodeHeatGain, now)
	}
	if got := n.Heat(now); got > NodeHeatMax {
		t.Errorf("heat %v above cap %v", got, NodeHeatMax)
	}
	l := &Link{halfLife: LinkHeatHalfLife}
	for i := 0; i < 100; i++ {
		l.BumpHeat(LinkHeatGain, now)
	}
	if got := l.Heat(now); got > LinkHeatMax {
		t.Errorf("link heat %v above cap %v", got, LinkHeatMax)
	}
}

func TestEnsureNode(t *testing.T) {
	now := time.Unix(1700000000, 0)
	s := NewState()

	n, created := s.EnsureNode(42, "", now)
	if !created {
		t.Error("first EnsureNode should create")
	}
	if n.Label != "!0000002a" {
		t.Errorf("label = %q", n.Label)
	}
	if _, created := s.EnsureNode(42, "", now); created {
		t.Error("second EnsureNode should not create")
	}

	// A real label wins over the fallback.
	n, _ = s.EnsureNode(42, "alpha", now)
	if n.Label != "alpha" {
		t.Errorf("label = %q, want alpha", n.Label)
	}

	bc, _ := s.EnsureNode(BroadcastID, "", now)
	if bc.Label != "broadcast" || !bc.IsBroadcast() {
		t.Errorf("broadcast node = %+v", bc)
	}
}

func TestEnsureLinkDegree(t *testing.T) {
	now := time.Unix(1700000000, 0)
	s := NewState()
	s.EnsureNode(1, "", now)
	s.EnsureNode(2, "", now)

	_, created := s.EnsureLink(1, 2, PortText, "TEXT_MESSAGE_APP", now)
	if !created {
		t.Error("first EnsureLink should create")
	}
	if _, created := s.EnsureLink(1, 2, PortText, "TEXT_MESSAGE_APP", now); created {
		t.Error("same pair and port should not create again")
	}
	// A different port is a distinct link.
	if _, created := s.EnsureLink(1, 2, PortTelemetry, "TELEMETRY_APP", now); !created {
		t.Error("different port should create a new link")
	}
	if d := s.Nodes[1].Degree; d != 2 {
		t.Errorf("degree = %d, want 2", d)
	}
}

func TestLinkKey(t *testing.T) {
	if got := LinkKey(1, 2, 3); got != "1-2-3" {
		t.Errorf("LinkKey = %q", got)
	}
	// Direction matters.
	if LinkKey(1, 2, 3) == LinkKey(2, 1, 3) {
		t.Error("reversed endpoints must not collide")
	}
}

func TestPushPacketRing(t *testing.T) {
	s := NewState()
	s.MaxPackets = 3
	for i := int64(1); i <= 5; i++ {
		s.PushPacket(&Packet{ID: i})
	}
	if len(s.Packets) != 3 {
		t.Fatalf("len = %d, want 3", len(s.Packets))
	}
	for i, want := range []int64{5, 4, 3} {
		if s.Packets[i].ID != want {
			t.Errorf("Packets[%d].ID = %d, want %d", i, s.Packets[i].ID, want)
		}
	}
}

func TestApplyGraph(t *testing.T) {
	now := time.Unix(1700000000, 0)
	s := NewState()

	g := &GraphResponse{
		Nodes: []GraphNode{{ID: 1, Label: "alpha"}, {ID: 2, Label: "beta"}},
		Links: []GraphLink{{Source: 1, Target: 2, Portnum: PortText, Portname: "TEXT_MESSAGE_APP", Count: 9, LastSeen: now.Unix()}},
	}
	if !s.ApplyGraph(g, now) {
		t.Error("first apply should report topology change")
	}
	if s.ApplyGraph(g, now) {
		t.Error("identical apply should not report change")
	}
	l := s.Links[LinkKey(1, 2, PortText)]
	if l == nil || l.Count != 9 {
		t.Fatalf("link = %+v", l)
	}
	// Summary counts win only when larger.
	g.Links[0].Count = 4
	s.ApplyGraph(g, now)
	if l.Count != 9 {
		t.Errorf("count regressed to %d", l.Count)
	}
}

func TestNeighborsAndIncidentLinks(t *testing.T) {
	now := time.Unix(1700000000, 0)
	s := NewState()
	for _, pair := range [][2]uint32{{1, 2}, {3, 1}, {2, 3}} {
		s.EnsureNode(pair[0], "", now)
		s.EnsureNode(pair[1], "", now)
		s.EnsureLink(pair[0], pair[1], PortText, "", now)
	}
	nb := s.NeighborIDs(1)
	if len(nb) != 2 {
		t.Errorf("neighbors of 1 = %v", nb)
	}
	if _, ok := nb[2]; !ok {
		t.Error("2 should neighbor 1")
	}
	if _, ok := nb[3]; !ok {
		t.Error("3 should neighbor 1")
	}
	keys := s.IncidentLinkKeys(1)
	if len(keys) != 2 {
		t.Errorf("incident links of 1 = %v", keys)
	}
}

func TestNodeColorStable(t *testing.T) {
	for _, id := range []uint32{0, 1, 0xdeadbeef, BroadcastID} {
		if NodeColor(id) != NodeColor(id) {
			t.Errorf("color for %d not deterministic", id)
		}
	}
}

func TestDisplayName(t *testing.T) {
	tests := []struct {
		n    Node
		want string
	}{
		{Node{Label: "!00000001"}, "!00000001"},
		{Node{Label: "!00000001", LongName: "Long"}, "Long"},
		{Node{Label: "!00000001", LongName: "Long", ShortName: "SH"}, "SH"},
	}
	for _, tt := range tests {
		if got := tt.n.DisplayName(); got != tt.want {
			t.Errorf("DisplayName() = %q, want %q", got, tt.want)
		}
	}
}
