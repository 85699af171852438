package meshcore

import (
	"testing"
	"time"
)

func textPacket(from, to uint32, text string, at int64) *Packet {
	p := &Packet{
		FromID:    u32(from),
		ToID:      u32(to),
		Portnum:   i32(PortText),
		Portname:  "TEXT_MESSAGE_APP",
		Text:      text,
		CreatedAt: at,
	}
	p.Normalize(time.Unix(at, 0))
	return p
}

func TestFiltersInactiveMatchesEverything(t *testing.T) {
	f := NewFilters()
	if f.Active() {
		t.Error("fresh filter set should be inactive")
	}
	now := time.Unix(1700000000, 0)
	if !f.Match(textPacket(1, 2, "hi", now.Unix()), now) {
		t.Error("inactive filters must match")
	}
}

func TestFiltersWindow(t *testing.T) {
	now := time.Unix(1700000000, 0)
	f := NewFilters()
	f.WindowSec = 60

	if !f.Match(textPacket(1, 2, "fresh", now.Unix()-30), now) {
		t.Error("packet inside window rejected")
	}
	if f.Match(textPacket(1, 2, "stale", now.Unix()-120), now) {
		t.Error("packet outside window accepted")
	}
}

func TestFiltersPortAndChannel(t *testing.T) {
	now := time.Unix(1700000000, 0)
	f := NewFilters()
	f.SetPortnums([]int32{PortText})
	ch := int32(2)
	f.Channel = &ch

	p := textPacket(1, 2, "hi", now.Unix())
	p.Channel = i32(2)
	if !f.Match(p, now) {
		t.Error("matching port and channel rejected")
	}

	p.Channel = i32(0)
	if f.Match(p, now) {
		t.Error("wrong channel accepted (AND semantics)")
	}

	p.Channel = i32(2)
	p.Portnum = i32(PortTelemetry)
	if f.Match(p, now) {
		t.Error("wrong port accepted")
	}
	p.Portnum = nil
	if f.Match(p, now) {
		t.Error("missing port accepted while port filter active")
	}
}

func TestFiltersGateway(t *testing.T) {
	now := time.Unix(1700000000, 0)
	f := NewFilters()
	f.Gateway = "!deadbeef"

	p := textPacket(1, 2, "hi", now.Unix())
	p.GatewayID = "!deadbeef"
	if !f.Match(p, now) {
		t.Error("matching gateway rejected")
	}
	p.GatewayID = "!cafef00d"
	if f.Match(p, now) {
		t.Error("wrong gateway accepted")
	}
}

func TestFiltersSearchAllTermsRequired(t *testing.T) {
	now := time.Unix(1700000000, 0)
	f := NewFilters()
	f.SetSearch("Hello Mesh")

	if !f.Match(textPacket(1, 2, "hello out there on the mesh", now.Unix()), now) {
		t.Error("packet containing both terms rejected")
	}
	if f.Match(textPacket(1, 2, "hello out there", now.Unix()), now) {
		t.Error("packet with only one term accepted")
	}

	f.SetSearch("")
	if f.Active() {
		t.Error("clearing search should deactivate")
	}
}

func TestFiltersSearchRepeatedTerm(t *testing.T) {
	now := time.Unix(1700000000, 0)
	f := NewFilters()
	f.SetSearch("hello hello")

	if !f.Match(textPacket(1, 2, "well hello there", now.Unix()), now) {
		t.Error("repeated search term can never be satisfied")
	}
	if f.Match(textPacket(1, 2, "goodbye", now.Unix()), now) {
		t.Error("non-matching packet accepted")
	}
}

func TestFiltersApplyIdempotent(t *testing.T) {
	now := time.Unix(1700000000, 0)
	f := NewFilters()
	f.SetPortnums([]int32{PortText})

	packets := []*Packet{
		textPacket(1, 2, "a", now.Unix()),
		textPacket(2, 3, "b", now.Unix()),
	}
	telemetry := &Packet{FromID: u32(4), ToID: u32(5), Portnum: i32(PortTelemetry), CreatedAt: now.Unix()}
	telemetry.Normalize(now)
	packets = append(packets, telemetry)

	once := f.Apply(packets, now)
	twice := f.Apply(once, now)
	if len(once) != 2 || len(twice) != 2 {
		t.Fatalf("len(once)=%d len(twice)=%d, want 2", len(once), len(twice))
	}
	for i := range once {
		if once[i] != twice[i] {
			t.Error("second apply changed the result")
		}
	}
	if len(packets) != 3 {
		t.Error("Apply mutated its input")
	}
}
