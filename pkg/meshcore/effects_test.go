package meshcore

import (
	"image/color"
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func effectsAt(base time.Time) (*Effects, *time.Time) {
	cur := base
	fx := NewEffects()
	fx.now = func() time.Time { return cur }
	return fx, &cur
}

func TestRouteAnimProgress(t *testing.T) {
	start := time.Unix(1700000000, 0)
	r := &RouteAnim{Hops: []uint32{1, 2, 3, 4}, Start: start}

	tests := []struct {
		at   time.Duration
		want float64
	}{
		{0, 0},
		{RouteStep, 1},
		{RouteStep * 3 / 2, 1.5},
		{RouteStep * 3, 3},
		{RouteStep * 10, 3}, // clamped at the segment count
	}
	for _, tt := range tests {
		if got := r.Progress(start.Add(tt.at)); got != tt.want {
			t.Errorf("Progress(+%v) = %v, want %v", tt.at, got, tt.want)
		}
	}
}

func TestRouteAnimAlpha(t *testing.T) {
	start := time.Unix(1700000000, 0)
	r := &RouteAnim{Hops: []uint32{1, 2}, Start: start}
	travel := RouteStep

	if got := r.Alpha(start.Add(travel / 2)); got != 1 {
		t.Errorf("alpha while traversing = %v", got)
	}
	mid := r.Alpha(start.Add(travel + RouteFade/2))
	if mid <= 0 || mid >= 1 {
		t.Errorf("alpha mid-fade = %v", mid)
	}
	if got := r.Alpha(start.Add(travel + RouteFade + time.Second)); got != 0 {
		t.Errorf("alpha after fade = %v", got)
	}
	if !r.Done(start.Add(travel + RouteFade + time.Second)) {
		t.Error("route should be done after the fade")
	}
}

func TestRouteAnimationRecordsAndTrails(t *testing.T) {
	fx, _ := effectsAt(time.Unix(1700000000, 0))
	fx.RouteAnimation([]uint32{1, 2, 3}, false)
	fx.RouteAnimation([]uint32{3, 2, 1}, true)

	if len(fx.Routes) != 2 {
		t.Fatalf("routes = %d", len(fx.Routes))
	}
	if fx.Routes[0].Color != RouteForwardColor || fx.Routes[1].Color != RouteReturnColor {
		t.Error("leg colors wrong")
	}
	if len(fx.RecentRoutes) != 2 {
		t.Errorf("recent routes = %d", len(fx.RecentRoutes))
	}
	// Two segments per leg.
	if len(fx.Trails) != 4 {
		t.Errorf("trails = %d", len(fx.Trails))
	}

	// Single-node paths are ignored.
	fx.RouteAnimation([]uint32{9}, false)
	if len(fx.Routes) != 2 {
		t.Error("degenerate path accepted")
	}
}

func TestRouteAnimationCopiesPath(t *testing.T) {
	fx, _ := effectsAt(time.Unix(1700000000, 0))
	path := []uint32{1, 2, 3}
	fx.RouteAnimation(path, false)
	path[0] = 99
	if fx.Routes[0].Hops[0] != 1 {
		t.Error("route shares the caller's slice")
	}
}

func TestMessageBubbleTruncationAndEviction(t *testing.T) {
	fx, _ := effectsAt(time.Unix(1700000000, 0))

	long := strings.Repeat("a", BubbleMaxChars*2)
	fx.MessageBubble(1, long)
	if got := len([]rune(fx.Bubbles[0].Text)); got != BubbleMaxChars {
		t.Errorf("truncated length = %d, want %d", got, BubbleMaxChars)
	}
	if !strings.HasSuffix(fx.Bubbles[0].Text, "…") {
		t.Error("missing ellipsis")
	}

	fx.MessageBubble(2, "")
	if len(fx.Bubbles) != 1 {
		t.Error("empty bubble accepted")
	}

	// Truncation lands on rune boundaries, not bytes.
	fx.MessageBubble(3, strings.Repeat("é", BubbleMaxChars+20))
	wide := fx.Bubbles[len(fx.Bubbles)-1].Text
	if !utf8.ValidString(wide) {
		t.Error("truncation split a rune")
	}
	if got := len([]rune(wide)); got != BubbleMaxChars {
		t.Errorf("wide truncated length = %d, want %d", got, BubbleMaxChars)
	}

	for i := 0; i < MaxBubbles+5; i++ {
		fx.MessageBubble(uint32(i), "msg")
	}
	if len(fx.Bubbles) != MaxBubbles {
		t.Errorf("bubbles = %d, want %d", len(fx.Bubbles), MaxBubbles)
	}
}

func TestNodePulseStormRings(t *testing.T) {
	fx, cur := effectsAt(time.Unix(1700000000, 0))

	fx.NodePulse(1, EffectSend, color.RGBA{255, 255, 255, 255})
	base := rippleProfiles[EffectSend].Rings
	if fx.Ripples[0].Rings != base {
		t.Errorf("calm rings = %d, want %d", fx.Ripples[0].Rings, base)
	}

	// A burst of pulses at the same instant pushes the activity score
	// over the storm threshold; later pulses gain an extra ring.
	for i := 0; i < 10; i++ {
		fx.NodePulse(1, EffectSend, color.RGBA{255, 255, 255, 255})
	}
	last := fx.Ripples[len(fx.Ripples)-1]
	if last.Rings != base+1 {
		t.Errorf("storm rings = %d, want %d", last.Rings, base+1)
	}

	// Long after the burst the score has decayed back under threshold.
	*cur = cur.Add(time.Minute)
	fx.NodePulse(1, EffectSend, color.RGBA{255, 255, 255, 255})
	last = fx.Ripples[len(fx.Ripples)-1]
	if last.Rings != base {
		t.Errorf("post-storm rings = %d, want %d", last.Rings, base)
	}
}

func TestPruneDropsExpired(t *testing.T) {
	start := time.Unix(1700000000, 0)
	fx, cur := effectsAt(start)

	fx.NodePulse(1, EffectSend, color.RGBA{255, 255, 255, 255})
	fx.LinkShock("1-2-1", color.RGBA{255, 255, 255, 255})
	fx.RouteAnimation([]uint32{1, 2}, false)
	fx.MessageBubble(1, "hello")
	fx.AddTrail(1, 2, color.RGBA{255, 255, 255, 255})

	fx.Prune(start.Add(50 * time.Millisecond))
	if len(fx.Ripples) != 2 || len(fx.Routes) != 1 || len(fx.Bubbles) != 1 {
		t.Errorf("young effects pruned: %d ripples %d routes %d bubbles", len(fx.Ripples), len(fx.Routes), len(fx.Bubbles))
	}

	*cur = start.Add(time.Hour)
	fx.Prune(*cur)
	if len(fx.Ripples) != 0 || len(fx.Routes) != 0 || len(fx.Bubbles) != 0 || len(fx.Trails) != 0 {
		t.Errorf("expired effects survive: %d/%d/%d/%d", len(fx.Ripples), len(fx.Routes), len(fx.Bubbles), len(fx.Trails))
	}
	// The route history is not an effect and survives pruning.
	if len(fx.RecentRoutes) != 1 {
		t.Errorf("recent routes = %d", len(fx.RecentRoutes))
	}
}

func TestTrailEviction(t *testing.T) {
	fx, _ := effectsAt(time.Unix(1700000000, 0))
	for i := 0; i < MaxTrails+10; i++ {
		fx.AddTrail(uint32(i), uint32(i+1), color.RGBA{255, 255, 255, 255})
	}
	if len(fx.Trails) != MaxTrails {
		t.Errorf("trails = %d, want %d", len(fx.Trails), MaxTrails)
	}
	// Oldest evicted first.
	if fx.Trails[0].A != 10 {
		t.Errorf("oldest surviving trail starts at %d", fx.Trails[0].A)
	}
}

func TestRippleProfilesComplete(t *testing.T) {
	kinds := []EffectKind{EffectSend, EffectReceive, EffectBroadcast, EffectBroadcastCore, EffectRoute, EffectLink}
	for _, k := range kinds {
		p := Profile(k)
		if p.Duration <= 0 || p.MaxRadius <= 0 || p.Rings < 1 {
			t.Errorf("profile for kind %d incomplete: %+v", k, p)
		}
	}
	// Broadcast core ripples are the biggest and slowest.
	if Profile(EffectBroadcastCore).MaxRadius <= Profile(EffectSend).MaxRadius {
		t.Error("broadcast core should out-radius a plain send")
	}
}
