package meshcore

import (
	"math/rand"
	"testing"
	"time"
)

func TestSpatialNearest(t *testing.T) {
	si := NewSpatialIndex()
	now := time.Unix(1700000000, 0)
	si.Rebuild([]SpatialPoint{
		{X: 100, Y: 100, ID: 1},
		{X: 200, Y: 100, ID: 2},
		{X: 500, Y: 400, ID: 3},
	}, now)

	id, ok := si.Nearest(105, 98, HoverMaxRadius)
	if !ok || id != 1 {
		t.Errorf("Nearest = %d, %v", id, ok)
	}
	// The closer of two candidates wins.
	id, ok = si.Nearest(160, 100, HoverMaxRadius*10)
	if !ok || id != 2 {
		t.Errorf("Nearest = %d, %v, want 2", id, ok)
	}
	// Nothing within the pick radius.
	if _, ok := si.Nearest(300, 300, HoverMaxRadius); ok {
		t.Error("hit outside the radius")
	}
}

func TestSpatialNearestEmpty(t *testing.T) {
	si := NewSpatialIndex()
	if _, ok := si.Nearest(0, 0, HoverMaxRadius); ok {
		t.Error("empty index returned a hit")
	}
	now := time.Unix(1700000000, 0)
	si.Rebuild(nil, now)
	if _, ok := si.Nearest(0, 0, HoverMaxRadius); ok {
		t.Error("nil rebuild returned a hit")
	}
}

func TestSpatialRebuildThrottle(t *testing.T) {
	si := NewSpatialIndex()
	now := time.Unix(1700000000, 0)
	pts := []SpatialPoint{{X: 1, Y: 1, ID: 1}}

	if !si.Rebuild(pts, now) {
		t.Error("first rebuild skipped")
	}
	if si.Rebuild(pts, now.Add(50*time.Millisecond)) {
		t.Error("rebuild inside the throttle window")
	}
	// A count change overrides the throttle.
	pts = append(pts, SpatialPoint{X: 2, Y: 2, ID: 2})
	if !si.Rebuild(pts, now.Add(60*time.Millisecond)) {
		t.Error("count change did not force a rebuild")
	}
	if !si.Rebuild(pts, now.Add(60*time.Millisecond+SpatialRebuildInterval)) {
		t.Error("rebuild after the interval skipped")
	}
}

func TestSpatialMatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	pts := make([]SpatialPoint, 400)
	for i := range pts {
		pts[i] = SpatialPoint{X: rng.Float64() * 1920, Y: rng.Float64() * 1080, ID: uint32(i + 1)}
	}
	si := NewSpatialIndex()
	si.Rebuild(pts, time.Unix(1700000000, 0))

	for q := 0; q < 100; q++ {
		x, y := rng.Float64()*1920, rng.Float64()*1080
		bestID, bestD2 := uint32(0), HoverMaxRadius*HoverMaxRadius
		for _, p := range pts {
			d2 := (p.X-x)*(p.X-x) + (p.Y-y)*(p.Y-y)
			if d2 < bestD2 {
				bestD2 = d2
				bestID = p.ID
			}
		}
		id, ok := si.Nearest(x, y, HoverMaxRadius)
		if bestID == 0 {
			if ok {
				t.Errorf("query (%v,%v): tree hit %d, brute force found none", x, y, id)
			}
			continue
		}
		if !ok || id != bestID {
			t.Errorf("query (%v,%v): tree = %d,%v want %d", x, y, id, ok, bestID)
		}
	}
}
