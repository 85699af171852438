package meshcore

import (
	"math"
	"time"
)

const (
	// Hover index rebuilds are throttled; a slightly stale index is
	// fine for pointer picking and avoids an O(n log n) rebuild per
	// frame.
	SpatialRebuildInterval = 120 * time.Millisecond

	// HoverMaxRadius is the pick tolerance in screen pixels.
	HoverMaxRadius = 26.0
)

// SpatialPoint is one node's screen position.
type SpatialPoint struct {
	X, Y float64
	ID   uint32
}

const quadLeafCap = 8

type quadCell struct {
	x0, y0, x1, y1 float64
	pts            []SpatialPoint
	kids           *[4]*quadCell
}

func (c *quadCell) insert(p SpatialPoint) {
	if c.kids == nil {
		if len(c.pts) < quadLeafCap || c.x1-c.x0 < 4 {
			c.pts = append(c.pts, p)
			return
		}
		c.split()
	}
	c.kids[c.quadrant(p.X, p.Y)].insert(p)
}

func (c *quadCell) split() {
	mx, my := (c.x0+c.x1)/2, (c.y0+c.y1)/2
	c.kids = &[4]*quadCell{
		{x0: c.x0, y0: c.y0, x1: mx, y1: my},
		{x0: mx, y0: c.y0, x1: c.x1, y1: my},
		{x0: c.x0, y0: my, x1: mx, y1: c.y1},
		{x0: mx, y0: my, x1: c.x1, y1: c.y1},
	}
	pts := c.pts
	c.pts = nil
	for _, p := range pts {
		c.kids[c.quadrant(p.X, p.Y)].insert(p)
	}
}

func (c *quadCell) quadrant(x, y float64) int {
	mx, my := (c.x0+c.x1)/2, (c.y0+c.y1)/2
	q := 0
	if x >= mx {
		q |= 1
	}
	if y >= my {
		q |= 2
	}
	return q
}

func (c *quadCell) nearest(x, y float64, bestD2 *float64, best *SpatialPoint, found *bool) {
	// Prune cells farther than the current best.
	dx := math.Max(math.Max(c.x0-x, 0), x-c.x1)
	dy := math.Max(math.Max(c.y0-y, 0), y-c.y1)
	if dx*dx+dy*dy > *bestD2 {
		return
	}
	for _, p := range c.pts {
		d2 := (p.X-x)*(p.X-x) + (p.Y-y)*(p.Y-y)
		if d2 < *bestD2 {
			*bestD2 = d2
			*best = p
			*found = true
		}
	}
	if c.kids != nil {
		// Descend into the quadrant containing the query first.
		first := c.quadrant(x, y)
		c.kids[first].nearest(x, y, bestD2, best, found)
		for i, k := range c.kids {
			if i != first {
				k.nearest(x, y, bestD2, best, found)
			}
		}
	}
}

// SpatialIndex is the throttled point-location index used for pointer
// hit-testing over node screen positions.
type SpatialIndex struct {
	root      *quadCell
	lastBuild time.Time
	lastCount int
}

func NewSpatialIndex() *SpatialIndex {
	return &SpatialIndex{lastCount: -1}
}

// Rebuild reconstructs the tree if the throttle interval elapsed or the
// point count changed. Returns whether a rebuild happened.
func (si *SpatialIndex) Rebuild(points []SpatialPoint, now time.Time) bool {
	if now.Sub(si.lastBuild) < SpatialRebuildInterval && len(points) == si.lastCount {
		return false
	}
	si.lastBuild = now
	si.lastCount = len(points)
	if len(points) == 0 {
		si.root = nil
		return true
	}
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, p := range points {
		minX, maxX = math.Min(minX, p.X), math.Max(maxX, p.X)
		minY, maxY = math.Min(minY, p.Y), math.Max(maxY, p.Y)
	}
	si.root = &quadCell{x0: minX - 1, y0: minY - 1, x1: maxX + 1, y1: maxY + 1}
	for _, p := range points {
		si.root.insert(p)
	}
	return true
}

// Nearest returns the closest indexed node within maxRadius pixels.
func (si *SpatialIndex) Nearest(x, y, maxRadius float64) (uint32, bool) {
	if si.root == nil {
		return 0, false
	}
	bestD2 := maxRadius * maxRadius
	var best SpatialPoint
	found := false
	si.root.nearest(x, y, &bestD2, &best, &found)
	if !found {
		return 0, false
	}
	return best.ID, true
}
