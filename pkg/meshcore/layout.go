package meshcore

import (
	"math"
	"math/rand"
)

// Layout is a force-directed simulation over the graph view's nodes:
// pairwise charge repulsion, link springs with a density-scaled rest
// length, weak centering, degree-scaled collision, a boundary force
// keeping nodes inside the padded viewport and a weak home pull. The
// broadcast node is pinned at center and not simulated.
type Layout struct {
	Width, Height float64
	Padding       float64

	// Alpha is the simulation temperature; velocities scale with it
	// and it decays multiplicatively each step until the sim settles.
	Alpha         float64
	AlphaMin      float64
	AlphaDecay    float64
	VelocityDecay float64
}

func NewLayout(width, height float64) *Layout {
	return &Layout{
		Width:         width,
		Height:        height,
		Padding:       40,
		Alpha:         1,
		AlphaMin:      0.005,
		AlphaDecay:    0.18,
		VelocityDecay: 0.7,
	}
}

// Reheat injects kinetic energy after a topology change.
func (ly *Layout) Reheat() {
	if ly.Alpha < 0.18 {
		ly.Alpha = 0.18
	}
}

// Settled reports whether stepping would move nothing.
func (ly *Layout) Settled() bool { return ly.Alpha < ly.AlphaMin }

// spacing derives the density-dependent force parameters from the
// current node count so the layout reads well at any scale.
func (ly *Layout) spacing(n int) (linkDist, charge, collideBase float64) {
	minDim := math.Min(ly.Width, ly.Height)
	linkDist = clamp(minDim/math.Sqrt(float64(n)+1)*0.9, 60, 220)
	charge = clamp(minDim*2.2/math.Sqrt(float64(n)+1), 40, 320)
	collideBase = 12
	return
}

// Seed places a node without a position near the center with jitter so
// the simulation does not blow up on coincident points.
func (ly *Layout) Seed(n *Node) {
	cx, cy := ly.Width/2, ly.Height/2
	n.X = cx + (rand.Float64()-0.5)*ly.Width*0.2
	n.Y = cy + (rand.Float64()-0.5)*ly.Height*0.2
	n.HasPos = true
}

// Pin fixes a node at the viewport center (used for the broadcast node).
func (ly *Layout) Pin(n *Node) {
	cx, cy := ly.Width/2, ly.Height/2
	n.X, n.Y = cx, cy
	n.FX, n.FY = &cx, &cy
	n.HasPos = true
}

// Step advances the simulation one tick over the model's nodes.
func (ly *Layout) Step(s *State) {
	if ly.Settled() {
		return
	}
	nodes := make([]*Node, 0, len(s.Nodes))
	for _, n := range s.Nodes {
		if !n.HasPos {
			if n.IsBroadcast() {
				ly.Pin(n)
			} else {
				ly.Seed(n)
			}
		}
		nodes = append(nodes, n)
	}
	if len(nodes) == 0 {
		return
	}
	linkDist, charge, collideBase := ly.spacing(len(nodes))
	alpha := ly.Alpha
	cx, cy := ly.Width/2, ly.Height/2

	// Charge repulsion between all pairs, capped at close range.
	for i := 0; i < len(nodes); i++ {
		for j := i + 1; j < len(nodes); j++ {
			a, b := nodes[i], nodes[j]
			dx, dy := b.X-a.X, b.Y-a.Y
			d2 := dx*dx + dy*dy
			if d2 < 1 {
				d2 = 1
				dx, dy = rand.Float64()-0.5, rand.Float64()-0.5
			}
			f := charge * alpha / d2
			if f > 4 {
				f = 4
			}
			d := math.Sqrt(d2)
			fx, fy := dx/d*f, dy/d*f
			a.VX -= fx
			a.VY -= fy
			b.VX += fx
			b.VY += fy
		}
	}

	// Link springs toward the ideal distance.
	for _, l := range s.Links {
		a, okA := s.Nodes[l.Source]
		b, okB := s.Nodes[l.Target]
		if !okA || !okB {
			continue
		}
		dx, dy := b.X-a.X, b.Y-a.Y
		d := math.Hypot(dx, dy)
		if d < 1 {
			d = 1
		}
		f := (d - linkDist) / d * 0.08 * alpha
		a.VX += dx * f
		a.VY += dy * f
		b.VX -= dx * f
		b.VY -= dy * f
	}

	for _, n := range nodes {
		// Weak centering and home pull.
		n.VX += (cx - n.X) * 0.015 * alpha
		n.VY += (cy - n.Y) * 0.015 * alpha
	}

	// Collision avoidance, radius growing with degree.
	for i := 0; i < len(nodes); i++ {
		for j := i + 1; j < len(nodes); j++ {
			a, b := nodes[i], nodes[j]
			ra := collideBase + 2*math.Sqrt(float64(a.Degree))
			rb := collideBase + 2*math.Sqrt(float64(b.Degree))
			minDist := ra + rb
			dx, dy := b.X-a.X, b.Y-a.Y
			d := math.Hypot(dx, dy)
			if d >= minDist || d == 0 {
				continue
			}
			push := (minDist - d) / d * 0.5
			a.VX -= dx * push * 0.5
			a.VY -= dy * push * 0.5
			b.VX += dx * push * 0.5
			b.VY += dy * push * 0.5
		}
	}

	pad := ly.Padding
	for _, n := range nodes {
		if n.FX != nil && n.FY != nil {
			n.X, n.Y = *n.FX, *n.FY
			n.VX, n.VY = 0, 0
			continue
		}
		// Boundary repulsion inside the padded viewport.
		if n.X < pad {
			n.VX += (pad - n.X) * 0.1
		}
		if n.X > ly.Width-pad {
			n.VX -= (n.X - (ly.Width - pad)) * 0.1
		}
		if n.Y < pad {
			n.VY += (pad - n.Y) * 0.1
		}
		if n.Y > ly.Height-pad {
			n.VY -= (n.Y - (ly.Height - pad)) * 0.1
		}

		n.VX *= 1 - ly.VelocityDecay
		n.VY *= 1 - ly.VelocityDecay
		n.X += n.VX
		n.Y += n.VY
	}

	ly.Alpha *= 1 - ly.AlphaDecay
}

// Resize updates the viewport and re-pins the broadcast node.
func (ly *Layout) Resize(width, height float64, s *State) {
	ly.Width, ly.Height = width, height
	if bc, ok := s.Nodes[BroadcastID]; ok && bc.FX != nil {
		ly.Pin(bc)
	}
	ly.Reheat()
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
