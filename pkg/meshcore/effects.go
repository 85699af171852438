package meshcore

import (
	"image/color"
	"time"
)

// Effect lifetimes and pacing.
const (
	RouteStep = 360 * time.Millisecond
	RouteFade = 20 * time.Second

	BubbleLife     = 30 * time.Second
	MaxBubbles     = 24
	BubbleMaxChars = 160

	TrailLife = 45 * time.Second
	MaxTrails = 1800

	MaxRipples      = 1500
	MaxRecentRoutes = 200

	// Two-constant activity model: a slow energy floor and a fast
	// spike, both exponentially decayed. Correlated bursts push the
	// score over the storm threshold and ripples gain extra rings.
	activityEnergyDecay = 4200 * time.Millisecond
	activitySpikeDecay  = 1100 * time.Millisecond
	stormThreshold      = 3.0
)

var (
	RouteForwardColor = color.RGBA{0x33, 0xff, 0x79, 255}
	RouteReturnColor  = color.RGBA{0xff, 0x3b, 0x3b, 255}
)

// RippleProfile shapes the expanding rings spawned for one effect kind.
type RippleProfile struct {
	Duration  time.Duration
	MaxRadius float64
	Rings     int
	RingDelay time.Duration
	BaseAlpha float64
}

var rippleProfiles = map[EffectKind]RippleProfile{
	EffectSend:          {Duration: 900 * time.Millisecond, MaxRadius: 26, Rings: 1, RingDelay: 90 * time.Millisecond, BaseAlpha: 0.55},
	EffectReceive:       {Duration: 1100 * time.Millisecond, MaxRadius: 34, Rings: 2, RingDelay: 110 * time.Millisecond, BaseAlpha: 0.6},
	EffectBroadcast:     {Duration: 1300 * time.Millisecond, MaxRadius: 46, Rings: 2, RingDelay: 140 * time.Millisecond, BaseAlpha: 0.4},
	EffectBroadcastCore: {Duration: 1600 * time.Millisecond, MaxRadius: 70, Rings: 3, RingDelay: 160 * time.Millisecond, BaseAlpha: 0.3},
	EffectRoute:         {Duration: 1000 * time.Millisecond, MaxRadius: 30, Rings: 1, RingDelay: 100 * time.Millisecond, BaseAlpha: 0.6},
	EffectLink:          {Duration: 800 * time.Millisecond, MaxRadius: 22, Rings: 1, RingDelay: 80 * time.Millisecond, BaseAlpha: 0.45},
}

// Profile exposes the ripple shape for a kind (draw code needs it).
func Profile(kind EffectKind) RippleProfile { return rippleProfiles[kind] }

// Ripple is one expanding-ring event anchored to a node or a link
// midpoint by id, resolved against the model at draw time.
type Ripple struct {
	NodeID  uint32
	LinkKey string
	Kind    EffectKind
	Color   color.RGBA
	Start   time.Time
	Rings   int
}

func (r *Ripple) Done(now time.Time) bool {
	p := rippleProfiles[r.Kind]
	life := p.Duration + time.Duration(r.Rings-1)*p.RingDelay
	return now.Sub(r.Start) > life
}

// RouteAnim traverses a multi-hop path segment by segment, then fades.
type RouteAnim struct {
	Hops   []uint32
	Return bool
	Color  color.RGBA
	Start  time.Time
}

func (r *RouteAnim) segments() int {
	if len(r.Hops) < 2 {
		return 0
	}
	return len(r.Hops) - 1
}

// Progress returns the continuous traversal position in segment units,
// clamped to the segment count once the head arrives.
func (r *RouteAnim) Progress(now time.Time) float64 {
	segs := float64(r.segments())
	p := float64(now.Sub(r.Start)) / float64(RouteStep)
	if p > segs {
		return segs
	}
	return p
}

// Alpha is 1 while traversing, then fades linearly to zero.
func (r *RouteAnim) Alpha(now time.Time) float64 {
	travel := time.Duration(r.segments()) * RouteStep
	past := now.Sub(r.Start) - travel
	if past <= 0 {
		return 1
	}
	a := 1 - float64(past)/float64(RouteFade)
	if a < 0 {
		return 0
	}
	return a
}

func (r *RouteAnim) Done(now time.Time) bool {
	return r.Alpha(now) <= 0
}

// Bubble is an ephemeral chat bubble attached to a node.
type Bubble struct {
	NodeID uint32
	Text   string
	Start  time.Time
}

func (b *Bubble) Done(now time.Time) bool {
	return now.Sub(b.Start) > BubbleLife
}

// Trail records "a link or route just fired between these two nodes";
// the geo view draws them as fading arcs.
type Trail struct {
	A, B  uint32
	Color color.RGBA
	Start time.Time
}

func (t *Trail) Done(now time.Time) bool {
	return now.Sub(t.Start) > TrailLife
}

// RouteRecord is a completed route kept for focus-driven replay.
type RouteRecord struct {
	Hops   []uint32
	Return bool
	At     time.Time
}

// Effects owns every transient effect list. It implements EffectSink and
// must only be touched from the engine tick / draw goroutine.
type Effects struct {
	Ripples []*Ripple
	Routes  []*RouteAnim
	Bubbles []*Bubble
	Trails  []*Trail

	RecentRoutes []RouteRecord

	activityEnergy float64
	activitySpike  float64
	activityAt     time.Time

	now func() time.Time
}

func NewEffects() *Effects {
	return &Effects{now: time.Now}
}

// NodePulse spawns a ripple at a node, with extra rings during storms.
func (fx *Effects) NodePulse(id uint32, kind EffectKind, c color.RGBA) {
	now := fx.now()
	fx.bumpActivity(now)
	if len(fx.Ripples) >= MaxRipples {
		return
	}
	p := rippleProfiles[kind]
	rings := p.Rings
	if fx.Activity(now) > stormThreshold {
		rings++
	}
	fx.Ripples = append(fx.Ripples, &Ripple{NodeID: id, Kind: kind, Color: c, Start: now, Rings: rings})
}

// LinkShock spawns a ripple at a link midpoint.
func (fx *Effects) LinkShock(key string, c color.RGBA) {
	now := fx.now()
	if len(fx.Ripples) >= MaxRipples {
		return
	}
	fx.Ripples = append(fx.Ripples, &Ripple{LinkKey: key, Kind: EffectLink, Color: c, Start: now, Rings: rippleProfiles[EffectLink].Rings})
}

// RouteAnimation starts a traversal animation and records the route.
func (fx *Effects) RouteAnimation(path []uint32, ret bool) {
	if len(path) < 2 {
		return
	}
	now := fx.now()
	c := RouteForwardColor
	if ret {
		c = RouteReturnColor
	}
	hops := append([]uint32(nil), path...)
	fx.Routes = append(fx.Routes, &RouteAnim{Hops: hops, Return: ret, Color: c, Start: now})
	fx.RecentRoutes = append(fx.RecentRoutes, RouteRecord{Hops: hops, Return: ret, At: now})
	if len(fx.RecentRoutes) > MaxRecentRoutes {
		fx.RecentRoutes = fx.RecentRoutes[len(fx.RecentRoutes)-MaxRecentRoutes:]
	}
	for i := 0; i+1 < len(hops); i++ {
		fx.AddTrail(hops[i], hops[i+1], c)
	}
}

// MessageBubble attaches a chat bubble, evicting the oldest past the cap.
func (fx *Effects) MessageBubble(id uint32, text string) {
	if text == "" {
		return
	}
	if runes := []rune(text); len(runes) > BubbleMaxChars {
		text = string(runes[:BubbleMaxChars-1]) + "…"
	}
	fx.Bubbles = append(fx.Bubbles, &Bubble{NodeID: id, Text: text, Start: fx.now()})
	if len(fx.Bubbles) > MaxBubbles {
		fx.Bubbles = fx.Bubbles[len(fx.Bubbles)-MaxBubbles:]
	}
}

// AddTrail appends a fading arc record, oldest-first eviction at the cap.
func (fx *Effects) AddTrail(a, b uint32, c color.RGBA) {
	fx.Trails = append(fx.Trails, &Trail{A: a, B: b, Color: c, Start: fx.now()})
	if len(fx.Trails) > MaxTrails {
		fx.Trails = fx.Trails[len(fx.Trails)-MaxTrails:]
	}
}

// Activity returns the decayed storm score.
func (fx *Effects) Activity(now time.Time) float64 {
	e := decayHeat(fx.activityEnergy, fx.activityAt, now, activityEnergyDecay)
	s := decayHeat(fx.activitySpike, fx.activityAt, now, activitySpikeDecay)
	return e + s
}

func (fx *Effects) bumpActivity(now time.Time) {
	fx.activityEnergy = decayHeat(fx.activityEnergy, fx.activityAt, now, activityEnergyDecay) + 0.25
	fx.activitySpike = decayHeat(fx.activitySpike, fx.activityAt, now, activitySpikeDecay) + 0.6
	fx.activityAt = now
}

// Prune drops every expired effect. Runs once per engine tick.
func (fx *Effects) Prune(now time.Time) {
	ripples := fx.Ripples[:0]
	for _, r := range fx.Ripples {
		if !r.Done(now) {
			ripples = append(ripples, r)
		}
	}
	fx.Ripples = ripples

	routes := fx.Routes[:0]
	for _, r := range fx.Routes {
		if !r.Done(now) {
			routes = append(routes, r)
		}
	}
	fx.Routes = routes

	bubbles := fx.Bubbles[:0]
	for _, b := range fx.Bubbles {
		if !b.Done(now) {
			bubbles = append(bubbles, b)
		}
	}
	fx.Bubbles = bubbles

	trails := fx.Trails[:0]
	for _, t := range fx.Trails {
		if !t.Done(now) {
			trails = append(trails, t)
		}
	}
	fx.Trails = trails
}
