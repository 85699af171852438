package meshcore

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"log"
	"math"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
	"github.com/hajimehoshi/ebiten/v2/text/v2"
	"github.com/hajimehoshi/ebiten/v2/vector"
	geojson "github.com/paulmach/go.geojson"
	"golang.org/x/image/font/gofont/goregular"
)

var (
	landColor    = color.RGBA{26, 29, 35, 255}
	outlineColor = color.RGBA{36, 42, 53, 255}
)

// backdropSettle is how long the camera must hold still before the
// world backdrop is re-rasterized for the new transform.
const backdropSettle = 250 * time.Millisecond

// TopoEngine is the geographic game: nodes at their reported positions
// on a mercator world, traffic as fading great-arc trails. It shares the
// model, processor and effects pipeline with the graph view; only the
// placement and drawing differ.
type TopoEngine struct {
	Width, Height int

	mu        sync.Mutex
	State     *State
	Effects   *Effects
	Queue     *IngestQueue
	Focus     *Focus
	Processor *Processor
	Client    *Client
	Spatial   *SpatialIndex
	Camera    *Camera

	statsThrottle Throttle
	statsLine     string

	pendingGraph *GraphResponse

	world      *geojson.FeatureCollection
	bgImage    *ebiten.Image
	bgGen      uint64
	bgDirtyAt  time.Time
	pulseImage *ebiten.Image
	fontSource *text.GoTextFaceSource

	// Cached screen projections, valid for one camera generation and
	// dropped whenever a flush touches the model. Every draw pass and
	// the spatial rebuild read through this instead of re-projecting.
	projCache map[uint32]projPoint
	projGen   uint64

	hoverID *uint32

	dragging     bool
	dragX, dragY int

	FrameCaptureDir string
	CaptureEvery    time.Duration
	lastCapture     time.Time
	OnFrame         func(screen *ebiten.Image)
}

func NewTopoEngine(width, height int) *TopoEngine {
	s, _ := text.NewGoTextFaceSource(bytes.NewReader(goregular.TTF))
	state := NewState()
	state.LinkHalfLife = LinkHeatHalfLifeWide
	fx := NewEffects()
	e := &TopoEngine{
		Width:         width,
		Height:        height,
		State:         state,
		Effects:       fx,
		Queue:         NewIngestQueue(),
		Focus:         NewFocus(),
		Spatial:       NewSpatialIndex(),
		Camera:        NewCamera(width, height),
		statsThrottle: Throttle{Interval: StatsRefreshInterval},
		fontSource:    s,
		projCache:     make(map[uint32]projPoint),
	}
	e.Processor = NewProcessor(state, fx)
	return e
}

func (e *TopoEngine) SetDirectory(dir Directory) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Processor.Dir = dir
}

// SeedNode pre-populates identity and position from the persistent
// directory, so the map is populated before any live packet.
func (e *TopoEngine) SeedNode(id uint32, long, short string, lat, lon *float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, _ := e.State.EnsureNode(id, "", time.Now())
	if long != "" {
		n.LongName = long
	}
	if short != "" {
		n.ShortName = short
	}
	if lat != nil && lon != nil {
		n.Lat, n.Lon = lat, lon
		delete(e.projCache, id)
	}
}

func (e *TopoEngine) InitPulseTexture() {
	e.pulseImage = newPulseImage(e.Width)
}

// LoadWorld reads the land-polygon GeoJSON used for the backdrop. A
// missing file is not fatal; the map renders on a plain dark field.
func (e *TopoEngine) LoadWorld(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("World map data unavailable (%v); rendering without a backdrop", err)
		return nil
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return fmt.Errorf("parsing world geojson: %w", err)
	}
	e.world = fc
	e.bgGen = e.Camera.Generation() + 1 // force initial raster
	e.bgDirtyAt = time.Now().Add(-backdropSettle)
	return nil
}

// StartFeed launches the websocket listener and the reconciling poll.
func (e *TopoEngine) StartFeed(ctx context.Context, apiBase, wsURL string) {
	e.Client = NewClient(apiBase)
	listener := NewListener(wsURL, e.Queue, func(s ConnState) {
		e.mu.Lock()
		e.State.Conn = s
		e.mu.Unlock()
	})
	go listener.Run(ctx)
	go func() {
		packets, ok := e.Client.Packets(ctx, FilterQuery{Limit: DefaultPacketRing})
		if !ok {
			return
		}
		for i := len(packets) - 1; i >= 0; i-- {
			e.Queue.Push(packets[i])
		}
	}()
	go func() {
		ticker := time.NewTicker(SummaryPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			if g, ok := e.Client.Graph(ctx, FilterQuery{Window: 3600}); ok {
				e.mu.Lock()
				e.pendingGraph = g
				e.mu.Unlock()
			}
		}
	}()
}

func (e *TopoEngine) Update() error {
	now := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()

	modelChanged := false
	if e.pendingGraph != nil {
		modelChanged = e.State.ApplyGraph(e.pendingGraph, now)
		e.pendingGraph = nil
	}

	res, _ := e.Queue.Flush(e.Processor, time.Now)
	modelChanged = modelChanged || res.Processed
	if res.Processed && e.statsThrottle.Ready(now) {
		placed := 0
		for _, n := range e.State.Nodes {
			if n.Lat != nil && n.Lon != nil {
				placed++
			}
		}
		e.statsLine = fmt.Sprintf("%d nodes (%d placed)  %d trails", len(e.State.Nodes), placed, len(e.Effects.Trails))
	}

	e.Effects.Prune(now)
	e.handleCamera()
	e.refreshProjections(modelChanged)
	e.rebuildSpatial(now)
	e.handlePointer(now)
	e.refreshBackdrop(now)
	return nil
}

func (e *TopoEngine) handleCamera() {
	cx, cy := ebiten.CursorPosition()
	if inpututil.IsMouseButtonJustPressed(ebiten.MouseButtonRight) {
		e.dragging = true
		e.dragX, e.dragY = cx, cy
	}
	if e.dragging {
		if !ebiten.IsMouseButtonPressed(ebiten.MouseButtonRight) {
			e.dragging = false
		} else if cx != e.dragX || cy != e.dragY {
			e.Camera.Pan(float64(cx-e.dragX), float64(cy-e.dragY))
			e.dragX, e.dragY = cx, cy
		}
	}
	if _, wy := ebiten.Wheel(); wy != 0 {
		e.Camera.ZoomBy(wy * 0.25)
	}
	if ebiten.IsKeyPressed(ebiten.KeyQ) {
		e.Camera.Rotate(-0.02)
	}
	if ebiten.IsKeyPressed(ebiten.KeyE) {
		e.Camera.Rotate(0.02)
	}
	if ebiten.IsKeyPressed(ebiten.KeyR) {
		e.Camera.Tilt(0.01)
	}
	if ebiten.IsKeyPressed(ebiten.KeyF) {
		e.Camera.Tilt(-0.01)
	}
	if e.Camera.Generation() != e.bgGen {
		e.bgDirtyAt = time.Now()
	}
}

func (e *TopoEngine) rebuildSpatial(now time.Time) {
	points := make([]SpatialPoint, 0, len(e.State.Nodes))
	for _, n := range e.State.Nodes {
		x, y, vis, ok := e.nodeScreen(n.ID)
		if !ok || vis <= 0 {
			continue
		}
		points = append(points, SpatialPoint{X: x, Y: y, ID: n.ID})
	}
	e.Spatial.Rebuild(points, now)
}

func (e *TopoEngine) handlePointer(now time.Time) {
	cx, cy := ebiten.CursorPosition()
	id, ok := e.Spatial.Nearest(float64(cx), float64(cy), HoverMaxRadius)
	if ok {
		e.hoverID = &id
	} else {
		e.hoverID = nil
	}
	if inpututil.IsMouseButtonJustPressed(ebiten.MouseButtonLeft) {
		if ok {
			selected, gen := e.Focus.Select(e.State, e.Effects, id, now)
			if selected && e.Client != nil {
				go func() {
					detail, ok := e.Client.NodeDetail(context.Background(), id, FilterQuery{Window: 3600, Limit: 50})
					if !ok {
						return
					}
					e.mu.Lock()
					defer e.mu.Unlock()
					e.Focus.MergeDetail(gen, id, detail, e.State, time.Now())
				}()
			}
		} else if e.Focus.Active() {
			e.Focus.Clear(now)
		}
	}
}

// refreshBackdrop re-rasterizes the world once the camera has settled.
func (e *TopoEngine) refreshBackdrop(now time.Time) {
	if e.world == nil {
		return
	}
	gen := e.Camera.Generation()
	if gen == e.bgGen && e.bgImage != nil {
		return
	}
	if now.Sub(e.bgDirtyAt) < backdropSettle && e.bgImage != nil {
		return
	}
	e.bgGen = gen
	e.bgImage = e.rasterizeWorld()
}

func (e *TopoEngine) rasterizeWorld() *ebiten.Image {
	cpuImg := image.NewRGBA(image.Rect(0, 0, e.Width, e.Height))
	draw.Draw(cpuImg, cpuImg.Bounds(), &image.Uniform{backgroundColor}, image.Point{}, draw.Src)
	project := func(lat, lon float64) (float64, float64) {
		x, y, _ := e.Camera.Project(lat, lon)
		return x, y
	}
	for _, f := range e.world.Features {
		if f.Geometry.IsPolygon() {
			fillPolygon(cpuImg, e.Width, e.Height, f.Geometry.Polygon, landColor, project)
			for _, ring := range f.Geometry.Polygon {
				drawRingFast(cpuImg, e.Width, e.Height, ring, outlineColor, project)
			}
		} else if f.Geometry.IsMultiPolygon() {
			for _, poly := range f.Geometry.MultiPolygon {
				fillPolygon(cpuImg, e.Width, e.Height, poly, landColor, project)
				for _, ring := range poly {
					drawRingFast(cpuImg, e.Width, e.Height, ring, outlineColor, project)
				}
			}
		}
	}
	return ebiten.NewImageFromImage(cpuImg)
}

func (e *TopoEngine) Layout(w, h int) (int, int) { return e.Width, e.Height }

func (e *TopoEngine) Draw(screen *ebiten.Image) {
	now := time.Now()
	e.mu.Lock()
	if e.bgImage != nil {
		screen.DrawImage(e.bgImage, nil)
	} else {
		screen.Fill(backgroundColor)
	}
	if hy := e.Camera.HorizonY(); hy > 0 && hy < float64(e.Height) {
		vector.StrokeLine(screen, 0, float32(hy), float32(e.Width), float32(hy), 1, outlineColor, false)
	}
	focusAlpha := e.Focus.Alpha(now)
	lod := lodForZoom(e.Camera.Zoom)
	e.drawTrails(screen, now, lod)
	e.drawRouteArcs(screen, now, lod)
	e.drawRipples(screen, now)
	e.drawNodes(screen, now, focusAlpha, lod)
	if lod.Bubbles {
		e.drawBubbles(screen, now)
	}
	e.drawStatus(screen)
	e.mu.Unlock()

	if e.OnFrame != nil {
		e.OnFrame(screen)
	}
	if e.FrameCaptureDir != "" && e.CaptureEvery > 0 && now.Sub(e.lastCapture) >= e.CaptureEvery {
		e.lastCapture = now
		captureFrame(e.FrameCaptureDir, screen, "topo", now)
	}
}

type projPoint struct {
	x, y, vis float64
}

// refreshProjections drops the projection cache when the camera moved or
// the model changed; otherwise cached entries stay valid.
func (e *TopoEngine) refreshProjections(modelChanged bool) {
	if gen := e.Camera.Generation(); gen != e.projGen {
		e.projGen = gen
		modelChanged = true
	}
	if modelChanged && len(e.projCache) > 0 {
		e.projCache = make(map[uint32]projPoint, len(e.projCache))
	}
}

func (e *TopoEngine) nodeScreen(id uint32) (float64, float64, float64, bool) {
	if p, ok := e.projCache[id]; ok {
		return p.x, p.y, p.vis, true
	}
	n, ok := e.State.Nodes[id]
	if !ok || n.Lat == nil || n.Lon == nil {
		return 0, 0, 0, false
	}
	x, y, vis := e.Camera.Project(*n.Lat, *n.Lon)
	e.projCache[id] = projPoint{x, y, vis}
	return x, y, vis, true
}

// arcLift is the Bezier control-point offset for a chord of the given
// screen length: grows with distance up to a cap, lies flat when the
// camera looks straight down and rises at oblique pitch.
func arcLift(dist, pitch float64) float64 {
	return math.Min(dist*0.18, 90) * (0.35 + math.Sin(pitch)*1.3)
}

// topoLOD gates per-frame detail by zoom: the world view stays calm,
// close-ups get labels, chat bubbles and finely tessellated arcs.
type topoLOD struct {
	HeatLabels bool
	Bubbles    bool
	ArcDetail  bool
}

func lodForZoom(zoom float64) topoLOD {
	return topoLOD{
		Bubbles:    zoom >= 1.8,
		ArcDetail:  zoom >= 2.0,
		HeatLabels: zoom >= 2.4,
	}
}

// drawArc strokes a quadratic Bezier between two screen points, lifted
// perpendicular to the chord so dense traffic does not collapse into a
// single straight band.
func drawArc(screen *ebiten.Image, x1, y1, x2, y2 float64, width float32, col color.RGBA, pitch float64, detail bool) {
	mx, my := (x1+x2)/2, (y1+y2)/2
	dx, dy := x2-x1, y2-y1
	dist := math.Hypot(dx, dy)
	if dist < 2 {
		return
	}
	lift := arcLift(dist, pitch)
	cxp := mx - dy/dist*lift
	cyp := my + dx/dist*lift
	steps := int(clamp(dist/12, 6, 36))
	if !detail {
		steps = int(clamp(dist/24, 4, 16))
	}
	px, py := x1, y1
	for i := 1; i <= steps; i++ {
		t := float64(i) / float64(steps)
		it := 1 - t
		bx := it*it*x1 + 2*it*t*cxp + t*t*x2
		by := it*it*y1 + 2*it*t*cyp + t*t*y2
		vector.StrokeLine(screen, float32(px), float32(py), float32(bx), float32(by), width, col, true)
		px, py = bx, by
	}
}

func (e *TopoEngine) drawTrails(screen *ebiten.Image, now time.Time, lod topoLOD) {
	for _, t := range e.Effects.Trails {
		x1, y1, v1, ok1 := e.nodeScreen(t.A)
		x2, y2, v2, ok2 := e.nodeScreen(t.B)
		if !ok1 || !ok2 {
			continue
		}
		vis := math.Min(v1, v2)
		if vis <= 0 {
			continue
		}
		age := now.Sub(t.Start)
		alpha := (1 - float64(age)/float64(TrailLife)) * 0.45 * vis
		if alpha <= 0.01 {
			continue
		}
		drawArc(screen, x1, y1, x2, y2, 1.5, scaleColor(t.Color, alpha), e.Camera.Pitch, lod.ArcDetail)
	}
}

func (e *TopoEngine) drawRouteArcs(screen *ebiten.Image, now time.Time, lod topoLOD) {
	for _, route := range e.Effects.Routes {
		alpha := route.Alpha(now)
		if alpha <= 0 {
			continue
		}
		progress := route.Progress(now)
		full := int(progress)
		for i := 0; i+1 < len(route.Hops); i++ {
			x1, y1, v1, ok1 := e.nodeScreen(route.Hops[i])
			x2, y2, v2, ok2 := e.nodeScreen(route.Hops[i+1])
			if !ok1 || !ok2 {
				continue
			}
			vis := math.Min(v1, v2)
			if vis <= 0 {
				continue
			}
			segAlpha := 0.3
			if i < full {
				segAlpha = 0.8
			} else if i == full {
				segAlpha = 0.5 + 0.3*(progress-float64(full))
			}
			drawArc(screen, x1, y1, x2, y2, 2, scaleColor(route.Color, segAlpha*alpha*vis), e.Camera.Pitch, lod.ArcDetail)
		}
	}
}

func (e *TopoEngine) drawRipples(screen *ebiten.Image, now time.Time) {
	for _, r := range e.Effects.Ripples {
		var x, y, vis float64
		var ok bool
		if r.LinkKey != "" {
			l, found := e.State.Links[r.LinkKey]
			if !found {
				continue
			}
			x1, y1, v1, ok1 := e.nodeScreen(l.Source)
			x2, y2, v2, ok2 := e.nodeScreen(l.Target)
			if !ok1 || !ok2 {
				continue
			}
			x, y, vis, ok = (x1+x2)/2, (y1+y2)/2, math.Min(v1, v2), true
		} else {
			x, y, vis, ok = e.nodeScreen(r.NodeID)
		}
		if !ok || vis <= 0 {
			continue
		}
		p := Profile(r.Kind)
		for ring := 0; ring < r.Rings; ring++ {
			start := r.Start.Add(time.Duration(ring) * p.RingDelay)
			elapsed := now.Sub(start)
			if elapsed < 0 || elapsed > p.Duration {
				continue
			}
			progress := float64(elapsed) / float64(p.Duration)
			radius := 3 + progress*p.MaxRadius
			e.blitPulse(screen, x, y, radius, r.Color, (1-progress)*p.BaseAlpha*vis)
		}
	}
}

func (e *TopoEngine) blitPulse(screen *ebiten.Image, x, y, radius float64, c color.RGBA, alpha float64) {
	if e.pulseImage == nil || alpha <= 0 {
		return
	}
	imgW := e.pulseImage.Bounds().Dx()
	halfW := float64(imgW) / 2
	op := &ebiten.DrawImageOptions{}
	op.Blend = ebiten.BlendLighter
	scale := radius * 2 / float64(imgW)
	op.GeoM.Translate(-halfW, -halfW)
	op.GeoM.Scale(scale, scale)
	op.GeoM.Translate(x, y)
	r, g, b := float64(c.R)/255.0, float64(c.G)/255.0, float64(c.B)/255.0
	op.ColorScale.Scale(float32(r*alpha), float32(g*alpha), float32(b*alpha), float32(alpha))
	screen.DrawImage(e.pulseImage, op)
}

func (e *TopoEngine) drawNodes(screen *ebiten.Image, now time.Time, focusAlpha float64, lod topoLOD) {
	face := &text.GoTextFace{Source: e.fontSource, Size: 12}
	// Draw back-to-front when pitched so near markers overlay far ones.
	type placed struct {
		n       *Node
		x, y, v float64
	}
	nodes := make([]placed, 0, len(e.State.Nodes))
	for _, n := range e.State.Nodes {
		if n.IsBroadcast() {
			continue
		}
		x, y, vis, ok := e.nodeScreen(n.ID)
		if !ok || vis <= 0 {
			continue
		}
		nodes = append(nodes, placed{n, x, y, vis})
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].y < nodes[j].y })

	for _, pn := range nodes {
		n := pn.n
		heat := n.Heat(now)
		radius := 3 + clamp(heat/NodeHeatMax, 0, 1)*4
		dim := pn.v
		if e.Focus.Active() || focusAlpha > 0 {
			if !(e.Focus.NodeID != nil && *e.Focus.NodeID == n.ID) {
				if _, nb := e.Focus.Neighbors[n.ID]; !nb {
					dim *= 1 - 0.7*focusAlpha
				}
			}
		}
		if heat > 0.05 {
			e.blitPulse(screen, pn.x, pn.y, radius*(2.5+heat), n.Color, clamp(heat/NodeHeatMax, 0, 1)*0.5*dim)
		}
		vector.DrawFilledCircle(screen, float32(pn.x), float32(pn.y), float32(radius), scaleColor(n.Color, dim), true)

		hovered := e.hoverID != nil && *e.hoverID == n.ID
		focused := e.Focus.NodeID != nil && *e.Focus.NodeID == n.ID
		if focused {
			vector.StrokeCircle(screen, float32(pn.x), float32(pn.y), float32(radius+5), 2, scaleColor(color.RGBA{255, 255, 255, 255}, focusAlpha), true)
		}
		if hovered || focused || (lod.HeatLabels && heat > NodeHeatGain) {
			top := &text.DrawOptions{}
			top.GeoM.Translate(pn.x+radius+4, pn.y-7)
			top.ColorScale.Scale(1, 1, 1, float32(0.75*dim))
			text.Draw(screen, n.DisplayName(), face, top)
		}
	}
}

func (e *TopoEngine) drawBubbles(screen *ebiten.Image, now time.Time) {
	face := &text.GoTextFace{Source: e.fontSource, Size: 12}
	for _, b := range e.Effects.Bubbles {
		x, y, vis, ok := e.nodeScreen(b.NodeID)
		if !ok || vis <= 0 {
			continue
		}
		age := now.Sub(b.Start)
		alpha := vis
		if remain := BubbleLife - age; remain < time.Second {
			alpha *= clamp(float64(remain)/float64(time.Second), 0, 1)
		}
		lines := wrapBubbleLines(b.Text, face, bubbleMaxWidth, bubbleMaxLines)
		lineH := 15.0
		boxH := float64(len(lines))*lineH + 10
		boxW := 0.0
		for _, ln := range lines {
			w, _ := text.Measure(ln, face, 0)
			if w > boxW {
				boxW = w
			}
		}
		boxW += 14
		bx, by := x+12, y-boxH-10
		vector.DrawFilledRect(screen, float32(bx), float32(by), float32(boxW), float32(boxH), scaleColor(color.RGBA{20, 24, 32, 255}, 0.85*alpha), true)
		vector.StrokeRect(screen, float32(bx), float32(by), float32(boxW), float32(boxH), 1, scaleColor(color.RGBA{91, 200, 255, 255}, 0.5*alpha), true)
		for i, ln := range lines {
			top := &text.DrawOptions{}
			top.GeoM.Translate(bx+7, by+5+float64(i)*lineH)
			top.ColorScale.Scale(1, 1, 1, float32(0.9*alpha))
			text.Draw(screen, ln, face, top)
		}
	}
}

func (e *TopoEngine) drawStatus(screen *ebiten.Image) {
	if e.fontSource == nil {
		return
	}
	margin, fontSize := 40.0, 18.0
	if e.Width > 2000 {
		margin, fontSize = 80.0, 36.0
	}
	face := &text.GoTextFace{Source: e.fontSource, Size: fontSize}
	boxW := 360.0
	if e.Width > 2000 {
		boxW = 720.0
	}
	drawHUDBox(screen, margin, margin+fontSize, boxW, fontSize*3.2+10, fontSize, "MESH MAP", e.fontSource)

	lamp := color.RGBA{255, 209, 102, 255}
	switch e.State.Conn {
	case ConnOnline:
		lamp = color.RGBA{0x33, 0xff, 0x79, 255}
	case ConnOffline:
		lamp = color.RGBA{0xff, 0x3b, 0x3b, 255}
	}
	vector.DrawFilledCircle(screen, float32(margin+fontSize*0.5), float32(margin+fontSize*1.6), float32(fontSize*0.3), lamp, true)

	stateOp := &text.DrawOptions{}
	stateOp.GeoM.Translate(margin+fontSize*1.2, margin+fontSize*1.1)
	stateOp.ColorScale.Scale(1, 1, 1, 0.85)
	text.Draw(screen, e.State.Conn.String(), face, stateOp)

	lineFace := &text.GoTextFace{Source: e.fontSource, Size: fontSize * 0.7}
	lineOp := &text.DrawOptions{}
	lineOp.GeoM.Translate(margin, margin+fontSize*2.4)
	lineOp.ColorScale.Scale(1, 1, 1, 0.55)
	text.Draw(screen, e.statsLine, lineFace, lineOp)
}

// fillPolygon scanline-fills projected rings with even-odd parity.
func fillPolygon(img *image.RGBA, width, height int, rings [][][]float64, c color.RGBA, project func(lat, lon float64) (float64, float64)) {
	if len(rings) == 0 {
		return
	}
	type point struct{ x, y float64 }
	projectedRings := make([][]point, len(rings))
	minY, maxY := float64(height), 0.0
	for i, ring := range rings {
		projectedRings[i] = make([]point, len(ring))
		for j, p := range ring {
			x, y := project(p[1], p[0])
			projectedRings[i][j] = point{x, y}
			if y < minY {
				minY = y
			}
			if y > maxY {
				maxY = y
			}
		}
	}
	for y := int(minY); y <= int(maxY); y++ {
		if y < 0 || y >= height {
			continue
		}
		var nodes []int
		fy := float64(y)
		for _, ring := range projectedRings {
			for i := 0; i < len(ring); i++ {
				j := (i + 1) % len(ring)
				if (ring[i].y < fy && ring[j].y >= fy) || (ring[j].y < fy && ring[i].y >= fy) {
					nodeX := ring[i].x + (fy-ring[i].y)/(ring[j].y-ring[i].y)*(ring[j].x-ring[i].x)
					nodes = append(nodes, int(nodeX))
				}
			}
		}
		sort.Ints(nodes)
		for i := 0; i < len(nodes)-1; i += 2 {
			xs, xe := nodes[i], nodes[i+1]
			if xs < 0 {
				xs = 0
			}
			if xe >= width {
				xe = width - 1
			}
			for x := xs; x < xe; x++ {
				off := y*img.Stride + x*4
				img.Pix[off], img.Pix[off+1], img.Pix[off+2], img.Pix[off+3] = c.R, c.G, c.B, 255
			}
		}
	}
}

func drawRingFast(img *image.RGBA, width, height int, coords [][]float64, c color.RGBA, project func(lat, lon float64) (float64, float64)) {
	for i := 0; i < len(coords)-1; i++ {
		x1, y1 := project(coords[i][1], coords[i][0])
		x2, y2 := project(coords[i+1][1], coords[i+1][0])
		drawLineFast(img, width, height, int(x1), int(y1), int(x2), int(y2), c)
	}
}

func drawLineFast(img *image.RGBA, width, height, x1, y1, x2, y2 int, c color.RGBA) {
	dx, dy := math.Abs(float64(x2-x1)), math.Abs(float64(y2-y1))
	if dx > float64(width) || dy > float64(height) {
		return
	}
	sx, sy := -1, -1
	if x1 < x2 {
		sx = 1
	}
	if y1 < y2 {
		sy = 1
	}
	err := dx - dy
	for {
		if x1 >= 0 && x1 < width && y1 >= 0 && y1 < height {
			off := y1*img.Stride + x1*4
			img.Pix[off], img.Pix[off+1], img.Pix[off+2], img.Pix[off+3] = c.R, c.G, c.B, 255
		}
		if x1 == x2 && y1 == y2 {
			break
		}
		e2 := 2 * err
		if e2 > -dy {
			err -= dy
			x1 += sx
		}
		if e2 < dx {
			err += dx
			y1 += sy
		}
	}
}
