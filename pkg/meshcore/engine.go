package meshcore

import (
	"bytes"
	"context"
	"fmt"
	"image/color"
	"io"
	"log"
	"math"
	"math/rand"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
	"github.com/hajimehoshi/ebiten/v2/text/v2"
	"github.com/hajimehoshi/ebiten/v2/vector"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/font/gofont/goregular"
)

var backgroundColor = color.RGBA{8, 10, 15, 255}

// Engine is the graph-view game: a force-directed layout of the mesh
// with heat glow, ripples, route traces and chat bubbles, fed by the
// ingest queue. All mutable state is guarded by mu; Update mutates,
// Draw only reads.
type Engine struct {
	Width, Height int

	mu        sync.Mutex
	State     *State
	Effects   *Effects
	Sim       *Layout
	Queue     *IngestQueue
	Focus     *Focus
	Processor *Processor
	Client    *Client
	Spatial   *SpatialIndex

	statsThrottle Throttle
	statsLine     string

	pendingGraph   *GraphResponse
	pendingMetrics *MetricsResponse
	lastMetrics    *MetricsResponse

	hoverID  *uint32
	hoverSet bool

	pulseImage *ebiten.Image
	fontSource *text.GoTextFaceSource
	monoSource *text.GoTextFaceSource

	// Snapshot ring driving the HUD trendline.
	history           []FlowSnapshot
	windowPackets     int64
	windowRoutes      int64
	lastMetricsUpdate time.Time
	metricsMu         sync.Mutex
	ratePackets       float64
	rateRoutes        float64

	VisualNodes map[uint32]*VisualNode

	AudioWriter io.Writer
	audioPlayer *AudioPlayer

	CurrentSong   string
	CurrentArtist string
	songChangedAt time.Time
	songBuffer    *ebiten.Image
	artistBuffer  *ebiten.Image

	FrameCaptureDir string
	CaptureEvery    time.Duration
	lastCapture     time.Time
	OnFrame         func(screen *ebiten.Image)
}

// FlowSnapshot is one trendline sample.
type FlowSnapshot struct {
	Packets int
	Routes  int
}

func NewEngine(width, height int) *Engine {
	s, _ := text.NewGoTextFaceSource(bytes.NewReader(goregular.TTF))
	m, _ := text.NewGoTextFaceSource(bytes.NewReader(gomono.TTF))

	state := NewState()
	fx := NewEffects()
	e := &Engine{
		Width:         width,
		Height:        height,
		State:         state,
		Effects:       fx,
		Sim:           NewLayout(float64(width), float64(height)),
		Queue:         NewIngestQueue(),
		Focus:         NewFocus(),
		Spatial:       NewSpatialIndex(),
		statsThrottle: Throttle{Interval: StatsRefreshInterval},
		fontSource:    s,
		monoSource:    m,
		history:       make([]FlowSnapshot, 60),
		VisualNodes:   make(map[uint32]*VisualNode),
	}
	e.Processor = NewProcessor(state, fx)
	return e
}

// SetDirectory wires the persistent node directory into the processor
// and preloads remembered labels and positions.
func (e *Engine) SetDirectory(dir Directory) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Processor.Dir = dir
}

// SeedNode pre-populates identity from the persistent directory so
// labels show before the first nodeinfo packet arrives.
func (e *Engine) SeedNode(id uint32, long, short string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, _ := e.State.EnsureNode(id, "", time.Now())
	if long != "" {
		n.LongName = long
	}
	if short != "" {
		n.ShortName = short
	}
}

func (e *Engine) SetNowPlaying(song, artist string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.CurrentSong, e.CurrentArtist = song, artist
	e.songChangedAt = time.Now()
}

// StartAudioPlayer begins the ambient soundtrack loop, feeding track
// metadata into the HUD.
func (e *Engine) StartAudioPlayer() {
	e.audioPlayer = NewAudioPlayer(e.AudioWriter, e.SetNowPlaying)
	e.audioPlayer.Start()
}

func (e *Engine) ShutdownAudio() {
	if e.audioPlayer != nil {
		e.audioPlayer.Shutdown()
	}
}

func (e *Engine) StartMemoryWatcher() {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		for range ticker.C {
			debug.FreeOSMemory()
		}
	}()
}

// InitPulseTexture pre-renders the radial ring sprite every glow and
// ripple is drawn from, so per-frame work is a scaled blit.
func (e *Engine) InitPulseTexture() {
	e.pulseImage = newPulseImage(e.Width)
}

func newPulseImage(screenWidth int) *ebiten.Image {
	size := 128
	if screenWidth > 2000 {
		size = 256
	}
	img := ebiten.NewImage(size, size)
	pixels := make([]byte, size*size*4)
	center, maxDist := float64(size)/2.0, float64(size)/2.0
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			dx, dy := float64(x)-center, float64(y)-center
			dist := math.Sqrt(dx*dx + dy*dy)
			if dist < maxDist {
				val, outer, inner := 0.0, 0.9, 0.8
				if screenWidth > 2000 {
					outer, inner = 0.94, 0.88
				}
				if dist > maxDist*outer {
					val = math.Cos(((dist - maxDist*(outer+((1-outer)/2))) / (maxDist * ((1 - outer) / 2))) * (math.Pi / 2))
				} else if dist > maxDist*inner {
					val = math.Sin(((dist - maxDist*inner) / (maxDist * (outer - inner))) * (math.Pi / 2))
				}
				pixels[(y*size+x)*4+3] = uint8(val * 255)
				pixels[(y*size+x)*4+0], pixels[(y*size+x)*4+1], pixels[(y*size+x)*4+2] = 255, 255, 255
			}
		}
	}
	img.WritePixels(pixels)
	return img
}

// StartFeed launches the websocket listener, the history preload and the
// reconciling summary poller.
func (e *Engine) StartFeed(ctx context.Context, apiBase, wsURL string) {
	e.Client = NewClient(apiBase)
	listener := NewListener(wsURL, e.Queue, func(s ConnState) {
		e.mu.Lock()
		e.State.Conn = s
		e.mu.Unlock()
	})
	go listener.Run(ctx)
	go e.preloadHistory(ctx)
	go e.summaryPollLoop(ctx)
}

// preloadHistory seeds the model from the recent packet history so the
// view is not empty while the live feed warms up.
func (e *Engine) preloadHistory(ctx context.Context) {
	packets, ok := e.Client.Packets(ctx, FilterQuery{Limit: DefaultPacketRing})
	if !ok {
		return
	}
	// Oldest first so the feed ring ends up newest-first.
	for i := len(packets) - 1; i >= 0; i-- {
		e.Queue.Push(packets[i])
	}
	log.Printf("Preloaded %d packets from history", len(packets))
}

func (e *Engine) summaryPollLoop(ctx context.Context) {
	ticker := time.NewTicker(SummaryPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		q := FilterQuery{Window: 3600}
		if g, ok := e.Client.Graph(ctx, q); ok {
			e.mu.Lock()
			e.pendingGraph = g
			e.mu.Unlock()
		}
		if m, ok := e.Client.Metrics(ctx, q); ok {
			e.mu.Lock()
			e.pendingMetrics = m
			e.mu.Unlock()
		}
	}
}

func (e *Engine) Update() error {
	now := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()

	// Reconcile pulled summaries first; they are swapped in by the
	// poller goroutine and applied only on this tick.
	if e.pendingGraph != nil {
		if e.State.ApplyGraph(e.pendingGraph, now) {
			e.Sim.Reheat()
		}
		e.pendingGraph = nil
	}
	if e.pendingMetrics != nil {
		e.lastMetrics = e.pendingMetrics
		e.pendingMetrics = nil
	}

	res, processed := e.Queue.Flush(e.Processor, time.Now)
	if processed > 0 {
		e.metricsMu.Lock()
		e.windowPackets += int64(processed)
		e.windowRoutes += int64(res.RoutesEmitted)
		e.metricsMu.Unlock()
	}
	switch {
	case res.TopologyChanged:
		e.Sim.Reheat()
	case res.RoutesChanged:
		// Route overlays redraw next frame anyway.
	case res.Processed && e.statsThrottle.Ready(now):
		e.refreshStatsLine()
	}

	e.Sim.Step(e.State)
	e.Effects.Prune(now)
	e.rebuildSpatial(now)
	e.handlePointer(now)
	e.easeHUD()
	return nil
}

func (e *Engine) refreshStatsLine() {
	e.statsLine = fmt.Sprintf("%d nodes  %d links  %d queued", len(e.State.Nodes), len(e.State.Links), e.Queue.Len())
}

func (e *Engine) rebuildSpatial(now time.Time) {
	points := make([]SpatialPoint, 0, len(e.State.Nodes))
	for _, n := range e.State.Nodes {
		if n.HasPos {
			points = append(points, SpatialPoint{X: n.X, Y: n.Y, ID: n.ID})
		}
	}
	e.Spatial.Rebuild(points, now)
}

func (e *Engine) handlePointer(now time.Time) {
	cx, cy := ebiten.CursorPosition()
	id, ok := e.Spatial.Nearest(float64(cx), float64(cy), HoverMaxRadius)
	e.hoverSet = ok
	if ok {
		e.hoverID = &id
	} else {
		e.hoverID = nil
	}

	if inpututil.IsMouseButtonJustPressed(ebiten.MouseButtonLeft) {
		if ok {
			selected, gen := e.Focus.Select(e.State, e.Effects, id, now)
			if selected {
				go e.enrichFocus(id, gen)
			}
		} else if e.Focus.Active() {
			e.Focus.Clear(now)
		}
	}
}

// enrichFocus pulls the authoritative node detail and merges it if the
// selection generation still matches when the response lands.
func (e *Engine) enrichFocus(id uint32, gen uint64) {
	if e.Client == nil {
		return
	}
	detail, ok := e.Client.NodeDetail(context.Background(), id, FilterQuery{Window: 3600, Limit: 50})
	if !ok {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Focus.MergeDetail(gen, id, detail, e.State, time.Now())
}

func (e *Engine) Layout(w, h int) (int, int) { return e.Width, e.Height }

func (e *Engine) Draw(screen *ebiten.Image) {
	screen.Fill(backgroundColor)
	now := time.Now()
	e.mu.Lock()
	focusAlpha := e.Focus.Alpha(now)
	e.drawLinks(screen, now, focusAlpha)
	e.drawRipples(screen, now)
	e.drawRoutes(screen, now)
	e.drawNodes(screen, now, focusAlpha)
	e.drawBubbles(screen, now)
	e.drawHUD(screen, now)
	e.mu.Unlock()

	if e.OnFrame != nil {
		e.OnFrame(screen)
	}
	if e.FrameCaptureDir != "" && e.CaptureEvery > 0 && now.Sub(e.lastCapture) >= e.CaptureEvery {
		e.lastCapture = now
		captureFrame(e.FrameCaptureDir, screen, "graph", now)
	}
}

// linkFadeWindow is the age past which a quiet link is invisible.
const linkFadeWindow = 10 * time.Minute

func (e *Engine) drawLinks(screen *ebiten.Image, now time.Time, focusAlpha float64) {
	nowEpoch := now.Unix()
	for key, l := range e.State.Links {
		a, okA := e.State.Nodes[l.Source]
		b, okB := e.State.Nodes[l.Target]
		if !okA || !okB || !a.HasPos || !b.HasPos {
			continue
		}
		age := nowEpoch - l.LastSeen
		baseAlpha := 0.22 * (1 - clamp(float64(age)/linkFadeWindow.Seconds(), 0, 1))
		heat := l.Heat(now)
		alpha := clamp(baseAlpha+heat/LinkHeatMax*0.5, 0, 0.85)
		width := float32(1 + heat/LinkHeatMax*2.5)
		c := l.Color
		if now.Before(l.FlashUntil) {
			alpha = clamp(alpha+0.35, 0, 1)
			width += 1
		}
		if e.Focus.Active() || focusAlpha > 0 {
			if _, hot := e.Focus.LinkKeys[key]; !hot {
				alpha *= 1 - 0.75*focusAlpha
			}
		}
		if alpha <= 0.01 {
			continue
		}
		col := scaleColor(c, alpha)
		vector.StrokeLine(screen, float32(a.X), float32(a.Y), float32(b.X), float32(b.Y), width, col, true)
	}
}

func (e *Engine) drawNodes(screen *ebiten.Image, now time.Time, focusAlpha float64) {
	face := &text.GoTextFace{Source: e.fontSource, Size: 12}
	for _, n := range e.State.Nodes {
		if !n.HasPos {
			continue
		}
		heat := n.Heat(now)
		radius := 4 + 1.5*math.Sqrt(float64(n.Degree))
		if n.IsBroadcast() {
			radius = 7
		}
		dim := 1.0
		if e.Focus.Active() || focusAlpha > 0 {
			if !e.focusIncludes(n.ID) {
				dim = 1 - 0.7*focusAlpha
			}
		}

		// Heat glow behind the disc.
		if heat > 0.05 && e.pulseImage != nil {
			glow := radius * (2.2 + heat/NodeHeatMax*3.5)
			e.blitPulse(screen, n.X, n.Y, glow, n.Color, clamp(heat/NodeHeatMax, 0, 1)*0.5*dim)
		}
		vector.DrawFilledCircle(screen, float32(n.X), float32(n.Y), float32(radius), scaleColor(n.Color, dim), true)

		hovered := e.hoverID != nil && *e.hoverID == n.ID
		focused := e.Focus.NodeID != nil && *e.Focus.NodeID == n.ID
		if focused {
			vector.StrokeCircle(screen, float32(n.X), float32(n.Y), float32(radius+5), 2, scaleColor(color.RGBA{255, 255, 255, 255}, focusAlpha), true)
		}
		if hovered || focused || heat > NodeHeatGain || n.IsBroadcast() {
			label := n.DisplayName()
			top := &text.DrawOptions{}
			top.GeoM.Translate(n.X+radius+4, n.Y-7)
			top.ColorScale.Scale(1, 1, 1, float32(0.75*dim))
			text.Draw(screen, label, face, top)
		}
	}
}

func (e *Engine) focusIncludes(id uint32) bool {
	if e.Focus.NodeID != nil && *e.Focus.NodeID == id {
		return true
	}
	_, ok := e.Focus.Neighbors[id]
	return ok
}

func (e *Engine) drawRipples(screen *ebiten.Image, now time.Time) {
	for _, r := range e.Effects.Ripples {
		x, y, ok := e.rippleOrigin(r)
		if !ok {
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
			alpha := (1 - progress) * p.BaseAlpha
			e.blitPulse(screen, x, y, radius, r.Color, alpha)
		}
	}
}

func (e *Engine) rippleOrigin(r *Ripple) (float64, float64, bool) {
	if r.LinkKey != "" {
		l, ok := e.State.Links[r.LinkKey]
		if !ok {
			return 0, 0, false
		}
		a, okA := e.State.Nodes[l.Source]
		b, okB := e.State.Nodes[l.Target]
		if !okA || !okB || !a.HasPos || !b.HasPos {
			return 0, 0, false
		}
		return (a.X + b.X) / 2, (a.Y + b.Y) / 2, true
	}
	n, ok := e.State.Nodes[r.NodeID]
	if !ok || !n.HasPos {
		return 0, 0, false
	}
	return n.X, n.Y, true
}

// blitPulse draws the pre-rendered ring sprite scaled to radius.
func (e *Engine) blitPulse(screen *ebiten.Image, x, y, radius float64, c color.RGBA, alpha float64) {
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

func (e *Engine) drawRoutes(screen *ebiten.Image, now time.Time) {
	mono := &text.GoTextFace{Source: e.monoSource, Size: 10}
	for _, route := range e.Effects.Routes {
		alpha := route.Alpha(now)
		if alpha <= 0 {
			continue
		}
		pts := make([][2]float64, 0, len(route.Hops))
		for _, id := range route.Hops {
			n, ok := e.State.Nodes[id]
			if !ok || !n.HasPos {
				pts = nil
				break
			}
			pts = append(pts, [2]float64{n.X, n.Y})
		}
		if len(pts) < 2 {
			continue
		}
		progress := route.Progress(now)
		full := int(progress)
		frac := progress - float64(full)
		col := route.Color

		// Traversed segments: dashed trail.
		for i := 0; i < full && i+1 < len(pts); i++ {
			drawDashedLine(screen, pts[i], pts[i+1], scaleColor(col, 0.4*alpha))
		}
		// Head segment: solid up to the moving tip.
		if full < len(pts)-1 {
			x1, y1 := pts[full][0], pts[full][1]
			x2, y2 := pts[full+1][0], pts[full+1][1]
			tx := x1 + (x2-x1)*frac
			ty := y1 + (y2-y1)*frac
			vector.StrokeLine(screen, float32(x1), float32(y1), float32(tx), float32(ty), 2, scaleColor(col, 0.9*alpha), true)
			drawArrowhead(screen, x1, y1, tx, ty, scaleColor(col, alpha))
		}
		// Twinkling sparkles along the traversed polyline.
		seed := int64(route.Start.UnixNano())
		rng := rand.New(rand.NewSource(seed))
		for i := 0; i < full+1 && i+1 < len(pts); i++ {
			for s := 0; s < 2; s++ {
				t := rng.Float64()
				tw := 0.5 + 0.5*math.Sin(float64(now.UnixMilli())/120+float64(s)*2.1+float64(i))
				sx := pts[i][0] + (pts[i+1][0]-pts[i][0])*t
				sy := pts[i][1] + (pts[i+1][1]-pts[i][1])*t
				vector.DrawFilledCircle(screen, float32(sx), float32(sy), 1.5, scaleColor(col, alpha*0.7*tw), true)
			}
		}
		// Numbered hop markers.
		for i, pt := range pts {
			vector.DrawFilledCircle(screen, float32(pt[0]), float32(pt[1]), 3, scaleColor(col, 0.8*alpha), true)
			top := &text.DrawOptions{}
			top.GeoM.Translate(pt[0]+5, pt[1]+3)
			top.ColorScale.Scale(1, 1, 1, float32(0.7*alpha))
			text.Draw(screen, fmt.Sprintf("%d", i+1), mono, top)
		}
	}
}

func drawDashedLine(screen *ebiten.Image, a, b [2]float64, col color.RGBA) {
	dx, dy := b[0]-a[0], b[1]-a[1]
	dist := math.Hypot(dx, dy)
	if dist < 1 {
		return
	}
	const dash, gap = 6.0, 5.0
	n := int(dist / (dash + gap))
	ux, uy := dx/dist, dy/dist
	for i := 0; i <= n; i++ {
		s := float64(i) * (dash + gap)
		eLen := math.Min(s+dash, dist)
		vector.StrokeLine(screen,
			float32(a[0]+ux*s), float32(a[1]+uy*s),
			float32(a[0]+ux*eLen), float32(a[1]+uy*eLen),
			1.5, col, true)
	}
}

func drawArrowhead(screen *ebiten.Image, x1, y1, x2, y2 float64, col color.RGBA) {
	ang := math.Atan2(y2-y1, x2-x1)
	const size = 7.0
	for _, side := range []float64{-1, 1} {
		a := ang + math.Pi + side*0.45
		vector.StrokeLine(screen, float32(x2), float32(y2),
			float32(x2+math.Cos(a)*size), float32(y2+math.Sin(a)*size), 2, col, true)
	}
}

// Bubble layout.
const (
	bubbleMaxWidth = 220.0
	bubbleMaxLines = 3
)

func (e *Engine) drawBubbles(screen *ebiten.Image, now time.Time) {
	face := &text.GoTextFace{Source: e.fontSource, Size: 12}
	for _, b := range e.Effects.Bubbles {
		n, ok := e.State.Nodes[b.NodeID]
		if !ok || !n.HasPos {
			continue
		}
		age := now.Sub(b.Start)
		alpha := 1.0
		if remain := BubbleLife - age; remain < time.Second {
			alpha = clamp(float64(remain)/float64(time.Second), 0, 1)
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
		bx := n.X + 12
		by := n.Y - boxH - 10
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

// wrapBubbleLines word-wraps text to the bubble width, truncating with
// an ellipsis at the line cap.
func wrapBubbleLines(s string, face *text.GoTextFace, maxWidth float64, maxLines int) []string {
	words := strings.Fields(s)
	var lines []string
	cur := ""
	for _, w := range words {
		candidate := w
		if cur != "" {
			candidate = cur + " " + w
		}
		if tw, _ := text.Measure(candidate, face, 0); tw > maxWidth && cur != "" {
			lines = append(lines, cur)
			cur = w
			if len(lines) == maxLines-1 {
				break
			}
		} else {
			cur = candidate
		}
	}
	if cur != "" {
		lines = append(lines, cur)
	}
	if len(lines) > maxLines {
		lines = lines[:maxLines]
	}
	if len(lines) == maxLines {
		last := lines[maxLines-1]
		for {
			if tw, _ := text.Measure(last+"…", face, 0); tw <= maxWidth || last == "" {
				break
			}
			r := []rune(last)
			last = string(r[:len(r)-1])
		}
		if rebuilt := strings.Join(words, " "); rebuilt != strings.Join(lines, " ") {
			lines[maxLines-1] = last + "…"
		}
	}
	return lines
}

func scaleColor(c color.RGBA, alpha float64) color.RGBA {
	alpha = clamp(alpha, 0, 1)
	return color.RGBA{
		R: uint8(float64(c.R) * alpha),
		G: uint8(float64(c.G) * alpha),
		B: uint8(float64(c.B) * alpha),
		A: uint8(255 * alpha),
	}
}
