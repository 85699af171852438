package meshcore

import (
	"fmt"
	"image/color"
	"math"
	"sort"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/text/v2"
	"github.com/hajimehoshi/ebiten/v2/vector"
)

var (
	hudBoxFill   = color.RGBA{0, 0, 0, 100}
	hudBoxBorder = color.RGBA{36, 42, 53, 255}
	hudAccent    = color.RGBA{0x33, 0xff, 0x79, 255}

	trendPacketsColor = color.RGBA{91, 200, 255, 255}
	trendRoutesColor  = color.RGBA{0x33, 0xff, 0x79, 255}
)

// VisualNode is one eased row of the top-activity list. Rows slide to
// their target slot and fade instead of snapping.
type VisualNode struct {
	ID          uint32
	Label       string
	Rate        float64
	DisplayY    float64
	TargetY     float64
	Alpha       float64
	TargetAlpha float64
	Active      bool
}

// easeHUD advances row positions and alphas one tick.
func (e *Engine) easeHUD() {
	e.metricsMu.Lock()
	defer e.metricsMu.Unlock()
	for _, vn := range e.VisualNodes {
		vn.DisplayY += (vn.TargetY - vn.DisplayY) * 0.1
		vn.Alpha += (vn.TargetAlpha - vn.Alpha) * 0.08
	}
}

func (e *Engine) drawHUD(screen *ebiten.Image, now time.Time) {
	if e.fontSource == nil {
		return
	}
	margin, fontSize := 40.0, 18.0
	if e.Width > 2000 {
		margin, fontSize = 80.0, 36.0
	}
	e.metricsMu.Lock()
	defer e.metricsMu.Unlock()
	face := &text.GoTextFace{Source: e.fontSource, Size: fontSize}

	e.drawConnBox(screen, margin, fontSize, face)

	// West side: top active nodes.
	hubYBase := float64(e.Height) / 2.0
	hubX := margin
	boxW, boxH := 280.0, 180.0
	if e.Width > 2000 {
		boxW, boxH = 560.0, 360.0
	}

	if len(e.VisualNodes) > 0 {
		drawHUDBox(screen, hubX, hubYBase, boxW, boxH, fontSize, "TOP ACTIVE NODES (pkt/s)", e.fontSource)
	}
	for _, vn := range e.VisualNodes {
		label := vn.Label
		const maxLen = 18
		if len(label) > maxLen {
			label = label[:maxLen-3] + "..."
		}
		nameOp := &text.DrawOptions{}
		nameOp.GeoM.Translate(hubX, vn.DisplayY)
		nameOp.ColorScale.Scale(1, 1, 1, float32(vn.Alpha*0.8))
		text.Draw(screen, label, face, nameOp)

		rateStr := fmt.Sprintf("%.1f", vn.Rate)
		tw, _ := text.Measure(rateStr, face, 0)
		rateOp := &text.DrawOptions{}
		rateOp.GeoM.Translate(hubX+boxW-tw-25, vn.DisplayY)
		rateOp.ColorScale.Scale(1, 1, 1, float32(vn.Alpha*0.6))
		text.Draw(screen, rateStr, face, rateOp)
	}

	// West side: busiest ports from the last summary poll.
	portYBase := hubYBase + 200.0
	if e.Width > 2000 {
		portYBase = hubYBase + 400.0
	}
	if e.lastMetrics != nil && len(e.lastMetrics.TopPorts) > 0 {
		drawHUDBox(screen, hubX, portYBase, boxW, boxH, fontSize, "PORT TRAFFIC (1h)", e.fontSource)
		spacing := fontSize * 1.2
		rows := e.lastMetrics.TopPorts
		if len(rows) > 5 {
			rows = rows[:5]
		}
		for i, p := range rows {
			y := portYBase + 10 + float64(i)*spacing
			name := p.Portname
			if name == "" {
				name = fmt.Sprintf("port %d", p.Portnum)
			}
			c := PortColor(p.Portnum)
			nameOp := &text.DrawOptions{}
			nameOp.GeoM.Translate(hubX, y)
			nameOp.ColorScale.Scale(float32(c.R)/255, float32(c.G)/255, float32(c.B)/255, 0.85)
			text.Draw(screen, name, face, nameOp)

			countStr := fmt.Sprintf("%d", p.Count)
			tw, _ := text.Measure(countStr, face, 0)
			countOp := &text.DrawOptions{}
			countOp.GeoM.Translate(hubX+boxW-tw-25, y)
			countOp.ColorScale.Scale(1, 1, 1, 0.6)
			text.Draw(screen, countStr, face, countOp)
		}
	}

	// West side: now playing.
	songYBase := portYBase + 200.0
	if e.Width > 2000 {
		songYBase = portYBase + 400.0
	}
	if e.CurrentSong != "" {
		e.drawNowPlaying(screen, hubX, songYBase, boxW, fontSize, face)
	}

	// Bottom right: legend and trendlines.
	graphW, graphH := 300.0, 100.0
	ratesW := 120.0
	legendW, legendH := 260.0, 160.0
	if e.Width > 2000 {
		graphW, graphH = 600.0, 200.0
		ratesW = 240.0
		legendW, legendH = 520.0, 320.0
	}
	trendBoxH := legendH - fontSize - 25
	graphH = trendBoxH - 10

	spacing := 40.0
	trendBoxW := graphW + ratesW
	totalW := trendBoxW + spacing + legendW
	baseX := float64(e.Width) - margin - totalW
	baseY := float64(e.Height) - margin - graphH - 20

	legendX, legendY := baseX, baseY
	gx, gy := baseX+legendW+spacing, baseY

	e.drawTrendlines(screen, gx, gy, graphW, trendBoxW, graphH, fontSize, legendH)
	e.drawLegend(screen, legendX, legendY, legendW, legendH, gx, graphW, fontSize, face)
}

// drawHUDBox paints the shared box chrome: translucent fill, border,
// accent bar and title.
func drawHUDBox(screen *ebiten.Image, x, yBase, w, h, fontSize float64, title string, src *text.GoTextFaceSource) {
	vector.DrawFilledRect(screen, float32(x-10), float32(yBase-fontSize-15), float32(w), float32(h), hudBoxFill, false)
	vector.StrokeRect(screen, float32(x-10), float32(yBase-fontSize-15), float32(w), float32(h), 1, hudBoxBorder, false)
	vector.DrawFilledRect(screen, float32(x-10), float32(yBase-fontSize-15), 4, float32(fontSize+10), hudAccent, false)

	titleFace := &text.GoTextFace{Source: src, Size: fontSize * 0.8}
	titleOp := &text.DrawOptions{}
	titleOp.GeoM.Translate(x+5, yBase-fontSize-5)
	titleOp.ColorScale.Scale(1, 1, 1, 0.5)
	text.Draw(screen, title, titleFace, titleOp)
}

// drawConnBox is the top-left feed status lamp plus the rolling counters.
func (e *Engine) drawConnBox(screen *ebiten.Image, margin, fontSize float64, face *text.GoTextFace) {
	boxW := 320.0
	if e.Width > 2000 {
		boxW = 640.0
	}
	boxH := fontSize*3.2 + 10
	drawHUDBox(screen, margin, margin+fontSize, boxW, boxH, fontSize, "MESH FEED", e.fontSource)

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

	line := e.statsLine
	if e.lastMetrics != nil {
		line = fmt.Sprintf("%s  %.0f pkt/min  %d active", line, e.lastMetrics.PacketsPerMin, e.lastMetrics.ActiveNodes)
	}
	lineFace := &text.GoTextFace{Source: e.fontSource, Size: fontSize * 0.7}
	lineOp := &text.DrawOptions{}
	lineOp.GeoM.Translate(margin, margin+fontSize*2.4)
	lineOp.ColorScale.Scale(1, 1, 1, 0.55)
	text.Draw(screen, line, lineFace, lineOp)
}

func (e *Engine) drawNowPlaying(screen *ebiten.Image, hubX, songYBase, boxW, fontSize float64, face *text.GoTextFace) {
	songBoxW := boxW * 1.6
	boxH := fontSize * 3.0
	if e.CurrentArtist != "" {
		boxH = fontSize * 4.5
	}
	drawHUDBox(screen, hubX, songYBase, songBoxW, boxH, fontSize, "NOW PLAYING", e.fontSource)

	drawMarquee := func(label string, f *text.GoTextFace, yOffset float64, alpha float32, buffer **ebiten.Image) {
		tw, _ := text.Measure(label, f, 0)
		availW := songBoxW - 20
		if tw > availW {
			speed := 30.0
			padding := 60.0
			totalW := tw + padding
			offset := math.Mod(time.Since(e.songChangedAt).Seconds()*speed, totalW)

			bh := int(f.Size * 1.5)
			bw := int(availW)
			if *buffer == nil || (*buffer).Bounds().Dx() != bw || (*buffer).Bounds().Dy() != bh {
				*buffer = ebiten.NewImage(bw, bh)
			} else {
				(*buffer).Clear()
			}

			op := &text.DrawOptions{}
			op.GeoM.Translate(-offset, 0)
			op.ColorScale.Scale(1, 1, 1, alpha)
			text.Draw(*buffer, label, f, op)

			op.GeoM.Reset()
			op.GeoM.Translate(totalW-offset, 0)
			op.ColorScale.Scale(1, 1, 1, alpha)
			text.Draw(*buffer, label, f, op)

			drawOp := &ebiten.DrawImageOptions{}
			drawOp.GeoM.Translate(hubX, songYBase+yOffset)
			screen.DrawImage(*buffer, drawOp)
		} else {
			op := &text.DrawOptions{}
			op.GeoM.Translate(hubX, songYBase+yOffset)
			op.ColorScale.Scale(1, 1, 1, alpha)
			text.Draw(screen, label, f, op)
		}
	}

	drawMarquee(e.CurrentSong, face, fontSize*0.2, 0.8, &e.songBuffer)
	if e.CurrentArtist != "" {
		artistFace := &text.GoTextFace{Source: e.fontSource, Size: fontSize * 0.7}
		drawMarquee(e.CurrentArtist, artistFace, fontSize*1.3, 0.5, &e.artistBuffer)
	}
}

func (e *Engine) drawLegend(screen *ebiten.Image, x, y, legendW, legendH, gx, graphW, fontSize float64, face *text.GoTextFace) {
	drawHUDBox(screen, x, y, legendW, legendH, fontSize, "LEGEND", e.fontSource)
	if e.pulseImage == nil {
		return
	}
	imgW := e.pulseImage.Bounds().Dx()
	halfW := float64(imgW) / 2
	swatchSize := fontSize

	x += 10
	y += 10

	type row struct {
		label string
		val   float64
		col   color.RGBA
	}
	rows := []row{
		{"PACKETS", e.ratePackets, trendPacketsColor},
		{"ROUTES", e.rateRoutes, trendRoutesColor},
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].val > rows[j].val })

	for i, r := range rows {
		ry := y + float64(i)*(fontSize+10)
		cr, cg, cb := float32(r.col.R)/255.0, float32(r.col.G)/255.0, float32(r.col.B)/255.0

		op := &ebiten.DrawImageOptions{}
		op.Blend = ebiten.BlendLighter
		scale := swatchSize / float64(imgW)
		op.GeoM.Translate(-halfW, -halfW)
		op.GeoM.Scale(scale, scale)
		op.GeoM.Translate(x+(swatchSize/2), ry+(fontSize/2))
		op.ColorScale.Scale(cr*0.6, cg*0.6, cb*0.6, 0.6)
		screen.DrawImage(e.pulseImage, op)

		top := &text.DrawOptions{}
		top.GeoM.Translate(x+swatchSize+15, ry)
		top.ColorScale.Scale(cr, cg, cb, 0.9)
		text.Draw(screen, r.label, face, top)

		rateStr := fmt.Sprintf("%.1f pkt/s", r.val)
		rateOp := &text.DrawOptions{}
		rateOp.GeoM.Translate(gx+graphW+15, ry)
		rateOp.ColorScale.Scale(cr, cg, cb, 0.9)
		text.Draw(screen, rateStr, face, rateOp)
	}

	// Port color key under the rate rows.
	small := &text.GoTextFace{Source: e.fontSource, Size: fontSize * 0.7}
	ports := []int32{PortText, PortPosition, PortNodeInfo, PortRouting, PortTelemetry, PortTraceroute}
	names := []string{"text", "position", "nodeinfo", "routing", "telemetry", "traceroute"}
	for i, p := range ports {
		col := i % 2
		rowIdx := i / 2
		px := x + float64(col)*(legendW/2-10)
		py := y + 2*(fontSize+10) + float64(rowIdx)*(fontSize*0.9)
		c := PortColor(p)
		vector.DrawFilledRect(screen, float32(px), float32(py+fontSize*0.15), float32(fontSize*0.5), float32(fontSize*0.5), c, false)
		top := &text.DrawOptions{}
		top.GeoM.Translate(px+fontSize*0.7, py)
		top.ColorScale.Scale(1, 1, 1, 0.7)
		text.Draw(screen, names[i], small, top)
	}
}

func (e *Engine) drawTrendlines(screen *ebiten.Image, gx, gy, graphW, trendBoxW, graphH, fontSize, boxH float64) {
	vector.DrawFilledRect(screen, float32(gx-10), float32(gy-fontSize-15), float32(trendBoxW+20), float32(boxH), hudBoxFill, false)
	vector.StrokeRect(screen, float32(gx-10), float32(gy-fontSize-15), float32(trendBoxW+20), float32(boxH), 1, hudBoxBorder, false)
	vector.DrawFilledRect(screen, float32(gx-10), float32(gy-fontSize-15), 4, float32(fontSize+10), hudAccent, false)

	titleFace := &text.GoTextFace{Source: e.fontSource, Size: fontSize * 0.8}
	trendOp := &text.DrawOptions{}
	trendOp.GeoM.Translate(gx+5, gy-fontSize-5)
	trendOp.ColorScale.Scale(1, 1, 1, 0.5)
	text.Draw(screen, "TRAFFIC TREND (5m)", titleFace, trendOp)

	if len(e.history) < 2 {
		return
	}

	logVal := func(v int) float64 {
		if v <= 0 {
			return 0
		}
		return math.Log10(float64(v) + 1.0)
	}
	globalMaxLog := 1.0
	for _, s := range e.history {
		if l := logVal(s.Packets); l > globalMaxLog {
			globalMaxLog = l
		}
		if l := logVal(s.Routes); l > globalMaxLog {
			globalMaxLog = l
		}
	}

	drawLayer := func(getValue func(s FlowSnapshot) int, col color.RGBA) {
		step := graphW / 60.0
		for i := 0; i < len(e.history)-1; i++ {
			x1, x2 := gx+float64(i)*step, gx+float64(i+1)*step
			y1 := gy + graphH - (logVal(getValue(e.history[i]))/globalMaxLog)*graphH
			y2 := gy + graphH - (logVal(getValue(e.history[i+1]))/globalMaxLog)*graphH
			vector.StrokeLine(screen, float32(x1), float32(y1), float32(x2), float32(y2), 2, col, false)
		}
	}
	drawLayer(func(s FlowSnapshot) int { return s.Packets }, trendPacketsColor)
	drawLayer(func(s FlowSnapshot) int { return s.Routes }, trendRoutesColor)
}

// StartMetricsLoop samples the rolling counters every 5 seconds, feeding
// the trendline ring and the eased top-nodes list.
func (e *Engine) StartMetricsLoop() {
	firstRun := true
	ticker := time.NewTicker(5 * time.Second)
	run := func() {
		now := time.Now()

		// Lock order matches Update: engine mutex first, then metrics.
		e.mu.Lock()
		type hot struct {
			id    uint32
			label string
			rate  float64
		}
		var current []hot
		for id, n := range e.State.Nodes {
			if h := n.Heat(now); h > 0.05 && !n.IsBroadcast() {
				current = append(current, hot{id, n.DisplayName(), h})
			}
		}
		e.mu.Unlock()

		e.metricsMu.Lock()
		defer e.metricsMu.Unlock()

		interval := now.Sub(e.lastMetricsUpdate).Seconds()
		if interval <= 0 {
			interval = 5.0
		}
		e.lastMetricsUpdate = now

		snap := FlowSnapshot{Packets: int(e.windowPackets), Routes: int(e.windowRoutes)}
		e.ratePackets = float64(snap.Packets) / interval
		e.rateRoutes = float64(snap.Routes) / interval
		e.history = append(e.history, snap)
		if len(e.history) > 60 {
			e.history = e.history[1:]
		}
		for len(e.history) < 60 {
			e.history = append([]FlowSnapshot{{}}, e.history...)
		}
		e.windowPackets, e.windowRoutes = 0, 0

		sort.Slice(current, func(i, j int) bool { return current[i].rate > current[j].rate })
		maxItems := 5
		if len(current) < maxItems {
			maxItems = len(current)
		}

		fontSize := 18.0
		if e.Width > 2000 {
			fontSize = 36.0
		}
		spacing := fontSize * 1.2
		hubYBase := float64(e.Height)/2.0 + 10.0

		for _, vn := range e.VisualNodes {
			vn.Active = false
			vn.TargetAlpha = 0.0
		}
		for i := 0; i < maxItems; i++ {
			if current[i].rate < 0.1 && !firstRun {
				continue
			}
			targetY := hubYBase + float64(i)*spacing
			if vn, ok := e.VisualNodes[current[i].id]; ok {
				vn.Active = true
				vn.TargetY = targetY
				vn.TargetAlpha = 1.0
				vn.Rate = current[i].rate
				vn.Label = current[i].label
			} else {
				e.VisualNodes[current[i].id] = &VisualNode{
					ID:          current[i].id,
					Label:       current[i].label,
					Rate:        current[i].rate,
					DisplayY:    hubYBase + float64(maxItems+1)*spacing,
					TargetY:     targetY,
					Alpha:       0,
					TargetAlpha: 1.0,
					Active:      true,
				}
			}
		}
		for id, vn := range e.VisualNodes {
			if !vn.Active {
				delete(e.VisualNodes, id)
			}
		}
		firstRun = false
	}

	go func() {
		time.Sleep(2 * time.Second)
		run()
	}()

	go func() {
		for range ticker.C {
			run()
		}
	}()
}
