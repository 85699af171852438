package meshcore

import (
	"math"
)

// Camera limits.
const (
	MinZoom  = 1.0
	MaxZoom  = 12.0
	MaxPitch = 55.0 * math.Pi / 180

	// HorizonBand is the pixel band below the horizon line across which
	// tilted-away geometry fades out instead of popping.
	HorizonBand = 140.0
)

// Camera is the geographic view transform: web-mercator centered on
// Lat/Lon, scaled by Zoom, rotated by Bearing and tilted by Pitch.
// Every mutation bumps the generation so cached projections and the
// rasterized backdrop know to refresh.
type Camera struct {
	Lat, Lon float64
	Zoom     float64
	Bearing  float64 // radians, clockwise
	Pitch    float64 // radians, 0 is straight down

	Width, Height int

	gen uint64
}

func NewCamera(width, height int) *Camera {
	return &Camera{
		Lat:    30,
		Lon:    0,
		Zoom:   1.4,
		Width:  width,
		Height: height,
	}
}

func (c *Camera) Generation() uint64 { return c.gen }

func (c *Camera) bump() { c.gen++ }

// scale is pixels per mercator unit at the current zoom. The mercator
// world square spans [0,1) in both axes.
func (c *Camera) scale() float64 {
	return float64(c.Width) * math.Pow(2, c.Zoom-1)
}

func mercator(lat, lon float64) (float64, float64) {
	if lat > 85 {
		lat = 85
	}
	if lat < -85 {
		lat = -85
	}
	x := (lon + 180) / 360
	s := math.Sin(lat * math.Pi / 180)
	y := 0.5 - math.Log((1+s)/(1-s))/(4*math.Pi)
	return x, y
}

func inverseMercator(x, y float64) (lat, lon float64) {
	lon = x*360 - 180
	lat = math.Atan(math.Sinh(math.Pi*(1-2*y))) * 180 / math.Pi
	return lat, lon
}

// Project maps a geographic position to screen space. The third return
// is the visibility factor: 1 fully visible, fading to 0 across the
// horizon band when the camera is pitched.
func (c *Camera) Project(lat, lon float64) (float64, float64, float64) {
	mx, my := mercator(lat, lon)
	cx, cy := mercator(c.Lat, c.Lon)
	dx := (mx - cx) * c.scale()
	dy := (my - cy) * c.scale()

	// Wrap across the antimeridian: pick the nearer copy of the world.
	if world := c.scale(); dx > world/2 {
		dx -= world
	} else if dx < -world/2 {
		dx += world
	}

	if c.Bearing != 0 {
		cosB, sinB := math.Cos(c.Bearing), math.Sin(c.Bearing)
		dx, dy = dx*cosB-dy*sinB, dx*sinB+dy*cosB
	}

	vis := 1.0
	if c.Pitch > 0 {
		// Tilt compresses the vertical axis and pushes far geometry
		// toward the horizon with a mild perspective divide.
		depth := 1 + dy*math.Sin(c.Pitch)/float64(c.Height)
		if depth < 0.2 {
			depth = 0.2
		}
		dx /= depth
		dy = dy * math.Cos(c.Pitch) / depth
		hy := c.horizonOffset()
		if dy < hy {
			vis = 0
		} else if dy < hy+HorizonBand {
			vis = (dy - hy) / HorizonBand
		}
	}
	return float64(c.Width)/2 + dx, float64(c.Height)/2 + dy, vis
}

// horizonOffset is where the tilted plane vanishes, in centered screen
// units above the midline.
func (c *Camera) horizonOffset() float64 {
	if c.Pitch <= 0 {
		return math.Inf(-1)
	}
	return -float64(c.Height) / math.Sin(c.Pitch) * 0.45
}

// HorizonY is the absolute screen y of the horizon line, or -Inf when
// the camera is not pitched.
func (c *Camera) HorizonY() float64 {
	return float64(c.Height)/2 + c.horizonOffset()
}

// Pan shifts the center by a screen-space delta.
func (c *Camera) Pan(dxPix, dyPix float64) {
	if c.Bearing != 0 {
		cosB, sinB := math.Cos(-c.Bearing), math.Sin(-c.Bearing)
		dxPix, dyPix = dxPix*cosB-dyPix*sinB, dxPix*sinB+dyPix*cosB
	}
	cx, cy := mercator(c.Lat, c.Lon)
	cx -= dxPix / c.scale()
	cy -= dyPix / c.scale()
	cx = math.Mod(math.Mod(cx, 1)+1, 1)
	cy = clamp(cy, 0, 1)
	c.Lat, c.Lon = inverseMercator(cx, cy)
	c.bump()
}

// ZoomBy adjusts zoom, clamped to the supported range.
func (c *Camera) ZoomBy(delta float64) {
	z := clamp(c.Zoom+delta, MinZoom, MaxZoom)
	if z != c.Zoom {
		c.Zoom = z
		c.bump()
	}
}

func (c *Camera) Rotate(delta float64) {
	c.Bearing = math.Mod(c.Bearing+delta, 2*math.Pi)
	c.bump()
}

func (c *Camera) Tilt(delta float64) {
	p := clamp(c.Pitch+delta, 0, MaxPitch)
	if p != c.Pitch {
		c.Pitch = p
		c.bump()
	}
}

func (c *Camera) Resize(width, height int) {
	c.Width, c.Height = width, height
	c.bump()
}
