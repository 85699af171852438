package meshcore

import (
	"math"
	"testing"
)

func flatCamera(w, h int) *Camera {
	c := NewCamera(w, h)
	c.Lat, c.Lon = 0, 0
	c.Bearing, c.Pitch = 0, 0
	return c
}

func TestCameraProjectCenter(t *testing.T) {
	c := flatCamera(1280, 720)
	x, y, vis := c.Project(0, 0)
	if vis != 1 {
		t.Fatalf("center visibility = %v", vis)
	}
	if math.Abs(x-640) > 1e-6 || math.Abs(y-360) > 1e-6 {
		t.Errorf("center projects to %v,%v", x, y)
	}

	// East of center lands right of center, north lands above.
	x, _, _ = c.Project(0, 10)
	if x <= 640 {
		t.Errorf("east longitude projected left: x=%v", x)
	}
	_, y, _ = c.Project(10, 0)
	if y >= 360 {
		t.Errorf("north latitude projected below: y=%v", y)
	}
}

func TestMercatorRoundTrip(t *testing.T) {
	tests := [][2]float64{{0, 0}, {48.2, 16.4}, {-33.9, 151.2}, {64.1, -21.9}}
	for _, tt := range tests {
		x, y := mercator(tt[0], tt[1])
		if x < 0 || x > 1 || y < 0 || y > 1 {
			t.Errorf("mercator(%v) = %v,%v outside the unit square", tt, x, y)
		}
		lat, lon := inverseMercator(x, y)
		if math.Abs(lat-tt[0]) > 1e-6 || math.Abs(lon-tt[1]) > 1e-6 {
			t.Errorf("round trip %v -> %v,%v", tt, lat, lon)
		}
	}
	// Polar latitudes clamp instead of diverging.
	_, y := mercator(89.9, 0)
	if math.IsInf(y, 0) || math.IsNaN(y) {
		t.Errorf("polar mercator degenerate: %v", y)
	}
}

func TestCameraAntimeridianWrap(t *testing.T) {
	c := flatCamera(1280, 720)
	c.Lon = 179
	c.Zoom = 4

	// A point just across the date line projects near center, not a full
	// world-width away.
	x, _, vis := c.Project(0, -179)
	if vis != 1 {
		t.Fatal("wrapped point not visible")
	}
	if math.Abs(x-640) > float64(c.Width)/2 {
		t.Errorf("wrapped point at x=%v, want near center", x)
	}
	if x <= 640 {
		t.Errorf("point east across the line should land right of center: x=%v", x)
	}
}

func TestCameraZoomClamp(t *testing.T) {
	c := flatCamera(1280, 720)
	c.ZoomBy(100)
	if c.Zoom != MaxZoom {
		t.Errorf("zoom = %v, want %v", c.Zoom, MaxZoom)
	}
	c.ZoomBy(-100)
	if c.Zoom != MinZoom {
		t.Errorf("zoom = %v, want %v", c.Zoom, MinZoom)
	}
}

func TestCameraTiltClamp(t *testing.T) {
	c := flatCamera(1280, 720)
	c.Tilt(10)
	if c.Pitch != MaxPitch {
		t.Errorf("pitch = %v, want %v", c.Pitch, MaxPitch)
	}
	c.Tilt(-20)
	if c.Pitch != 0 {
		t.Errorf("pitch = %v, want 0", c.Pitch)
	}
}

func TestCameraPitchFadesFarGeometry(t *testing.T) {
	c := flatCamera(1280, 720)
	c.Zoom = 3
	c.Tilt(MaxPitch)

	// Something well behind the camera center vanishes past the horizon.
	_, _, visFar := c.Project(60, 0)
	_, _, visNear := c.Project(-5, 0)
	if visFar >= visNear {
		t.Errorf("far visibility %v >= near visibility %v", visFar, visNear)
	}
	if hy := c.HorizonY(); hy >= 360 {
		t.Errorf("horizon below the midline: %v", hy)
	}

	c2 := flatCamera(1280, 720)
	if !math.IsInf(c2.HorizonY(), -1) {
		t.Error("flat camera should have no horizon")
	}
}

func TestCameraPanFollowsBearing(t *testing.T) {
	c := flatCamera(1280, 720)
	c.Zoom = 4

	// With no rotation, dragging the map right moves the view west.
	c.Pan(100, 0)
	if c.Lon >= 0 {
		t.Errorf("lon = %v after right drag, want < 0", c.Lon)
	}

	// Rotated a half turn, the same drag moves the view east.
	c2 := flatCamera(1280, 720)
	c2.Zoom = 4
	c2.Bearing = math.Pi
	c2.Pan(100, 0)
	if c2.Lon <= 0 {
		t.Errorf("lon = %v after rotated drag, want > 0", c2.Lon)
	}
}

func TestCameraPanClampsLatitude(t *testing.T) {
	c := flatCamera(1280, 720)
	c.Zoom = 2
	for i := 0; i < 500; i++ {
		c.Pan(0, 10000)
	}
	if c.Lat > 85.06 || c.Lat < -85.06 {
		t.Errorf("latitude escaped mercator bounds: %v", c.Lat)
	}
	if math.IsNaN(c.Lat) || math.IsInf(c.Lat, 0) {
		t.Errorf("latitude degenerate: %v", c.Lat)
	}
}

func TestCameraGenerationBumps(t *testing.T) {
	c := flatCamera(1280, 720)
	gen := c.Generation()
	c.Pan(1, 1)
	c.ZoomBy(0.5)
	c.Rotate(0.1)
	c.Tilt(0.05)
	c.Resize(1920, 1080)
	if c.Generation() == gen {
		t.Error("camera mutations did not bump the generation")
	}
}
