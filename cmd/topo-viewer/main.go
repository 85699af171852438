package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/alecthomas/kong"
	"github.com/hajimehoshi/ebiten/v2"
	_ "github.com/silbinarywolf/preferdiscretegpu"

	"github.com/meshviz/mesh-stream/pkg/meshcore"
	"github.com/meshviz/mesh-stream/pkg/utils"
)

var cli struct {
	API string `default:"http://localhost:8077" help:"Base URL of the mesh REST API."`
	WS  string `default:"ws://localhost:8077/ws" help:"Websocket URL of the live packet feed."`

	Width        int  `default:"1920" help:"Internal rendering width."`
	Height       int  `default:"1080" help:"Internal rendering height."`
	WindowWidth  int  `default:"1280" help:"Initial window width (non-headless only)."`
	WindowHeight int  `default:"720" help:"Initial window height (non-headless only)."`
	TPS          int  `default:"30" help:"Ticks per second (engine updates)."`
	Headless     bool `help:"Run without a local window (Xvfb rendering active)."`

	World   string `default:"data/world.geo.json" help:"Land-polygon GeoJSON for the map backdrop."`
	DataDir string `default:"data/nodedir" help:"Directory for the persistent node directory."`

	Lat  float64 `default:"30" help:"Initial camera latitude."`
	Lon  float64 `default:"0" help:"Initial camera longitude."`
	Zoom float64 `default:"1.4" help:"Initial camera zoom."`

	CaptureDir   string        `help:"Directory to drop periodic frame captures into."`
	CaptureEvery time.Duration `default:"0" help:"Interval between frame captures (0 disables)."`
}

func main() {
	kong.Parse(&cli)
	log.SetOutput(os.Stderr)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	engine := meshcore.NewTopoEngine(cli.Width, cli.Height)
	engine.InitPulseTexture()
	engine.FrameCaptureDir = cli.CaptureDir
	engine.CaptureEvery = cli.CaptureEvery
	engine.Camera.Lat = cli.Lat
	engine.Camera.Lon = cli.Lon
	engine.Camera.Zoom = cli.Zoom

	if err := engine.LoadWorld(cli.World); err != nil {
		log.Fatalf("Failed to load world map: %v", err)
	}

	dir, err := utils.OpenNodeDirectory(cli.DataDir)
	if err != nil {
		log.Printf("Node directory unavailable: %v (positions will not persist)", err)
	} else {
		defer dir.Close()
		engine.SetDirectory(dir)
		seeded := 0
		if err := dir.ForEach(func(id uint32, rec utils.NodeRecord) error {
			var lat, lon *float64
			if rec.HasPosition {
				lat, lon = &rec.Lat, &rec.Lon
			}
			engine.SeedNode(id, rec.LongName, rec.ShortName, lat, lon)
			seeded++
			return nil
		}); err != nil {
			log.Printf("Node directory preload failed: %v", err)
		} else {
			log.Printf("Preloaded %d nodes from directory", seeded)
		}
	}

	engine.StartFeed(context.Background(), cli.API, cli.WS)

	ebiten.SetTPS(cli.TPS)
	if cli.Headless {
		log.Println("Running in HEADLESS mode (Rendering active).")
	} else {
		ebiten.SetWindowSize(cli.WindowWidth, cli.WindowHeight)
		ebiten.SetWindowTitle("Mesh Map Viewer")
	}
	if err := ebiten.RunGame(engine); err != nil {
		log.Fatal(err)
	}
}
