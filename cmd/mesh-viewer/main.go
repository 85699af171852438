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

	DataDir string `default:"data/nodedir" help:"Directory for the persistent node directory."`

	Window  int64   `help:"Only show packets from the last N seconds."`
	Port    []int32 `help:"Only show these port numbers."`
	Channel *int32  `help:"Only show this channel."`
	Gateway string  `help:"Only show packets heard by this gateway."`
	Search  string  `help:"Only show packets matching these terms."`

	CaptureDir   string        `help:"Directory to drop periodic frame captures into."`
	CaptureEvery time.Duration `default:"0" help:"Interval between frame captures (0 disables)."`

	Audio   bool `help:"Play the ambient soundtrack from ./audio."`
	AudioFd int  `default:"-1" help:"File descriptor to write raw PCM audio data (streaming only)."`
}

func main() {
	kong.Parse(&cli)
	log.SetOutput(os.Stderr)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	engine := meshcore.NewEngine(cli.Width, cli.Height)
	engine.InitPulseTexture()
	engine.FrameCaptureDir = cli.CaptureDir
	engine.CaptureEvery = cli.CaptureEvery

	engine.State.Filters.WindowSec = cli.Window
	engine.State.Filters.SetPortnums(cli.Port)
	engine.State.Filters.Channel = cli.Channel
	engine.State.Filters.Gateway = cli.Gateway
	engine.State.Filters.SetSearch(cli.Search)

	dir, err := utils.OpenNodeDirectory(cli.DataDir)
	if err != nil {
		log.Printf("Node directory unavailable: %v (labels will not persist)", err)
	} else {
		defer dir.Close()
		engine.SetDirectory(dir)
		seeded := 0
		if err := dir.ForEach(func(id uint32, rec utils.NodeRecord) error {
			engine.SeedNode(id, rec.LongName, rec.ShortName)
			seeded++
			return nil
		}); err != nil {
			log.Printf("Node directory preload failed: %v", err)
		} else {
			log.Printf("Preloaded %d nodes from directory", seeded)
		}
	}

	if cli.AudioFd != -1 {
		log.Printf("Attaching audio to file descriptor: %d", cli.AudioFd)
		engine.AudioWriter = os.NewFile(uintptr(cli.AudioFd), "audio-pipe")
	}

	ctx := context.Background()
	engine.StartFeed(ctx, cli.API, cli.WS)
	engine.StartMetricsLoop()
	engine.StartMemoryWatcher()
	if cli.Audio || cli.AudioFd != -1 {
		engine.StartAudioPlayer()
		defer engine.ShutdownAudio()
	}

	ebiten.SetTPS(cli.TPS)
	if cli.Headless {
		log.Println("Running in HEADLESS mode (Rendering active).")
	} else {
		ebiten.SetWindowSize(cli.WindowWidth, cli.WindowHeight)
		ebiten.SetWindowTitle("Mesh Graph Viewer")
	}
	if err := ebiten.RunGame(engine); err != nil {
		log.Fatal(err)
	}
}
