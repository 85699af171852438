package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
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

	Quality     string `default:"1080p" enum:"1080p,4k" help:"Stream quality: 1080p or 4k."`
	Headless    bool   `help:"Run without a local window (more stable for 24/7 streams)."`
	Output      string `help:"Output destination (file path or RTMP URL). Overrides the stream key."`
	Software    bool   `help:"Force software encoding (libx264) even if hardware acceleration is available."`
	Device      string `default:"/dev/dri/renderD128" help:"VA-API render device path (Linux only)."`
	VaapiDriver string `help:"Force a specific VA-API driver (e.g., iHD, i965, radeonsi)."`
	Debug       bool   `help:"Enable verbose logging for debugging."`

	DataDir string `default:"data/nodedir" help:"Directory for the persistent node directory."`
}

var (
	streamKey   = os.Getenv("YOUTUBE_STREAM_KEY")
	ffmpegStdin *os.File
)

func main() {
	kong.Parse(&cli)
	log.SetOutput(os.Stderr)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	width, height := 1920, 1080
	bitrate, maxBitrate := "9000k", "15000k"
	if cli.Quality == "4k" {
		width, height = 3840, 2160
		bitrate, maxBitrate = "18000k", "25000k"
	}

	engine := meshcore.NewEngine(width, height)
	engine.InitPulseTexture()

	bufferPool := &sync.Pool{
		New: func() interface{} {
			return make([]byte, width*height*4)
		},
	}

	frameChan := make(chan []byte, 2)
	engine.OnFrame = func(screen *ebiten.Image) {
		if ffmpegStdin != nil {
			buf := bufferPool.Get().([]byte)
			screen.ReadPixels(buf)
			select {
			case frameChan <- buf:
			default:
				// ffmpeg is falling behind; drop the frame.
				bufferPool.Put(buf)
			}
		}
	}
	go func() {
		for buf := range frameChan {
			if ffmpegStdin != nil {
				ffmpegStdin.Write(buf)
			}
			bufferPool.Put(buf)
		}
	}()

	if dir, err := utils.OpenNodeDirectory(cli.DataDir); err == nil {
		defer dir.Close()
		engine.SetDirectory(dir)
		if err := dir.ForEach(func(id uint32, rec utils.NodeRecord) error {
			engine.SeedNode(id, rec.LongName, rec.ShortName)
			return nil
		}); err != nil {
			log.Printf("Node directory preload failed: %v", err)
		}
	} else {
		log.Printf("Node directory unavailable: %v", err)
	}

	initFFmpeg(engine, width, height, bitrate, maxBitrate)

	engine.StartFeed(context.Background(), cli.API, cli.WS)
	engine.StartMetricsLoop()
	engine.StartMemoryWatcher()
	engine.StartAudioPlayer()
	defer engine.ShutdownAudio()

	if cli.Headless {
		log.Println("Running in HEADLESS mode (Rendering active).")
		if err := ebiten.RunGame(engine); err != nil {
			log.Fatal(err)
		}
	} else {
		ebiten.SetWindowSize(1280, 720)
		ebiten.SetWindowTitle("Mesh Streamer (LIVE)")
		ebiten.SetTPS(30)
		if err := ebiten.RunGame(engine); err != nil {
			log.Fatal(err)
		}
	}
}

func initFFmpeg(engine *meshcore.Engine, width, height int, bitrate, maxBitrate string) {
	vcodec := "libx264"
	var globalHWArgs []string
	var outputHWArgs []string

	if !cli.Software {
		switch runtime.GOOS {
		case "darwin":
			vcodec = "h264_videotoolbox"
			outputHWArgs = []string{"-realtime", "true", "-q:v", "65", "-color_range", "1"}
		case "linux":
			if _, err := os.Stat(cli.Device); err == nil {
				f, err := os.OpenFile(cli.Device, os.O_RDWR, 0)
				if err != nil {
					log.Printf("WARNING: Device %s exists but cannot be opened for RW: %v. Using software encoding.", cli.Device, err)
				} else {
					f.Close()
					vcodec = "h264_vaapi"
					globalHWArgs = []string{"-vaapi_device", cli.Device}
					outputHWArgs = []string{
						"-vf", "format=nv12,hwupload",
						"-color_range", "1",
					}
				}
			} else if cli.Debug {
				log.Printf("DEBUG: Render device %s NOT found.", cli.Device)
			}
		}
	}

	var ffmpegArgs []string
	if cli.Debug {
		ffmpegArgs = append(ffmpegArgs, "-loglevel", "debug")
	}

	ffmpegArgs = append(ffmpegArgs, globalHWArgs...)
	ffmpegArgs = append(ffmpegArgs,
		"-thread_queue_size", "1024",
		"-f", "rawvideo", "-pixel_format", "rgba", "-video_size", fmt.Sprintf("%dx%d", width, height),
		"-framerate", "30", "-i", "pipe:0",
		"-f", "s16le", "-ar", "44100", "-ac", "2", "-i", "pipe:3",
	)
	ffmpegArgs = append(ffmpegArgs,
		"-c:v", vcodec,
		"-b:v", bitrate,
		"-maxrate", maxBitrate,
		"-bufsize", "30000k",
		"-g", "60",
	)
	if vcodec != "h264_vaapi" {
		ffmpegArgs = append(ffmpegArgs, "-pix_fmt", "yuv420p")
	}
	if vcodec == "libx264" {
		ffmpegArgs = append(ffmpegArgs, "-preset", "veryfast", "-crf", "18", "-x264-params", "keyint=60:min-keyint=60:scenecut=0:bframes=2", "-color_range", "1")
	}
	ffmpegArgs = append(ffmpegArgs, outputHWArgs...)
	ffmpegArgs = append(ffmpegArgs, "-c:a", "aac", "-b:a", "128k")

	output := cli.Output
	if output == "" {
		if streamKey != "" {
			output = "rtmp://a.rtmp.youtube.com/live2/" + streamKey
			log.Printf("Stream key detected. Preparing to go LIVE in %s.", cli.Quality)
		} else {
			output = "test.flv"
		}
	}
	if strings.HasPrefix(output, "rtmp://") || strings.HasPrefix(output, "rtmps://") || strings.HasSuffix(output, ".flv") {
		ffmpegArgs = append(ffmpegArgs, "-f", "flv")
	}
	ffmpegArgs = append(ffmpegArgs, output)

	cmd := exec.Command("ffmpeg", ffmpegArgs...)
	cmd.Env = os.Environ()
	cmd.Env = append(cmd.Env, "LIBVA_MESSAGES=1")
	if cli.VaapiDriver != "" {
		cmd.Env = append(cmd.Env, "LIBVA_DRIVER_NAME="+cli.VaapiDriver)
	}

	pipe, err := cmd.StdinPipe()
	if err != nil {
		log.Fatal(err)
	}
	ffmpegStdin = pipe.(*os.File)

	audioReader, audioWriter, err := os.Pipe()
	if err != nil {
		log.Fatal(err)
	}
	cmd.ExtraFiles = []*os.File{audioReader}
	engine.AudioWriter = audioWriter

	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		log.Fatal(err)
	}

	go func() {
		if err := cmd.Wait(); err != nil {
			log.Printf("ffmpeg process exited with error: %v", err)
		} else {
			log.Println("ffmpeg process exited normally")
		}
		if ffmpegStdin != nil {
			ffmpegStdin.Close()
			ffmpegStdin = nil
		}
		if engine.AudioWriter != nil {
			if closer, ok := engine.AudioWriter.(io.Closer); ok {
				closer.Close()
			}
			engine.AudioWriter = nil
		}
		log.Println("Stream connection lost. Exiting in 10s...")
		time.Sleep(10 * time.Second)
		os.Exit(1)
	}()

	log.Printf("Warming up connection using %s (5s)...", vcodec)
	time.Sleep(5 * time.Second)
}
