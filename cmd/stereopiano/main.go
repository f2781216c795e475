package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/ayusman/stereopiano/internal/app"
	"github.com/ayusman/stereopiano/internal/calibration"
	"github.com/ayusman/stereopiano/internal/capture"
	"github.com/ayusman/stereopiano/internal/config"
	"github.com/ayusman/stereopiano/internal/detector"
	"github.com/ayusman/stereopiano/internal/publish"
	"github.com/ayusman/stereopiano/internal/server"
	"github.com/ayusman/stereopiano/internal/stereo"
	"github.com/ayusman/stereopiano/internal/store"
	"github.com/ayusman/stereopiano/internal/tracking"
	"github.com/ayusman/stereopiano/internal/tray"
)

func main() {
	configPath := flag.String("config", "", "path to a JSON config file")
	check := flag.Bool("check", false, "report calibration status and exit")
	noTray := flag.Bool("no-tray", false, "run without the system tray")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}

	if *check {
		os.Exit(checkCalibration(cfg.CalibrationPath))
	}

	fmt.Println("Stereo Piano - Virtual Piano")

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}
	st, err := store.New(cfg.DatabasePath())
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer st.Close()

	state, err := calibration.Load(cfg.CalibrationPath)
	if err != nil {
		log.Fatalf("Failed to load calibration: %v", err)
	}
	rig, err := stereo.NewRig(state)
	if err != nil {
		log.Fatalf("Failed to build rectification maps: %v", err)
	}
	log.Printf("calibration %s loaded, baseline %.2f cm", state.ID(), state.BaselineCM())

	camera, pair := openDevices(cfg, state)

	var publisher *publish.Publisher
	if cfg.MQTT.Enabled {
		publisher, err = publish.Connect(cfg.MQTT)
		if err != nil {
			log.Printf("MQTT disabled: %v", err)
		}
	}

	piano, err := app.New(app.Options{
		Config:    cfg,
		Store:     st,
		Rig:       rig,
		Camera:    camera,
		Detector:  pair,
		Publisher: publisher,
	})
	if err != nil {
		log.Fatalf("Failed to create app: %v", err)
	}
	if err := piano.DiscoverPlugins(); err != nil {
		log.Printf("Plugin discovery failed: %v", err)
	}

	hub := server.NewEventHub()
	defer hub.Close()
	preview := server.NewPreviewBuffer()
	defer preview.Close()

	piano.AddSink(hub.Broadcast)
	piano.OnStatus(func(s app.Status) { hub.BroadcastStatus(s) })
	piano.SetPreview(preview)

	webDir := findWebDir()
	if webDir != "" {
		fmt.Printf("Serving static files from: %s\n", webDir)
	}

	srv := server.New(server.Config{
		StaticDir:       webDir,
		Store:           st,
		Rig:             rig,
		CalibrationPath: cfg.CalibrationPath,
		Pipeline:        piano,
		Plugins:         piano.PluginManager(),
		Events:          hub,
		Preview:         preview,
		CurrentSession:  piano.CurrentSession,
	})
	httpServer := srv.HTTPServer(cfg.ListenAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		fmt.Printf("Starting server on %s\n", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Server failed: %v", err)
			stop()
		}
	}()

	if err := piano.Start(ctx); err != nil {
		log.Fatalf("Failed to start detection: %v", err)
	}

	if *noTray {
		<-ctx.Done()
	} else {
		t := tray.New()
		t.OnToggle(piano.SetEnabled)
		t.OnReset(piano.ResetPipeline)
		t.OnSettings(func() { openBrowser(settingsURL(cfg.ListenAddr)) })
		t.OnQuit(stop)
		piano.AddSink(func(ev tracking.KeyEvent) { t.SetLastEvent(ev) })

		go func() {
			<-ctx.Done()
			t.Quit()
		}()
		t.Run()
	}

	log.Println("shutting down")
	piano.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown: %v", err)
	}
}

// checkCalibration prints the calibration report and returns the exit code.
func checkCalibration(path string) int {
	status, err := calibration.StatusOf(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	fmt.Print(status.Summary())
	if !status.All() {
		return 1
	}
	return 0
}

// openDevices opens the cameras and hand detectors, or their mocks when the
// detector is configured as mock.
func openDevices(cfg config.Config, state *calibration.State) (*capture.StereoCamera, *detector.PairDetector) {
	if cfg.Detector.Mock {
		log.Println("Using mock cameras and detectors")
		size := state.ImageSize()
		return capture.NewMockStereoCamera(size.Width, size.Height),
			detector.NewPairDetector(detector.NewMockDetector(), detector.NewMockDetector())
	}

	camera, err := capture.OpenDevices(cfg.Camera, state)
	if err != nil {
		log.Fatalf("Failed to open cameras: %v", err)
	}

	dcfg := detector.DefaultConfig()
	dcfg.MaxHands = cfg.Detector.MaxHands
	dcfg.MinConfidence = cfg.Detector.MinConfidence
	dcfg.MinTrackingConf = cfg.Detector.MinTrackingConf

	return camera, detector.NewPairDetector(newDetector(dcfg), newDetector(dcfg))
}

// newDetector returns a MediaPipe detector, falling back to a mock that
// sees no hands.
func newDetector(cfg detector.Config) detector.Detector {
	d, err := detector.NewMediaPipeDetector(cfg)
	if err != nil {
		log.Printf("MediaPipe unavailable, using mock detector: %v", err)
		return detector.NewMockDetector()
	}
	return d
}

// settingsURL turns a listen address such as ":8080" into a browsable URL.
func settingsURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "http://localhost" + addr
	}
	return "http://" + addr
}

func openBrowser(url string) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	if err := cmd.Start(); err != nil {
		log.Printf("Failed to open browser: %v", err)
	}
}

// findWebDir searches for the web directory in common locations.
// It checks: "web", "../web", "../../web", and ~/.stereopiano/web.
// Returns the first existing directory or empty string if none found.
func findWebDir() string {
	relativePaths := []string{"web", "../web", "../../web"}
	for _, p := range relativePaths {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			absPath, err := filepath.Abs(p)
			if err == nil {
				return absPath
			}
			return p
		}
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	homeWebDir := filepath.Join(homeDir, ".stereopiano", "web")
	if info, err := os.Stat(homeWebDir); err == nil && info.IsDir() {
		return homeWebDir
	}

	return ""
}
