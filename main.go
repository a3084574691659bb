package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/itrash/kiosk/internal/api"
	"github.com/itrash/kiosk/internal/camera"
	"github.com/itrash/kiosk/internal/classify"
	"github.com/itrash/kiosk/internal/config"
	"github.com/itrash/kiosk/internal/db"
	"github.com/itrash/kiosk/internal/display"
	"github.com/itrash/kiosk/internal/hardware"
	"github.com/itrash/kiosk/internal/kiosk"
	"github.com/itrash/kiosk/internal/monitoring"
	"github.com/itrash/kiosk/internal/state"
	"github.com/itrash/kiosk/internal/timeutil"
)

var (
	configPath = flag.String("config", "", "Path to JSON config (defaults apply when empty)")
	devMode    = flag.Bool("dev", false, "Run with mocked hardware and classifier")
	listen     = flag.String("listen", ":8080", "Listen address for the monitoring API")
	headless   = flag.Bool("headless", false, "Run without a display surface")
)

// devScript replays a full disposal cycle every few seconds: an object
// appears, then a deposit lands in the blue bin.
var devScript = []string{
	"S,0,0,0,0",
	"S,1,0,0,0",
	"S,1,0,0,0",
	"S,0,0,0,0",
	"S,0,1,0,0",
	"S,0,0,0,0",
}

// devClassifier rotates through the categories so every screen gets exercised.
func devClassifier() classify.ClassifierFunc {
	var mu sync.Mutex
	categories := []state.Category{state.CategoryBlue, state.CategoryYellow, state.CategoryBrown}
	i := 0
	return func(ctx context.Context, image []byte) (state.Category, error) {
		mu.Lock()
		defer mu.Unlock()
		c := categories[i%len(categories)]
		i++
		return c, nil
	}
}

func main() {
	flag.Parse()

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	cfg := config.EmptyConfig()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}

	clock := timeutil.RealClock{}

	// Hardware hub: real controller board, or a scripted mock in dev mode.
	var hub hardware.HubInterface
	if *devMode {
		hub = hardware.NewMockHub(devScript, 2*time.Second)
	} else {
		var err error
		hub, err = hardware.NewSerialHub(cfg.GetSerialPort(), hardware.PortOptions{BaudRate: cfg.GetSerialBaud()})
		if err != nil {
			log.Fatalf("failed to open controller board: %v", err)
		}
	}
	defer hub.Close()

	// Camera: V4L2 capture pipeline, or a canned frame in dev mode.
	var cam camera.Camera
	if *devMode {
		cam = camera.NewStubCamera()
	} else {
		var err error
		cam, err = camera.New(camera.Options{
			Device: cfg.GetCameraDevice(),
			Width:  cfg.GetCameraWidth(),
			Height: cfg.GetCameraHeight(),
		})
		if err != nil {
			log.Fatalf("failed to open camera: %v", err)
		}
	}
	defer cam.Close()

	var classifier classify.Classifier
	if *devMode {
		classifier = devClassifier()
	} else {
		classifier = classify.NewVisionClient(
			cfg.GetClassifierURL(),
			cfg.GetClassifierModel(),
			os.Getenv("KIOSK_CLASSIFIER_API_KEY"),
			cfg.GetClassifierTimeout(),
		)
	}

	kioskDB, err := db.NewDB(cfg.GetDatabasePath())
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer kioskDB.Close()
	if err := kioskDB.MigrateUp(cfg.GetMigrationsDir()); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	store := state.NewStore(clock)

	loop := kiosk.NewLoop(kiosk.Options{
		Store:      store,
		Hub:        hub,
		Camera:     cam,
		Classifier: classifier,
		Clock:      clock,
		Config:     cfg,
		Recorder:   kioskDB,
	})

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Controller board reader: parses sensor frames, fans out raw lines.
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := hub.Monitor(ctx); err != nil && err != context.Canceled {
			monitoring.Logf("hub monitor failed: %v", err)
			stop()
		}
		monitoring.Logf("hub monitor terminated")
	}()

	// Hardware loop: sensor polling and the disposal state machine.
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := loop.Run(ctx); err != nil && err != context.Canceled {
			monitoring.Logf("hardware loop failed: %v", err)
		}
		monitoring.Logf("hardware loop terminated")
	}()

	// Render loop: fixed-rate ticks onto the framebuffer, plus lighting.
	if !*headless {
		render, err := newRenderLoop(cfg, store, hub, clock)
		if err != nil {
			log.Fatalf("failed to start display: %v", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticker := time.NewTicker(cfg.GetTickInterval())
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					// Leave the panel dark and the LEDs off.
					if err := hub.ClearAll(); err != nil {
						monitoring.Debugf("failed to clear lighting: %v", err)
					}
					monitoring.Logf("render loop terminated")
					return
				case <-ticker.C:
					render.Tick()
				}
			}
		}()
	}

	// Monitoring API with graceful shutdown.
	wg.Add(1)
	go func() {
		defer wg.Done()

		srv := api.NewServer(store, kioskDB, hub)
		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(srv.ServeMux()),
		}

		go func() {
			monitoring.Logf("monitoring API listening on %s", *listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		monitoring.Logf("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			monitoring.Logf("HTTP server shutdown error: %v", err)
		}
		monitoring.Logf("HTTP server routine stopped")
	}()

	store.SetSystemStatus("ready")
	wg.Wait()
	monitoring.Logf("graceful shutdown complete")
}

// newRenderLoop assembles the display stack: framebuffer surface, pre-scaled
// media, and the idle attract loop when the media dir provides one.
func newRenderLoop(cfg *config.KioskConfig, store *state.Store, lights hardware.Lighting, clock timeutil.Clock) (*display.Loop, error) {
	fbPath := cfg.GetFramebufferDevice()
	surface, err := display.OpenFramebuffer(fbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open framebuffer: %w", err)
	}

	assets, err := display.LoadAssets(cfg.GetMediaDir(), surface.Bounds())
	if err != nil {
		surface.Close()
		return nil, fmt.Errorf("failed to load media: %w", err)
	}

	var video display.FrameSource
	videoPath := cfg.GetMediaDir() + "/idle.mp4"
	if _, err := os.Stat(videoPath); err == nil {
		v, err := display.OpenIdleVideo(videoPath, surface.Bounds(), cfg.GetIdleVideoMaxFPS())
		if err != nil {
			monitoring.Logf("idle video unavailable, using still: %v", err)
		} else {
			video = v
		}
	}

	return display.NewLoop(display.Options{
		Store:   store,
		Lights:  lights,
		Surface: surface,
		Assets:  assets,
		Video:   video,
		Clock:   clock,
		Reopen: func() (display.Surface, error) {
			return display.OpenFramebuffer(fbPath)
		},
	}), nil
}
