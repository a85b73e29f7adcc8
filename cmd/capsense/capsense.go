package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"tailscale.com/tsweb"

	"github.com/smartcap-data/capsense/internal/alert"
	"github.com/smartcap-data/capsense/internal/api"
	"github.com/smartcap-data/capsense/internal/camera"
	"github.com/smartcap-data/capsense/internal/command"
	"github.com/smartcap-data/capsense/internal/config"
	"github.com/smartcap-data/capsense/internal/controllink"
	"github.com/smartcap-data/capsense/internal/db"
	"github.com/smartcap-data/capsense/internal/device"
	"github.com/smartcap-data/capsense/internal/gpio"
	"github.com/smartcap-data/capsense/internal/platform"
	"github.com/smartcap-data/capsense/internal/rangefinder"
	"github.com/smartcap-data/capsense/internal/scheduler"
	"github.com/smartcap-data/capsense/internal/stream"
	"github.com/smartcap-data/capsense/internal/telemetry"
	"github.com/smartcap-data/capsense/internal/version"
)

var (
	devMode    = flag.Bool("dev", false, "Run in dev mode with simulated hardware")
	listen     = flag.String("listen", ":8080", "Diagnostics API listen address")
	configPath = flag.String("config", config.DefaultConfigPath, "Device config file")
	noControl  = flag.Bool("no-control", false, "Run without a control link")
	fixture    = flag.String("fixture", "fixtures/frame.jpg", "Camera fixture image for dev mode")

	migrationsDir = flag.String("migrations", "migrations", "Telemetry db migrations directory")
)

// wakingPoller wraps the command channel so any command processed while the
// device is in standby returns it to active. The suspend command itself does
// not self-wake: the mode is read before dispatch.
type wakingPoller struct {
	inner scheduler.CommandPoller
	state *device.State
}

func (w *wakingPoller) Poll() int {
	wasStandby := w.state.Mode() == device.Standby
	n := w.inner.Poll()
	if wasStandby && n > 0 {
		w.state.SetMode(device.Active)
		log.Printf("woken from standby by control command")
	}
	return n
}

// blinkReady signals startup completion: three short indicator blinks.
func blinkReady(indicator gpio.OutputPin) {
	for i := 0; i < 3; i++ {
		indicator.Set(true)
		time.Sleep(100 * time.Millisecond)
		indicator.Set(false)
		time.Sleep(100 * time.Millisecond)
	}
}

func main() {
	flag.Parse()

	if *listen == "" {
		log.Fatal("listen address is required")
	}

	// Optional .env for bench overrides; missing file is fine.
	if err := godotenv.Load(); err == nil {
		log.Printf("loaded environment overrides from .env")
	}
	if v := os.Getenv("CAPSENSE_CONFIG"); v != "" && *configPath == config.DefaultConfigPath {
		*configPath = v
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	state := device.NewState()
	log.Printf("capsense %s, device session %s starting", version.String(), state.ID())

	// Stage 1: pins and rangefinder.
	var (
		trigger   gpio.OutputPin
		edges     gpio.EdgeSource
		motor     gpio.PWMPin
		indicator gpio.OutputPin
		sim       *gpio.SimRangefinder
	)
	if *devMode {
		sim = gpio.NewSimRangefinder(750)
		trigger = sim
		edges = sim
		motor = &gpio.MockPWMPin{}
		indicator = &gpio.MockOutputPin{}
		log.Printf("dev mode: simulated rangefinder at 750mm")
	} else {
		if err := gpio.Init(); err != nil {
			log.Fatalf("failed to initialise gpio: %v", err)
		}
		trigger, err = gpio.OpenOutputPin(cfg.GetTriggerPin())
		if err != nil {
			log.Fatalf("failed to open trigger pin: %v", err)
		}
		realEdges, err := gpio.OpenEdgeSource(cfg.GetEchoPin())
		if err != nil {
			log.Fatalf("failed to open echo pin: %v", err)
		}
		defer realEdges.Close()
		edges = realEdges
		motor, err = gpio.OpenPWMPin(cfg.GetMotorPin())
		if err != nil {
			log.Fatalf("failed to open motor pin: %v", err)
		}
		indicator, err = gpio.OpenOutputPin(cfg.GetIndicatorPin())
		if err != nil {
			log.Fatalf("failed to open indicator pin: %v", err)
		}
	}
	ranger := rangefinder.New(trigger, edges, cfg.GetEchoTimeoutMicros())
	log.Printf("rangefinder initialised")

	// Stage 2: camera.
	var cam camera.Source
	if *devMode {
		data, err := os.ReadFile(*fixture)
		if err != nil {
			log.Fatalf("failed to read camera fixture: %v", err)
		}
		cam = camera.NewFixtureSource(data)
	} else {
		cam = camera.NewFileSource(cfg.GetCameraPath())
	}
	defer cam.Close()
	log.Printf("camera initialised")

	// Stage 3: network transports and telemetry log.
	tdb, err := db.NewDB(cfg.GetDBPath())
	if err != nil {
		log.Fatalf("failed to open telemetry db: %v", err)
	}
	defer tdb.Close()
	// Index-only migrations; a failure degrades query speed, not capture.
	if err := tdb.MigrateUp(*migrationsDir); err != nil {
		log.Printf("failed to apply telemetry migrations: %v", err)
	}

	dialer := &stream.NetDialer{Addr: cfg.GetBackendAddr(), Timeout: cfg.GetConnectTimeout()}
	streamer := stream.NewStreamer(dialer, cfg.GetChunkSize(), cfg.GetWriteTimeout())
	var sender scheduler.FrameSender = streamer
	var spool *stream.Spool
	if size := cfg.GetSpoolSize(); size > 0 {
		spool = stream.NewSpool(streamer, size)
		// The scheduler hands frames to the spool without counting them;
		// the hook records the real outcome of each deferred transmission.
		spool.OnResult(func(bytesSent int, err error) {
			if err != nil {
				state.CountFrameDropped()
				if recErr := tdb.RecordStreamAttempt(bytesSent, false, err.Error()); recErr != nil {
					log.Printf("failed to record stream attempt: %v", recErr)
				}
				return
			}
			state.CountFrameSent()
			if recErr := tdb.RecordStreamAttempt(bytesSent, true, ""); recErr != nil {
				log.Printf("failed to record stream attempt: %v", recErr)
			}
		})
		sender = spool
		log.Printf("outbound frame spool enabled, capacity %d", size)
	}
	log.Printf("streaming to %s", cfg.GetBackendAddr())

	// Stage 4: control link.
	var link controllink.LinkInterface
	switch {
	case *noControl:
		link = controllink.NewDisabledLink()
		log.Printf("control link disabled")
	case *devMode:
		// Periodic ping keeps the command path exercised on the bench.
		link = controllink.NewMockLink([]byte{command.OpPing}, 5*time.Second)
		log.Printf("dev mode: mock control link")
	default:
		opts, err := controllink.PortOptions{BaudRate: cfg.GetControlBaud()}.Normalize()
		if err != nil {
			log.Fatalf("invalid control port options: %v", err)
		}
		link, err = controllink.NewRealLink(cfg.GetControlPort(), opts)
		if err != nil {
			log.Fatalf("failed to open control port %s: %v", cfg.GetControlPort(), err)
		}
		log.Printf("control link on %s", cfg.GetControlPort())
	}
	defer link.Close()

	engine := alert.NewEngine(motor, cfg.GetSafeThresholdMM(), cfg.GetCriticalThresholdMM())

	hooks := command.Hooks{
		Vibrate: engine.Override,
		SetIndicator: func(on bool) {
			if err := indicator.Set(on); err != nil {
				log.Printf("failed to set indicator: %v", err)
			}
		},
		Suspend: func() {
			state.SetMode(device.Standby)
			log.Printf("entering standby")
		},
		Snapshot: func() command.Telemetry {
			dist, _ := state.LastDistanceMM()
			return command.Telemetry{
				TimestampMS:  uint64(time.Now().UnixMilli()),
				DistanceMM:   dist,
				LinkRSSI:     state.LinkRSSI(),
				TemperatureC: state.TemperatureC(),
			}
		},
	}
	commands := command.NewChannel(link, hooks)
	defer commands.Close()

	latest := &camera.LatestHolder{}
	sched := scheduler.New(scheduler.Options{
		State:     state,
		Ranger:    ranger,
		Alerter:   engine,
		Camera:    cam,
		Latest:    latest,
		Sender:    sender,
		Commands:  &wakingPoller{inner: commands, state: state},
		Telemetry: tdb,
		Indicator: indicator,
		Intervals: scheduler.Intervals{
			Active:   cfg.GetActiveInterval(),
			Balanced: cfg.GetBalancedInterval(),
			Eco:      cfg.GetEcoInterval(),
		},
	})

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Stage 5: edge watcher, then the long-running routines.
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := ranger.Watch(ctx); err != nil && err != context.Canceled {
			log.Printf("edge watcher failed: %v", err)
		}
		log.Printf("edge watcher terminated")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := link.Monitor(ctx); err != nil && err != context.Canceled {
			log.Printf("failed to monitor control link: %v", err)
		}
		log.Printf("control link monitor terminated")
	}()

	if spool != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := spool.Run(ctx); err != nil && err != context.Canceled {
				log.Printf("frame spool failed: %v", err)
			}
			log.Printf("frame spool terminated")
		}()
	}

	// The telemetry log is a diagnostic ring: prune on a schedule so it
	// stays bounded on-device.
	wg.Add(1)
	go func() {
		defer wg.Done()
		prune := func() {
			if err := tdb.Prune(cfg.GetDBRetention()); err != nil {
				log.Printf("failed to prune telemetry log: %v", err)
			}
		}
		prune()
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				log.Printf("telemetry pruner terminated")
				return
			case <-ticker.C:
				prune()
			}
		}
	}()

	// Link quality and temperature for the diagnostics surface.
	sensors := platform.NewSensors()
	wg.Add(1)
	go func() {
		defer wg.Done()
		sensors.Poll(ctx, state, platform.DefaultSampleInterval)
		log.Printf("platform sensor poller terminated")
	}()

	if broker := cfg.GetMQTTBroker(); broker != "" {
		pub, err := telemetry.NewPublisher(broker, cfg.GetMQTTTopic(), state)
		if err != nil {
			log.Printf("status publisher unavailable: %v", err)
		} else {
			defer pub.Close()
			wg.Add(1)
			go func() {
				defer wg.Done()
				pub.Run(ctx, telemetry.DefaultPublishInterval)
				log.Printf("status publisher terminated")
			}()
		}
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := sched.Run(ctx); err != nil && err != context.Canceled {
			log.Printf("scheduler failed: %v", err)
		}
		log.Printf("scheduler terminated")
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()

		// admin debugging routes (dev mode or over Tailscale only)
		tdb.AttachAdminRoutes(mux)
		link.AttachAdminRoutes(mux)
		tsweb.Debugger(mux)

		srv := api.NewServer(state, tdb, ranger, latest, scheduler.Intervals{
			Active:   cfg.GetActiveInterval(),
			Balanced: cfg.GetBalancedInterval(),
			Eco:      cfg.GetEcoInterval(),
		})
		mux.Handle("/api/", srv.ServeMux())

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
		log.Printf("HTTP server routine stopped")
	}()

	blinkReady(indicator)
	log.Printf("ready: listening on %s", *listen)

	wg.Wait()
	log.Printf("graceful shutdown complete")
}
