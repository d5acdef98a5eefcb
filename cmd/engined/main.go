package main

import (
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/argus-ar/engine/core"
	"github.com/argus-ar/engine/driver"
	"github.com/argus-ar/engine/engine"
	"github.com/argus-ar/engine/internal/config"
	"github.com/argus-ar/engine/internal/ws"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	port := flag.Int("port", 0, "Override server port")
	licenseKey := flag.String("license", "", "Override license key")
	authToken := flag.String("token", "", "Require this token on API and WebSocket requests")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if *port > 0 {
		cfg.Server.Port = *port
	}
	if *licenseKey != "" {
		cfg.Engine.LicenseKey = *licenseKey
	}

	eng, err := buildEngine(cfg)
	if err != nil {
		log.Fatalf("Engine creation failed: %v", err)
	}

	if err := createObservers(eng, cfg); err != nil {
		eng.Destroy()
		log.Fatalf("Observer setup failed: %v", err)
	}

	broadcaster := ws.NewBroadcaster(func() (*ws.SnapshotPayload, error) {
		return ws.Snapshot(eng)
	}, cfg.Broadcast.Throttle, cfg.Broadcast.SnapshotInterval, cfg.Broadcast.MaxClients)
	server := ws.NewServer(eng, broadcaster, nil, *authToken)

	// Push path: every delivered state becomes a throttled broadcast. The
	// payload is flattened inside the callback because the snapshot expires
	// when it returns.
	err = eng.RegisterStateHandler(func(s *engine.State) {
		payload, err := ws.StateToPayload(s)
		if err != nil {
			log.Printf("[engined] state flatten failed: %v", err)
			return
		}
		broadcaster.QueueState(payload)
	})
	if err != nil {
		eng.Destroy()
		log.Fatalf("State handler registration failed: %v", err)
	}

	if err := eng.Start(); err != nil {
		eng.Destroy()
		log.Fatalf("Engine start failed: %v", err)
	}
	log.Printf("[engined] engine running, run id %s", eng.RunID())

	mux := http.NewServeMux()
	server.SetupRoutes(mux)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("[engined] shutting down...")
		broadcaster.Stop()
		if err := eng.Destroy(); err != nil {
			log.Printf("[engined] destroy error: %v", err)
		}
		os.Exit(0)
	}()

	if err := ws.ListenAndServe(cfg.Server.Host, cfg.Server.Port, mux); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func buildEngine(cfg *config.Config) (*engine.Engine, error) {
	set := engine.NewConfigSet()

	lic := engine.DefaultLicenseConfig()
	lic.Key = cfg.Engine.LicenseKey
	if err := set.AddLicenseConfig(lic); err != nil {
		return nil, err
	}

	plat := engine.DefaultPlatformConfig()
	plat.AppName = cfg.Engine.AppName
	if err := set.AddPlatformConfig(plat); err != nil {
		return nil, err
	}

	drv := driver.NewSynthetic(driver.SyntheticConfig{
		FrameRate:  cfg.Engine.FrameRate,
		DeviceSway: cfg.Engine.DeviceSway,
		Targets:    targetScripts(cfg),
	})
	if err := set.AddDriverConfig(engine.DriverConfig{Driver: drv}); err != nil {
		return nil, err
	}

	return engine.Create(set)
}

func targetScripts(cfg *config.Config) []driver.TargetScript {
	scripts := make([]driver.TargetScript, 0, len(cfg.Targets))
	for _, t := range cfg.Targets {
		scripts = append(scripts, driver.TargetScript{
			Name:         t.Name,
			Distance:     t.Distance,
			OrbitRadius:  t.OrbitRadius,
			OrbitPeriod:  t.OrbitPeriod,
			VisibleFrom:  t.VisibleFrom,
			VisibleUntil: t.VisibleUntil,
			Confidence:   t.Confidence,
		})
	}
	return scripts
}

func createObservers(eng *engine.Engine, cfg *config.Config) error {
	var devicePose *engine.Observer

	if cfg.Observers.DevicePose {
		dp, err := eng.CreateDevicePoseObserver(engine.DefaultDevicePoseConfig())
		if err != nil {
			return err
		}
		devicePose = dp
		log.Printf("[engined] device pose observer %d", dp.ID())
	}

	for _, t := range cfg.Targets {
		var (
			o   *engine.Observer
			err error
		)
		switch t.Kind {
		case "model":
			mc := engine.DefaultModelTargetConfig()
			mc.TargetName = t.Name
			mc.Activate = t.ShouldActivate()
			o, err = eng.CreateModelTargetObserver(mc)
		default:
			ic := engine.DefaultImageTargetConfig()
			ic.TargetName = t.Name
			ic.Activate = t.ShouldActivate()
			o, err = eng.CreateImageTargetObserver(ic)
		}
		if err != nil {
			return err
		}
		log.Printf("[engined] %s observer %d for target %q", o.Type(), o.ID(), t.Name)
	}

	for _, a := range cfg.Observers.Anchors {
		if devicePose == nil {
			log.Printf("[engined] skipping anchor %q: no device pose observer", a.Name)
			continue
		}
		o, err := eng.CreateAnchorObserver(engine.AnchorConfig{
			Name:       a.Name,
			Pose:       core.MatrixTranslation(core.Vector3F(a.Position)),
			DevicePose: devicePose,
			Activate:   true,
		})
		if err != nil {
			return err
		}
		log.Printf("[engined] anchor observer %d %q", o.ID(), o.Name())
	}

	return nil
}
