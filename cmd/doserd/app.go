package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"github.com/simcoreservers/nutetra/internal/config"
	"github.com/simcoreservers/nutetra/internal/dosing"
	"github.com/simcoreservers/nutetra/internal/driver"
	"github.com/simcoreservers/nutetra/internal/pump"
	"github.com/simcoreservers/nutetra/internal/sensor"
	"github.com/simcoreservers/nutetra/internal/storage"
	"github.com/simcoreservers/nutetra/pkg/logx"
)

func run(ctx context.Context, cfgPath string) error {
	manager := config.NewManager(cfgPath, logx.NewConsole("info"))
	cfg, err := manager.Load()
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = config.Default()
	}

	logsvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	defer logsvc.Close()
	if manager.Get() == nil {
		log.Warn("config file missing; running with defaults", logx.String("path", cfgPath))
	}

	stateStore := config.NewStateStore(cfg.State.Path, log.With(logx.String("svc", "state")))
	dcfg, outcome, err := stateStore.Load()
	if err != nil {
		return fmt.Errorf("load dosing state: %w", err)
	}
	log.Info("dosing state ready",
		logx.String("outcome", outcome.String()),
		logx.String("path", cfg.State.Path),
		logx.Bool("enabled", dcfg.Enabled))

	store, err := openStorage(cfg, log)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	if store != nil {
		defer store.Close()
	}

	source, err := buildSource(cfg, log)
	if err != nil {
		return err
	}
	actuator, err := buildActuator(cfg, log)
	if err != nil {
		return err
	}

	watchdog, err := config.ParseDurationOrDefault(
		"driver.watchdog_timeout", cfg.Driver.WatchdogTimeout, dosing.DefaultWatchdogTimeout)
	if err != nil {
		return err
	}
	sweep, err := config.ParseDurationOrDefault(
		"driver.sweep_interval", cfg.Driver.SweepInterval, 30*time.Second)
	if err != nil {
		return err
	}

	eng, err := dosing.New(dosing.Options{
		Config:          dcfg,
		Source:          source,
		Actuator:        actuator,
		Store:           stateStore,
		Log:             log.With(logx.String("svc", "dosing")),
		WatchdogTimeout: watchdog,
	})
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	drv := driver.New(driver.Options{
		Engine:        eng,
		Store:         store,
		Log:           log.With(logx.String("svc", "driver")),
		SweepInterval: sweep,
		TriggerBuffer: cfg.Driver.TriggerBuffer,
	})

	// Live reload currently covers logging; sensor/pump/storage changes
	// need a restart and are logged as such.
	sub := manager.Subscribe(1)
	defer manager.Unsubscribe(sub)
	go func() {
		for next := range sub {
			logsvc.Apply(logx.Config{
				Level:   next.Logging.Level,
				Console: next.Logging.Console,
				File: logx.FileConfig{
					Enabled: next.Logging.File.Enabled,
					Path:    next.Logging.File.Path,
				},
			})
			log.Info("logging config applied")
			if next.Sensor != cfg.Sensor || next.Pump != cfg.Pump {
				log.Warn("sensor/pump config changed; restart required to take effect")
			}
		}
	}()
	go func() { _ = manager.Watch(ctx) }()

	errCh := make(chan error, 1)
	go func() { errCh <- drv.Run(ctx) }()

	notifyReady(log)
	stopKeepalive := startWatchdogKeepalive(ctx, log)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	stopKeepalive()

	eng.Close()
	if err := eng.SyncState(); err != nil {
		log.Error("final state save failed", logx.Err(err))
	}
	log.Info("shutdown complete")
	return runErr
}

func openStorage(cfg *config.Config, log logx.Logger) (storage.Store, error) {
	if cfg.Storage == nil {
		return nil, nil
	}
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	retain, err := config.ParseDurationField("storage.retain_readings", cfg.Storage.RetainReadings)
	if err != nil {
		return nil, err
	}
	return storage.Open(storage.Config{
		Driver:         cfg.Storage.Driver,
		Path:           cfg.Storage.Path,
		BusyTimeout:    busy,
		RetainReadings: retain,
	}, log.With(logx.String("svc", "storage")))
}

func buildSource(cfg *config.Config, log logx.Logger) (dosing.SensorSource, error) {
	switch cfg.Sensor.Source {
	case "", "sim":
		sc := sensor.DefaultSimConfig()
		if cfg.Sensor.Sim.PH > 0 {
			sc.PH = cfg.Sensor.Sim.PH
		}
		if cfg.Sensor.Sim.EC > 0 {
			sc.EC = cfg.Sensor.Sim.EC
		}
		if cfg.Sensor.Sim.WaterTemp > 0 {
			sc.WaterTemp = cfg.Sensor.Sim.WaterTemp
		}
		if cfg.Sensor.Sim.Jitter > 0 {
			sc.Jitter = cfg.Sensor.Sim.Jitter
		}
		sc.DropoutRate = cfg.Sensor.Sim.DropoutRate
		sc.Seed = cfg.Sensor.Sim.Seed
		log.Info("using simulated sensors",
			logx.Float64("ph", sc.PH), logx.Float64("ec", sc.EC))
		return sensor.NewSimulator(sc, nil), nil
	case "http":
		timeout, err := config.ParseDurationField("sensor.http.timeout", cfg.Sensor.HTTP.Timeout)
		if err != nil {
			return nil, err
		}
		log.Info("using http sensor source", logx.String("base_url", cfg.Sensor.HTTP.BaseURL))
		return sensor.NewHTTPSource(sensor.HTTPConfig{
			BaseURL: cfg.Sensor.HTTP.BaseURL,
			Timeout: timeout,
		}, nil), nil
	default:
		return nil, fmt.Errorf("unknown sensor source %q", cfg.Sensor.Source)
	}
}

func buildActuator(cfg *config.Config, log logx.Logger) (dosing.Actuator, error) {
	switch cfg.Pump.Actuator {
	case "", "dryrun":
		log.Info("using dry-run pump actuator")
		return pump.DryRun{Log: log.With(logx.String("svc", "pump"))}, nil
	case "http":
		timeout, err := config.ParseDurationField("pump.http.timeout", cfg.Pump.HTTP.Timeout)
		if err != nil {
			return nil, err
		}
		log.Info("using http pump actuator", logx.String("base_url", cfg.Pump.HTTP.BaseURL))
		return pump.NewHTTPActuator(pump.HTTPConfig{
			BaseURL: cfg.Pump.HTTP.BaseURL,
			Timeout: timeout,
		}), nil
	default:
		return nil, fmt.Errorf("unknown pump actuator %q", cfg.Pump.Actuator)
	}
}

func notifyReady(log logx.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		log.Warn("sd_notify failed", logx.Err(err))
		return
	}
	if sent {
		log.Debug("sd_notify READY sent")
	}
}

// startWatchdogKeepalive pings the systemd watchdog at half the
// configured interval. Returns a stop func; a no-op when WatchdogSec
// is not set.
func startWatchdogKeepalive(ctx context.Context, log logx.Logger) func() {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return func() {}
	}

	done := make(chan struct{})
	go func() {
		t := time.NewTicker(interval / 2)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-t.C:
				_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			}
		}
	}()
	log.Debug("systemd watchdog keepalive started", logx.Duration("interval", interval/2))
	return func() { close(done) }
}
