package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/itohio/gosck/pkg/config"
	"github.com/itohio/gosck/pkg/fifo"
	"github.com/itohio/gosck/pkg/gas"
	"github.com/itohio/gosck/pkg/output"
	"github.com/itohio/gosck/pkg/output/console"
	"github.com/itohio/gosck/pkg/output/mqtt"
	"github.com/itohio/gosck/pkg/rtc"
	"github.com/itohio/gosck/pkg/scheduler"
	"github.com/itohio/gosck/pkg/sensor"
	"github.com/itohio/gosck/pkg/server"
	"github.com/itohio/gosck/pkg/store"
	"github.com/itohio/gosck/pkg/wallclock"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	var (
		configFlag  = flag.String("config", "config.yaml", "Configuration file path")
		portFlag    = flag.String("p", "", "Modem serial port override (e.g., /dev/ttyUSB0)")
		mockFlag    = flag.Bool("mock", false, "Use simulated hardware instead of the I2C bus and modem")
		metricsFlag = flag.String("metrics", "", "Metrics listen address override (e.g., :9090)")
		debugFlag   = flag.Bool("debug", false, "Enable debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *debugFlag {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(tint.NewHandler(os.Stdout, &tint.Options{Level: level})))

	cfg, err := config.Load(*configFlag)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if *portFlag != "" {
		cfg.Serial.Port = *portFlag
	}
	if *metricsFlag != "" {
		cfg.Output.MetricsAddr = *metricsFlag
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *mockFlag, slog.Default()); err != nil {
		slog.Error("Controller stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, mock bool, logger *slog.Logger) error {
	var closers []func() error
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				logger.Warn("Close failed", "error", err)
			}
		}
	}()

	st, closeStore, err := openStore(cfg.Store)
	if err != nil {
		return err
	}
	closers = append(closers, closeStore)

	mode, err := scheduler.ParseMode(cfg.Schedule.Mode)
	if err != nil {
		return err
	}
	seeded, err := store.Seed(st, defaultSettings(cfg, mode))
	if err != nil {
		return fmt.Errorf("failed to seed store: %w", err)
	}
	if seeded {
		logger.Info("Store initialised with configured defaults")
	}

	buffer, err := fifo.New(st, cfg.Store.DataCapacity, cfg.Store.TimeWidth, logger)
	if err != nil {
		return err
	}
	logger.Info("Reading buffer ready", "pending", buffer.Pending(), "capacity", buffer.Capacity())

	var hw *hardware
	if mock {
		hw = mockHardware(cfg, logger)
	} else {
		hw, err = openHardware(cfg, logger)
		if err != nil {
			return err
		}
	}
	closers = append(closers, hw.close)

	clock := wallclock.System{}
	engine := gas.New(hw.adapter, boardOf(cfg.Board), wiringOf(cfg.Board),
		gasSensor("co", cfg.Board.CO, 0),
		gasSensor("no2", cfg.Board.NO2, 1),
		clock, logger)
	sensors := sensor.New(hw.adapter, hw.climate, engine, clock, logger, sensor.Options{
		Vcc:               cfg.Board.Vcc,
		TemperatureOffset: int32(cfg.Board.TemperatureOffset),
		NoiseGain:         cfg.Board.NoiseGain,
	})

	realTime := rtc.NewSoft(clock, false)
	srv := server.New(hw.radio, buffer, st, realTime, clock, logger, server.Options{
		Host:       cfg.Network.Host,
		Port:       cfg.Network.Port,
		TimeHost:   cfg.Network.TimeHost,
		AckMarker:  cfg.Network.AckMarker,
		Version:    cfg.Network.Version,
		BatchMax:   cfg.Network.BatchMax,
		Attempts:   cfg.Network.Attempts,
		RetryPause: cfg.Network.RetryPause,
	})

	outputs, err := openOutputs(cfg.Output, logger)
	if err != nil {
		return err
	}
	closers = append(closers, outputs.Close)

	if cfg.Output.MetricsAddr != "" {
		go serveMetrics(cfg.Output.MetricsAddr, logger)
	}

	sched := scheduler.New(scheduler.Options{
		Store:    st,
		Radio:    hw.radio,
		RTC:      realTime,
		Uploader: srv,
		Gas:      engine,
		Sensors:  sensors,
		Buffer:   buffer,
		Output:   outputs,
		Clock:    clock,
		Logger:   logger,
	})
	if err := sched.Boot(); err != nil {
		return err
	}
	return sched.Run(ctx)
}

func openStore(cfg config.StoreConfig) (store.Store, func() error, error) {
	if cfg.Dir == "" {
		return store.NewMemory(cfg.ConfigSize, cfg.DataCapacity), func() error { return nil }, nil
	}
	f, err := store.OpenFile(cfg.Dir, cfg.ConfigSize, cfg.DataCapacity)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}

func defaultSettings(cfg *config.Config, mode scheduler.Mode) store.Settings {
	s := store.Settings{
		Mode:           int32(mode),
		UpdateInterval: int32(cfg.Schedule.UpdateInterval),
		BatchThreshold: int32(cfg.Schedule.BatchThreshold),
		MAC:            cfg.Network.MAC,
		APIKey:         cfg.Network.APIKey,
	}
	for _, n := range cfg.Network.Networks {
		s.Networks = append(s.Networks, store.Network{SSID: n.SSID, Phrase: n.Phrase})
	}
	return s
}

func openOutputs(cfg config.OutputConfig, logger *slog.Logger) (output.Multi, error) {
	var outs output.Multi
	if cfg.Console {
		outs = append(outs, console.NewConsole(logger))
	}
	if cfg.MQTT.Broker != "" {
		m, err := mqtt.NewMQTT(cfg.MQTT)
		if err != nil {
			return nil, err
		}
		outs = append(outs, m)
		logger.Info("Publishing readings to MQTT", "broker", cfg.MQTT.Broker, "topic", cfg.MQTT.Topic)
	}
	return outs, nil
}

func serveMetrics(addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	logger.Info("Prometheus metrics available", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Metrics server failed", "error", err)
	}
}
