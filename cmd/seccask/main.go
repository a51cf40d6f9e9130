// Copyright 2026 The seccask Authors
// SPDX-License-Identifier: Apache-2.0

// Command seccask runs a Coordinator or a Worker process, selected by
// a required mutually-exclusive pair of flags, per spec §6.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/seccask/seccask/internal/config"
	"github.com/seccask/seccask/internal/coordinator"
	"github.com/seccask/seccask/internal/pipelinedef"
	"github.com/seccask/seccask/internal/runtime"
	"github.com/seccask/seccask/internal/scheduler"
	"github.com/seccask/seccask/internal/taskmonitor"
	"github.com/seccask/seccask/internal/worker"
	"github.com/seccask/seccask/lib/attestation"
	"github.com/seccask/seccask/lib/clock"
	"github.com/seccask/seccask/lib/process"
	"github.com/seccask/seccask/lib/transport"
	"github.com/seccask/seccask/lib/version"
)

type flags struct {
	asCoordinator bool
	asWorker      bool
	showVersion   bool
	id            string
	manifestName  string
	coordHost     string
	coordPort     int
	key           string
	modeStr       string
}

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	f := parseFlags()

	if f.showVersion {
		fmt.Println(version.Full())
		return nil
	}

	if f.asCoordinator == f.asWorker {
		return fmt.Errorf("cmd/seccask: exactly one of --coordinator or --worker is required")
	}

	mode, err := transport.ParseMode(f.modeStr)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	provider, err := attestationProvider(mode, cfg)
	if err != nil {
		return err
	}

	address := fmt.Sprintf("%s:%d", f.coordHost, f.coordPort)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if f.asCoordinator {
		return runCoordinator(ctx, f, cfg, mode, provider, address, logger)
	}
	return runWorker(ctx, f, mode, provider, address, logger)
}

func parseFlags() flags {
	var f flags
	pflag.BoolVar(&f.asCoordinator, "coordinator", false, "run as the Coordinator")
	pflag.BoolVar(&f.asWorker, "worker", false, "run as a Worker")
	pflag.BoolVarP(&f.showVersion, "version", "v", false, "print version information and exit")
	pflag.StringVarP(&f.id, "id", "i", "", "worker id (required for --worker)")
	pflag.StringVarP(&f.manifestName, "manifest", "m", "", "pipeline manifest name (required for --coordinator)")
	pflag.StringVarP(&f.coordHost, "coord-host", "H", "127.0.0.1", "coordinator host")
	pflag.IntVarP(&f.coordPort, "coord-port", "P", 50200, "coordinator port")
	pflag.StringVarP(&f.key, "key", "k", "", "optional initial component key")
	pflag.StringVarP(&f.modeStr, "mode", "M", "plain", "transport mode: plain|tls|ratls")
	pflag.Parse()
	return f
}

// attestationProvider builds the RA-TLS capability from the process-
// wide expected measurements (spec §5 "Shared state"), loaded once
// from config.ini's [ratls] section. Plain and TLS modes need none.
func attestationProvider(mode transport.Mode, cfg *config.Config) (attestation.Provider, error) {
	if mode != transport.RATLS {
		return nil, nil
	}
	if !cfg.RATLS.EnableRATLS {
		return nil, fmt.Errorf("cmd/seccask: -M ratls requires [ratls] enable_ratls = true in config.ini")
	}

	mrenclave, err := parseMeasurement(cfg.RATLS.MREnclave)
	if err != nil {
		return nil, fmt.Errorf("cmd/seccask: ratls.mrenclave: %w", err)
	}
	mrsigner, err := parseMeasurement(cfg.RATLS.MRSigner)
	if err != nil {
		return nil, fmt.Errorf("cmd/seccask: ratls.mrsigner: %w", err)
	}

	measurements := attestation.Measurements{MREnclave: mrenclave, MRSigner: mrsigner}
	local := attestation.Quote{MREnclave: mrenclave, MRSigner: mrsigner}
	return attestation.NewSimulatedProvider(local, measurements), nil
}

func parseMeasurement(s string) ([attestation.MeasurementSize]byte, error) {
	var out [attestation.MeasurementSize]byte
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("decoding hex: %w", err)
	}
	if len(decoded) != attestation.MeasurementSize {
		return out, fmt.Errorf("want %d bytes, got %d", attestation.MeasurementSize, len(decoded))
	}
	copy(out[:], decoded)
	return out, nil
}

func runCoordinator(ctx context.Context, f flags, cfg *config.Config, mode transport.Mode, provider attestation.Provider, address string, logger *slog.Logger) error {
	if f.manifestName == "" {
		return fmt.Errorf("cmd/seccask: --manifest is required for --coordinator")
	}

	baseDir := os.Getenv("APP_HOME")
	def, err := pipelinedef.ReadFile(baseDir, f.manifestName)
	if err != nil {
		return err
	}

	maxSlots := cfg.Env.NumThreads
	if maxSlots < 1 {
		maxSlots = 1
	}
	sched := scheduler.NewDefault(maxSlots, scheduler.WithLogger(logger))
	monitor := taskmonitor.New(clock.Real())
	coord := coordinator.New(sched, monitor, logger)

	if err := coord.OnNewPipeline(def.Name, def.Version, def.Names(), def.IDs()); err != nil {
		return fmt.Errorf("cmd/seccask: registering pipeline: %w", err)
	}

	// The "Trial driver" collaborator (spec §6): on_new_lifecycle,
	// invoked once per process in a dedicated goroutine, drives
	// components through the Coordinator in submission order.
	go runLifecycle(coord, def, f.key, logger)

	return coord.ListenAndServe(ctx, address, mode, provider)
}

func runLifecycle(coord *coordinator.Coordinator, def *pipelinedef.Manifest, componentKey string, logger *slog.Logger) {
	key := "NULL"
	if componentKey != "" {
		key = componentKey
	}

	for _, c := range def.Components {
		dispatch := append([]string{c.ID, c.WorkingDirectory, key}, c.Command...)
		logger.Info("dispatching component", "component_id", c.ID)
		if err := coord.OnNewComponent(dispatch); err != nil {
			logger.Error("on_new_component failed", "component_id", c.ID, "error", err)
			return
		}
	}
	logger.Info("pipeline complete", "name", def.Name, "version", def.Version)
}

func runWorker(ctx context.Context, f flags, mode transport.Mode, provider attestation.Provider, address string, logger *slog.Logger) error {
	id := f.id
	if id == "" {
		id = uuid.NewString()
		logger.Info("no --id given, generated one", "id", id)
	}

	rt := runtime.New(logger, clock.Real())
	w := worker.New(id, rt, logger)

	return w.Connect(ctx, address, mode, provider)
}
