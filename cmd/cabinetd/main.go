// SPDX-License-Identifier: BSD-3-Clause

// Command cabinetd runs the fleet control plane: it loads the persisted
// fleet configuration and cabinet records, then supervises the Fleet
// Manager (cabinet automatons, the event bus) and the HTTP control plane
// until signaled to shut down.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cirello.io/oversight/v2"
	"github.com/arunsworld/nursery"

	"github.com/netdimm-fleet/cabinetd/pkg/assets"
	"github.com/netdimm-fleet/cabinetd/pkg/config"
	"github.com/netdimm-fleet/cabinetd/pkg/fleet"
	"github.com/netdimm-fleet/cabinetd/pkg/httpapi"
	"github.com/netdimm-fleet/cabinetd/pkg/id"
	"github.com/netdimm-fleet/cabinetd/pkg/log"
	"github.com/netdimm-fleet/cabinetd/pkg/telemetry"
)

const (
	defaultName       = "cabinetd"
	childTimeout      = 20 * time.Second
	persistentIDDir   = "/var/lib/cabinetd"
	persistentIDFile  = "id"
)

func main() {
	configPath := flag.String("config", "/etc/cabinetd/fleet.yaml", "path to the fleet configuration document")
	addr := flag.String("addr", ":8080", "HTTP control plane listen address")
	name := flag.String("name", defaultName, "instance name, used for telemetry and the event bus")
	flag.Parse()

	if err := run(*configPath, *addr, *name); err != nil && err != context.Canceled {
		slog.Error("cabinetd exited", "error", err)
		os.Exit(1)
	}
}

func run(configPath, addr, name string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	shutdownTelemetry, err := telemetry.Setup(ctx,
		telemetry.WithServiceName(name),
	)
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), childTimeout)
		defer cancel()
		_ = shutdownTelemetry(shutdownCtx)
	}()

	l := log.GetGlobalLogger()

	instanceID, err := id.GetOrCreatePersistentID(persistentIDFile, persistentIDDir)
	if err != nil {
		l.WarnContext(ctx, "failed to get/create persistent ID, using ephemeral ID", "error", err)
		instanceID = id.NewID()
	}
	l.InfoContext(ctx, "starting cabinet fleet control plane", "name", name, "instance_id", instanceID)

	fleetCfg, err := config.LoadFleetConfig(configPath)
	if err != nil {
		return fmt.Errorf("load fleet config: %w", err)
	}
	records, err := config.LoadCabinets(fleetCfg.CabinetConfigPath)
	if err != nil {
		return fmt.Errorf("load cabinet records: %w", err)
	}

	manager, err := fleet.New(name, l)
	if err != nil {
		return fmt.Errorf("build fleet manager: %w", err)
	}

	index := assets.NewDirIndex(map[assets.Kind][]string{
		assets.KindROM:      fleetCfg.ROMDirectory,
		assets.KindPatch:    fleetCfg.PatchDirectory,
		assets.KindSRAM:     fleetCfg.SRAMDirectory,
		assets.KindSettings: {fleetCfg.SettingsDirectory},
	}, fleetCfg.Filenames)

	httpServer, err := httpapi.New(httpapi.Config{
		Addr:              addr,
		Manager:           manager,
		Index:             index,
		SettingsDirectory: fleetCfg.SettingsDirectory,
		CabinetConfigPath: fleetCfg.CabinetConfigPath,
		AllowedOrigins:    []string{"*"},
		Logger:            l,
	})
	if err != nil {
		return fmt.Errorf("build http control plane: %w", err)
	}

	supervisionTree := oversight.New(
		oversight.NeverHalt(),
		oversight.DefaultRestartStrategy(),
		oversight.WithLogger(log.NewOversightLogger(l)),
	)

	if err := supervisionTree.Add(
		supervisedProcess(manager.Name(), manager.Run),
		oversight.Transient(),
		oversight.Timeout(childTimeout),
		manager.Name(),
	); err != nil {
		return fmt.Errorf("add %s to supervision tree: %w", manager.Name(), err)
	}
	if err := supervisionTree.Add(
		supervisedProcess(httpServer.Name(), httpServer.Run),
		oversight.Transient(),
		oversight.Timeout(childTimeout),
		httpServer.Name(),
	); err != nil {
		return fmt.Errorf("add %s to supervision tree: %w", httpServer.Name(), err)
	}

	supervise := func(ctx context.Context, c chan error) {
		c <- supervisionTree.Start(ctx)
	}

	spawnProcs := func(ctx context.Context, c chan error) {
		for _, rec := range records {
			cfg, err := config.ToCabinetConfig(rec, fleetCfg.SettingsDirectory)
			if err != nil {
				l.ErrorContext(ctx, "skipping cabinet with invalid configuration", "ip", rec.IP, "error", err)
				continue
			}
			if err := manager.AddCabinet(ctx, cfg); err != nil {
				l.ErrorContext(ctx, "failed to register cabinet", "ip", rec.IP, "error", err)
			}
		}
	}

	l.InfoContext(ctx, "starting child routines", "name", name)
	return nursery.RunConcurrentlyWithContext(ctx, supervise, spawnProcs)
}

// supervisedProcess wraps a long-running component's Run method as an
// oversight.ChildProcess, recovering a panic into an error so the
// supervision tree restarts the child instead of taking the whole daemon
// down with it.
func supervisedProcess(name string, runFn func(context.Context) error) oversight.ChildProcess {
	return func(ctx context.Context) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%s panicked: %v", name, r)
			}
		}()
		return runFn(ctx)
	}
}
