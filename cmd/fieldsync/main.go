// Package main runs the fieldsync daemon: it initializes the sync core and
// keeps it draining in the background until the process is signalled.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/basculapp/fieldsync/internal/config"
	"github.com/basculapp/fieldsync/internal/facade"
	"github.com/basculapp/fieldsync/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	if cfg.LogFile == "" {
		logging.Init(os.Stdout, logging.ParseLevel(cfg.LogLevel))
	}

	core := facade.New(cfg)
	if err := core.Initialize(); err != nil {
		log.Fatalf("failed to initialize sync core: %v", err)
	}

	// Daily maintenance keeps the on-device database bounded.
	maintenanceCtx, cancelMaintenance := context.WithCancel(context.Background())
	go runMaintenanceLoop(maintenanceCtx, core)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	logging.Info("Shutting down", map[string]interface{}{"signal": sig.String()})
	cancelMaintenance()
	if err := core.Shutdown(); err != nil {
		log.Fatalf("shutdown failed: %v", err)
	}
}

func runMaintenanceLoop(ctx context.Context, core *facade.Facade) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := core.PerformMaintenance(); err != nil {
				logging.Error("Maintenance failed", err)
			}
		case <-ctx.Done():
			return
		}
	}
}
