// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command diagnosed runs the failure pattern engine as a long-lived
// process: it restores the store from its snapshot database, loads any
// configured seed patterns, and keeps the store durable in the
// background until shutdown.
//
// Usage:
//
//	go run ./cmd/diagnosed -config /etc/diagnose/config.yaml
//
// Configuration precedence is defaults, then the config file, then
// DIAGNOSE_* environment variables; see services/diagnose/config.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/AleutianAI/triage/pkg/logging"
	"github.com/AleutianAI/triage/services/diagnose/config"
	"github.com/AleutianAI/triage/services/diagnose/patterns"
	"github.com/AleutianAI/triage/services/diagnose/storage/badger"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (YAML or JSON)")
	logDir := flag.String("log-dir", "", "Directory for JSON log files (empty disables file logging)")
	logLevel := flag.String("log-level", "info", "Minimum log level: debug, info, warn, error")
	flag.Parse()

	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(*logLevel),
		LogDir:  *logDir,
		Service: "diagnosed",
	})
	defer logger.Close()

	if err := run(*configPath, logger); err != nil {
		logger.Error("diagnosed exited with error", "error", err)
		os.Exit(1)
	}
}

func run(configPath string, logger *logging.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	slogger := logger.Slog()
	engine := patterns.NewEngine(cfg.Thresholds, cfg.Maintenance, slogger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var snapper *badger.Snapshotter
	if cfg.Snapshot.Path != "" {
		db, err := badger.Open(badger.Config{
			Path:       cfg.Snapshot.Path,
			SyncWrites: cfg.Snapshot.SyncWrites,
			Logger:     slogger,
		})
		if err != nil {
			return fmt.Errorf("open snapshot database: %w", err)
		}
		defer db.Close()

		snaps := badger.NewSnapshotStore(db, slogger)
		if err := snaps.Restore(ctx, engine.Store); err != nil {
			return fmt.Errorf("restore snapshot: %w", err)
		}
		logger.Info("store restored", "patterns", engine.Store.Len())

		if cfg.Snapshot.Interval > 0 {
			snapper, err = badger.NewSnapshotter(engine.Store, snaps, cfg.Snapshot.Interval, slogger)
			if err != nil {
				return fmt.Errorf("create snapshotter: %w", err)
			}
			snapper.Start()
		}
	} else {
		logger.Warn("no snapshot path configured, store is ephemeral")
	}

	if cfg.SeedFile != "" {
		added, err := engine.Store.LoadSeeds(cfg.SeedFile, engine.Fingerprinter)
		if err != nil {
			return fmt.Errorf("load seed patterns: %w", err)
		}
		logger.Info("seed patterns loaded", "added", added)
	}

	logger.Info("diagnosed running",
		"snapshot_path", cfg.Snapshot.Path,
		"snapshot_interval", cfg.Snapshot.Interval,
	)
	<-ctx.Done()
	logger.Info("shutdown signal received")
	if snapper != nil {
		snapper.Stop()
	}
	return nil
}
