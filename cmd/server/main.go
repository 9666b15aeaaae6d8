// Clockbridge - Biometric Attendance Device Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clockbridge

// Package main is the entry point for the Clockbridge server.
//
// Clockbridge connects biometric attendance devices (ZKTeco, Anviz, Matrix
// COSEC, Dahua, eTimeOffice) to a central attendance ledger. Each device
// runs under one of two acquisition modes: live capture over an open
// session, or scheduled polling with per-device cursors that guarantee
// at-least-once delivery.
//
// # Startup order
//
//  1. Configuration: Koanf v2 layered sources (defaults, YAML, CLOCKBRIDGE_* env)
//  2. Stores: sqlite (devices, mappings, employees, ledger) and Badger (cursors)
//  3. Supervisor tree: capture layer (device workers), messaging layer
//     (websocket hub), api layer (HTTP control surface)
//  4. Device services: one live worker or scheduled poller per active device
//
// # Signal handling
//
// SIGINT and SIGTERM cancel the root context; the tree drains within the
// configured shutdown timeout and unstopped services are reported.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/tomtom215/clockbridge/internal/acquisition"
	"github.com/tomtom215/clockbridge/internal/api"
	"github.com/tomtom215/clockbridge/internal/attendance"
	"github.com/tomtom215/clockbridge/internal/config"
	"github.com/tomtom215/clockbridge/internal/cursor"
	"github.com/tomtom215/clockbridge/internal/directory"
	"github.com/tomtom215/clockbridge/internal/ledger"
	"github.com/tomtom215/clockbridge/internal/logging"
	"github.com/tomtom215/clockbridge/internal/notify"
	"github.com/tomtom215/clockbridge/internal/store"
	"github.com/tomtom215/clockbridge/internal/supervisor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().
		Str("db_path", cfg.Database.Path).
		Str("cursor_dir", cfg.Database.CursorDir).
		Str("addr", cfg.Server.Addr()).
		Msg("starting clockbridge")

	db, err := store.Open(cfg.Database.Path)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to open database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("error closing database")
		}
	}()

	led, err := ledger.New(db)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to initialize ledger")
	}

	badgerDB, err := cursor.Open(cfg.Database.CursorDir)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to open cursor store")
	}
	defer func() {
		if err := badgerDB.Close(); err != nil {
			logging.Error().Err(err).Msg("error closing cursor store")
		}
	}()
	cursors := cursor.NewBadgerStore(badgerDB)

	hub := notify.NewHub()
	sink := notify.Fanout{notify.LogSink{}, hub}

	normalizer := attendance.NewNormalizer(db)
	reconciler := attendance.NewReconciler(led)
	reconciler.OnPunch = sink.PunchRecorded

	runner := acquisition.NewPollRunner(db, cursors, normalizer, reconciler,
		acquisition.BreakerConfig{
			Threshold: cfg.Acquisition.BreakerThreshold,
			Cooldown:  cfg.Acquisition.BreakerCooldown,
		}, sink)

	devices := acquisition.NewDeviceSupervisor(db, cursors, runner, normalizer, reconciler, sink,
		acquisition.LiveConfig{
			PollInterval: cfg.Acquisition.LivePollInterval,
			ReconnectMin: cfg.Acquisition.ReconnectMin,
			ReconnectMax: cfg.Acquisition.ReconnectMax,
		}, cfg.Acquisition.DefaultPollInterval)

	dir := directory.New(db)

	handler := api.NewHandler(db, cursors, runner, devices, dir, led, hub)
	server := api.NewServer(cfg.Server.Addr(), api.NewRouter(handler), cfg.Server.Timeout, cfg.Server.ShutdownTimeout)

	treeCfg := supervisor.DefaultTreeConfig()
	treeCfg.ShutdownTimeout = cfg.Server.ShutdownTimeout
	tree := supervisor.NewTree(logging.NewSlogLogger(), treeCfg)
	tree.AddCaptureService(devices.Supervisor())
	tree.AddMessagingService(hub)
	tree.AddAPIService(server)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	done := tree.ServeBackground(ctx)

	if err := devices.StartAll(ctx); err != nil {
		logging.Error().Err(err).Msg("failed to start device services")
	}

	err = <-done
	if err != nil && err != context.Canceled {
		logging.Error().Err(err).Msg("supervisor tree terminated")
	}

	if report, rerr := tree.UnstoppedServiceReport(); rerr == nil && len(report) > 0 {
		for _, svc := range report {
			logging.Warn().Str("service", svc.Name).Msg("service did not stop before timeout")
		}
	}

	logging.Info().Msg("clockbridge stopped")
	os.Exit(0)
}
