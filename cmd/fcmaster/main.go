// Copyright (c) Fan Club Authors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fanclub/master/internal/api"
	"github.com/fanclub/master/internal/config"
	"github.com/fanclub/master/internal/history"
	"github.com/fanclub/master/internal/maintenance"
	"github.com/fanclub/master/internal/orchestrator"
	"github.com/fanclub/master/internal/telemetry"
	"github.com/fanclub/master/pkg/log"
	"github.com/google/gops/agent"
	"github.com/prometheus/client_golang/prometheus"

	_ "github.com/mattn/go-sqlite3"
)

// Exit codes (spec §6.2).
const (
	exitClean           = 0
	exitOther           = 1
	exitArchiveLoad     = 2
	exitSocketBind      = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		flagProfilePath string
		flagLogDir      string
		flagGops        bool
		flagLogLevel    string
	)
	flag.StringVar(&flagProfilePath, "profile", envOr("FC_PROFILE_PATH", "./var/archive/profile.json"), "path to the persisted archive profile")
	flag.StringVar(&flagLogDir, "logdir", envOr("FC_LOG_DIR", "./var/log"), "directory backup snapshots and run artifacts are written under")
	flag.StringVar(&flagLogLevel, "loglevel", "info", "log level: debug, info, notice, warn, err, crit")
	flag.BoolVar(&flagGops, "gops", false, "listen via github.com/google/gops/agent (for debugging)")
	flag.Parse()

	log.SetLogLevel(flagLogLevel)

	if flagGops {
		if err := agent.Listen(agent.Options{}); err != nil {
			log.Errorf("gops/agent.Listen failed: %v", err)
			return exitOther
		}
	}

	if err := os.MkdirAll(flagLogDir, 0o755); err != nil {
		log.Errorf("creating log dir %q: %v", flagLogDir, err)
		return exitOther
	}
	if err := os.MkdirAll(filepath.Dir(flagProfilePath), 0o755); err != nil {
		log.Errorf("creating profile dir for %q: %v", flagProfilePath, err)
		return exitOther
	}

	archive := config.New(flagLogDir)
	defer archive.Close()

	if raw, err := os.ReadFile(flagProfilePath); err == nil {
		result, err := archive.Load(raw)
		if err != nil {
			log.Errorf("loading profile %q: %v", flagProfilePath, err)
			return exitArchiveLoad
		}
		for _, f := range result.RescuedFields {
			log.Warnf("profile field %q was invalid and rescued to its default", f)
		}
	} else if !os.IsNotExist(err) {
		log.Errorf("reading profile %q: %v", flagProfilePath, err)
		return exitArchiveLoad
	}

	if bucket, _ := archive.Get("archiveBucket").(string); bucket != "" {
		region, _ := archive.Get("archiveRegion").(string)
		backend, err := config.NewS3Backend(context.Background(), bucket, region, "fanclub-master")
		if err != nil {
			log.Warnf("s3 backend unavailable, continuing with file-only backups: %v", err)
		} else {
			archive.SetRemoteBackend(backend)
		}
	}

	registry := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(registry)

	bridge, err := telemetry.Connect(telemetry.Config{
		Address: archive.Get("natsAddress").(string),
	}, metrics)
	if err != nil {
		log.Warnf("telemetry bridge unavailable, continuing without it: %v", err)
		bridge = nil
	}

	var historyStore *history.Store
	if path, _ := archive.Get("historyDBPath").(string); path != "" {
		historyStore, err = history.Open(path)
		if err != nil {
			log.Warnf("connection-history store unavailable: %v", err)
			historyStore = nil
		} else {
			defer historyStore.Close()
		}
	}

	orc, err := orchestrator.New(archive, metrics, bridge, historyStore)
	if err != nil {
		log.Errorf("assembling orchestrator: %v", err)
		return exitSocketBind
	}

	logPath := fmt.Sprintf("%s/run-%d.csv", flagLogDir, time.Now().Unix())
	if err := orc.StartLogging(logPath, archive.Get("dutyScript").(string)); err != nil {
		log.Warnf("data logger unavailable, continuing without CSV logging: %v", err)
	}

	var apiServer *api.Server
	if enabled, _ := archive.Get("apiEnabled").(bool); enabled {
		addr, _ := archive.Get("apiAddr").(string)
		requireAuth, _ := archive.Get("apiRequireAuth").(bool)
		apiServer = api.NewServer(api.Config{
			Addr:         addr,
			RequireAuth:  requireAuth,
			AllowedPaths: []string{"/metrics"},
		}, orc, nil, registry)
		go func() {
			if err := apiServer.ListenAndServe(); err != nil {
				log.Warnf("api server stopped: %v", err)
			}
		}()
	}

	// historyStore is only passed through as a maintenance.HistoryPruner
	// when actually opened: a nil *history.Store boxed into a non-nil
	// interface would make the scheduler's nil-check pass and then panic.
	var pruner maintenance.HistoryPruner
	if historyStore != nil {
		pruner = historyStore
	}
	sched, err := maintenance.New(maintenance.Config{
		CheckpointFlushEvery: time.Duration(toInt(archive.Get("checkpointIntervalS"))) * time.Second,
		HistoryPruneEvery:    24 * time.Hour,
		HistoryRetention:     time.Duration(toInt(archive.Get("historyRetentionDays"))) * 24 * time.Hour,
		ArchiveBackupEvery:   time.Duration(toInt(archive.Get("autoBackupIntervalMin"))) * time.Minute,
	}, orc.Checkpoint(), pruner, archive)
	if err != nil {
		log.Warnf("maintenance scheduler unavailable: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	controlPeriod := time.Duration(toInt(archive.Get("controlPeriodMS"))) * time.Millisecond
	broadcastPeriod := time.Duration(toInt(archive.Get("broadcastPeriodMS"))) * time.Millisecond

	done := make(chan struct{})
	go func() {
		defer close(done)
		orc.Run(ctx, controlPeriod, broadcastPeriod)
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	log.Infof("fcmaster: shutting down")

	cancel()
	orc.Shutdown()
	if apiServer != nil {
		_ = apiServer.Shutdown(5 * time.Second)
	}
	if sched != nil {
		_ = sched.Shutdown()
	}
	if bridge != nil {
		bridge.Close()
	}

	if _, err := archive.Save(flagProfilePath); err != nil {
		log.Errorf("saving profile on shutdown: %v", err)
		return exitOther
	}

	<-done
	log.Infof("fcmaster: graceful shutdown complete")
	return exitClean
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
