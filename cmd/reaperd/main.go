// Command reaperd is the optional heartbeat reaper process (§4.5, §9):
// disabled by default, it reclaims contracts whose commitment has gone
// heartbeat-silent, campaigning for etcd leadership so only one replica
// sweeps at a time. Grounded on the teacher's cmd/scheduler/main.go startup
// sequence.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/nightslayer18/skeenode-contracts/internal/config"
	"github.com/nightslayer18/skeenode-contracts/internal/core/facade"
	"github.com/nightslayer18/skeenode-contracts/internal/observability/logging"
	"github.com/nightslayer18/skeenode-contracts/internal/reaper"
	"github.com/nightslayer18/skeenode-contracts/internal/storage/postgres"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONTRACTSD_CONFIG_FILE"))
	if err != nil {
		log.Fatalf("reaperd: load config: %v", err)
	}

	if !cfg.ReaperEnabled {
		log.Println("reaperd: CONTRACTSD_REAPER_ENABLED is false, nothing to do")
		return
	}

	logCfg := logging.DefaultConfig("reaperd")
	logCfg.Level = cfg.LogLevel
	logger, err := logging.Init(logCfg)
	if err != nil {
		log.Fatalf("reaperd: init logging: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	store, err := postgres.New(postgres.DefaultConfig(cfg.DSN()))
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer store.Close()

	f := facade.New(store, time.Now)

	var elector reaper.Elector
	if len(cfg.EtcdEndpoints) > 0 {
		elector, err = reaper.NewEtcdElector(cfg.EtcdEndpoints, cfg.LeaderLeaseS)
		if err != nil {
			logger.Fatal("connect etcd for leader election", zap.Error(err))
		}
		defer elector.Close()
	}

	r := reaper.New(f, elector, reaper.Config{
		HeartbeatExpiry: cfg.ReaperHeartbeatExpiry,
		SweepInterval:   cfg.ReaperSweepInterval,
	}, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(ctx) }()

	logger.Info("reaperd started",
		zap.Duration("heartbeat_expiry", cfg.ReaperHeartbeatExpiry),
		zap.Duration("sweep_interval", cfg.ReaperSweepInterval),
	)

	select {
	case sig := <-sigChan:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
		cancel()
		<-errCh
	case err := <-errCh:
		if err != nil {
			logger.Error("reaper stopped with error", zap.Error(err))
		}
	}

	logger.Info("reaperd shutdown complete")
}
