package reaper

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/nightslayer18/skeenode-contracts/internal/core/facade"
	"github.com/nightslayer18/skeenode-contracts/internal/observability/metrics"
)

// Config controls the reaper's sweep cadence.
type Config struct {
	HeartbeatExpiry time.Duration
	SweepInterval   time.Duration
}

// Reaper periodically reclaims contracts whose commitment has gone
// heartbeat-silent, provided it currently holds leadership.
type Reaper struct {
	facade  *facade.Facade
	elector Elector
	cfg     Config
	log     *zap.Logger
}

// New builds a Reaper. elector may be nil, in which case the reaper always
// assumes it is the sole sweeper (single-replica / test deployments).
func New(f *facade.Facade, elector Elector, cfg Config, log *zap.Logger) *Reaper {
	if cfg.HeartbeatExpiry <= 0 {
		cfg.HeartbeatExpiry = 60 * time.Second
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 20 * time.Second
	}
	return &Reaper{facade: f, elector: elector, cfg: cfg, log: log}
}

// Run blocks, sweeping every SweepInterval until ctx is cancelled. If an
// Elector was supplied, it campaigns for leadership first and only sweeps
// while it holds it.
func (r *Reaper) Run(ctx context.Context) error {
	if r.elector != nil {
		if err := r.elector.Campaign(ctx, "reaperd"); err != nil {
			return err
		}
		defer r.elector.Resign(context.Background())
	}

	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("reaper shutting down")
			return nil
		case <-ticker.C:
			if r.elector != nil && !r.elector.IsLeader() {
				continue
			}
			r.sweep(ctx)
		}
	}
}

func (r *Reaper) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-r.cfg.HeartbeatExpiry)
	n, err := r.facade.ReapStaleCommitments(ctx, cutoff)
	if err != nil {
		r.log.Error("reap sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		metrics.OrphansReclaimed.Add(float64(n))
		r.log.Info("reclaimed stale commitments", zap.Int("count", n))
	}
}
