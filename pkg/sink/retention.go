package sink

import (
	"context"
	"time"

	"github.com/adhocore/gronx"
	"github.com/pkg/errors"
	"k8s.io/utils/clock"

	"adsingest/pkg/config"
	"adsingest/pkg/logger"
)

const defaultRetentionCron = "0 2 * * *"

// Retention prunes old records from a Pebble log on a cron schedule.
type Retention struct {
	log    *Pebble
	topic  string
	cron   string
	period time.Duration
	clock  clock.Clock
}

// NewRetention validates the cron expression and returns a scheduler for
// topic. It does not start anything.
func NewRetention(log *Pebble, topic string, cfg config.RetentionConfig, c clock.Clock) (*Retention, error) {
	cronExpr := cfg.Cron
	if cronExpr == "" {
		cronExpr = defaultRetentionCron
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("retention_invalid_cron", "cron", cfg.Cron)
		return nil, errors.Errorf("invalid retention cron expression: %s", cfg.Cron)
	}
	if cfg.Period <= 0 {
		return nil, errors.New("retention period must be positive")
	}
	if c == nil {
		c = clock.RealClock{}
	}
	return &Retention{log: log, topic: topic, cron: cronExpr, period: cfg.Period.Duration(), clock: c}, nil
}

// RunOnce deletes every record older than the retention period.
func (r *Retention) RunOnce() (int, error) {
	cutoff := r.clock.Now().Add(-r.period)
	n, err := r.log.DeleteBefore(r.topic, cutoff)
	if err != nil {
		logger.Error("retention_run_error", "topic", r.topic, "error", err)
		return 0, err
	}
	logger.Info("retention_run_complete", "topic", r.topic, "deleted", n, "cutoff", cutoff.UTC().Format(time.RFC3339))
	return n, nil
}

// Run blocks, triggering RunOnce at each cron tick until ctx ends.
func (r *Retention) Run(ctx context.Context) {
	logger.Info("retention_scheduler_started", "cron", r.cron, "period", r.period.String(), "topic", r.topic)
	for {
		// compute next tick after now (UTC). allowCurrent=false so we get the
		// next future tick.
		now := r.clock.Now().UTC()
		next, err := gronx.NextTickAfter(r.cron, now, false)
		var wait time.Duration
		if err != nil {
			logger.Error("retention_nexttick_failed", "cron", r.cron, "error", err)
			wait = 30 * time.Second
		} else {
			wait = next.Sub(now)
		}

		select {
		case <-r.clock.After(wait):
			if err == nil {
				_, _ = r.RunOnce()
			}
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		}
	}
}
