package services

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// SweepJob stops draw loops left behind by games that ended elsewhere and drops stale pattern
// cache entries.
type SweepJob struct {
	engine *GameEngine
	logger *zap.Logger
}

func NewSweepJob(engine *GameEngine, logger *zap.Logger) *SweepJob {
	return &SweepJob{engine: engine, logger: logger}
}

func (j *SweepJob) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stopped := j.engine.Scheduler().Sweep(ctx)
	purged := j.engine.Matcher().PurgeExpired()
	if stopped > 0 || purged > 0 {
		j.logger.Info("sweep finished",
			zap.Int("schedulers_stopped", stopped),
			zap.Int("pattern_cache_purged", purged))
	}
}

// StartJanitor runs the sweep on spec (e.g. "@every 5m"). Stop the returned cron on shutdown.
func StartJanitor(engine *GameEngine, spec string, logger *zap.Logger) (*cron.Cron, error) {
	c := cron.New()
	if _, err := c.AddJob(spec, NewSweepJob(engine, logger)); err != nil {
		return nil, err
	}
	c.Start()
	return c, nil
}
