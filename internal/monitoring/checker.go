package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/newswatch/internal/config"
)

const defaultCheckInterval = 5 * time.Minute

// Checker evaluates run and quota health on a timer. An alert is delivered
// when its condition starts and stays quiet until the condition clears, so a
// day of exhausted quota produces one webhook call, not one per tick.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig
	log       *zap.Logger

	firing map[AlertType]bool
}

// NewChecker creates a background health checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
		log:       zap.L().With(zap.String("component", "monitoring")),
		firing:    make(map[AlertType]bool),
	}
}

// Run checks once right away, then every check interval, until ctx is done.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = defaultCheckInterval
	}
	c.log.Info("health checks started",
		zap.Duration("interval", interval),
		zap.Int("lookback_hours", c.cfg.LookbackWindowHours),
		zap.Int("stale_run_hours", c.cfg.StaleRunHours),
	)

	c.Check(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.log.Info("health checks stopped")
			return
		case <-ticker.C:
			c.Check(ctx)
		}
	}
}

// Check takes one snapshot and delivers the alerts that newly started
// firing. It returns those alerts.
func (c *Checker) Check(ctx context.Context) []Alert {
	snap, err := c.collector.Collect(ctx, c.cfg.LookbackWindowHours)
	if err != nil {
		c.log.Error("health snapshot failed", zap.Error(err))
		return nil
	}

	current := c.alerter.Evaluate(snap)
	active := make(map[AlertType]bool, len(current))
	var fresh []Alert
	for _, a := range current {
		active[a.Type] = true
		if !c.firing[a.Type] {
			fresh = append(fresh, a)
		}
	}
	for t := range c.firing {
		if !active[t] {
			c.log.Info("alert cleared", zap.String("type", string(t)))
		}
	}
	c.firing = active

	log := c.log.With(
		zap.Int("runs_running", snap.RunsRunning),
		zap.Int("runs_errored", snap.RunsErrored),
		zap.Strings("models_exhausted", snap.ModelsExhausted),
		zap.Int("calls_today", snap.CallsToday),
	)
	if len(fresh) == 0 {
		log.Debug("health check passed", zap.Int("alerts_still_firing", len(current)))
		return nil
	}

	sent := c.alerter.SendAlerts(ctx, fresh)
	log.Info("health alerts raised", zap.Int("alerts", len(fresh)), zap.Int("delivered", sent))
	return fresh
}
