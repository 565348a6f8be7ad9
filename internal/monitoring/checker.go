package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/webtranspose/internal/config"
)

const defaultCheckInterval = 5 * time.Minute

// SnapshotPublisher exposes the latest health snapshot. *Metrics implements it.
type SnapshotPublisher interface {
	PublishSnapshot(snap *MetricsSnapshot, alerts []Alert)
}

// Checker periodically collects a ledger snapshot, publishes it and raises
// alerts. A webhook is sent only when an alert type starts firing; it is
// sent again after the alert has cleared once.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	publisher SnapshotPublisher
	cfg       config.MonitoringConfig

	firing map[AlertType]bool
}

// NewChecker creates a checker. publisher may be nil.
func NewChecker(collector *Collector, alerter *Alerter, publisher SnapshotPublisher, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		publisher: publisher,
		cfg:       cfg,
		firing:    make(map[AlertType]bool),
	}
}

func (c *Checker) interval() time.Duration {
	if d := time.Duration(c.cfg.CheckIntervalSecs) * time.Second; d > 0 {
		return d
	}
	return defaultCheckInterval
}

// Run checks once immediately and then on every interval until ctx is done.
func (c *Checker) Run(ctx context.Context) {
	interval := c.interval()
	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("monitoring: checker started",
		zap.Duration("interval", interval),
		zap.Int("lookback_hours", c.cfg.LookbackWindowHours),
		zap.Bool("webhook", c.cfg.WebhookURL != ""),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if ctx.Err() == nil {
			if _, err := c.Check(ctx); err != nil {
				log.Error("monitoring: check failed", zap.Error(err))
			}
		}
		select {
		case <-ctx.Done():
			log.Info("monitoring: checker stopped")
			return
		case <-ticker.C:
		}
	}
}

// Check runs one collection and returns the newly firing alerts.
func (c *Checker) Check(ctx context.Context) ([]Alert, error) {
	snap, err := c.collector.Collect(ctx, c.cfg.LookbackWindowHours)
	if err != nil {
		return nil, err
	}
	alerts := c.alerter.Evaluate(snap)
	if c.publisher != nil {
		c.publisher.PublishSnapshot(snap, alerts)
	}

	now := make(map[AlertType]bool, len(alerts))
	var fresh []Alert
	for _, a := range alerts {
		now[a.Type] = true
		zap.L().Warn("monitoring: alert firing",
			zap.String("type", string(a.Type)),
			zap.String("severity", a.Severity),
			zap.String("message", a.Message),
		)
		if !c.firing[a.Type] {
			fresh = append(fresh, a)
		}
	}
	for t := range c.firing {
		if !now[t] {
			zap.L().Info("monitoring: alert cleared", zap.String("type", string(t)))
		}
	}
	c.firing = now

	if len(fresh) > 0 {
		sent := c.alerter.SendAlerts(ctx, fresh)
		zap.L().Debug("monitoring: alerts delivered", zap.Int("new", len(fresh)), zap.Int("sent", sent))
	}
	return fresh, nil
}
