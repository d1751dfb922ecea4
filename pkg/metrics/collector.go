package metrics

import (
	"context"
	"time"

	"github.com/migadu/sieveforge/logger"
)

// ScriptCounter reports how many scripts a repository holds.
type ScriptCounter interface {
	Count(ctx context.Context) (int, error)
}

// Collector periodically refreshes gauges that need a query to compute.
type Collector struct {
	scripts  ScriptCounter
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a collector; a zero interval means one minute.
func NewCollector(scripts ScriptCounter, interval time.Duration) *Collector {
	if interval == 0 {
		interval = 60 * time.Second
	}
	return &Collector{
		scripts:  scripts,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start collects immediately and then on every tick until ctx is done or
// Stop is called.
func (c *Collector) Start(ctx context.Context) {
	c.collect(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	logger.Info("MetricsCollector started", "interval", c.interval)

	for {
		select {
		case <-ctx.Done():
			logger.Info("MetricsCollector stopping due to context cancellation")
			return
		case <-c.stopCh:
			logger.Info("MetricsCollector stopping due to stop signal")
			return
		case <-ticker.C:
			c.collect(ctx)
		}
	}
}

// Stop signals the collector to stop
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect(ctx context.Context) {
	n, err := c.scripts.Count(ctx)
	if err != nil {
		logger.Error("MetricsCollector: error counting stored scripts", "error", err)
		return
	}
	StoredScripts.Set(float64(n))
	logger.Debug("MetricsCollector: updated script metrics", "scripts", n)
}
