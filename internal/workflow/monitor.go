package workflow

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Monitor periodically scans for overdue pending steps and escalates them
// through the engine, attributed to the system actor. It runs independently
// of caller activity.
type Monitor struct {
	engine   *Engine
	interval time.Duration
	logger   *zap.Logger
}

// NewMonitor creates an escalation monitor that ticks at the given
// interval.
func NewMonitor(engine *Engine, interval time.Duration, logger *zap.Logger) *Monitor {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Monitor{
		engine:   engine,
		interval: interval,
		logger:   logger,
	}
}

// Run blocks, processing escalations on every tick until the context is
// cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info("escalation monitor started", zap.Duration("interval", m.interval))

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("escalation monitor stopped")
			return
		case <-ticker.C:
			count, err := m.engine.ProcessEscalations(ctx)
			if err != nil {
				m.logger.Error("escalation pass failed", zap.Error(err))
				continue
			}
			if count > 0 {
				m.logger.Info("escalated overdue instances", zap.Int("count", count))
			}
		}
	}
}
