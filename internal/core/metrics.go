package core

import (
	"context"
	"log/slog"
	"time"

	"roomd/internal/clock"
)

// Metrics is one sample of process load.
type Metrics struct {
	Sessions     int
	Rooms        int
	DeltaBacklog int
}

// Sample reads current counters. backlog reports deltas not yet applied
// to the lobby registry and may be nil.
func (c *Coordinator) Sample(backlog func() int) Metrics {
	m := Metrics{Sessions: c.ClientCount(), Rooms: c.rooms.Count()}
	if backlog != nil {
		m.DeltaBacklog = backlog()
	}
	return m
}

// RunMetrics logs a sample every interval until ctx is canceled. Idle
// samples are skipped.
func (c *Coordinator) RunMetrics(ctx context.Context, clk clock.Clock, interval time.Duration, backlog func() int) {
	if interval <= 0 {
		return
	}
	t := clk.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			logMetrics(slog.Default(), c.Sample(backlog))
		}
	}
}

func logMetrics(logger *slog.Logger, m Metrics) bool {
	if m.Sessions == 0 && m.Rooms == 0 && m.DeltaBacklog == 0 {
		return false
	}
	logger.Info("metrics", "sessions", m.Sessions, "rooms", m.Rooms, "delta_backlog", m.DeltaBacklog)
	return true
}
