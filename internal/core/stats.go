package core

import (
	"context"
	"log/slog"
	"time"

	"roomd/internal/clock"
	"roomd/internal/lobby"
	"roomd/internal/protocol"
)

// RunStats pushes LobbyStats of every known lobby to the sessions that
// asked for them, once per interval, until ctx is done.
func (c *Coordinator) RunStats(ctx context.Context, clk clock.Clock, interval time.Duration) {
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
			c.PushStats()
		}
	}
}

// PushStats sends one LobbyStats event to each opted-in session.
func (c *Coordinator) PushStats() int {
	subs := c.statsSubscribers()
	if len(subs) == 0 {
		return 0
	}
	stats, err := c.lobbies.Stats(nil, nil)
	if err != nil {
		slog.Error("collect lobby stats", "err", err)
		return 0
	}
	ev := protocol.Event{Name: protocol.EvLobbyStats, Data: lobby.StatsData(stats)}
	sent := 0
	for _, s := range subs {
		if s.Deliver(ev) {
			sent++
		}
	}
	slog.Debug("lobby stats pushed", "lobbies", len(stats), "recipients", sent, "total", len(subs))
	return sent
}
