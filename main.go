package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/pflag"

	"roomd/internal/clock"
	"roomd/internal/config"
	"roomd/internal/core"
	"roomd/internal/eventcache"
	"roomd/internal/httpapi"
	"roomd/internal/lobby"
	"roomd/internal/props"
	"roomd/internal/relay"
	"roomd/internal/room"
	"roomd/internal/sqlfilter"
	"roomd/internal/store"
)

// Version is injected at build time with -ldflags.
var Version = "0.1.0-dev"

func main() {
	configPath := pflag.String("config", "", "YAML config file (defaults to $"+config.EnvVar+")")
	addr := pflag.String("addr", "", "Echo listen address (overrides server.addr)")
	debug := pflag.Bool("debug", false, "Enable debug logging (auto-enabled for dev builds)")
	pflag.Parse()

	// Auto-enable debug logging for dev builds; override with --debug flag.
	level := slog.LevelInfo
	if *debug || strings.Contains(Version, "dev") {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	slog.Info("starting server", "version", Version, "addr", cfg.Server.Addr, "relay", cfg.Relay.Mode)

	listings, err := store.Open(":memory:")
	if err != nil {
		slog.Error("open listing store", "err", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := listings.Close(); closeErr != nil {
			slog.Error("close listing store", "err", closeErr)
		}
	}()

	registry, err := lobby.NewRegistry(lobby.Config{
		GameListLimit:  cfg.Lobby.GameListLimit,
		DefaultLobbies: cfg.Lobby.Lobbies(),
	}, sqlfilter.NewCompiler(cfg.Lobby.MaxAlternatives, cfg.Lobby.Templates), listings)
	if err != nil {
		slog.Error("initialize lobby registry", "err", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		slog.Info("received interrupt, shutting down")
		cancel()
	}()

	// The relay outlives ctx so the tombstones of rooms closed on shutdown
	// still reach the registry.
	relayCtx, stopRelay := context.WithCancel(context.Background())
	defer stopRelay()

	var sink relay.Sink = registry
	if cfg.Relay.Mode == config.RelayRedis {
		redisCfg := relay.RedisConfig{
			Addr:     cfg.Relay.Addr,
			Password: cfg.Relay.Password,
			DB:       cfg.Relay.DB,
			Stream:   cfg.Relay.Stream,
			MaxLen:   cfg.Relay.MaxLen,
		}
		rdb, err := relay.NewRedisClient(ctx, redisCfg)
		if err != nil {
			slog.Error("connect redis relay", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
		sink = relay.NewStreamWriter(rdb, redisCfg)
		reader := relay.NewStreamReader(rdb, redisCfg, registry)
		go func() {
			if err := reader.Run(relayCtx); err != nil {
				slog.Error("delta stream reader", "err", err)
			}
		}()
	}
	deltas := relay.NewQueue(sink)
	go deltas.Run(relayCtx)

	clk := clock.Real()
	rooms := room.NewManager(room.Config{
		PropertyLimits: props.Limits{MaxBytes: cfg.Limits.PropertyBytes, MaxKeys: cfg.Limits.PropertyKeys},
		TTLLimits:      props.TTLLimits{MaxPlayerTTL: cfg.Limits.MaxPlayerTTL, MaxEmptyRoomTTL: cfg.Limits.MaxEmptyRoomTTL},
		CacheLimits: eventcache.Limits{
			MaxEvents:      cfg.Limits.CachedEvents,
			MaxActorEvents: cfg.Limits.ActorEvents,
			MaxSlices:      cfg.Limits.CacheSlices,
		},
		Clock:     clk,
		Publisher: deltas,
	})

	coord := core.New(rooms, registry, core.Config{
		Address:    cfg.Server.PublicAddress,
		SendBuffer: cfg.Server.SendBuffer,
	})
	go coord.RunStats(ctx, clk, cfg.Lobby.StatsInterval)
	go coord.RunMetrics(ctx, clk, cfg.Server.MetricsInterval, deltas.Len)
	slog.Debug("coordinator initialized", "server_name", cfg.Server.Name)

	server := httpapi.New(coord, cfg.Server.Name)

	slog.Info("listening", "addr", cfg.Server.Addr)
	if err := server.Run(ctx, cfg.Server.Addr); err != nil {
		slog.Error("server error", "err", err)
		cancel()
		shutdown(rooms, deltas, stopRelay)
		os.Exit(1)
	}
	cancel()
	shutdown(rooms, deltas, stopRelay)
	slog.Info("server stopped", "remaining_rooms", rooms.Count())
}

// shutdown closes every room, then stops the relay once their final deltas
// are queued and waits for it to drain.
func shutdown(rooms *room.Manager, deltas *relay.Queue, stopRelay context.CancelFunc) {
	rooms.CloseAll()
	stopRelay()
	<-deltas.Done()
}
