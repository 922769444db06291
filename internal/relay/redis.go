package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"roomd/internal/codec"
	"roomd/internal/protocol"
)

const frameField = "d"

// RedisConfig selects the server and stream carrying deltas between room
// processes and the directory.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Stream   string
	// MaxLen trims the stream approximately; 0 keeps everything.
	MaxLen int64
}

// NewRedisClient connects and pings the server.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	slog.Info("redis relay connected", "addr", cfg.Addr, "stream", cfg.Stream)
	return client, nil
}

func encodeFrame(d protocol.GameDelta) ([]byte, error) {
	return codec.Marshal(d)
}

func decodeFrame(raw any) (protocol.GameDelta, error) {
	var b []byte
	switch v := raw.(type) {
	case string:
		b = []byte(v)
	case []byte:
		b = v
	default:
		return protocol.GameDelta{}, fmt.Errorf("frame field has type %T", raw)
	}
	var d protocol.GameDelta
	if err := codec.Unmarshal(b, &d); err != nil {
		return protocol.GameDelta{}, fmt.Errorf("decode delta frame: %w", err)
	}
	return d, nil
}

// StreamWriter appends deltas to a Redis stream. It blocks on the network,
// so rooms reach it through a Queue.
type StreamWriter struct {
	rdb    *redis.Client
	stream string
	maxLen int64
}

// NewStreamWriter returns a writer for cfg.Stream.
func NewStreamWriter(rdb *redis.Client, cfg RedisConfig) *StreamWriter {
	return &StreamWriter{rdb: rdb, stream: cfg.Stream, maxLen: cfg.MaxLen}
}

// Apply appends one delta. Failures are logged; the lobby catches up with
// the next delta of the room since every delta carries full state.
func (w *StreamWriter) Apply(d protocol.GameDelta) {
	frame, err := encodeFrame(d)
	if err != nil {
		slog.Error("encode delta", "room_id", d.GameID, "err", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	args := &redis.XAddArgs{
		Stream: w.stream,
		Values: map[string]any{frameField: frame},
	}
	if w.maxLen > 0 {
		args.MaxLen = w.maxLen
		args.Approx = true
	}
	if err := w.rdb.XAdd(ctx, args).Err(); err != nil {
		slog.Error("publish delta", "room_id", d.GameID, "stream", w.stream, "err", err)
	}
}

// StreamReader consumes a Redis stream into a Sink.
type StreamReader struct {
	rdb    *redis.Client
	stream string
	sink   Sink
	lastID string
}

// NewStreamReader returns a reader that replays the stream from its start,
// so a restarted directory rebuilds its listings.
func NewStreamReader(rdb *redis.Client, cfg RedisConfig, sink Sink) *StreamReader {
	return &StreamReader{rdb: rdb, stream: cfg.Stream, sink: sink, lastID: "0"}
}

// Run reads until ctx is done.
func (r *StreamReader) Run(ctx context.Context) error {
	for {
		streams, err := r.rdb.XRead(ctx, &redis.XReadArgs{
			Streams: []string{r.stream, r.lastID},
			Count:   128,
			Block:   2 * time.Second,
		}).Result()
		switch {
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, redis.Nil):
			continue
		case err != nil:
			slog.Warn("read delta stream", "stream", r.stream, "err", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		for _, s := range streams {
			for _, msg := range s.Messages {
				r.lastID = msg.ID
				d, err := decodeFrame(msg.Values[frameField])
				if err != nil {
					slog.Warn("bad delta frame", "id", msg.ID, "err", err)
					continue
				}
				r.sink.Apply(d)
			}
		}
	}
}
