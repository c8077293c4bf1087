// Package journal appends completed turns to a Redis Stream so other services
// can follow avatar activity. The stream is write-only from this service's
// point of view; nothing is read back on startup.
package journal

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/normanking/avatarserver/internal/bus"
)

// Config holds configuration for the Redis connection.
type Config struct {
	Addr     string
	Password string
	DB       int
	Stream   string
	// MaxLen caps the stream length with approximate trimming. 0 disables trimming.
	MaxLen int64
}

// DefaultConfig returns local development settings.
func DefaultConfig() Config {
	return Config{
		Addr:   "localhost:6379",
		Stream: "avatar:turns",
		MaxLen: 10000,
	}
}

// Journal writes turn records with XADD.
type Journal struct {
	rdb    *redis.Client
	cfg    Config
	logger zerolog.Logger
}

// New connects to Redis and verifies the connection.
func New(cfg Config, logger zerolog.Logger) (*Journal, error) {
	if cfg.Stream == "" {
		cfg.Stream = DefaultConfig().Stream
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Journal{
		rdb:    rdb,
		cfg:    cfg,
		logger: logger.With().Str("component", "journal").Str("stream", cfg.Stream).Logger(),
	}, nil
}

// Ping checks if Redis is reachable.
func (j *Journal) Ping(ctx context.Context) error {
	return j.rdb.Ping(ctx).Err()
}

// Append writes one record and returns its stream id.
func (j *Journal) Append(ctx context.Context, values map[string]any) (string, error) {
	args := &redis.XAddArgs{
		Stream: j.cfg.Stream,
		Values: values,
	}
	if j.cfg.MaxLen > 0 {
		args.MaxLen = j.cfg.MaxLen
		args.Approx = true
	}

	id, err := j.rdb.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("xadd failed: %w", err)
	}
	return id, nil
}

// Attach records every completed and failed turn published on b.
func (j *Journal) Attach(b *bus.EventBus) {
	b.SubscribeMultiple([]bus.EventType{bus.EventTypeTurnCompleted, bus.EventTypeTurnFailed}, j.handle)
}

func (j *Journal) handle(e bus.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := j.Append(ctx, Record(e)); err != nil {
		j.logger.Warn().Err(err).Str("connection", e.ConnectionID).Msg("Failed to journal turn")
	}
}

// Record flattens a turn event into stream field values.
func Record(e bus.Event) map[string]any {
	outcome := "complete"
	if e.Type == bus.EventTypeTurnFailed {
		outcome = "failed"
	}

	return map[string]any{
		"connection_id":  e.ConnectionID,
		"outcome":        outcome,
		"emotion":        e.String("emotion"),
		"cached":         strconv.FormatBool(e.Bool("cached")),
		"reply_chars":    strconv.Itoa(int(e.Float("reply_chars"))),
		"audio_duration": strconv.FormatFloat(e.Float("audio_duration"), 'f', 3, 64),
		"elapsed_ms":     strconv.FormatInt(int64(e.Float("elapsed")*1000), 10),
		"at":             e.Time.UTC().Format(time.RFC3339Nano),
	}
}

// Close releases the Redis connection.
func (j *Journal) Close() error {
	return j.rdb.Close()
}
