// Package history records completed turns to an external stream for later
// review. Recording is best-effort and never affects a session.
package history

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Turn is one finished exchange.
type Turn struct {
	SessionID   string
	TurnID      string
	User        string
	Assistant   string
	Command     string
	Domain      string
	Model       string
	Access      string
	Interrupted bool
	Duration    time.Duration
	At          time.Time
}

func (t Turn) values() map[string]interface{} {
	v := map[string]interface{}{
		"session":     t.SessionID,
		"turn":        t.TurnID,
		"user":        t.User,
		"assistant":   t.Assistant,
		"access":      t.Access,
		"interrupted": strconv.FormatBool(t.Interrupted),
		"duration_ms": t.Duration.Milliseconds(),
		"at":          t.At.UTC().Format(time.RFC3339Nano),
	}
	if t.Command != "" {
		v["command"] = t.Command
	}
	if t.Domain != "" {
		v["domain"] = t.Domain
	}
	if t.Model != "" {
		v["model"] = t.Model
	}
	return v
}

// Recorder stores finished turns.
type Recorder interface {
	Record(ctx context.Context, t Turn)
	Close() error
}

// Nop discards turns.
type Nop struct{}

func (Nop) Record(context.Context, Turn) {}
func (Nop) Close() error { return nil }

// RedisConfig holds configuration for the Redis stream sink.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Stream   string
	// MaxLen trims the stream approximately; zero keeps everything
	MaxLen int64
}

// RedisRecorder appends each turn to a Redis stream with XADD.
type RedisRecorder struct {
	rdb    *redis.Client
	cfg    RedisConfig
	logger zerolog.Logger
}

// NewRedisRecorder connects and pings Redis.
func NewRedisRecorder(ctx context.Context, cfg RedisConfig, logger zerolog.Logger) (*RedisRecorder, error) {
	if cfg.Stream == "" {
		cfg.Stream = "cortexvoice:turns"
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisRecorder{
		rdb:    rdb,
		cfg:    cfg,
		logger: logger.With().Str("component", "history").Logger(),
	}, nil
}

// Record appends t. Errors are logged.
func (r *RedisRecorder) Record(ctx context.Context, t Turn) {
	args := &redis.XAddArgs{
		Stream: r.cfg.Stream,
		Values: t.values(),
	}
	if r.cfg.MaxLen > 0 {
		args.MaxLen = r.cfg.MaxLen
		args.Approx = true
	}
	if err := r.rdb.XAdd(ctx, args).Err(); err != nil {
		r.logger.Warn().Err(err).Str("session", t.SessionID).Msg("Failed to record turn")
	}
}

// Close closes the Redis connection.
func (r *RedisRecorder) Close() error {
	return r.rdb.Close()
}
