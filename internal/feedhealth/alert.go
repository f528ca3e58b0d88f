package feedhealth

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultAlertListLength caps the Redis alert list.
const DefaultAlertListLength = 500

// LogAlerter writes stale feed alerts to the log.
type LogAlerter struct {
	logger zerolog.Logger
}

func NewLogAlerter(logger zerolog.Logger) *LogAlerter {
	return &LogAlerter{logger: logger}
}

func (a *LogAlerter) StaleFeed(_ context.Context, alert Alert) error {
	a.logger.Warn().
		Str("feed_id", alert.FeedID).
		Int("empty_runs", alert.EmptyRuns).
		Time("last_run_at", alert.LastRunAt).
		Bool("registered", alert.Registered).
		Msg("feed is stale")
	return nil
}

// RedisAlerter pushes alerts as JSON onto a Redis list for whatever pages
// the operator. The alert is also logged.
type RedisAlerter struct {
	client *redis.Client
	key    string
	maxLen int64
	log    *LogAlerter
}

// DialRedis builds a client from a redis:// URL or a bare host:port.
func DialRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		opt = &redis.Options{Addr: redisURL}
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func NewRedisAlerter(client *redis.Client, key string, logger zerolog.Logger) (*RedisAlerter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	if key == "" {
		return nil, fmt.Errorf("redis alert key is required")
	}
	return &RedisAlerter{
		client: client,
		key:    key,
		maxLen: DefaultAlertListLength,
		log:    NewLogAlerter(logger),
	}, nil
}

func (a *RedisAlerter) StaleFeed(ctx context.Context, alert Alert) error {
	_ = a.log.StaleFeed(ctx, alert)

	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	pipe := a.client.TxPipeline()
	pipe.LPush(ctx, a.key, payload)
	pipe.LTrim(ctx, a.key, 0, a.maxLen-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("push alert to %s: %w", a.key, err)
	}
	return nil
}

func (a *RedisAlerter) Close() error {
	return a.client.Close()
}
