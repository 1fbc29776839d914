package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aws-agent/verity/internal/audit"
	"github.com/aws-agent/verity/internal/metrics"
	"github.com/aws-agent/verity/internal/safety"
	"github.com/aws-agent/verity/pkg/logger"
)

const (
	moderationPrefix = "moderation:"
	reasonsKey       = "verity:reasons"
	statusKey        = "verity:status"
)

type Client struct {
	client        *redis.Client
	moderationTTL time.Duration
}

func NewClient(host string, port int, password string, db int, moderationTTL time.Duration) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return NewFromClient(client, moderationTTL), nil
}

// NewFromClient wraps an existing go-redis client.
func NewFromClient(client *redis.Client, moderationTTL time.Duration) *Client {
	return &Client{client: client, moderationTTL: moderationTTL}
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Client) SetModeration(ctx context.Context, textHash string, res safety.Result) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to marshal moderation result: %w", err)
	}

	if err := c.client.Set(ctx, moderationPrefix+textHash, data, c.moderationTTL).Err(); err != nil {
		return fmt.Errorf("failed to set moderation cache: %w", err)
	}

	logger.Debug("Moderation result cached", zap.String("text_hash", textHash), zap.Duration("ttl", c.moderationTTL))
	return nil
}

// GetModeration returns nil without error on a miss.
func (c *Client) GetModeration(ctx context.Context, textHash string) (*safety.Result, error) {
	data, err := c.client.Get(ctx, moderationPrefix+textHash).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.CacheMisses.WithLabelValues("moderation").Inc()
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get moderation cache: %w", err)
	}

	var res safety.Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("failed to unmarshal moderation result: %w", err)
	}

	metrics.CacheHits.WithLabelValues("moderation").Inc()
	logger.Debug("Moderation cache hit", zap.String("text_hash", textHash))
	return &res, nil
}

// InvalidateModerationCache drops every cached moderation result, e.g. after
// the lexicon changes.
func (c *Client) InvalidateModerationCache(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, moderationPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			logger.Warn("Failed to delete cache key", zap.Error(err))
		}
	}

	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to iterate cache keys: %w", err)
	}

	logger.Info("Moderation cache invalidated")
	return nil
}

// Record adds an evaluation's reason histogram and final status to
// fleet-wide counters shared by every replica.
func (c *Client) Record(ctx context.Context, e *audit.Event) error {
	pipe := c.client.TxPipeline()
	for reason, n := range e.ReasonCounts {
		pipe.HIncrBy(ctx, reasonsKey, reason, int64(n))
	}
	pipe.HIncrBy(ctx, statusKey, string(e.FinalStatus), 1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record reason counters: %w", err)
	}
	return nil
}

// ReasonCounts returns the fleet-wide reason histogram.
func (c *Client) ReasonCounts(ctx context.Context) (map[string]int64, error) {
	return c.hashCounts(ctx, reasonsKey)
}

func (c *Client) StatusCounts(ctx context.Context) (map[string]int64, error) {
	return c.hashCounts(ctx, statusKey)
}

func (c *Client) hashCounts(ctx context.Context, key string) (map[string]int64, error) {
	raw, err := c.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	out := make(map[string]int64, len(raw))
	for k, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad counter %s[%s]=%q: %w", key, k, v, err)
		}
		out[k] = n
	}
	return out, nil
}

var (
	_ safety.Cache = (*Client)(nil)
	_ audit.Sink   = (*Client)(nil)
)
