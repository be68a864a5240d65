package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"HealthMonitor/pkg/predictive"
	"HealthMonitor/pkg/threshold"
)

const (
	DefaultRedisChannel = "healthmon:events"
	DefaultRedisList    = "healthmon:recent"
	DefaultRedisHistory = 500
)

// redisClient is the subset of *redis.Client the sink needs.
type redisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	LTrim(ctx context.Context, key string, start, stop int64) *redis.StatusCmd
}

// RedisOptions configures where events are published.
type RedisOptions struct {
	Channel string
	List    string
	// History caps the recent-events list. Zero disables the list.
	History int64
}

// RedisSink publishes every event as JSON on a pub/sub channel and keeps the
// most recent events in a capped list for late readers.
type RedisSink struct {
	client redisClient
	opts   RedisOptions
	now    func() time.Time
}

// NewRedisSink wraps an existing client.
func NewRedisSink(client *redis.Client, opts RedisOptions) *RedisSink {
	return newRedisSink(client, opts)
}

func newRedisSink(client redisClient, opts RedisOptions) *RedisSink {
	if opts.Channel == "" {
		opts.Channel = DefaultRedisChannel
	}
	if opts.List == "" {
		opts.List = DefaultRedisList
	}
	return &RedisSink{client: client, opts: opts, now: time.Now}
}

// DialRedis connects to addr and checks the connection.
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return rdb, nil
}

func (r *RedisSink) OnVerdict(ctx context.Context, v threshold.Verdict) error {
	return r.emit(ctx, VerdictEvent(v))
}

func (r *RedisSink) OnPredictiveWarning(ctx context.Context, e predictive.Estimate) error {
	return r.emit(ctx, PredictiveEvent(e))
}

func (r *RedisSink) OnSampleError(ctx context.Context, err error) error {
	return r.emit(ctx, ErrorEvent(err, r.now()))
}

func (r *RedisSink) emit(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", ev.Type, err)
	}
	if err := r.client.Publish(ctx, r.opts.Channel, payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", r.opts.Channel, err)
	}
	if r.opts.History <= 0 {
		return nil
	}
	if err := r.client.LPush(ctx, r.opts.List, payload).Err(); err != nil {
		return fmt.Errorf("push to %s: %w", r.opts.List, err)
	}
	if err := r.client.LTrim(ctx, r.opts.List, 0, r.opts.History-1).Err(); err != nil {
		return fmt.Errorf("trim %s: %w", r.opts.List, err)
	}
	return nil
}
