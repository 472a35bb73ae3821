package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewRedis creates and validates a go-redis client connection.
func NewRedis(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(opts)

	// Validate connectivity at startup
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}

	return rdb, nil
}

// RealtimeMessage is what RedisChannel publishes; a gateway in front of the
// dashboards relays it to browser clients.
type RealtimeMessage struct {
	Target    string `json:"target"`
	Arguments []any  `json:"arguments"`
	SentAt    string `json:"sent_at"`
}

// RedisChannel publishes realtime notifications on a Redis pub/sub channel.
// go-redis reconnects on its own; the state only tracks the last outcome.
type RedisChannel struct {
	rdb     *redis.Client
	channel string
	state   atomic.Int32
}

func NewRedisChannel(rdb *redis.Client, channel string) *RedisChannel {
	if channel == "" {
		channel = "rig:realtime"
	}
	return &RedisChannel{rdb: rdb, channel: channel}
}

func (c *RedisChannel) Connect(ctx context.Context) error {
	c.state.Store(int32(ChannelConnecting))
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		c.state.Store(int32(ChannelDisconnected))
		return fmt.Errorf("redis channel: %w", err)
	}
	c.state.Store(int32(ChannelConnected))
	return nil
}

func (c *RedisChannel) Send(ctx context.Context, target string, args ...any) error {
	if args == nil {
		args = []any{}
	}
	payload, err := json.Marshal(RealtimeMessage{
		Target:    target,
		Arguments: args,
		SentAt:    time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("redis channel: encode %s: %w", target, err)
	}
	if err := c.rdb.Publish(ctx, c.channel, payload).Err(); err != nil {
		c.state.Store(int32(ChannelReconnecting))
		return fmt.Errorf("redis channel: publish %s: %w", target, err)
	}
	c.state.Store(int32(ChannelConnected))
	return nil
}

func (c *RedisChannel) State() ChannelState { return ChannelState(c.state.Load()) }

// Close only marks the channel down; the client is owned by main.
func (c *RedisChannel) Close() error {
	c.state.Store(int32(ChannelDisconnected))
	return nil
}
