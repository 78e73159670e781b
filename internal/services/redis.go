package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// NewRedis connects to url (redis://host:port/db) and pings it.
func NewRedis(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis: connect: %w", err)
	}
	return client, nil
}

// Publisher is the publishing half of *redis.Client.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// PublishJSON marshals v and publishes it on channel.
func PublishJSON(ctx context.Context, client Publisher, channel string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return client.Publish(ctx, channel, data).Err()
}
