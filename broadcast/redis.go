// Package broadcast publishes engine events to subscribers over Redis Pub/Sub.
package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Sentinel errors for broadcast operations
var (
	ErrRedisConnection = errors.New("redis connection failed")
	ErrMarshalPayload  = errors.New("payload marshalling failed")
	ErrPublishFailed   = errors.New("publish failed")
)

// Config holds the Redis connection settings for the publisher.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// envelope is the wire format: the event name and payload wrapped together so
// one topic can carry multiple event types.
type envelope struct {
	Event       string    `json:"event"`
	PublishedAt time.Time `json:"publishedAt"`
	Payload     any       `json:"payload"`
}

// RedisPublisher implements the aggregator's Broadcaster interface over Redis
// Pub/Sub. Delivery is fire-and-forget: the caller decides whether a publish
// failure matters.
type RedisPublisher struct {
	client *redis.Client
}

// NewRedisPublisher connects to Redis and verifies the connection.
// Returns the publisher and a closer function.
func NewRedisPublisher(ctx context.Context, cfg Config) (*RedisPublisher, func(), error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,

		PoolSize:     10,
		MinIdleConns: 2,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("%w: %w", ErrRedisConnection, err)
	}

	closer := func() {
		_ = client.Close()
	}
	return &RedisPublisher{client: client}, closer, nil
}

// Publish sends a named event to a topic as a JSON envelope.
func (p *RedisPublisher) Publish(ctx context.Context, topic, event string, payload any) error {
	message, err := json.Marshal(envelope{
		Event:       event,
		PublishedAt: time.Now().UTC(),
		Payload:     payload,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMarshalPayload, err)
	}

	if err := p.client.Publish(ctx, topic, message).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}
