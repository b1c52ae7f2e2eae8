package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Envelope is one message addressed to a single connection.
type Envelope struct {
	ConnectionID string          `json:"c"`
	Payload      json.RawMessage `json:"p"`
}

// Relay carries envelopes between gateway processes.
type Relay interface {
	Publish(ctx context.Context, env Envelope) error
	// Subscribe calls deliver for every envelope until ctx is done.
	Subscribe(ctx context.Context, deliver func(Envelope)) error
}

// RedisRelay fans envelopes out over one Redis pub/sub channel. Every subscribed process sees
// every envelope and delivers those whose connection it holds.
type RedisRelay struct {
	client  redis.UniversalClient
	channel string
	logger  zerolog.Logger
}

// NewRedisRelay creates a [RedisRelay] on channel.
func NewRedisRelay(client redis.UniversalClient, channel string, logger zerolog.Logger) *RedisRelay {
	return &RedisRelay{
		client:  client,
		channel: channel,
		logger:  logger.With().Str("component", "relay").Logger(),
	}
}

// Publish sends env to every subscribed process.
func (r *RedisRelay) Publish(ctx context.Context, env Envelope) error {
	if env.ConnectionID == "" {
		return errors.New("envelope without connection id")
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, raw).Err(); err != nil {
		return fmt.Errorf("publish envelope: %w", err)
	}
	return nil
}

// Subscribe blocks until ctx is done or the subscription fails. Malformed envelopes are
// logged and skipped.
func (r *RedisRelay) Subscribe(ctx context.Context, deliver func(Envelope)) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil || env.ConnectionID == "" {
				r.logger.Warn().Err(err).Msg("dropping malformed envelope")
				continue
			}
			deliver(env)
		}
	}
}
