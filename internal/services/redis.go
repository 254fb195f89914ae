package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// NewRedisClient parses redisURL and checks the connection.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

type relayEnvelope struct {
	Topic string `json:"topic"`
	Event Event  `json:"event"`
}

// RedisRelay publishes events on a Redis pub/sub channel and forwards every
// received event to the local publisher (normally the Hub), so clients
// connected to any API instance receive them.
type RedisRelay struct {
	client  *redis.Client
	channel string
	local   Publisher
	log     logrus.FieldLogger
}

func NewRedisRelay(client *redis.Client, channel string, local Publisher, log logrus.FieldLogger) *RedisRelay {
	return &RedisRelay{client: client, channel: channel, local: local, log: log}
}

func (r *RedisRelay) Publish(ctx context.Context, topic string, event Event) error {
	data, err := json.Marshal(relayEnvelope{Topic: topic, Event: event})
	if err != nil {
		return fmt.Errorf("marshal relay envelope: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Run subscribes to the relay channel and forwards messages until ctx is done.
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe %s: %w", r.channel, err)
	}
	r.log.WithField("channel", r.channel).Info("Relaying booking events from Redis")

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			r.forward(ctx, msg.Payload)
		}
	}
}

func (r *RedisRelay) forward(ctx context.Context, payload string) {
	var env relayEnvelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		r.log.WithError(err).Warn("Discarding malformed relay message")
		return
	}
	if err := r.local.Publish(ctx, env.Topic, env.Event); err != nil {
		r.log.WithError(err).WithField("topic", env.Topic).Warn("Local delivery of relayed event failed")
	}
}
