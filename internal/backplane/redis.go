// Package backplane carries room deliveries between server instances over
// Redis pub/sub.
package backplane

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"learnbridge/internal/metrics"
	"learnbridge/pkg/types"
)

const DefaultChannel = "learnbridge:deliveries"

var (
	ErrAlreadyStarted = errors.New("backplane already started")
	ErrEmptyOrigin    = errors.New("delivery has no origin")
)

// LocalDeliverer writes a delivery to the connections of this instance
type LocalDeliverer interface {
	DeliverLocal(d types.Delivery) int
}

// Redis publishes every local delivery and replays deliveries from other
// instances on local connections
type Redis struct {
	client  *redis.Client
	channel string
	origin  string
	local   LocalDeliverer
	logger  zerolog.Logger

	mu     sync.Mutex
	pubsub *redis.PubSub
	done   chan struct{}
}

// NewRedis connects to redisURL. origin identifies this instance so its own
// deliveries are not replayed.
func NewRedis(ctx context.Context, redisURL, channel, origin string, local LocalDeliverer, logger zerolog.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	if channel == "" {
		channel = DefaultChannel
	}
	return &Redis{
		client:  client,
		channel: channel,
		origin:  origin,
		local:   local,
		logger:  logger.With().Str("component", "backplane").Logger(),
	}, nil
}

// Publish forwards a delivery made on this instance
func (b *Redis) Publish(ctx context.Context, d types.Delivery) error {
	if d.Origin == "" {
		return ErrEmptyOrigin
	}
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to encode delivery: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish delivery: %w", err)
	}
	metrics.BackplaneMessages.WithLabelValues("published").Inc()
	return nil
}

// Start subscribes to the channel and replays remote deliveries until ctx
// is done or Close is called
func (b *Redis) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pubsub != nil {
		return ErrAlreadyStarted
	}

	pubsub := b.client.Subscribe(ctx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", b.channel, err)
	}
	b.pubsub = pubsub
	b.done = make(chan struct{})

	go b.consume(ctx, pubsub.Channel(), b.done)
	b.logger.Info().Str("channel", b.channel).Str("origin", b.origin).Msg("backplane subscribed")
	return nil
}

func (b *Redis) consume(ctx context.Context, messages <-chan *redis.Message, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case msg, ok := <-messages:
			if !ok {
				return
			}
			b.handlePayload([]byte(msg.Payload))
		case <-ctx.Done():
			return
		}
	}
}

// handlePayload replays one remote delivery. Deliveries from this instance
// and undecodable payloads are dropped.
func (b *Redis) handlePayload(payload []byte) int {
	var d types.Delivery
	if err := json.Unmarshal(payload, &d); err != nil {
		metrics.BackplaneMessages.WithLabelValues("dropped").Inc()
		b.logger.Warn().Err(err).Msg("undecodable backplane payload")
		return 0
	}
	if d.Origin == b.origin {
		return 0
	}
	metrics.BackplaneMessages.WithLabelValues("received").Inc()
	return b.local.DeliverLocal(d)
}

// HealthCheck pings redis
func (b *Redis) HealthCheck(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close unsubscribes and closes the client
func (b *Redis) Close() error {
	b.mu.Lock()
	pubsub, done := b.pubsub, b.done
	b.pubsub = nil
	b.mu.Unlock()

	if pubsub != nil {
		_ = pubsub.Close()
		<-done
	}
	return b.client.Close()
}
