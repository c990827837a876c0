// Package redisbus carries change events over redis pub/sub so several
// server processes see each other's writes.
package redisbus

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"circle_go/internal/broker"
	"circle_go/internal/broker/memory"
	"circle_go/internal/domain"
)

// DefaultChannel is the redis channel changes are published on.
const DefaultChannel = "circle:changes"

// Bus publishes changes to redis and fans received ones out to local
// subscriptions.
type Bus struct {
	client  *redis.Client
	channel string
	local   *memory.Bus
	log     zerolog.Logger
}

var (
	_ domain.PushBroker     = (*Bus)(nil)
	_ domain.EventPublisher = (*Bus)(nil)
)

// New connects using a redis:// URL.
func New(url, channel string, log zerolog.Logger) (*Bus, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	c := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return NewWithClient(c, channel, log), nil
}

func NewWithClient(c *redis.Client, channel string, log zerolog.Logger) *Bus {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Bus{
		client:  c,
		channel: channel,
		local:   memory.NewBus(memory.DefaultBuffer),
		log:     log,
	}
}

func (b *Bus) Publish(ctx context.Context, c domain.Change) error {
	payload, err := broker.Encode(c)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w: %w", domain.ErrNetworkFailure, err)
	}
	return nil
}

// Run receives from the redis channel until ctx is done.
func (b *Bus) Run(ctx context.Context) error {
	ps := b.client.Subscribe(ctx, b.channel)
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe %s: %w", b.channel, err)
	}
	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return errors.New("redis: subscription channel closed")
			}
			c, err := broker.Decode([]byte(msg.Payload))
			if err != nil {
				b.log.Warn().Err(err).Msg("drop redis message")
				continue
			}
			if err := b.local.Publish(ctx, c); err != nil {
				b.log.Warn().Err(err).Str("table", c.Table).Msg("fan out redis message")
			}
		}
	}
}

func (b *Bus) Subscribe(ctx context.Context, topic string, filter domain.EventFilter) (domain.Subscription, error) {
	return b.local.Subscribe(ctx, topic, filter)
}

func (b *Bus) Unsubscribe(sub domain.Subscription) error {
	return b.local.Unsubscribe(sub)
}

func (b *Bus) Close() error {
	return b.client.Close()
}
