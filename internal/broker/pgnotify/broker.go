// Package pgnotify turns PostgreSQL NOTIFY payloads from the change triggers
// into push events.
package pgnotify

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"circle_go/internal/broker"
	"circle_go/internal/broker/memory"
	"circle_go/internal/domain"
)

const (
	minReconnect = 10 * time.Second
	maxReconnect = time.Minute
	pingInterval = 90 * time.Second
)

// Broker listens on one channel and fans decoded changes out to local
// subscriptions.
type Broker struct {
	channel  string
	listener *pq.Listener
	bus      *memory.Bus
	log      zerolog.Logger
}

var _ domain.PushBroker = (*Broker)(nil)

// New starts listening on channel. dsn is a lib/pq connection string.
func New(dsn, channel string, log zerolog.Logger) (*Broker, error) {
	b := &Broker{
		channel: channel,
		bus:     memory.NewBus(memory.DefaultBuffer),
		log:     log,
	}
	b.listener = pq.NewListener(dsn, minReconnect, maxReconnect, b.onEvent)
	if err := b.listener.Listen(channel); err != nil {
		_ = b.listener.Close()
		return nil, fmt.Errorf("listen %s: %w", channel, err)
	}
	return b, nil
}

func (b *Broker) onEvent(ev pq.ListenerEventType, err error) {
	switch ev {
	case pq.ListenerEventConnected:
		b.log.Info().Str("channel", b.channel).Msg("listener connected")
	case pq.ListenerEventDisconnected:
		b.log.Warn().Err(err).Str("channel", b.channel).Msg("listener disconnected")
	case pq.ListenerEventReconnected:
		// Notifications sent while disconnected are lost.
		b.log.Warn().Str("channel", b.channel).Msg("listener reconnected")
	case pq.ListenerEventConnectionAttemptFailed:
		b.log.Error().Err(err).Str("channel", b.channel).Msg("listener connection attempt failed")
	}
}

// Run forwards notifications until ctx is done.
func (b *Broker) Run(ctx context.Context) error {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n := <-b.listener.Notify:
			if n == nil {
				// Reconnected; nothing to replay.
				continue
			}
			b.dispatch(ctx, n.Extra)
		case <-ticker.C:
			if err := b.listener.Ping(); err != nil {
				b.log.Warn().Err(err).Msg("listener ping")
			}
		}
	}
}

func (b *Broker) dispatch(ctx context.Context, payload string) {
	c, err := broker.Decode([]byte(payload))
	if err != nil {
		b.log.Warn().Err(err).Str("payload", payload).Msg("drop notification")
		return
	}
	if err := b.bus.Publish(ctx, c); err != nil {
		b.log.Warn().Err(err).Str("table", c.Table).Msg("fan out notification")
	}
}

func (b *Broker) Subscribe(ctx context.Context, topic string, filter domain.EventFilter) (domain.Subscription, error) {
	return b.bus.Subscribe(ctx, topic, filter)
}

func (b *Broker) Unsubscribe(sub domain.Subscription) error {
	return b.bus.Unsubscribe(sub)
}

func (b *Broker) Close() error {
	return b.listener.Close()
}
