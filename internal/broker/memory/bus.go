// Package memory is an in-process push broker. It fans published changes out
// to every subscription whose filter matches.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"circle_go/internal/domain"
)

// DefaultBuffer is the per-subscription event buffer.
const DefaultBuffer = 64

var ErrUnknownSubscription = errors.New("memory: unknown subscription")

type subscription struct {
	id     string
	topic  string
	filter domain.EventFilter
	events chan domain.ChangeEvent
	done   chan struct{}
	once   sync.Once
}

func (s *subscription) ID() string                        { return s.id }
func (s *subscription) Events() <-chan domain.ChangeEvent { return s.events }

// Bus is safe for concurrent use.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]*subscription
	buffer int
}

func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Bus{subs: make(map[string]*subscription), buffer: buffer}
}

var (
	_ domain.PushBroker     = (*Bus)(nil)
	_ domain.EventPublisher = (*Bus)(nil)
)

func (b *Bus) Subscribe(ctx context.Context, topic string, filter domain.EventFilter) (domain.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := &subscription{
		id:     uuid.NewString(),
		topic:  topic,
		filter: filter,
		events: make(chan domain.ChangeEvent, b.buffer),
		done:   make(chan struct{}),
	}
	b.mu.Lock()
	b.subs[s.id] = s
	b.mu.Unlock()
	return s, nil
}

func (b *Bus) Unsubscribe(sub domain.Subscription) error {
	if sub == nil {
		return nil
	}
	b.mu.RLock()
	s, ok := b.subs[sub.ID()]
	b.mu.RUnlock()
	if !ok {
		return ErrUnknownSubscription
	}

	// Unblock any publisher waiting on this subscription before taking the
	// write lock.
	s.once.Do(func() { close(s.done) })

	b.mu.Lock()
	if _, still := b.subs[s.id]; still {
		delete(b.subs, s.id)
		close(s.events)
	}
	b.mu.Unlock()
	return nil
}

// Publish delivers c to every matching subscription in subscription order.
// It blocks while a subscriber's buffer is full, until ctx is done or the
// subscriber goes away.
func (b *Bus) Publish(ctx context.Context, c domain.Change) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, s := range b.subs {
		if !s.filter.Match(c) {
			continue
		}
		ev := domain.ChangeEvent{Change: c, Topic: s.topic}
		select {
		case s.events <- ev:
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Subscribers returns the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
