// Package live manages push subscriptions on behalf of a logical scope such
// as an open conversation.
package live

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"circle_go/internal/domain"
)

// Handler receives events for one handle, one at a time, in broker order.
type Handler func(ctx context.Context, h *Handle, ev domain.ChangeEvent)

// Handle is an open (or closed) subscription returned by Manager.Open.
type Handle struct {
	id     uuid.UUID
	topic  string
	filter domain.EventFilter

	closed atomic.Bool
	cancel context.CancelFunc
	sub    domain.Subscription
	done   chan struct{}
}

func (h *Handle) ID() uuid.UUID { return h.id }
func (h *Handle) Topic() string { return h.topic }

// Closed reports whether Close has been called. A nil handle is closed.
func (h *Handle) Closed() bool {
	return h == nil || h.closed.Load()
}

// Done is closed once the handle's pump has stopped delivering.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Manager opens and closes subscriptions against a push broker. It is
// scope-agnostic: callers keep at most one handle per scope and close the old
// one before opening the next.
type Manager struct {
	broker domain.PushBroker
	log    zerolog.Logger

	mu      sync.Mutex
	handles map[uuid.UUID]*Handle
}

func NewManager(broker domain.PushBroker, log zerolog.Logger) *Manager {
	return &Manager{
		broker:  broker,
		log:     log,
		handles: make(map[uuid.UUID]*Handle),
	}
}

// Open subscribes to topic and starts delivering matching events to handler.
// The handler is reachable only through the returned handle.
func (m *Manager) Open(ctx context.Context, topic string, filter domain.EventFilter, handler Handler) (*Handle, error) {
	if handler == nil {
		return nil, fmt.Errorf("open %s: nil handler", topic)
	}
	sub, err := m.broker.Subscribe(ctx, topic, filter)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	h := &Handle{
		id:     uuid.New(),
		topic:  topic,
		filter: filter,
		cancel: cancel,
		sub:    sub,
		done:   make(chan struct{}),
	}

	m.mu.Lock()
	m.handles[h.id] = h
	m.mu.Unlock()

	go m.pump(pumpCtx, h, handler)

	m.log.Debug().Str("topic", topic).Str("handle", h.id.String()).Msg("channel opened")
	return h, nil
}

func (m *Manager) pump(ctx context.Context, h *Handle, handler Handler) {
	defer close(h.done)
	events := h.sub.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if h.Closed() {
				return
			}
			// The broker is not trusted to filter.
			if !h.filter.Match(ev.Change) {
				continue
			}
			handler(ctx, h, ev)
		}
	}
}

// Close stops the handle. It is marked closed before the broker is told, so
// no handler invocation starts after Close returns. Closing a nil, closed or
// foreign handle is a no-op.
func (m *Manager) Close(h *Handle) {
	if h == nil {
		return
	}
	m.mu.Lock()
	_, known := m.handles[h.id]
	delete(m.handles, h.id)
	m.mu.Unlock()

	if !known || !h.closed.CompareAndSwap(false, true) {
		return
	}
	h.cancel()
	if err := m.broker.Unsubscribe(h.sub); err != nil {
		m.log.Warn().Err(err).Str("topic", h.topic).Msg("unsubscribe failed")
	}
	m.log.Debug().Str("topic", h.topic).Str("handle", h.id.String()).Msg("channel closed")
}

// Active returns the number of open handles.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handles)
}

// Shutdown closes every open handle.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	open := make([]*Handle, 0, len(m.handles))
	for _, h := range m.handles {
		open = append(open, h)
	}
	m.mu.Unlock()

	for _, h := range open {
		m.Close(h)
	}
}
