// Package conversation keeps the message history of the open conversation in
// step with the remote store through a single live subscription.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"circle_go/internal/collection"
	"circle_go/internal/domain"
	"circle_go/internal/live"
)

// Send rejections. They are no-ops, not failures.
var (
	ErrEmptyMessage   = errors.New("conversation: message is empty")
	ErrNoConversation = errors.New("conversation: no conversation open")
	ErrSendInFlight   = errors.New("conversation: send already in flight")
)

const defaultRetryDelay = 250 * time.Millisecond

// Topic returns the push topic for a conversation's new messages.
func Topic(conversationID uuid.UUID) string {
	return "messages:" + conversationID.String()
}

// NewMessageFilter selects inserts into the messages of one conversation.
func NewMessageFilter(conversationID uuid.UUID) domain.EventFilter {
	return domain.EventFilter{
		Table:      domain.TableMessages,
		Operations: []domain.Operation{domain.OpInsert},
		Column:     "activity_id",
		Value:      conversationID.String(),
	}
}

// Snapshot is a copy of the state shown by the messaging panel.
type Snapshot struct {
	ConversationID uuid.UUID         `json:"conversation_id"`
	Open           bool              `json:"open"`
	Messages       []*domain.Message `json:"messages"`
	Draft          string            `json:"draft"`
	Sending        bool              `json:"sending"`

	// Stale is set when a pushed message could not be fetched; reopening the
	// conversation reloads the history and clears it.
	Stale bool `json:"stale"`
}

// Sync owns the message buffer of at most one open conversation.
type Sync struct {
	userID   uuid.UUID
	messages domain.MessageStore
	live     *live.Manager
	log      zerolog.Logger
	onChange func(Snapshot)

	// retryDelay separates the two reads of a pushed message.
	retryDelay time.Duration

	mu      sync.Mutex
	convID  uuid.UUID
	open    bool
	gen     uint64
	handle  *live.Handle
	buf     []*domain.Message
	seen    *collection.Set[uuid.UUID]
	draft   string
	sending bool
	stale   bool
}

type Option func(*Sync)

// WithOnChange registers the function called with a fresh snapshot after
// every state change.
func WithOnChange(fn func(Snapshot)) Option {
	return func(s *Sync) { s.onChange = fn }
}

// WithRetryDelay sets the pause before a failed pushed-message read is
// retried.
func WithRetryDelay(d time.Duration) Option {
	return func(s *Sync) { s.retryDelay = d }
}

func New(userID uuid.UUID, messages domain.MessageStore, mgr *live.Manager, log zerolog.Logger, opts ...Option) *Sync {
	s := &Sync{
		userID:   userID,
		messages: messages,
		live:     mgr,
		log:      log,
		seen:     collection.NewSet[uuid.UUID](),

		retryDelay: defaultRetryDelay,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open switches to conversationID. The previous subscription is closed
// before anything else happens; then the history is fetched and a new live
// subscription is opened.
func (s *Sync) Open(ctx context.Context, conversationID uuid.UUID) error {
	s.mu.Lock()
	prev := s.handle
	s.handle = nil
	s.gen++
	gen := s.gen
	s.convID = conversationID
	s.open = true
	s.buf = nil
	s.seen = collection.NewSet[uuid.UUID]()
	s.stale = false
	s.mu.Unlock()
	s.live.Close(prev)

	history, err := s.messages.ListForConversation(ctx, conversationID)
	if err != nil {
		s.abandon(gen)
		return fmt.Errorf("load history: %w", err)
	}
	sortMessages(history)

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return nil
	}
	history = collection.Unique(func(m *domain.Message) uuid.UUID { return m.ID }, history)
	for _, m := range history {
		s.seen.Add(m.ID)
	}
	s.buf = history
	s.mu.Unlock()

	h, err := s.live.Open(ctx, Topic(conversationID), NewMessageFilter(conversationID), s.handler(gen, conversationID))
	if err != nil {
		s.abandon(gen)
		return fmt.Errorf("subscribe: %w", err)
	}

	s.mu.Lock()
	if s.gen != gen {
		// Closed or switched while subscribing.
		s.mu.Unlock()
		s.live.Close(h)
		return nil
	}
	s.handle = h
	s.mu.Unlock()

	s.log.Debug().Str("conversation_id", conversationID.String()).Int("history", len(history)).Msg("conversation opened")
	s.changed()
	return nil
}

// Close releases the subscription and discards the buffer. Safe to call when
// nothing is open.
func (s *Sync) Close() {
	s.mu.Lock()
	if !s.open && s.handle == nil {
		s.mu.Unlock()
		return
	}
	h := s.handle
	s.reset()
	s.mu.Unlock()

	s.live.Close(h)
	s.changed()
}

// abandon drops a half-opened conversation if it is still the current one.
func (s *Sync) abandon(gen uint64) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.reset()
	s.mu.Unlock()
	s.changed()
}

func (s *Sync) reset() {
	s.handle = nil
	s.gen++
	s.open = false
	s.convID = uuid.Nil
	s.buf = nil
	s.seen = collection.NewSet[uuid.UUID]()
	s.sending = false
	s.stale = false
}

// SetDraft records the current input text.
func (s *Sync) SetDraft(text string) {
	s.mu.Lock()
	s.draft = text
	s.mu.Unlock()
}

func (s *Sync) Draft() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft
}

// Send inserts text into the open conversation. The draft is cleared at once;
// the message itself shows up only when the live echo arrives. On failure the
// draft is put back.
func (s *Sync) Send(ctx context.Context, text string) error {
	content := strings.TrimSpace(text)

	s.mu.Lock()
	switch {
	case content == "":
		s.mu.Unlock()
		return ErrEmptyMessage
	case !s.open:
		s.mu.Unlock()
		return ErrNoConversation
	case s.sending:
		s.mu.Unlock()
		return ErrSendInFlight
	}
	convID := s.convID
	gen := s.gen
	s.sending = true
	s.draft = ""
	s.mu.Unlock()
	s.changed()

	err := s.messages.Insert(ctx, &domain.Message{
		ConversationID: convID,
		SenderID:       s.userID,
		Content:        content,
	})

	s.mu.Lock()
	if s.gen == gen {
		s.sending = false
	}
	// Input typed while the send was in flight wins over the restore.
	if err != nil && s.draft == "" {
		s.draft = text
	}
	s.mu.Unlock()
	s.changed()

	if err != nil {
		s.log.Error().Err(err).
			Str("conversation_id", convID.String()).
			Str("kind", domain.Classify(err).String()).
			Msg("send failed")
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

func (s *Sync) handler(gen uint64, conversationID uuid.UUID) live.Handler {
	return func(ctx context.Context, h *live.Handle, ev domain.ChangeEvent) {
		if !s.current(gen, h) || ev.Operation != domain.OpInsert {
			return
		}
		s.mu.Lock()
		dup := s.seen.Has(ev.RowID)
		s.mu.Unlock()
		if dup {
			return
		}

		m, err := s.fetchPushed(ctx, h, ev.RowID)
		if errors.Is(err, domain.ErrNotFound) {
			// Deleted before it could be read; nothing is missing.
			return
		}
		if err != nil {
			s.log.Warn().Err(err).
				Str("message_id", ev.RowID.String()).
				Str("kind", domain.Classify(err).String()).
				Msg("fetch pushed message, marking conversation stale")
			s.mu.Lock()
			if s.gen != gen || h.Closed() || s.stale {
				s.mu.Unlock()
				return
			}
			s.stale = true
			s.mu.Unlock()
			s.changed()
			return
		}
		if m.ConversationID != conversationID {
			return
		}

		s.mu.Lock()
		if s.gen != gen || h.Closed() || !s.seen.Add(m.ID) {
			s.mu.Unlock()
			return
		}
		s.buf = insertOrdered(s.buf, m)
		s.mu.Unlock()
		s.changed()
	}
}

// fetchPushed reads a pushed message, retrying once after the retry delay.
func (s *Sync) fetchPushed(ctx context.Context, h *live.Handle, id uuid.UUID) (*domain.Message, error) {
	m, err := s.messages.GetWithSender(ctx, id)
	if err == nil || errors.Is(err, domain.ErrNotFound) {
		return m, err
	}
	select {
	case <-time.After(s.retryDelay):
	case <-h.Done():
		return nil, err
	case <-ctx.Done():
		return nil, err
	}
	return s.messages.GetWithSender(ctx, id)
}

func (s *Sync) current(gen uint64, h *live.Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen == gen && !h.Closed()
}

// Snapshot returns a copy of the current state.
func (s *Sync) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := make([]*domain.Message, len(s.buf))
	copy(msgs, s.buf)
	return Snapshot{
		ConversationID: s.convID,
		Open:           s.open,
		Messages:       msgs,
		Draft:          s.draft,
		Sending:        s.sending,
		Stale:          s.stale,
	}
}

// ConversationID returns the open conversation, if any.
func (s *Sync) ConversationID() (uuid.UUID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.convID, s.open
}

func (s *Sync) changed() {
	if s.onChange != nil {
		s.onChange(s.Snapshot())
	}
}

func sortMessages(msgs []*domain.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if !msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
		}
		return msgs[i].ID.String() < msgs[j].ID.String()
	})
}

// insertOrdered appends m, or places it after every message not newer than it
// when it arrives late, so creation times never decrease.
func insertOrdered(buf []*domain.Message, m *domain.Message) []*domain.Message {
	n := len(buf)
	if n == 0 || !m.CreatedAt.Before(buf[n-1].CreatedAt) {
		return append(buf, m)
	}
	i := sort.Search(n, func(i int) bool { return buf[i].CreatedAt.After(m.CreatedAt) })
	buf = append(buf, nil)
	copy(buf[i+1:], buf[i:])
	buf[i] = m
	return buf
}
