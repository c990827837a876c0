// Package session keeps one messaging scope per connected user.
package session

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"circle_go/internal/conversation"
	"circle_go/internal/domain"
	"circle_go/internal/live"
)

// Session is the server-side counterpart of one user's open client.
type Session struct {
	UserID uuid.UUID
	Conv   *conversation.Sync

	once sync.Once
}

// Dispose closes the session's conversation. It is idempotent.
func (s *Session) Dispose() {
	s.once.Do(s.Conv.Close)
}

// Registry creates sessions lazily and disposes them on release.
type Registry struct {
	messages domain.MessageStore
	live     *live.Manager
	log      zerolog.Logger
	onChange func(uuid.UUID, conversation.Snapshot)

	mu       sync.Mutex
	sessions map[uuid.UUID]*Session
}

// NewRegistry builds a registry. onChange, when set, receives every snapshot
// of every session's conversation.
func NewRegistry(messages domain.MessageStore, mgr *live.Manager, log zerolog.Logger, onChange func(uuid.UUID, conversation.Snapshot)) *Registry {
	return &Registry{
		messages: messages,
		live:     mgr,
		log:      log,
		onChange: onChange,
		sessions: make(map[uuid.UUID]*Session),
	}
}

// Acquire returns the user's session, creating it on first use.
func (r *Registry) Acquire(userID uuid.UUID) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[userID]; ok {
		return s
	}

	var opts []conversation.Option
	if r.onChange != nil {
		opts = append(opts, conversation.WithOnChange(func(snap conversation.Snapshot) {
			r.onChange(userID, snap)
		}))
	}
	s := &Session{
		UserID: userID,
		Conv:   conversation.New(userID, r.messages, r.live, r.log.With().Str("user_id", userID.String()).Logger(), opts...),
	}
	r.sessions[userID] = s
	r.log.Debug().Str("user_id", userID.String()).Msg("session created")
	return s
}

// Lookup returns the session without creating one.
func (r *Registry) Lookup(userID uuid.UUID) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[userID]
	return s, ok
}

// Release disposes the user's session and forgets it.
func (r *Registry) Release(userID uuid.UUID) {
	r.mu.Lock()
	s, ok := r.sessions[userID]
	delete(r.sessions, userID)
	r.mu.Unlock()
	if ok {
		s.Dispose()
		r.log.Debug().Str("user_id", userID.String()).Msg("session released")
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Shutdown disposes every session.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	all := make([]*Session, 0, len(r.sessions))
	for id, s := range r.sessions {
		all = append(all, s)
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	for _, s := range all {
		s.Dispose()
	}
}
