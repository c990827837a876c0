package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"circle_go/internal/conversation"
	"circle_go/internal/domain"
	"circle_go/internal/logging"
	"circle_go/internal/membership"
)

type fakeConn struct {
	mu     sync.Mutex
	frames []any
	fail   bool
	closed bool
}

func (c *fakeConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("broken pipe")
	}
	c.frames = append(c.frames, v)
	return nil
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) frame(i int) any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames[i]
}

// stuckConn never finishes a write until it is closed.
type stuckConn struct {
	started chan struct{}
	once    sync.Once
	closed  chan struct{}
	close   sync.Once
}

func newStuckConn() *stuckConn {
	return &stuckConn{started: make(chan struct{}), closed: make(chan struct{})}
}

func (c *stuckConn) WriteJSON(any) error {
	c.once.Do(func() { close(c.started) })
	<-c.closed
	return errors.New("use of closed connection")
}

func (c *stuckConn) SetWriteDeadline(time.Time) error { return nil }

func (c *stuckConn) Close() error {
	c.close.Do(func() { close(c.closed) })
	return nil
}

// memStore is a participant table keyed by (activity, user).
type memStore struct {
	mu   sync.Mutex
	rows map[[2]uuid.UUID]time.Time
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[[2]uuid.UUID]time.Time)}
}

func (s *memStore) Insert(_ context.Context, p *domain.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := [2]uuid.UUID{p.ActivityID, p.UserID}
	if _, ok := s.rows[k]; ok {
		return fmt.Errorf("insert participant: %w", domain.ErrConstraintViolation)
	}
	s.rows[k] = p.JoinedAt
	return nil
}

func (s *memStore) Delete(_ context.Context, activityID, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := [2]uuid.UUID{activityID, userID}
	if _, ok := s.rows[k]; !ok {
		return domain.ErrNotFound
	}
	delete(s.rows, k)
	return nil
}

func (s *memStore) ListForActivity(_ context.Context, activityID uuid.UUID) ([]*domain.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Participant
	for k, at := range s.rows {
		if k[0] == activityID {
			out = append(out, &domain.Participant{ActivityID: activityID, UserID: k[1], JoinedAt: at})
		}
	}
	return out, nil
}

func (s *memStore) has(activityID, userID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rows[[2]uuid.UUID{activityID, userID}]
	return ok
}

func TestHubRouting(t *testing.T) {
	hub := NewHub(logging.Nop())
	u, v := uuid.New(), uuid.New()
	u1, u2, v1 := &fakeConn{}, &fakeConn{}, &fakeConn{}
	hub.Register(u, u1)
	hub.Register(u, u2)
	hub.Register(v, v1)

	hub.PushConversation(u, conversation.Snapshot{Open: true})
	require.Eventually(t, func() bool { return u1.count() == 1 && u2.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, v1.count())

	ev, ok := u1.frame(0).(ConversationEvent)
	require.True(t, ok)
	assert.Equal(t, "conversation", ev.Type)
	assert.True(t, ev.Open)

	hub.PushMembership(membership.Change{ActivityID: uuid.New(), Count: 2})
	require.Eventually(t, func() bool { return u1.count() == 2 && v1.count() == 1 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, hub.Unregister(u, u1))
	assert.True(t, u1.isClosed())
	assert.Equal(t, 0, hub.Unregister(u, u2))
	assert.False(t, hub.Connected(u))
	assert.True(t, hub.Connected(v))
}

func TestHubClosesFailedConn(t *testing.T) {
	hub := NewHub(logging.Nop())
	u := uuid.New()
	bad := &fakeConn{fail: true}
	hub.Register(u, bad)

	hub.BroadcastAll(map[string]string{"type": "ping"})
	assert.Eventually(t, bad.isClosed, time.Second, 5*time.Millisecond)
}

func TestStalledPeerDoesNotBlockJoin(t *testing.T) {
	hub := NewHub(logging.Nop())
	stuck := newStuckConn()
	defer stuck.Close()
	hub.Register(uuid.New(), stuck)

	l := membership.NewLedger(newMemStore(), logging.Nop(), membership.WithNotify(hub.PushMembership))
	done := make(chan error, 1)
	go func() {
		_, err := l.Join(context.Background(), uuid.New(), uuid.New())
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("join waited on an unrelated peer")
	}
}

func TestHubDropsPeerWithFullBuffer(t *testing.T) {
	hub := NewHub(logging.Nop())
	u, v := uuid.New(), uuid.New()
	stuck := newStuckConn()
	healthy := &fakeConn{}
	slow := hub.Register(u, stuck)
	hub.Register(v, healthy)

	hub.BroadcastAll(map[string]string{"type": "ping"})
	<-stuck.started
	// One frame is held by the blocked write; fill the queue and overflow it.
	for i := 0; i < sendBuffer+1; i++ {
		hub.SendToUser(u, map[string]int{"seq": i})
	}

	select {
	case <-slow.Done():
	case <-time.After(time.Second):
		t.Fatal("stalled peer was not disconnected")
	}
	assert.ErrorIs(t, slow.WriteJSON("late"), ErrClientClosed)
	assert.Eventually(t, func() bool { return healthy.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, healthy.isClosed())
}

func TestToggleJoinLeavesWhenStoreSaysJoined(t *testing.T) {
	ctx := context.Background()
	a, u := uuid.New(), uuid.New()
	st := newMemStore()
	st.rows[[2]uuid.UUID{a, u}] = time.Now().Add(-time.Hour)

	d := Deps{Ledger: membership.NewLedger(st, logging.Nop()), Log: logging.Nop()}
	c := &fakeConn{}
	d.dispatch(ctx, c, nil, u, inbound{Type: "toggle_join", ActivityID: a.String()}, logging.Nop())

	require.Equal(t, 1, c.count())
	res, ok := c.frame(0).(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "join_result", res["type"])
	assert.Equal(t, "left", res["status"])
	assert.False(t, st.has(a, u))
	assert.False(t, d.Ledger.IsMember(a, u))

	// The next toggle joins again.
	d.dispatch(ctx, c, nil, u, inbound{Type: "toggle_join", ActivityID: a.String()}, logging.Nop())
	require.Equal(t, 2, c.count())
	assert.Equal(t, "joined", c.frame(1).(map[string]any)["status"])
	assert.True(t, st.has(a, u))
}

func TestCheckOrigin(t *testing.T) {
	check := makeCheckOrigin([]string{"http://localhost:5173"})

	r := httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Origin", "http://localhost:5173")
	assert.True(t, check(r))

	r.Header.Set("Origin", "http://evil.example")
	assert.False(t, check(r))

	r.Header.Del("Origin")
	assert.False(t, check(r))

	assert.False(t, makeCheckOrigin(nil)(r))

	r.Header.Set("Origin", "http://anything.example")
	assert.True(t, makeCheckOrigin([]string{"*"})(r))
}

func TestExtractToken(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Authorization", "Bearer abc")
	tok, err := extractTokenFromWSRequest(r)
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)

	r = httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Sec-WebSocket-Protocol", "bearer, xyz")
	tok, err = extractTokenFromWSRequest(r)
	require.NoError(t, err)
	assert.Equal(t, "xyz", tok)

	r = httptest.NewRequest("GET", "/ws", nil)
	_, err = extractTokenFromWSRequest(r)
	var authErr wsAuthError
	assert.ErrorAs(t, err, &authErr)
}
