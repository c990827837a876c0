package membership_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"circle_go/internal/broker/memory"
	"circle_go/internal/domain"
	"circle_go/internal/live"
	"circle_go/internal/logging"
	"circle_go/internal/membership"
)

type MockParticipantStore struct {
	mock.Mock
}

func (m *MockParticipantStore) Insert(ctx context.Context, p *domain.Participant) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *MockParticipantStore) Delete(ctx context.Context, activityID, userID uuid.UUID) error {
	args := m.Called(ctx, activityID, userID)
	return args.Error(0)
}

func (m *MockParticipantStore) ListForActivity(ctx context.Context, activityID uuid.UUID) ([]*domain.Participant, error) {
	args := m.Called(ctx, activityID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Participant), args.Error(1)
}

func forPair(activityID, userID uuid.UUID) any {
	return mock.MatchedBy(func(p *domain.Participant) bool {
		return p.ActivityID == activityID && p.UserID == userID
	})
}

func seeded(t *testing.T, store *MockParticipantStore, activityID uuid.UUID, users ...uuid.UUID) *membership.Ledger {
	t.Helper()
	rows := make([]*domain.Participant, len(users))
	for i, u := range users {
		rows[i] = &domain.Participant{ActivityID: activityID, UserID: u, JoinedAt: time.Now().Add(-time.Hour)}
	}
	store.On("ListForActivity", mock.Anything, activityID).Return(rows, nil).Once()
	l := membership.NewLedger(store, logging.Nop())
	require.NoError(t, l.Load(context.Background(), activityID))
	return l
}

func TestJoin(t *testing.T) {
	ctx := context.Background()

	t.Run("ConfirmedJoinKeepsCount", func(t *testing.T) {
		store := new(MockParticipantStore)
		x, u, v := uuid.New(), uuid.New(), uuid.New()
		l := seeded(t, store, x, u)

		store.On("Insert", mock.Anything, forPair(x, v)).Run(func(mock.Arguments) {
			// Optimistic: visible before the store answers.
			assert.Equal(t, 2, l.Count(x))
			assert.True(t, l.IsMember(x, v))
		}).Return(nil).Once()

		out, err := l.Join(ctx, x, v)
		require.NoError(t, err)
		assert.Equal(t, membership.OutcomeJoined, out)
		assert.Equal(t, 2, l.Count(x))
		assert.True(t, l.IsMember(x, v))
		for _, p := range l.Participants(x) {
			assert.False(t, p.Pending)
		}
		store.AssertExpectations(t)
	})

	t.Run("DuplicateJoinIsAlreadyJoined", func(t *testing.T) {
		store := new(MockParticipantStore)
		x, u, v := uuid.New(), uuid.New(), uuid.New()
		l := seeded(t, store, x, u)

		store.On("Insert", mock.Anything, forPair(x, v)).
			Return(fmt.Errorf("insert participant: %w", domain.ErrConstraintViolation)).Once()

		out, err := l.Join(ctx, x, v)
		require.NoError(t, err)
		assert.Equal(t, membership.OutcomeAlreadyJoined, out)
		assert.Equal(t, "Already joined!", out.Message())
		assert.Equal(t, 1, l.Count(x))
		assert.False(t, l.IsMember(x, v))
		assert.False(t, l.Busy(x, v))
	})

	t.Run("SecondJoinAfterConfirmedJoin", func(t *testing.T) {
		store := new(MockParticipantStore)
		x, u, v := uuid.New(), uuid.New(), uuid.New()
		l := seeded(t, store, x, u)

		store.On("Insert", mock.Anything, forPair(x, v)).Return(nil).Once()
		_, err := l.Join(ctx, x, v)
		require.NoError(t, err)
		before := l.Count(x)

		store.On("Insert", mock.Anything, forPair(x, v)).Return(domain.ErrConstraintViolation).Once()
		out, err := l.Join(ctx, x, v)
		require.NoError(t, err)
		assert.Equal(t, membership.OutcomeAlreadyJoined, out)
		assert.Equal(t, before, l.Count(x))
	})

	t.Run("GenericFailureReverts", func(t *testing.T) {
		store := new(MockParticipantStore)
		x, u, v := uuid.New(), uuid.New(), uuid.New()
		l := seeded(t, store, x, u)

		store.On("Insert", mock.Anything, forPair(x, v)).Return(domain.ErrNetworkFailure).Once()

		out, err := l.Join(ctx, x, v)
		assert.Zero(t, out)
		assert.ErrorIs(t, err, membership.ErrOperationFailed)
		assert.ErrorIs(t, err, domain.ErrNetworkFailure)

		var opErr *membership.OpError
		require.ErrorAs(t, err, &opErr)
		assert.Equal(t, domain.KindNetworkFailure, opErr.Kind)
		assert.Equal(t, 1, l.Count(x))
		assert.False(t, l.IsMember(x, v))
	})
}

func TestLeave(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		store := new(MockParticipantStore)
		x, u, v := uuid.New(), uuid.New(), uuid.New()
		l := seeded(t, store, x, u, v)

		store.On("Delete", mock.Anything, x, v).Return(nil).Once()
		out, err := l.Leave(ctx, x, v)
		require.NoError(t, err)
		assert.Equal(t, membership.OutcomeLeft, out)
		assert.Equal(t, 1, l.Count(x))
	})

	t.Run("NotFoundRestoresRow", func(t *testing.T) {
		store := new(MockParticipantStore)
		x, u, v := uuid.New(), uuid.New(), uuid.New()
		l := seeded(t, store, x, u, v)
		before := l.Participants(x)

		store.On("Delete", mock.Anything, x, v).Return(domain.ErrNotFound).Once()
		_, err := l.Leave(ctx, x, v)
		assert.ErrorIs(t, err, membership.ErrOperationFailed)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		assert.Equal(t, before, l.Participants(x))
	})
}

func TestToggle(t *testing.T) {
	store := new(MockParticipantStore)
	x, v := uuid.New(), uuid.New()
	l := seeded(t, store, x)

	store.On("Insert", mock.Anything, forPair(x, v)).Return(nil).Once()
	store.On("Delete", mock.Anything, x, v).Return(nil).Once()

	out, err := l.Toggle(context.Background(), x, v, false)
	require.NoError(t, err)
	assert.Equal(t, membership.OutcomeJoined, out)

	out, err = l.Toggle(context.Background(), x, v, l.IsMember(x, v))
	require.NoError(t, err)
	assert.Equal(t, membership.OutcomeLeft, out)
	assert.Equal(t, 0, l.Count(x))
	store.AssertExpectations(t)
}

func TestBusyTokenIsKeyedByUserAndActivity(t *testing.T) {
	ctx := context.Background()
	store := new(MockParticipantStore)
	x, y, v := uuid.New(), uuid.New(), uuid.New()
	l := membership.NewLedger(store, logging.Nop())

	entered := make(chan struct{})
	unblock := make(chan struct{})
	store.On("Insert", mock.Anything, forPair(x, v)).Run(func(mock.Arguments) {
		close(entered)
		<-unblock
	}).Return(nil).Once()
	store.On("Insert", mock.Anything, forPair(y, v)).Return(nil).Once()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		out, err := l.Join(ctx, x, v)
		assert.NoError(t, err)
		assert.Equal(t, membership.OutcomeJoined, out)
	}()
	<-entered

	assert.True(t, l.Busy(x, v))
	_, err := l.Join(ctx, x, v)
	assert.ErrorIs(t, err, membership.ErrBusy)
	_, err = l.Leave(ctx, x, v)
	assert.ErrorIs(t, err, membership.ErrBusy)

	// A different activity for the same user is not blocked.
	out, err := l.Join(ctx, y, v)
	require.NoError(t, err)
	assert.Equal(t, membership.OutcomeJoined, out)

	close(unblock)
	wg.Wait()
	assert.False(t, l.Busy(x, v))
	store.AssertExpectations(t)
}

func TestBusyTokenReleasedOnEveryPath(t *testing.T) {
	ctx := context.Background()
	x, v := uuid.New(), uuid.New()

	for name, result := range map[string]error{
		"Success":             nil,
		"ConstraintViolation": domain.ErrConstraintViolation,
		"NotFound":            domain.ErrNotFound,
		"NetworkFailure":      domain.ErrNetworkFailure,
		"Unclassified":        fmt.Errorf("boom"),
	} {
		t.Run(name, func(t *testing.T) {
			store := new(MockParticipantStore)
			l := membership.NewLedger(store, logging.Nop())
			store.On("Insert", mock.Anything, forPair(x, v)).Return(result)

			_, _ = l.Join(ctx, x, v)
			assert.False(t, l.Busy(x, v))

			// The next operation is never permanently blocked.
			_, err := l.Join(ctx, x, v)
			assert.NotErrorIs(t, err, membership.ErrBusy)
		})
	}
}

func TestLoadKeepsInFlightRows(t *testing.T) {
	ctx := context.Background()
	store := new(MockParticipantStore)
	x, u, v := uuid.New(), uuid.New(), uuid.New()
	l := membership.NewLedger(store, logging.Nop())

	entered := make(chan struct{})
	unblock := make(chan struct{})
	store.On("Insert", mock.Anything, forPair(x, v)).Run(func(mock.Arguments) {
		close(entered)
		<-unblock
	}).Return(nil).Once()
	store.On("ListForActivity", mock.Anything, x).
		Return([]*domain.Participant{{ActivityID: x, UserID: u, JoinedAt: time.Now()}}, nil).Once()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = l.Join(ctx, x, v)
	}()
	<-entered

	require.NoError(t, l.Load(ctx, x))
	assert.True(t, l.IsMember(x, u))
	assert.True(t, l.IsMember(x, v), "pending row must survive a reload")

	close(unblock)
	<-done
	assert.Equal(t, 2, l.Count(x))
}

func TestLoadRetriesWhenJoinLandsDuringRead(t *testing.T) {
	ctx := context.Background()
	store := new(MockParticipantStore)
	x, u, v := uuid.New(), uuid.New(), uuid.New()
	l := seeded(t, store, x, u)

	stale := []*domain.Participant{{ActivityID: x, UserID: u, JoinedAt: time.Now()}}
	fresh := []*domain.Participant{stale[0], {ActivityID: x, UserID: v, JoinedAt: time.Now()}}

	store.On("Insert", mock.Anything, forPair(x, v)).Return(nil).Once()
	// The join starts and settles while the first read is outstanding.
	store.On("ListForActivity", mock.Anything, x).Run(func(mock.Arguments) {
		out, err := l.Join(ctx, x, v)
		require.NoError(t, err)
		require.Equal(t, membership.OutcomeJoined, out)
	}).Return(stale, nil).Once()
	store.On("ListForActivity", mock.Anything, x).Return(fresh, nil).Once()

	require.NoError(t, l.Load(ctx, x))
	assert.True(t, l.IsMember(x, v), "stale read must not drop a confirmed join")
	assert.Equal(t, 2, l.Count(x))
	store.AssertNumberOfCalls(t, "ListForActivity", 3)
}

func TestLoadKeepsLocalViewWhenEveryReadRaces(t *testing.T) {
	ctx := context.Background()
	store := new(MockParticipantStore)
	x, u := uuid.New(), uuid.New()
	l := seeded(t, store, x, u)

	others := make([]uuid.UUID, 3)
	for i := range others {
		others[i] = uuid.New()
		store.On("Insert", mock.Anything, forPair(x, others[i])).Return(nil).Once()
	}
	calls := 0
	store.On("ListForActivity", mock.Anything, x).Run(func(mock.Arguments) {
		_, err := l.Join(ctx, x, others[calls])
		require.NoError(t, err)
		calls++
	}).Return([]*domain.Participant{}, nil).Times(3)

	require.NoError(t, l.Load(ctx, x))
	assert.Equal(t, 4, l.Count(x))
	for _, o := range others {
		assert.True(t, l.IsMember(x, o))
	}
}

func TestWatchReloadsOnRemoteChange(t *testing.T) {
	ctx := context.Background()
	store := new(MockParticipantStore)
	x, y, u, w := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	l := seeded(t, store, x, u)

	bus := memory.NewBus(memory.DefaultBuffer)
	mgr := live.NewManager(bus, logging.Nop())
	defer mgr.Shutdown()

	store.On("ListForActivity", mock.Anything, x).Return([]*domain.Participant{
		{ActivityID: x, UserID: u, JoinedAt: time.Now()},
		{ActivityID: x, UserID: w, JoinedAt: time.Now()},
	}, nil)

	_, err := l.Watch(ctx, mgr)
	require.NoError(t, err)

	change := func(activityID, userID uuid.UUID) domain.Change {
		return domain.Change{
			Operation: domain.OpInsert,
			Table:     domain.TableParticipants,
			RowID:     userID,
			Columns:   map[string]string{"activity_id": activityID.String(), "user_id": userID.String()},
		}
	}
	// Changes are handled in order, so y has been seen once x is reloaded.
	require.NoError(t, bus.Publish(ctx, change(y, w)))
	require.NoError(t, bus.Publish(ctx, change(x, w)))

	assert.Eventually(t, func() bool { return l.IsMember(x, w) }, time.Second, 5*time.Millisecond)
	store.AssertNotCalled(t, "ListForActivity", mock.Anything, y)
	assert.False(t, l.Loaded(y))
}

func TestNotifyFollowsTransitions(t *testing.T) {
	store := new(MockParticipantStore)
	x, v := uuid.New(), uuid.New()

	var kinds []membership.ChangeKind
	var counts []int
	l := membership.NewLedger(store, logging.Nop(), membership.WithNotify(func(c membership.Change) {
		kinds = append(kinds, c.Kind)
		counts = append(counts, c.Count)
	}))

	store.On("Insert", mock.Anything, forPair(x, v)).Return(domain.ErrNetworkFailure).Once()
	_, err := l.Join(context.Background(), x, v)
	require.Error(t, err)

	assert.Equal(t, []membership.ChangeKind{membership.ChangeApplied, membership.ChangeReverted}, kinds)
	assert.Equal(t, []int{1, 0}, counts)
}

func TestResult(t *testing.T) {
	status, msg := membership.Result(membership.OutcomeJoined, nil)
	assert.Equal(t, "joined", status)
	assert.Equal(t, "You're in!", msg)

	status, msg = membership.Result(membership.OutcomeAlreadyJoined, nil)
	assert.Equal(t, "already_joined", status)
	assert.Equal(t, "Already joined!", msg)

	status, _ = membership.Result(0, membership.ErrBusy)
	assert.Equal(t, "busy", status)

	status, msg = membership.Result(0, &membership.OpError{Op: "join", Err: domain.ErrNetworkFailure})
	assert.Equal(t, "failed", status)
	assert.Equal(t, membership.FailureMessage, msg)
}
