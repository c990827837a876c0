// Package membership applies join/leave optimistically and reconciles the
// local participant view with the remote store's answer.
package membership

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"circle_go/internal/domain"
	"circle_go/internal/live"
)

// ParticipantsTopic is the live topic the ledger watches participant rows on.
const ParticipantsTopic = "participants"

// maxLoadAttempts bounds how often Load rereads the store when local
// operations keep landing during the read.
const maxLoadAttempts = 3

var (
	// ErrBusy is returned when an operation for the same user and activity is
	// already in flight.
	ErrBusy = errors.New("membership: operation already in flight")
	// ErrOperationFailed marks every failure other than a duplicate join.
	ErrOperationFailed = errors.New("membership: operation failed")
)

// Outcome is the user-facing result of a resolved operation.
type Outcome int

const (
	OutcomeJoined Outcome = iota + 1
	OutcomeLeft
	OutcomeAlreadyJoined
)

func (o Outcome) String() string {
	switch o {
	case OutcomeJoined:
		return "joined"
	case OutcomeLeft:
		return "left"
	case OutcomeAlreadyJoined:
		return "already_joined"
	}
	return "unknown"
}

// Message is the notice shown to the user for o.
func (o Outcome) Message() string {
	switch o {
	case OutcomeJoined:
		return "You're in!"
	case OutcomeLeft:
		return "You left the plan"
	case OutcomeAlreadyJoined:
		return "Already joined!"
	}
	return ""
}

// FailureMessage is the generic notice for any OpError.
const FailureMessage = "Something went wrong, try again"

// Result maps the return values of Join, Leave or Toggle onto the status and
// notice shown to the user.
func Result(out Outcome, err error) (status, message string) {
	switch {
	case errors.Is(err, ErrBusy):
		return "busy", ""
	case err != nil:
		return "failed", FailureMessage
	}
	return out.String(), out.Message()
}

// OpError reports a failed join or leave after its optimistic change was
// reverted.
type OpError struct {
	Op         string
	ActivityID uuid.UUID
	UserID     uuid.UUID
	Kind       domain.Kind
	Err        error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s activity %s: %s: %v", e.Op, e.ActivityID, e.Kind, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

func (e *OpError) Is(target error) bool {
	return target == ErrOperationFailed
}

// ChangeKind says which transition produced a Change.
type ChangeKind string

const (
	ChangeApplied   ChangeKind = "applied"
	ChangeConfirmed ChangeKind = "confirmed"
	ChangeReverted  ChangeKind = "reverted"
	ChangeLoaded    ChangeKind = "loaded"
)

// ParticipantView is one facepile entry. Pending rows are optimistic and not
// yet confirmed by the store.
type ParticipantView struct {
	UserID   uuid.UUID `json:"user_id"`
	JoinedAt time.Time `json:"joined_at"`
	Pending  bool      `json:"pending"`
}

// Change describes the ledger state of one activity after a transition.
type Change struct {
	Kind         ChangeKind        `json:"kind"`
	ActivityID   uuid.UUID         `json:"activity_id"`
	Count        int               `json:"count"`
	Participants []ParticipantView `json:"participants"`
}

type tokenKey struct {
	user     uuid.UUID
	activity uuid.UUID
}

type row struct {
	joinedAt time.Time
	pending  bool
}

// Ledger holds the local participant view shared by every surface that
// renders membership. Busy tokens are keyed by (user, activity), so only
// operations on the same pair serialize.
type Ledger struct {
	store  domain.ParticipantStore
	log    zerolog.Logger
	notify func(Change)
	now    func() time.Time

	mu   sync.Mutex
	busy map[tokenKey]struct{}
	rows map[uuid.UUID]map[uuid.UUID]row

	// versions counts local writes per activity; Load discards a store read
	// that raced one of them.
	versions map[uuid.UUID]uint64
}

type Option func(*Ledger)

// WithNotify registers the function called after every local transition.
func WithNotify(fn func(Change)) Option {
	return func(l *Ledger) { l.notify = fn }
}

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func NewLedger(store domain.ParticipantStore, log zerolog.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		store: store,
		log:   log,
		now:   time.Now,
		busy:  make(map[tokenKey]struct{}),
		rows:  make(map[uuid.UUID]map[uuid.UUID]row),

		versions: make(map[uuid.UUID]uint64),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Toggle joins when joined is false and leaves when it is true. joined is
// the caller's locally-known membership.
func (l *Ledger) Toggle(ctx context.Context, activityID, userID uuid.UUID, joined bool) (Outcome, error) {
	if joined {
		return l.Leave(ctx, activityID, userID)
	}
	return l.Join(ctx, activityID, userID)
}

// Join adds the user locally, then inserts the participant row. A duplicate
// row resolves to OutcomeAlreadyJoined with the local change undone.
func (l *Ledger) Join(ctx context.Context, activityID, userID uuid.UUID) (Outcome, error) {
	key := tokenKey{user: userID, activity: activityID}
	if !l.acquire(key) {
		return 0, ErrBusy
	}
	defer l.release(key)

	joinedAt := l.now().UTC()
	added := l.add(activityID, userID, joinedAt)
	if added {
		l.emit(ChangeApplied, activityID)
	}

	err := l.store.Insert(ctx, &domain.Participant{ActivityID: activityID, UserID: userID, JoinedAt: joinedAt})
	if err == nil {
		l.confirm(activityID, userID)
		l.emit(ChangeConfirmed, activityID)
		return OutcomeJoined, nil
	}

	if added {
		l.remove(activityID, userID)
		l.emit(ChangeReverted, activityID)
	}

	kind := domain.Classify(err)
	if kind == domain.KindConstraintViolation {
		l.log.Info().
			Str("activity_id", activityID.String()).
			Str("user_id", userID.String()).
			Msg("join rejected: already a participant")
		return OutcomeAlreadyJoined, nil
	}

	l.log.Error().Err(err).
		Str("activity_id", activityID.String()).
		Str("user_id", userID.String()).
		Str("kind", kind.String()).
		Msg("join failed, reverted")
	return 0, &OpError{Op: "join", ActivityID: activityID, UserID: userID, Kind: kind, Err: err}
}

// Leave removes the user locally, then deletes the participant row. Any
// failure, NotFound included, restores the removed row.
func (l *Ledger) Leave(ctx context.Context, activityID, userID uuid.UUID) (Outcome, error) {
	key := tokenKey{user: userID, activity: activityID}
	if !l.acquire(key) {
		return 0, ErrBusy
	}
	defer l.release(key)

	prev, removed := l.remove(activityID, userID)
	if removed {
		l.emit(ChangeApplied, activityID)
	}

	err := l.store.Delete(ctx, activityID, userID)
	if err == nil {
		return OutcomeLeft, nil
	}

	if removed {
		l.restore(activityID, userID, prev)
		l.emit(ChangeReverted, activityID)
	}

	kind := domain.Classify(err)
	l.log.Error().Err(err).
		Str("activity_id", activityID.String()).
		Str("user_id", userID.String()).
		Str("kind", kind.String()).
		Msg("leave failed, reverted")
	return 0, &OpError{Op: "leave", ActivityID: activityID, UserID: userID, Kind: kind, Err: err}
}

// Load replaces the local view of an activity with the store's rows. Users
// with an operation in flight keep their local state. A read that overlaps a
// local write is retried; after maxLoadAttempts the local view is kept.
func (l *Ledger) Load(ctx context.Context, activityID uuid.UUID) error {
	for attempt := 1; ; attempt++ {
		l.mu.Lock()
		version := l.versions[activityID]
		l.mu.Unlock()

		parts, err := l.store.ListForActivity(ctx, activityID)
		if err != nil {
			return fmt.Errorf("list participants: %w", err)
		}

		l.mu.Lock()
		if l.versions[activityID] != version {
			l.mu.Unlock()
			if attempt < maxLoadAttempts {
				continue
			}
			l.log.Debug().Str("activity_id", activityID.String()).Int("attempts", attempt).
				Msg("participants changed during every load, keeping local view")
			return nil
		}
		current := l.rows[activityID]
		next := make(map[uuid.UUID]row, len(parts))
		for _, p := range parts {
			if _, busy := l.busy[tokenKey{user: p.UserID, activity: activityID}]; busy {
				continue
			}
			next[p.UserID] = row{joinedAt: p.JoinedAt}
		}
		for uid, r := range current {
			if _, busy := l.busy[tokenKey{user: uid, activity: activityID}]; busy {
				next[uid] = r
			}
		}
		l.rows[activityID] = next
		l.versions[activityID]++
		l.mu.Unlock()

		l.emit(ChangeLoaded, activityID)
		return nil
	}
}

// Loaded reports whether the activity has a local view.
func (l *Ledger) Loaded(activityID uuid.UUID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.rows[activityID]
	return ok
}

// Watch reloads loaded activities when their participant rows change in the
// store, so joins made by other processes reach this ledger. Close the
// returned handle, or shut the manager down, to stop watching.
func (l *Ledger) Watch(ctx context.Context, mgr *live.Manager) (*live.Handle, error) {
	filter := domain.EventFilter{
		Table:      domain.TableParticipants,
		Operations: []domain.Operation{domain.OpInsert, domain.OpDelete},
	}
	return mgr.Open(ctx, ParticipantsTopic, filter, l.onParticipantChange)
}

func (l *Ledger) onParticipantChange(ctx context.Context, _ *live.Handle, ev domain.ChangeEvent) {
	activityID, err := uuid.Parse(ev.Columns["activity_id"])
	if err != nil {
		l.log.Warn().Str("row_id", ev.RowID.String()).Msg("participant change without activity id")
		return
	}
	if !l.Loaded(activityID) {
		return
	}
	// The operation in flight settles this user's row itself.
	if userID, err := uuid.Parse(ev.Columns["user_id"]); err == nil && l.Busy(activityID, userID) {
		return
	}
	if err := l.Load(ctx, activityID); err != nil {
		l.log.Warn().Err(err).Str("activity_id", activityID.String()).Msg("failed to reload participants")
	}
}

// IsMember reports the local membership of (activity, user), pending rows
// included.
func (l *Ledger) IsMember(activityID, userID uuid.UUID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.rows[activityID][userID]
	return ok
}

func (l *Ledger) Count(activityID uuid.UUID) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.rows[activityID])
}

// Busy reports whether an operation on (activity, user) is in flight.
func (l *Ledger) Busy(activityID, userID uuid.UUID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.busy[tokenKey{user: userID, activity: activityID}]
	return ok
}

// Participants returns the facepile for an activity ordered by join time.
func (l *Ledger) Participants(activityID uuid.UUID) []ParticipantView {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.viewLocked(activityID)
}

func (l *Ledger) viewLocked(activityID uuid.UUID) []ParticipantView {
	rows := l.rows[activityID]
	out := make([]ParticipantView, 0, len(rows))
	for uid, r := range rows {
		out = append(out, ParticipantView{UserID: uid, JoinedAt: r.joinedAt, Pending: r.pending})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].UserID.String() < out[j].UserID.String()
	})
	return out
}

// ── token and row helpers ────────────────────────────────────────────────────

func (l *Ledger) acquire(k tokenKey) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, held := l.busy[k]; held {
		return false
	}
	l.busy[k] = struct{}{}
	return true
}

func (l *Ledger) release(k tokenKey) {
	l.mu.Lock()
	delete(l.busy, k)
	l.mu.Unlock()
}

func (l *Ledger) add(activityID, userID uuid.UUID, at time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	rows := l.rows[activityID]
	if rows == nil {
		rows = make(map[uuid.UUID]row)
		l.rows[activityID] = rows
	}
	if _, ok := rows[userID]; ok {
		return false
	}
	rows[userID] = row{joinedAt: at, pending: true}
	l.versions[activityID]++
	return true
}

func (l *Ledger) confirm(activityID, userID uuid.UUID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if r, ok := l.rows[activityID][userID]; ok {
		r.pending = false
		l.rows[activityID][userID] = r
		l.versions[activityID]++
	}
}

func (l *Ledger) remove(activityID, userID uuid.UUID) (row, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.rows[activityID][userID]
	if ok {
		delete(l.rows[activityID], userID)
		l.versions[activityID]++
	}
	return r, ok
}

func (l *Ledger) restore(activityID, userID uuid.UUID, r row) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rows := l.rows[activityID]
	if rows == nil {
		rows = make(map[uuid.UUID]row)
		l.rows[activityID] = rows
	}
	rows[userID] = r
	l.versions[activityID]++
}

func (l *Ledger) emit(kind ChangeKind, activityID uuid.UUID) {
	if l.notify == nil {
		return
	}
	l.mu.Lock()
	view := l.viewLocked(activityID)
	l.mu.Unlock()
	l.notify(Change{Kind: kind, ActivityID: activityID, Count: len(view), Participants: view})
}
