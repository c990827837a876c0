package domain

import (
	"context"
	"slices"

	"github.com/google/uuid"
)

// Operation is the kind of row change carried by a push event.
type Operation string

const (
	OpInsert Operation = "INSERT"
	OpUpdate Operation = "UPDATE"
	OpDelete Operation = "DELETE"
)

// Tables that emit change events.
const (
	TableMessages     = "messages"
	TableParticipants = "activity_participants"
)

// Change is a row change as produced by the store side.
type Change struct {
	Operation Operation         `json:"operation"`
	Table     string            `json:"table"`
	RowID     uuid.UUID         `json:"row_id"`
	Columns   map[string]string `json:"columns,omitempty"`
}

// ChangeEvent is a Change routed to a subscription topic.
type ChangeEvent struct {
	Change
	Topic string `json:"topic"`
}

// EventFilter selects the changes a subscription is interested in. Empty
// fields match everything.
type EventFilter struct {
	Table      string      `json:"table,omitempty"`
	Operations []Operation `json:"operations,omitempty"`
	Column     string      `json:"column,omitempty"`
	Value      string      `json:"value,omitempty"`
}

// Match reports whether c passes the filter.
func (f EventFilter) Match(c Change) bool {
	if f.Table != "" && f.Table != c.Table {
		return false
	}
	if len(f.Operations) > 0 && !slices.Contains(f.Operations, c.Operation) {
		return false
	}
	if f.Column != "" && c.Columns[f.Column] != f.Value {
		return false
	}
	return true
}

// Subscription is an open event stream obtained from a PushBroker. The
// channel is closed once the subscription ends.
type Subscription interface {
	ID() string
	Events() <-chan ChangeEvent
}

// PushBroker delivers asynchronous change notifications. No ordering or
// exactly-once guarantee is assumed by callers.
type PushBroker interface {
	Subscribe(ctx context.Context, topic string, filter EventFilter) (Subscription, error)
	Unsubscribe(sub Subscription) error
}

// EventPublisher feeds changes into a broker that has no database change feed
// of its own.
type EventPublisher interface {
	Publish(ctx context.Context, c Change) error
}
