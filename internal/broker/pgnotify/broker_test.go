package pgnotify

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"circle_go/internal/broker/memory"
	"circle_go/internal/domain"
	"circle_go/internal/logging"
)

func TestDispatchFansOutTriggerPayloads(t *testing.T) {
	b := &Broker{channel: "circle_changes", bus: memory.NewBus(4), log: logging.Nop()}
	ctx := context.Background()
	conv, row := uuid.New(), uuid.New()

	sub, err := b.Subscribe(ctx, "messages:"+conv.String(), domain.EventFilter{
		Table:      domain.TableMessages,
		Operations: []domain.Operation{domain.OpInsert},
		Column:     "activity_id",
		Value:      conv.String(),
	})
	require.NoError(t, err)
	defer func() { _ = b.Unsubscribe(sub) }()

	// Malformed payloads are dropped.
	b.dispatch(ctx, `{"table":"messages"}`)
	b.dispatch(ctx, `not json`)
	b.dispatch(ctx, `{"operation":"INSERT","table":"messages","row_id":"`+row.String()+
		`","columns":{"activity_id":"`+conv.String()+`"}}`)

	select {
	case ev := <-sub.Events():
		assert.Equal(t, row, ev.RowID)
		assert.Equal(t, domain.OpInsert, ev.Operation)
	case <-time.After(time.Second):
		t.Fatal("expected a change event")
	}
	assert.Len(t, sub.Events(), 0)
}
