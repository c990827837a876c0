package broker_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"circle_go/internal/broker"
	"circle_go/internal/domain"
)

func TestDecodeTriggerPayload(t *testing.T) {
	row, conv := uuid.New(), uuid.New()
	payload := `{"operation":"INSERT","table":"messages","row_id":"` + row.String() +
		`","columns":{"activity_id":"` + conv.String() + `"}}`

	c, err := broker.Decode([]byte(payload))
	require.NoError(t, err)
	assert.Equal(t, domain.OpInsert, c.Operation)
	assert.Equal(t, domain.TableMessages, c.Table)
	assert.Equal(t, row, c.RowID)
	assert.Equal(t, conv.String(), c.Columns["activity_id"])
}

func TestEncodeDecodeKeepsChange(t *testing.T) {
	in := domain.Change{
		Operation: domain.OpDelete,
		Table:     domain.TableParticipants,
		RowID:     uuid.New(),
		Columns:   map[string]string{"activity_id": uuid.NewString()},
	}
	b, err := broker.Encode(in)
	require.NoError(t, err)
	out, err := broker.Decode(b)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestDecodeRejectsBadPayloads(t *testing.T) {
	for name, payload := range map[string]string{
		"NotJSON":    `nope`,
		"MissingRow": `{"operation":"INSERT","table":"messages"}`,
		"BadUUID":    `{"operation":"INSERT","table":"messages","row_id":"x"}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := broker.Decode([]byte(payload))
			assert.Error(t, err)
		})
	}
}
