// Package broker holds the wire format shared by the push broker adapters.
package broker

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"circle_go/internal/domain"
)

// Encode renders c as the JSON payload carried by NOTIFY and redis PUBLISH.
func Encode(c domain.Change) ([]byte, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode change: %w", err)
	}
	return b, nil
}

// Decode parses a payload produced by Encode or by the database triggers.
func Decode(payload []byte) (domain.Change, error) {
	var c domain.Change
	if err := json.Unmarshal(payload, &c); err != nil {
		return domain.Change{}, fmt.Errorf("decode change: %w", err)
	}
	if c.Table == "" || c.Operation == "" || c.RowID == uuid.Nil {
		return domain.Change{}, fmt.Errorf("decode change: %w", domain.ErrInvalidInput)
	}
	return c, nil
}
