package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stellarlinkco/chronicle/internal/archive"
)

// TurnInput is the wire form of one recorded turn, shared by the HTTP API
// and JSON-lines replay files.
type TurnInput struct {
	Turn  int           `json:"turn"`
	Full  archive.State `json:"full,omitempty"`
	Delta archive.Delta `json:"delta,omitempty"`
}

func ParseTurn(data []byte) (TurnInput, error) {
	var in TurnInput
	if err := json.Unmarshal(data, &in); err != nil {
		return TurnInput{}, fmt.Errorf("parse turn: %w", err)
	}
	if in.Turn <= 0 {
		return TurnInput{}, fmt.Errorf("parse turn: turn must be positive, got %d", in.Turn)
	}
	return in, nil
}

// RecordInput records in on s.
func (s *Session) RecordInput(ctx context.Context, in TurnInput) error {
	return s.Record(ctx, in.Turn, in.Full, in.Delta)
}
