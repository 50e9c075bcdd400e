package archive

import (
	"errors"
	"fmt"
)

var (
	// ErrOutOfOrderTurn is returned when a turn number does not advance.
	ErrOutOfOrderTurn = errors.New("out of order turn")

	// ErrTurnGap is returned when a turn skips further ahead than MaxTurnGap.
	ErrTurnGap = errors.New("turn gap too large")

	// ErrPersistence marks a failed save. The in-memory archive stays authoritative.
	ErrPersistence = errors.New("archive persistence failed")

	// ErrMalformedState marks persisted rows that cannot be reassembled into an archive.
	ErrMalformedState = errors.New("malformed persisted archive state")
)

// OutOfOrderTurnError reports a turn that is not strictly greater than the
// last recorded one.
type OutOfOrderTurnError struct {
	Turn int
	Last int
}

func (e *OutOfOrderTurnError) Error() string {
	return fmt.Sprintf("out of order turn: got %d, last recorded %d", e.Turn, e.Last)
}

func (e *OutOfOrderTurnError) Is(target error) bool {
	return target == ErrOutOfOrderTurn
}

// TurnGapError reports a turn too far past the last recorded one.
type TurnGapError struct {
	Turn int
	Last int
	Max  int
}

func (e *TurnGapError) Error() string {
	return fmt.Sprintf("turn %d is %d turns past %d, limit %d", e.Turn, e.Turn-e.Last, e.Last, e.Max)
}

func (e *TurnGapError) Is(target error) bool {
	return target == ErrTurnGap
}

// PersistenceError wraps the store failure behind a save attempt.
type PersistenceError struct {
	SessionID string
	Turn      int
	Err       error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("save session %s turn %d: %v", e.SessionID, e.Turn, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}

// Malformed builds an error matching ErrMalformedState.
func Malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedState, fmt.Sprintf(format, args...))
}
