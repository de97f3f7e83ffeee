package commitmenttree

import (
	"errors"
	"fmt"
)

var (
	// ErrTreeFull is returned when appending to a tree that already holds
	// MaxLeaves leaves. The wallet cannot make progress past this point.
	ErrTreeFull = errors.New("note commitment tree is full")

	// ErrEmptyTree is returned when marking a leaf of an empty tree.
	ErrEmptyTree = errors.New("note commitment tree is empty")

	// ErrNotMarked is returned when requesting a witness for a leaf that
	// was never marked.
	ErrNotMarked = errors.New("leaf is not marked")

	// ErrPositionNotInTree is returned when a position lies beyond the
	// tree state a witness or mark was requested against.
	ErrPositionNotInTree = errors.New("position not in tree")

	// ErrMarkBeforeCheckpoint is returned when marking a leaf that was
	// appended before the latest checkpoint.
	ErrMarkBeforeCheckpoint = errors.New("leaf was appended before the " +
		"latest checkpoint")
)

// CheckpointError is returned when a checkpoint is added out of order.
type CheckpointError struct {
	Expected int32
	Actual   int32
}

// Error implements the error interface.
func (e *CheckpointError) Error() string {
	return fmt.Sprintf("checkpoint out of order: expected height %d, "+
		"got %d", e.Expected, e.Actual)
}

// InsufficientCheckpointsError is returned when a rewind would need
// checkpoints that are no longer retained while marked leaves exist.
type InsufficientCheckpointsError struct {
	// Requested is the height the caller asked to rewind to.
	Requested int32

	// Oldest is the oldest retained checkpoint height, or -1 if none is
	// retained.
	Oldest int32

	// Retained is the number of checkpoints currently held.
	Retained int
}

// Error implements the error interface.
func (e *InsufficientCheckpointsError) Error() string {
	return fmt.Sprintf("cannot rewind to height %d: oldest retained "+
		"checkpoint is %d (%d retained)", e.Requested, e.Oldest,
		e.Retained)
}

// CheckpointDepthError is returned when a witness or root is requested at
// a checkpoint depth that is not retained.
type CheckpointDepthError struct {
	Depth    int
	Retained int
}

// Error implements the error interface.
func (e *CheckpointDepthError) Error() string {
	return fmt.Sprintf("checkpoint depth %d not available, %d retained",
		e.Depth, e.Retained)
}
