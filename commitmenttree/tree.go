// Package commitmenttree implements the wallet's incremental view of the
// note commitment tree. Every leaf ever appended is retained, so
// authentication paths can be produced for any marked leaf against the
// current state or any retained checkpoint.
package commitmenttree

import (
	"sort"

	"github.com/zsasuite/zsawallet/shielded"
)

const (
	// Depth is the depth of the note commitment tree.
	Depth = shielded.MerkleDepth

	// MaxLeaves is the capacity of the tree.
	MaxLeaves uint64 = 1 << Depth

	// MaxCheckpoints is the number of checkpoints retained. Once exceeded
	// the oldest checkpoint is dropped, which shortens how far back the
	// tree can be rewound.
	MaxCheckpoints = 100

	// NoCheckpoint is the height reported by Rewind when the tree had to
	// be reset to an empty state.
	NoCheckpoint int32 = -1
)

// Checkpoint records the size of the tree once a block was fully
// processed.
type Checkpoint struct {
	Height int32
	Size   uint64
}

// Tree is an append-only Merkle tree over note commitments with
// checkpoints and rewind.
//
// The tree is not safe for concurrent use.
type Tree struct {
	// nodes[l] holds every complete node at level l; nodes[0] holds the
	// leaves.
	nodes [Depth][]shielded.MerkleHash

	marked map[uint64]struct{}

	// checkpoints is ordered by height, oldest first. Heights are
	// consecutive.
	checkpoints    []Checkpoint
	maxCheckpoints int

	// Persistence bookkeeping, see db.go.
	storedSize       uint64
	dirtyFrom        uint64
	marksDirty       bool
	checkpointsDirty bool
}

// New returns an empty tree retaining MaxCheckpoints checkpoints.
func New() *Tree {
	return NewWithMaxCheckpoints(MaxCheckpoints)
}

// NewWithMaxCheckpoints returns an empty tree retaining at most max
// checkpoints.
func NewWithMaxCheckpoints(max int) *Tree {
	if max < 1 {
		max = 1
	}
	return &Tree{
		marked:         make(map[uint64]struct{}),
		maxCheckpoints: max,
	}
}

// Size returns the number of leaves in the tree.
func (t *Tree) Size() uint64 {
	return uint64(len(t.nodes[0]))
}

// Append adds a leaf and returns its position.
func (t *Tree) Append(cmx shielded.MerkleHash) (uint64, error) {
	pos := t.Size()
	if pos >= MaxLeaves {
		return 0, ErrTreeFull
	}

	t.nodes[0] = append(t.nodes[0], cmx)
	index := pos
	for level := uint8(0); level+1 < Depth && index&1 == 1; level++ {
		parent := shielded.MerkleCRH(
			level, t.nodes[level][index-1], t.nodes[level][index],
		)
		t.nodes[level+1] = append(t.nodes[level+1], parent)
		index >>= 1
	}
	return pos, nil
}

// checkpointedSize returns the size of the tree at the latest checkpoint.
func (t *Tree) checkpointedSize() uint64 {
	if len(t.checkpoints) == 0 {
		return 0
	}
	return t.checkpoints[len(t.checkpoints)-1].Size
}

// Mark marks the most recently appended leaf as ours and returns its
// position.
func (t *Tree) Mark() (uint64, error) {
	if t.Size() == 0 {
		return 0, ErrEmptyTree
	}
	return t.MarkPosition(t.Size() - 1)
}

// MarkPosition marks a leaf appended since the latest checkpoint.
func (t *Tree) MarkPosition(pos uint64) (uint64, error) {
	if t.Size() == 0 {
		return 0, ErrEmptyTree
	}
	if pos >= t.Size() {
		return 0, ErrPositionNotInTree
	}
	if pos < t.checkpointedSize() {
		return 0, ErrMarkBeforeCheckpoint
	}
	if _, ok := t.marked[pos]; !ok {
		t.marked[pos] = struct{}{}
		t.marksDirty = true
	}
	return pos, nil
}

// IsMarked returns whether the leaf at pos is marked.
func (t *Tree) IsMarked(pos uint64) bool {
	_, ok := t.marked[pos]
	return ok
}

// Marked returns the marked positions in ascending order.
func (t *Tree) Marked() []uint64 {
	marked := make([]uint64, 0, len(t.marked))
	for pos := range t.marked {
		marked = append(marked, pos)
	}
	sort.Slice(marked, func(i, j int) bool { return marked[i] < marked[j] })
	return marked
}

// Checkpoint records the current tree state for height. The first
// checkpoint is accepted at any height; every following one must be
// exactly one above the previous.
func (t *Tree) Checkpoint(height int32) error {
	if n := len(t.checkpoints); n > 0 {
		expected := t.checkpoints[n-1].Height + 1
		if height != expected {
			return &CheckpointError{Expected: expected, Actual: height}
		}
	}

	t.checkpoints = append(t.checkpoints, Checkpoint{
		Height: height,
		Size:   t.Size(),
	})
	if len(t.checkpoints) > t.maxCheckpoints {
		drop := len(t.checkpoints) - t.maxCheckpoints
		t.checkpoints = append(t.checkpoints[:0], t.checkpoints[drop:]...)
	}
	t.checkpointsDirty = true
	return nil
}

// Checkpoints returns the retained checkpoints, oldest first.
func (t *Tree) Checkpoints() []Checkpoint {
	return append([]Checkpoint(nil), t.checkpoints...)
}

// LatestCheckpoint returns the most recent checkpoint, if any.
func (t *Tree) LatestCheckpoint() (Checkpoint, bool) {
	if len(t.checkpoints) == 0 {
		return Checkpoint{}, false
	}
	return t.checkpoints[len(t.checkpoints)-1], true
}

// Rewind restores the tree to the state recorded by the checkpoint at
// toHeight, discarding later checkpoints together with the leaves and marks
// appended after it. The checkpoint at toHeight is kept. Requesting a
// height at or above the latest checkpoint discards only the leaves
// appended since that checkpoint.
//
// Rewinding further back than the oldest retained checkpoint is only
// possible while nothing is marked; the tree is then reset to empty and
// NoCheckpoint is returned. Otherwise an InsufficientCheckpointsError is
// returned and the tree is left untouched.
func (t *Tree) Rewind(toHeight int32) (int32, error) {
	n := len(t.checkpoints)
	if n == 0 || toHeight < t.checkpoints[0].Height {
		if len(t.marked) > 0 {
			oldest := NoCheckpoint
			if n > 0 {
				oldest = t.checkpoints[0].Height
			}
			return 0, &InsufficientCheckpointsError{
				Requested: toHeight,
				Oldest:    oldest,
				Retained:  n,
			}
		}
		t.truncate(0)
		if n > 0 {
			t.checkpoints = t.checkpoints[:0]
			t.checkpointsDirty = true
		}
		return NoCheckpoint, nil
	}

	latest := t.checkpoints[n-1]
	if toHeight >= latest.Height {
		t.truncate(latest.Size)
		return latest.Height, nil
	}

	i := int(toHeight - t.checkpoints[0].Height)
	t.truncate(t.checkpoints[i].Size)
	t.checkpoints = t.checkpoints[:i+1]
	t.checkpointsDirty = true
	return toHeight, nil
}

// truncate drops every leaf at or above size.
func (t *Tree) truncate(size uint64) {
	if size >= t.Size() {
		return
	}
	for level := range t.nodes {
		t.nodes[level] = t.nodes[level][:size>>uint(level)]
	}
	for pos := range t.marked {
		if pos >= size {
			delete(t.marked, pos)
			t.marksDirty = true
		}
	}
	if size < t.dirtyFrom {
		t.dirtyFrom = size
	}
}

// sizeAt returns the tree size at the checkpoint depth. Depth 0 is the
// current state and depth d is the d-th most recent checkpoint.
func (t *Tree) sizeAt(depth int) (uint64, error) {
	if depth == 0 {
		return t.Size(), nil
	}
	if depth < 0 || depth > len(t.checkpoints) {
		return 0, &CheckpointDepthError{
			Depth:    depth,
			Retained: len(t.checkpoints),
		}
	}
	return t.checkpoints[len(t.checkpoints)-depth].Size, nil
}

// node returns the node at level and index of the tree truncated to size.
func (t *Tree) node(level uint8, index, size uint64) shielded.MerkleHash {
	if index<<level >= size {
		return shielded.EmptyRoot(level)
	}
	if level < Depth && (index+1)<<level <= size {
		return t.nodes[level][index]
	}
	left := t.node(level-1, 2*index, size)
	right := t.node(level-1, 2*index+1, size)
	return shielded.MerkleCRH(level-1, left, right)
}

// Root returns the root of the tree at the checkpoint depth.
func (t *Tree) Root(depth int) (shielded.MerkleHash, error) {
	size, err := t.sizeAt(depth)
	if err != nil {
		return shielded.MerkleHash{}, err
	}
	return t.node(Depth, 0, size), nil
}

// Witness returns the authentication path of the marked leaf at pos
// against the tree state at the checkpoint depth.
func (t *Tree) Witness(pos uint64, depth int) (*AuthPath, error) {
	if !t.IsMarked(pos) {
		return nil, ErrNotMarked
	}
	size, err := t.sizeAt(depth)
	if err != nil {
		return nil, err
	}
	if pos >= size {
		return nil, ErrPositionNotInTree
	}

	path := &AuthPath{Position: pos}
	for level := uint8(0); level < Depth; level++ {
		sibling := (pos >> level) ^ 1
		path.Path[level] = t.node(level, sibling, size)
	}
	return path, nil
}

// Leaf returns the leaf at pos.
func (t *Tree) Leaf(pos uint64) (shielded.MerkleHash, bool) {
	if pos >= t.Size() {
		return shielded.MerkleHash{}, false
	}
	return t.nodes[0][pos], true
}
