package commitmenttree

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/zsasuite/zsawallet/shielded"
	"pgregory.net/rapid"
)

func leaf(i uint64) shielded.MerkleHash {
	var h shielded.MerkleHash
	binary.LittleEndian.PutUint64(h[:], i+1)
	h[31] = 0xaa
	return h
}

// referenceRoot computes the root of leaves from scratch.
func referenceRoot(leaves []shielded.MerkleHash, level uint8) shielded.MerkleHash {
	if len(leaves) == 0 {
		return shielded.EmptyRoot(level)
	}
	if level == 0 {
		return leaves[0]
	}
	half := uint64(1) << (level - 1)
	split := uint64(len(leaves))
	if split > half {
		split = half
	}
	return shielded.MerkleCRH(
		level-1,
		referenceRoot(leaves[:split], level-1),
		referenceRoot(leaves[split:], level-1),
	)
}

func appendLeaves(t *testing.T, tree *Tree, from, to uint64) {
	t.Helper()

	for i := from; i < to; i++ {
		pos, err := tree.Append(leaf(i))
		require.NoError(t, err)
		require.Equal(t, i, pos)
	}
}

func TestEmptyTree(t *testing.T) {
	t.Parallel()

	tree := New()
	root, err := tree.Root(0)
	require.NoError(t, err)
	require.Equal(t, shielded.EmptyRoot(Depth), root)

	_, err = tree.Mark()
	require.ErrorIs(t, err, ErrEmptyTree)

	_, err = tree.Root(1)
	var depthErr *CheckpointDepthError
	require.ErrorAs(t, err, &depthErr)
}

func TestWitnessCurrentRoot(t *testing.T) {
	t.Parallel()

	tree := New()
	var leaves []shielded.MerkleHash
	var marked []uint64
	for i := uint64(0); i < 37; i++ {
		_, err := tree.Append(leaf(i))
		require.NoError(t, err)
		leaves = append(leaves, leaf(i))
		if i%5 == 0 {
			pos, err := tree.Mark()
			require.NoError(t, err)
			marked = append(marked, pos)
		}
	}

	root, err := tree.Root(0)
	require.NoError(t, err)
	require.Equal(t, referenceRoot(leaves, Depth), root)
	require.Equal(t, marked, tree.Marked())

	for _, pos := range marked {
		path, err := tree.Witness(pos, 0)
		require.NoError(t, err)
		require.True(t, path.Verify(leaves[pos], root))
		require.False(t, path.Verify(leaf(1000), root))
	}

	_, err = tree.Witness(1, 0)
	require.ErrorIs(t, err, ErrNotMarked)
}

func TestCheckpointOrder(t *testing.T) {
	t.Parallel()

	tree := New()
	require.NoError(t, tree.Checkpoint(10))

	err := tree.Checkpoint(10)
	var cpErr *CheckpointError
	require.ErrorAs(t, err, &cpErr)
	require.Equal(t, int32(11), cpErr.Expected)
	require.Equal(t, int32(10), cpErr.Actual)

	require.NoError(t, tree.Checkpoint(11))

	err = tree.Checkpoint(13)
	require.ErrorAs(t, err, &cpErr)
	require.Equal(t, int32(12), cpErr.Expected)
	require.Equal(t, int32(13), cpErr.Actual)
}

func TestCheckpointHorizon(t *testing.T) {
	t.Parallel()

	tree := NewWithMaxCheckpoints(3)
	for h := int32(0); h < 5; h++ {
		appendLeaves(t, tree, tree.Size(), tree.Size()+2)
		require.NoError(t, tree.Checkpoint(h))
	}

	cps := tree.Checkpoints()
	require.Len(t, cps, 3)
	require.Equal(t, int32(2), cps[0].Height)
	require.Equal(t, uint64(6), cps[0].Size)

	// Without marks a rewind beyond the horizon resets the tree.
	height, err := tree.Rewind(1)
	require.NoError(t, err)
	require.Equal(t, NoCheckpoint, height)
	require.Zero(t, tree.Size())
	require.Empty(t, tree.Checkpoints())
}

func TestMarkAfterCheckpoint(t *testing.T) {
	t.Parallel()

	tree := New()
	appendLeaves(t, tree, 0, 3)
	require.NoError(t, tree.Checkpoint(1))

	_, err := tree.Mark()
	require.ErrorIs(t, err, ErrMarkBeforeCheckpoint)

	appendLeaves(t, tree, 3, 5)
	pos, err := tree.MarkPosition(3)
	require.NoError(t, err)
	require.Equal(t, uint64(3), pos)

	_, err = tree.MarkPosition(5)
	require.ErrorIs(t, err, ErrPositionNotInTree)
}

func TestRewind(t *testing.T) {
	t.Parallel()

	tree := New()

	// Height 5 appends leaves 0..3 and marks 1.
	appendLeaves(t, tree, 0, 4)
	_, err := tree.MarkPosition(1)
	require.NoError(t, err)
	require.NoError(t, tree.Checkpoint(5))
	root5, err := tree.Root(0)
	require.NoError(t, err)

	// Height 6 appends leaves 4..6 and marks 6.
	appendLeaves(t, tree, 4, 7)
	_, err = tree.Mark()
	require.NoError(t, err)
	require.NoError(t, tree.Checkpoint(6))

	// The note from height 5 can be witnessed against either state.
	atTip, err := tree.Witness(1, 0)
	require.NoError(t, err)
	atPrev, err := tree.Witness(1, 2)
	require.NoError(t, err)
	require.True(t, atPrev.Verify(leaf(1), root5))
	require.NotEqual(t, atTip.Path, atPrev.Path)

	// The height 6 note is not part of the height 5 state.
	_, err = tree.Witness(6, 2)
	require.ErrorIs(t, err, ErrPositionNotInTree)

	height, err := tree.Rewind(5)
	require.NoError(t, err)
	require.Equal(t, int32(5), height)
	require.Equal(t, uint64(4), tree.Size())
	require.Equal(t, []uint64{1}, tree.Marked())

	root, err := tree.Root(0)
	require.NoError(t, err)
	require.Equal(t, root5, root)

	latest, ok := tree.LatestCheckpoint()
	require.True(t, ok)
	require.Equal(t, int32(5), latest.Height)

	// A replacement block at height 6 is accepted.
	appendLeaves(t, tree, 4, 5)
	require.NoError(t, tree.Checkpoint(6))

	// Marked notes prevent a rewind past the oldest checkpoint.
	_, err = tree.Rewind(4)
	var rewindErr *InsufficientCheckpointsError
	require.ErrorAs(t, err, &rewindErr)
	require.Equal(t, int32(4), rewindErr.Requested)
	require.Equal(t, int32(5), rewindErr.Oldest)
	require.Equal(t, 2, rewindErr.Retained)
	require.Equal(t, uint64(5), tree.Size())
}

func TestRewindDiscardsUncheckpointedLeaves(t *testing.T) {
	t.Parallel()

	tree := New()
	appendLeaves(t, tree, 0, 2)
	require.NoError(t, tree.Checkpoint(0))
	appendLeaves(t, tree, 2, 4)
	_, err := tree.Mark()
	require.NoError(t, err)

	height, err := tree.Rewind(0)
	require.NoError(t, err)
	require.Equal(t, int32(0), height)
	require.Equal(t, uint64(2), tree.Size())
	require.Empty(t, tree.Marked())
}

// TestTreeProperties checks witnesses and rewinds against a tree rebuilt
// from scratch for random operation sequences.
func TestTreeProperties(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(rt *rapid.T) {
		tree := NewWithMaxCheckpoints(8)
		var (
			leaves  []shielded.MerkleHash
			sizes   = make(map[int32]int)
			height  = int32(rapid.IntRange(0, 1000).Draw(rt, "start"))
			counter uint64
		)

		blocks := rapid.IntRange(1, 20).Draw(rt, "blocks")
		for b := 0; b < blocks; b++ {
			n := rapid.IntRange(0, 6).Draw(rt, "leaves")
			for i := 0; i < n; i++ {
				cmx := leaf(counter)
				counter++
				_, err := tree.Append(cmx)
				if err != nil {
					rt.Fatalf("append: %v", err)
				}
				leaves = append(leaves, cmx)
				if rapid.Bool().Draw(rt, "mark") {
					if _, err := tree.Mark(); err != nil {
						rt.Fatalf("mark: %v", err)
					}
				}
			}
			if err := tree.Checkpoint(height); err != nil {
				rt.Fatalf("checkpoint: %v", err)
			}
			sizes[height] = len(leaves)
			height++

			if rapid.IntRange(0, 4).Draw(rt, "rewind") == 0 {
				cps := tree.Checkpoints()
				target := cps[rapid.IntRange(0, len(cps)-1).Draw(rt, "target")].Height
				got, err := tree.Rewind(target)
				if err != nil {
					rt.Fatalf("rewind: %v", err)
				}
				if got != target {
					rt.Fatalf("rewind returned %d, want %d", got, target)
				}
				leaves = leaves[:sizes[target]]
				height = target + 1
			}
		}

		root, err := tree.Root(0)
		if err != nil {
			rt.Fatalf("root: %v", err)
		}
		if root != referenceRoot(leaves, Depth) {
			rt.Fatalf("root mismatch")
		}
		for _, pos := range tree.Marked() {
			path, err := tree.Witness(pos, 0)
			if err != nil {
				rt.Fatalf("witness %d: %v", pos, err)
			}
			if !path.Verify(leaves[pos], root) {
				rt.Fatalf("witness %d does not verify", pos)
			}
		}
	})
}
