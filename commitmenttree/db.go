package commitmenttree

import (
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/zsasuite/zsawallet/shielded"
)

// The tree is stored under its own namespace as three buckets:
//
//   leaves:      <position BE uint64> -> <cmx>
//   marks:       <position BE uint64> -> <>
//   checkpoints: <height BE uint32>   -> <size BE uint64>
//
// Leaves are written incrementally. Marks and checkpoints are small and are
// rewritten whenever they change.
var (
	bucketLeaves      = []byte("leaves")
	bucketMarks       = []byte("marks")
	bucketCheckpoints = []byte("checkpoints")
)

var byteOrder = binary.BigEndian

func keyPosition(pos uint64) []byte {
	k := make([]byte, 8)
	byteOrder.PutUint64(k, pos)
	return k
}

func keyHeight(height int32) []byte {
	k := make([]byte, 4)
	byteOrder.PutUint32(k, uint32(height))
	return k
}

// Create creates the tree buckets within the namespace.
func Create(ns walletdb.ReadWriteBucket) error {
	for _, name := range [][]byte{bucketLeaves, bucketMarks, bucketCheckpoints} {
		if _, err := ns.CreateBucketIfNotExists(name); err != nil {
			return fmt.Errorf("unable to create %s bucket: %w", name, err)
		}
	}
	return nil
}

// Fetch loads the tree stored in the namespace.
func Fetch(ns walletdb.ReadBucket) (*Tree, error) {
	t := New()

	leaves := ns.NestedReadBucket(bucketLeaves)
	marks := ns.NestedReadBucket(bucketMarks)
	checkpoints := ns.NestedReadBucket(bucketCheckpoints)
	if leaves == nil || marks == nil || checkpoints == nil {
		return nil, fmt.Errorf("commitment tree buckets not found")
	}

	err := leaves.ForEach(func(k, v []byte) error {
		if len(k) != 8 || len(v) != 32 {
			return fmt.Errorf("malformed leaf entry")
		}
		pos := byteOrder.Uint64(k)
		if pos != t.Size() {
			return fmt.Errorf("missing leaf at position %d", t.Size())
		}
		var cmx shielded.MerkleHash
		copy(cmx[:], v)
		_, err := t.Append(cmx)
		return err
	})
	if err != nil {
		return nil, err
	}

	err = marks.ForEach(func(k, _ []byte) error {
		if len(k) != 8 {
			return fmt.Errorf("malformed mark entry")
		}
		pos := byteOrder.Uint64(k)
		if pos >= t.Size() {
			return fmt.Errorf("mark %d beyond tree size %d", pos,
				t.Size())
		}
		t.marked[pos] = struct{}{}
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = checkpoints.ForEach(func(k, v []byte) error {
		if len(k) != 4 || len(v) != 8 {
			return fmt.Errorf("malformed checkpoint entry")
		}
		t.checkpoints = append(t.checkpoints, Checkpoint{
			Height: int32(byteOrder.Uint32(k)),
			Size:   byteOrder.Uint64(v),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(t.checkpoints) > t.maxCheckpoints {
		t.maxCheckpoints = len(t.checkpoints)
	}

	t.storedSize = t.Size()
	t.dirtyFrom = t.Size()
	return t, nil
}

// Put writes every change made since the tree was fetched or last put.
func (t *Tree) Put(ns walletdb.ReadWriteBucket) error {
	leaves := ns.NestedReadWriteBucket(bucketLeaves)
	if leaves == nil {
		return fmt.Errorf("commitment tree buckets not found")
	}

	for pos := t.Size(); pos < t.storedSize; pos++ {
		if err := leaves.Delete(keyPosition(pos)); err != nil {
			return fmt.Errorf("unable to delete leaf %d: %w", pos, err)
		}
	}
	for pos := t.dirtyFrom; pos < t.Size(); pos++ {
		leaf := t.nodes[0][pos]
		err := leaves.Put(keyPosition(pos), append([]byte(nil), leaf[:]...))
		if err != nil {
			return fmt.Errorf("unable to put leaf %d: %w", pos, err)
		}
	}

	if t.marksDirty {
		err := rewriteBucket(ns, bucketMarks, func(b walletdb.ReadWriteBucket) error {
			for pos := range t.marked {
				if err := b.Put(keyPosition(pos), []byte{}); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("unable to put marks: %w", err)
		}
	}

	if t.checkpointsDirty {
		err := rewriteBucket(ns, bucketCheckpoints, func(b walletdb.ReadWriteBucket) error {
			for _, cp := range t.checkpoints {
				v := make([]byte, 8)
				byteOrder.PutUint64(v, cp.Size)
				if err := b.Put(keyHeight(cp.Height), v); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("unable to put checkpoints: %w", err)
		}
	}

	t.storedSize = t.Size()
	t.dirtyFrom = t.Size()
	t.marksDirty = false
	t.checkpointsDirty = false
	return nil
}

// Reset deletes the stored tree, leaving empty buckets behind.
func Reset(ns walletdb.ReadWriteBucket) error {
	for _, name := range [][]byte{bucketLeaves, bucketMarks, bucketCheckpoints} {
		err := rewriteBucket(ns, name, func(walletdb.ReadWriteBucket) error {
			return nil
		})
		if err != nil {
			return fmt.Errorf("unable to reset %s bucket: %w", name, err)
		}
	}
	return nil
}

func rewriteBucket(ns walletdb.ReadWriteBucket, name []byte,
	fill func(walletdb.ReadWriteBucket) error) error {

	if ns.NestedReadWriteBucket(name) != nil {
		if err := ns.DeleteNestedBucket(name); err != nil {
			return err
		}
	}
	b, err := ns.CreateBucket(name)
	if err != nil {
		return err
	}
	return fill(b)
}
