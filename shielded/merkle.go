package shielded

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// MerkleDepth is the depth of the note commitment tree.
const MerkleDepth = 32

var merkleCRHDomain = []byte("z.cash:Orchard-MerkleCRH")

// MerkleHash is a node of the note commitment tree. Leaves are extracted
// note commitments.
type MerkleHash [32]byte

// String returns the hex encoding of the hash.
func (h MerkleHash) String() string {
	return hex.EncodeToString(h[:])
}

// EmptyLeaf is the value of an unfilled leaf.
var EmptyLeaf = MerkleHash{2}

// emptyRoots[l] is the root of an empty subtree of height l.
var emptyRoots [MerkleDepth + 1]MerkleHash

func init() {
	emptyRoots[0] = EmptyLeaf
	for l := uint8(0); l < MerkleDepth; l++ {
		emptyRoots[l+1] = MerkleCRH(l, emptyRoots[l], emptyRoots[l])
	}
}

// EmptyRoot returns the root of an empty subtree of the given height.
func EmptyRoot(level uint8) MerkleHash {
	return emptyRoots[level]
}

// MerkleCRH combines two children at level into their parent.
func MerkleCRH(level uint8, left, right MerkleHash) MerkleHash {
	h, _ := blake2b.New256(merkleCRHDomain)
	h.Write([]byte{level})
	h.Write(left[:])
	h.Write(right[:])

	var out MerkleHash
	copy(out[:], h.Sum(nil))
	return out
}
