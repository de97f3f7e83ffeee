package commitmenttree

import (
	"github.com/zsasuite/zsawallet/shielded"
)

// AuthPath is the authentication path of a leaf: the sibling of every node
// on the way from the leaf to the root.
type AuthPath struct {
	Position uint64
	Path     [Depth]shielded.MerkleHash
}

// Root computes the root implied by the path for leaf.
func (p *AuthPath) Root(leaf shielded.MerkleHash) shielded.MerkleHash {
	cur := leaf
	for level := uint8(0); level < Depth; level++ {
		if (p.Position>>level)&1 == 0 {
			cur = shielded.MerkleCRH(level, cur, p.Path[level])
		} else {
			cur = shielded.MerkleCRH(level, p.Path[level], cur)
		}
	}
	return cur
}

// Verify reports whether leaf is included under root at the path's
// position.
func (p *AuthPath) Verify(leaf, root shielded.MerkleHash) bool {
	return p.Root(leaf) == root
}
