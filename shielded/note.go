package shielded

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"io"

	"golang.org/x/crypto/blake2b"
)

const (
	// MemoSize is the size of the memo field of a note plaintext.
	MemoSize = 512

	// NoteSize is the size of a serialized note.
	NoteSize = AddressSize + 8 + AssetBaseSize + 32 + 32
)

var (
	noteCommitDomain = []byte("z.cash:Orchard-NoteCommit")
	nullifierDomain  = []byte("z.cash:Orchard-Nullifier")
)

// ErrInvalidNote is returned when a serialized note is malformed.
var ErrInvalidNote = errors.New("invalid note encoding")

// Nullifier is revealed when a note is spent.
type Nullifier [32]byte

// String returns the hex encoding of the nullifier.
func (nf Nullifier) String() string {
	return hex.EncodeToString(nf[:])
}

// Memo is the free form memo attached to a note.
type Memo [MemoSize]byte

// EmptyMemo is the canonical "no memo" encoding.
var EmptyMemo = Memo{0xf6}

// MemoFromText builds a memo holding text, truncated to MemoSize.
func MemoFromText(text string) Memo {
	var m Memo
	copy(m[:], text)
	return m
}

// Note is a value-carrying shielded output.
type Note struct {
	Recipient Address
	Value     uint64
	Asset     AssetBase
	Rho       Nullifier
	Rseed     [32]byte
}

// NewNote creates a note with fresh randomness read from rand.
func NewNote(recipient Address, value uint64, asset AssetBase, rho Nullifier,
	rand io.Reader) (Note, error) {

	n := Note{
		Recipient: recipient,
		Value:     value,
		Asset:     asset,
		Rho:       rho,
	}
	if _, err := io.ReadFull(rand, n.Rseed[:]); err != nil {
		return Note{}, err
	}
	return n, nil
}

// Commitment returns the extracted note commitment of the note.
func (n *Note) Commitment() MerkleHash {
	var rawValue [8]byte
	binary.LittleEndian.PutUint64(rawValue[:], n.Value)

	h, _ := blake2b.New256(noteCommitDomain)
	h.Write(n.Recipient.Bytes())
	h.Write(rawValue[:])
	h.Write(n.Asset[:])
	h.Write(n.Rho[:])
	h.Write(n.Rseed[:])

	var cmx MerkleHash
	copy(cmx[:], h.Sum(nil))
	return cmx
}

// psi derives the nullifier randomness from the note's seed.
func (n *Note) psi() []byte {
	out := prfExpand(n.Rseed[:], prfPsi, n.Rho[:])
	return out[:32]
}

// Nullifier returns the nullifier revealed when the note is spent by the
// owner of fvk.
func (n *Note) Nullifier(fvk *FullViewingKey) Nullifier {
	cmx := n.Commitment()

	h, _ := blake2b.New256(fvk.Nk[:])
	h.Write(nullifierDomain)
	h.Write(n.Rho[:])
	h.Write(n.psi())
	h.Write(cmx[:])

	var nf Nullifier
	copy(nf[:], h.Sum(nil))
	return nf
}

// Serialize returns the canonical encoding of the note.
func (n *Note) Serialize() []byte {
	b := make([]byte, 0, NoteSize)
	b = append(b, n.Recipient.Bytes()...)
	b = binary.LittleEndian.AppendUint64(b, n.Value)
	b = append(b, n.Asset[:]...)
	b = append(b, n.Rho[:]...)
	b = append(b, n.Rseed[:]...)
	return b
}

// Deserialize decodes a note encoded by Serialize.
func (n *Note) Deserialize(b []byte) error {
	if len(b) != NoteSize {
		return ErrInvalidNote
	}
	addr, err := AddressFromBytes(b[:AddressSize])
	if err != nil {
		return err
	}
	off := AddressSize
	n.Recipient = addr
	n.Value = binary.LittleEndian.Uint64(b[off : off+8])
	off += 8
	copy(n.Asset[:], b[off:off+AssetBaseSize])
	off += AssetBaseSize
	copy(n.Rho[:], b[off:off+32])
	off += 32
	copy(n.Rseed[:], b[off:off+32])
	return nil
}
