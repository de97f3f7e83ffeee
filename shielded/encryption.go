package shielded

import (
	"encoding/binary"
	"io"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
)

const (
	// notePlaintextSize is the size of a decrypted note plaintext.
	notePlaintextSize = 1 + DiversifierSize + 8 + 32 + AssetBaseSize +
		MemoSize

	// EncCiphertextSize is the size of an encrypted note plaintext.
	EncCiphertextSize = notePlaintextSize + chacha20poly1305.Overhead

	// notePlaintextLead is the only plaintext version understood.
	notePlaintextLead = 0x03
)

var kdfDomain = []byte("Zcash_OrchardKDF")

// Action is one shielded action as it appears on chain: it reveals the
// nullifier of a spent note and commits to a newly created one.
type Action struct {
	Nullifier     Nullifier
	Cmx           MerkleHash
	EphemeralKey  [32]byte
	EncCiphertext []byte
}

func noteKey(shared, epk []byte) []byte {
	h, _ := blake2b.New256(kdfDomain)
	h.Write(shared)
	h.Write(epk)
	return h.Sum(nil)
}

// EncryptNote builds the action creating note. The note's rho must be the
// nullifier revealed by the same action.
func EncryptNote(note *Note, memo *Memo, rand io.Reader) (*Action, error) {
	var esk [32]byte
	if _, err := io.ReadFull(rand, esk[:]); err != nil {
		return nil, err
	}

	epk, err := curve25519.X25519(esk[:], note.Recipient.Diversifier.base())
	if err != nil {
		return nil, err
	}
	shared, err := curve25519.X25519(esk[:], note.Recipient.PkD[:])
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.New(noteKey(shared, epk))
	if err != nil {
		return nil, err
	}

	pt := make([]byte, 0, notePlaintextSize)
	pt = append(pt, notePlaintextLead)
	pt = append(pt, note.Recipient.Diversifier[:]...)
	pt = binary.LittleEndian.AppendUint64(pt, note.Value)
	pt = append(pt, note.Rseed[:]...)
	pt = append(pt, note.Asset[:]...)
	pt = append(pt, memo[:]...)

	var nonce [chacha20poly1305.NonceSize]byte
	action := &Action{
		Nullifier:     note.Rho,
		Cmx:           note.Commitment(),
		EncCiphertext: aead.Seal(nil, nonce[:], pt, nil),
	}
	copy(action.EphemeralKey[:], epk)
	return action, nil
}

// TryDecrypt attempts to decrypt the action with ivk. The returned note is
// only valid when ok is true, in which case its commitment is known to
// match the action's.
func (a *Action) TryDecrypt(ivk *IncomingViewingKey) (Note, Memo, bool) {
	var (
		note Note
		memo Memo
	)
	if len(a.EncCiphertext) != EncCiphertextSize {
		return note, memo, false
	}

	shared, err := curve25519.X25519(ivk.Ivk[:], a.EphemeralKey[:])
	if err != nil {
		return note, memo, false
	}
	aead, err := chacha20poly1305.New(noteKey(shared, a.EphemeralKey[:]))
	if err != nil {
		return note, memo, false
	}

	var nonce [chacha20poly1305.NonceSize]byte
	pt, err := aead.Open(nil, nonce[:], a.EncCiphertext, nil)
	if err != nil || pt[0] != notePlaintextLead {
		return note, memo, false
	}

	var d Diversifier
	off := 1
	copy(d[:], pt[off:off+DiversifierSize])
	off += DiversifierSize

	recipient, err := ivk.AddressFor(d)
	if err != nil {
		return note, memo, false
	}

	note.Recipient = recipient
	note.Value = binary.LittleEndian.Uint64(pt[off : off+8])
	off += 8
	copy(note.Rseed[:], pt[off:off+32])
	off += 32
	copy(note.Asset[:], pt[off:off+AssetBaseSize])
	off += AssetBaseSize
	copy(memo[:], pt[off:])
	note.Rho = a.Nullifier

	if note.Commitment() != a.Cmx {
		return Note{}, Memo{}, false
	}
	return note, memo, true
}

// DummyAction returns an action that spends and creates nothing anyone
// can decrypt.
func DummyAction(rand io.Reader) (*Action, error) {
	a := &Action{EncCiphertext: make([]byte, EncCiphertextSize)}
	for _, b := range [][]byte{
		a.Nullifier[:], a.Cmx[:], a.EphemeralKey[:], a.EncCiphertext,
	} {
		if _, err := io.ReadFull(rand, b); err != nil {
			return nil, err
		}
	}
	return a, nil
}
