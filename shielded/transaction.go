package shielded

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"golang.org/x/crypto/blake2b"
)

const (
	// TxVersionOrchard carries Orchard actions only.
	TxVersionOrchard uint32 = 5

	// TxVersionZSA carries actions, burns and an optional issue bundle.
	TxVersionZSA uint32 = 6

	// maxActionsPerTx bounds the number of actions decoded from a single
	// transaction.
	maxActionsPerTx = 1 << 16

	// pver is passed to the wire var-int helpers, which ignore it.
	pver = 0
)

var (
	// ErrUnsupportedTxVersion is returned when decoding a transaction
	// without a shielded component this package understands.
	ErrUnsupportedTxVersion = errors.New("unsupported transaction version")

	txIDDomain      = []byte("ZcashTxHash_ZSA")
	issueSigHashKey = []byte("ZSA-IssueSigHash")
)

// Burn removes value of a custom asset from circulation.
type Burn struct {
	Asset  AssetBase
	Amount uint64
}

// IssueAction issues notes of the asset described by AssetDescHash.
type IssueAction struct {
	AssetDescHash [32]byte
	Notes         []Note
	Finalize      bool
}

// IssueBundle is the issuance component of a transaction. Issued notes
// are public.
type IssueBundle struct {
	Ik      IssuanceValidatingKey
	Actions []IssueAction
	Sig     [64]byte
}

// Transaction is the shielded part of a transaction.
type Transaction struct {
	Version  uint32
	Actions  []Action
	Burns    []Burn
	Issuance *IssueBundle
}

// IssuedNotes returns every issued note in canonical order.
func (tx *Transaction) IssuedNotes() []Note {
	if tx.Issuance == nil {
		return nil
	}
	var notes []Note
	for _, action := range tx.Issuance.Actions {
		notes = append(notes, action.Notes...)
	}
	return notes
}

// Commitments returns the leaves the transaction appends to the note
// commitment tree in order: actions first, then issued notes.
func (tx *Transaction) Commitments() []MerkleHash {
	issued := tx.IssuedNotes()
	cmxs := make([]MerkleHash, 0, len(tx.Actions)+len(issued))
	for i := range tx.Actions {
		cmxs = append(cmxs, tx.Actions[i].Cmx)
	}
	for i := range issued {
		cmxs = append(cmxs, issued[i].Commitment())
	}
	return cmxs
}

// TxHash returns the id of the transaction.
func (tx *Transaction) TxHash() chainhash.Hash {
	var buf bytes.Buffer
	_ = tx.Serialize(&buf)

	h, _ := blake2b.New256(txIDDomain)
	h.Write(buf.Bytes())

	var id chainhash.Hash
	copy(id[:], h.Sum(nil))
	return id
}

// Serialize encodes the transaction into w.
func (tx *Transaction) Serialize(w io.Writer) error {
	var rawVersion [4]byte
	binary.LittleEndian.PutUint32(rawVersion[:], tx.Version)
	if _, err := w.Write(rawVersion[:]); err != nil {
		return err
	}

	if err := wire.WriteVarInt(w, pver, uint64(len(tx.Actions))); err != nil {
		return err
	}
	for i := range tx.Actions {
		a := &tx.Actions[i]
		for _, b := range [][]byte{a.Nullifier[:], a.Cmx[:], a.EphemeralKey[:]} {
			if _, err := w.Write(b); err != nil {
				return err
			}
		}
		if err := wire.WriteVarBytes(w, pver, a.EncCiphertext); err != nil {
			return err
		}
	}

	if tx.Version < TxVersionZSA {
		return nil
	}

	if err := wire.WriteVarInt(w, pver, uint64(len(tx.Burns))); err != nil {
		return err
	}
	for _, burn := range tx.Burns {
		if _, err := w.Write(burn.Asset[:]); err != nil {
			return err
		}
		var rawAmount [8]byte
		binary.LittleEndian.PutUint64(rawAmount[:], burn.Amount)
		if _, err := w.Write(rawAmount[:]); err != nil {
			return err
		}
	}

	if tx.Issuance == nil {
		_, err := w.Write([]byte{0})
		return err
	}
	if _, err := w.Write([]byte{1}); err != nil {
		return err
	}
	if err := tx.Issuance.serializeUnsigned(w); err != nil {
		return err
	}
	_, err := w.Write(tx.Issuance.Sig[:])
	return err
}

func (b *IssueBundle) serializeUnsigned(w io.Writer) error {
	if _, err := w.Write(b.Ik[:]); err != nil {
		return err
	}
	if err := wire.WriteVarInt(w, pver, uint64(len(b.Actions))); err != nil {
		return err
	}
	for _, action := range b.Actions {
		if _, err := w.Write(action.AssetDescHash[:]); err != nil {
			return err
		}
		err := wire.WriteVarInt(w, pver, uint64(len(action.Notes)))
		if err != nil {
			return err
		}
		for i := range action.Notes {
			if _, err := w.Write(action.Notes[i].Serialize()); err != nil {
				return err
			}
		}
		finalize := byte(0)
		if action.Finalize {
			finalize = 1
		}
		if _, err := w.Write([]byte{finalize}); err != nil {
			return err
		}
	}
	return nil
}

// SigHash returns the digest the issuer signs.
func (b *IssueBundle) SigHash() [32]byte {
	var buf bytes.Buffer
	_ = b.serializeUnsigned(&buf)

	h, _ := blake2b.New256(issueSigHashKey)
	h.Write(buf.Bytes())

	var digest [32]byte
	copy(digest[:], h.Sum(nil))
	return digest
}

// Sign signs the bundle with the issuance key.
func (b *IssueBundle) Sign(ik *IssuanceKey) error {
	b.Ik = ik.ValidatingKey()
	sig, err := ik.Sign(b.SigHash())
	if err != nil {
		return err
	}
	b.Sig = sig
	return nil
}

// Verify checks the bundle signature and that every issued note carries the
// asset derived from the issuer's key.
func (b *IssueBundle) Verify() error {
	for _, action := range b.Actions {
		asset := DeriveAsset(b.Ik, action.AssetDescHash)
		for _, note := range action.Notes {
			if note.Asset != asset {
				return fmt.Errorf("issued note asset %v does not "+
					"match issuer asset %v", note.Asset, asset)
			}
		}
	}
	return b.Ik.Verify(b.SigHash(), b.Sig)
}

// Deserialize decodes a transaction from r. Versions without a known
// shielded component return ErrUnsupportedTxVersion.
func (tx *Transaction) Deserialize(r io.Reader) error {
	var rawVersion [4]byte
	if _, err := io.ReadFull(r, rawVersion[:]); err != nil {
		return err
	}
	tx.Version = binary.LittleEndian.Uint32(rawVersion[:])
	if tx.Version != TxVersionOrchard && tx.Version != TxVersionZSA {
		return fmt.Errorf("%w: %d", ErrUnsupportedTxVersion, tx.Version)
	}

	count, err := wire.ReadVarInt(r, pver)
	if err != nil {
		return err
	}
	if count > maxActionsPerTx {
		return fmt.Errorf("too many actions: %d", count)
	}
	tx.Actions = make([]Action, count)
	for i := range tx.Actions {
		a := &tx.Actions[i]
		for _, b := range [][]byte{a.Nullifier[:], a.Cmx[:], a.EphemeralKey[:]} {
			if _, err := io.ReadFull(r, b); err != nil {
				return err
			}
		}
		a.EncCiphertext, err = wire.ReadVarBytes(
			r, pver, EncCiphertextSize, "enc_ciphertext",
		)
		if err != nil {
			return err
		}
	}

	if tx.Version < TxVersionZSA {
		return nil
	}

	count, err = wire.ReadVarInt(r, pver)
	if err != nil {
		return err
	}
	if count > maxActionsPerTx {
		return fmt.Errorf("too many burns: %d", count)
	}
	tx.Burns = make([]Burn, count)
	for i := range tx.Burns {
		if _, err := io.ReadFull(r, tx.Burns[i].Asset[:]); err != nil {
			return err
		}
		var rawAmount [8]byte
		if _, err := io.ReadFull(r, rawAmount[:]); err != nil {
			return err
		}
		tx.Burns[i].Amount = binary.LittleEndian.Uint64(rawAmount[:])
	}

	var flag [1]byte
	if _, err := io.ReadFull(r, flag[:]); err != nil {
		return err
	}
	if flag[0] == 0 {
		return nil
	}

	bundle := &IssueBundle{}
	if _, err := io.ReadFull(r, bundle.Ik[:]); err != nil {
		return err
	}
	count, err = wire.ReadVarInt(r, pver)
	if err != nil {
		return err
	}
	if count > maxActionsPerTx {
		return fmt.Errorf("too many issue actions: %d", count)
	}
	bundle.Actions = make([]IssueAction, count)
	for i := range bundle.Actions {
		action := &bundle.Actions[i]
		if _, err := io.ReadFull(r, action.AssetDescHash[:]); err != nil {
			return err
		}
		numNotes, err := wire.ReadVarInt(r, pver)
		if err != nil {
			return err
		}
		if numNotes > maxActionsPerTx {
			return fmt.Errorf("too many issued notes: %d", numNotes)
		}
		action.Notes = make([]Note, numNotes)
		raw := make([]byte, NoteSize)
		for j := range action.Notes {
			if _, err := io.ReadFull(r, raw); err != nil {
				return err
			}
			if err := action.Notes[j].Deserialize(raw); err != nil {
				return err
			}
		}
		if _, err := io.ReadFull(r, flag[:]); err != nil {
			return err
		}
		action.Finalize = flag[0] == 1
	}
	if _, err := io.ReadFull(r, bundle.Sig[:]); err != nil {
		return err
	}
	tx.Issuance = bundle
	return nil
}

// DecodeTransaction decodes a serialized transaction.
func DecodeTransaction(b []byte) (*Transaction, error) {
	var tx Transaction
	if err := tx.Deserialize(bytes.NewReader(b)); err != nil {
		return nil, err
	}
	return &tx, nil
}
