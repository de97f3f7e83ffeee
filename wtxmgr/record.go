package wtxmgr

import (
	"bytes"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/tlv"
	"github.com/zsasuite/zsawallet/shielded"
)

// OutPoint identifies the action (or issued note) of a transaction that
// created a note. Issued notes follow the actions, so their index is the
// number of actions plus their position within the issue bundle.
type OutPoint struct {
	TxID        chainhash.Hash
	ActionIndex uint32
}

// String returns the OutPoint in the human-readable form "txid:index".
func (op OutPoint) String() string {
	return fmt.Sprintf("%v:%d", op.TxID, op.ActionIndex)
}

// InPoint identifies the action of a transaction that revealed the
// nullifier of a note.
type InPoint struct {
	TxID        chainhash.Hash
	ActionIndex uint32
}

// String returns the InPoint in the human-readable form "txid:index".
func (ip InPoint) String() string {
	return fmt.Sprintf("%v:%d", ip.TxID, ip.ActionIndex)
}

// NoteRecord is a note received by one of the wallet's addresses.
type NoteRecord struct {
	// ID is assigned by the store on insertion and increases with every
	// insert.
	ID uint64

	Note      shielded.Note
	Memo      shielded.Memo
	Nullifier shielded.Nullifier
	OutPoint  OutPoint

	// Height is the height of the block that created the note.
	Height int32

	// Position is the leaf position of the note commitment once it is
	// appended to the commitment tree.
	Position fn.Option[uint64]

	// SpentBy is set once the nullifier of the note is seen on chain.
	SpentBy     fn.Option[InPoint]
	SpendHeight int32

	// Received is the time the note was first stored.
	Received time.Time
}

// Spendable returns whether the note is unspent and witnessed.
func (r *NoteRecord) Spendable() bool {
	return r.SpentBy.IsNone() && r.Position.IsSome()
}

const (
	typeNote        tlv.Type = 0
	typeMemo        tlv.Type = 1
	typeNullifier   tlv.Type = 2
	typeTxID        tlv.Type = 3
	typeActionIndex tlv.Type = 4
	typeHeight      tlv.Type = 5
	typeReceived    tlv.Type = 6
	typePosition    tlv.Type = 7
	typeSpentTxID   tlv.Type = 8
	typeSpentAction tlv.Type = 9
	typeSpendHeight tlv.Type = 10
)

// valueNoteRecord returns the serialized value of a note record. The ID is
// the bucket key and is not part of the value.
func valueNoteRecord(r *NoteRecord) ([]byte, error) {
	var (
		note        = r.Note.Serialize()
		memo        = r.Memo[:]
		nullifier   = [32]byte(r.Nullifier)
		txID        = [32]byte(r.OutPoint.TxID)
		actionIndex = r.OutPoint.ActionIndex
		height      = uint32(r.Height)
		received    = uint64(r.Received.Unix())
	)
	records := []tlv.Record{
		tlv.MakePrimitiveRecord(typeNote, &note),
		tlv.MakePrimitiveRecord(typeMemo, &memo),
		tlv.MakePrimitiveRecord(typeNullifier, &nullifier),
		tlv.MakePrimitiveRecord(typeTxID, &txID),
		tlv.MakePrimitiveRecord(typeActionIndex, &actionIndex),
		tlv.MakePrimitiveRecord(typeHeight, &height),
		tlv.MakePrimitiveRecord(typeReceived, &received),
	}

	r.Position.WhenSome(func(pos uint64) {
		records = append(records, tlv.MakePrimitiveRecord(
			typePosition, &pos,
		))
	})

	r.SpentBy.WhenSome(func(in InPoint) {
		var (
			spentTxID   = [32]byte(in.TxID)
			spentAction = in.ActionIndex
			spendHeight = uint32(r.SpendHeight)
		)
		records = append(records,
			tlv.MakePrimitiveRecord(typeSpentTxID, &spentTxID),
			tlv.MakePrimitiveRecord(typeSpentAction, &spentAction),
			tlv.MakePrimitiveRecord(typeSpendHeight, &spendHeight),
		)
	})

	stream, err := tlv.NewStream(records...)
	if err != nil {
		return nil, err
	}

	var b bytes.Buffer
	if err := stream.Encode(&b); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// readNoteRecord decodes a note record value into r.
func readNoteRecord(id uint64, v []byte, r *NoteRecord) error {
	var (
		note        []byte
		memo        []byte
		nullifier   [32]byte
		txID        [32]byte
		actionIndex uint32
		height      uint32
		received    uint64
		position    uint64
		spentTxID   [32]byte
		spentAction uint32
		spendHeight uint32
	)
	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(typeNote, &note),
		tlv.MakePrimitiveRecord(typeMemo, &memo),
		tlv.MakePrimitiveRecord(typeNullifier, &nullifier),
		tlv.MakePrimitiveRecord(typeTxID, &txID),
		tlv.MakePrimitiveRecord(typeActionIndex, &actionIndex),
		tlv.MakePrimitiveRecord(typeHeight, &height),
		tlv.MakePrimitiveRecord(typeReceived, &received),
		tlv.MakePrimitiveRecord(typePosition, &position),
		tlv.MakePrimitiveRecord(typeSpentTxID, &spentTxID),
		tlv.MakePrimitiveRecord(typeSpentAction, &spentAction),
		tlv.MakePrimitiveRecord(typeSpendHeight, &spendHeight),
	)
	if err != nil {
		return err
	}

	parsed, err := stream.DecodeWithParsedTypes(bytes.NewReader(v))
	if err != nil {
		str := fmt.Sprintf("failed to decode note %d", id)
		return storeError(ErrData, str, err)
	}
	if len(memo) != shielded.MemoSize {
		str := fmt.Sprintf("note %d has a %d byte memo", id, len(memo))
		return storeError(ErrData, str, nil)
	}
	if err := r.Note.Deserialize(note); err != nil {
		str := fmt.Sprintf("failed to decode note %d", id)
		return storeError(ErrData, str, err)
	}

	r.ID = id
	copy(r.Memo[:], memo)
	r.Nullifier = shielded.Nullifier(nullifier)
	r.OutPoint = OutPoint{
		TxID:        chainhash.Hash(txID),
		ActionIndex: actionIndex,
	}
	r.Height = int32(height)
	r.Received = time.Unix(int64(received), 0)

	r.Position = fn.None[uint64]()
	if _, ok := parsed[typePosition]; ok {
		r.Position = fn.Some(position)
	}

	r.SpentBy = fn.None[InPoint]()
	r.SpendHeight = 0
	if _, ok := parsed[typeSpentTxID]; ok {
		r.SpentBy = fn.Some(InPoint{
			TxID:        chainhash.Hash(spentTxID),
			ActionIndex: spentAction,
		})
		r.SpendHeight = int32(spendHeight)
	}

	return nil
}
