package wtxmgr

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/zsasuite/zsawallet/shielded"
)

// NoteStore persists the notes received by a wallet. Every method operates
// inside the caller's database transaction, so a block's worth of changes
// commits or aborts as a whole.
type NoteStore interface {
	// FindUnspent returns every unspent note sent to addr in asset, in
	// insertion order. Unwitnessed notes are included.
	FindUnspent(ns walletdb.ReadBucket, addr shielded.Address,
		asset shielded.AssetBase) ([]*NoteRecord, error)

	// FindByNullifier returns the note revealing nf when spent.
	FindByNullifier(ns walletdb.ReadBucket,
		nf shielded.Nullifier) (fn.Option[NoteRecord], error)

	// FindForTx returns the notes created by a transaction in action
	// order.
	FindForTx(ns walletdb.ReadBucket,
		txID chainhash.Hash) ([]*NoteRecord, error)

	// Insert stores a new note and returns its ID.
	Insert(ns walletdb.ReadWriteBucket, r *NoteRecord) (uint64, error)

	// MarkSpent records the action that revealed the nullifier of a note.
	MarkSpent(ns walletdb.ReadWriteBucket, id uint64, spentBy InPoint,
		height int32) error

	// SetPosition records the leaf position of a note's commitment.
	SetPosition(ns walletdb.ReadWriteBucket, id uint64, pos uint64) error

	// Rollback removes every note created above height and clears every
	// spend recorded above it.
	Rollback(ns walletdb.ReadWriteBucket, height int32) error

	// DeleteAll removes every note.
	DeleteAll(ns walletdb.ReadWriteBucket) error
}

// Store implements a note store backed by a walletdb namespace.
type Store struct {
	// clock stamps notes with the time they are received.
	clock clock.Clock
}

// A compile-time assertion to ensure that Store implements NoteStore.
var _ NoteStore = (*Store)(nil)

// Open opens the note store from a walletdb namespace.  If the store does not
// exist, ErrNoExists is returned.
func Open(ns walletdb.ReadBucket, clk clock.Clock) (*Store, error) {
	// Open the store.
	err := openStore(ns)
	if err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.NewDefaultClock()
	}
	return &Store{clock: clk}, nil
}

// Create creates a new persistent note store in the walletdb namespace.
// Creating the store when one already exists in this namespace will error
// with ErrAlreadyExists.
func Create(ns walletdb.ReadWriteBucket) error {
	return createStore(ns)
}

// FindUnspent returns every unspent note sent to addr in asset, ordered by
// ID.
func (s *Store) FindUnspent(ns walletdb.ReadBucket, addr shielded.Address,
	asset shielded.AssetBase) ([]*NoteRecord, error) {

	prefix := keyAddrAssetPrefix(addr, asset)
	ids, err := fetchPrefixIDs(ns, bucketAddrAsset, prefix, false)
	if err != nil {
		return nil, err
	}

	var unspent []*NoteRecord
	for _, id := range ids {
		r, err := fetchNoteRecord(ns, id)
		if err != nil {
			return nil, err
		}
		if r.SpentBy.IsNone() {
			unspent = append(unspent, r)
		}
	}
	return unspent, nil
}

// FindByNullifier returns the note with the nullifier, if stored.
func (s *Store) FindByNullifier(ns walletdb.ReadBucket,
	nf shielded.Nullifier) (fn.Option[NoteRecord], error) {

	v := existsRawNullifier(ns, &nf)
	if v == nil {
		return fn.None[NoteRecord](), nil
	}
	if len(v) != 8 {
		str := fmt.Sprintf("malformed index entry for nullifier %v", nf)
		return fn.None[NoteRecord](), storeError(ErrData, str, nil)
	}

	r, err := fetchNoteRecord(ns, extractNoteID(v))
	if err != nil {
		return fn.None[NoteRecord](), err
	}
	return fn.Some(*r), nil
}

// FindForTx returns the notes created by the transaction, ordered by action
// index.
func (s *Store) FindForTx(ns walletdb.ReadBucket,
	txID chainhash.Hash) ([]*NoteRecord, error) {

	ids, err := fetchPrefixIDs(ns, bucketTxNotes, keyTxPrefix(&txID), true)
	if err != nil {
		return nil, err
	}

	notes := make([]*NoteRecord, 0, len(ids))
	for _, id := range ids {
		r, err := fetchNoteRecord(ns, id)
		if err != nil {
			return nil, err
		}
		notes = append(notes, r)
	}
	return notes, nil
}

// Insert stores r under a fresh ID, which is written back to r.ID and
// returned. A note whose nullifier is already stored is the same note; its
// existing ID is returned and nothing is written.
func (s *Store) Insert(ns walletdb.ReadWriteBucket, r *NoteRecord) (uint64,
	error) {

	if v := existsRawNullifier(ns, &r.Nullifier); v != nil {
		if len(v) != 8 {
			str := fmt.Sprintf("malformed index entry for "+
				"nullifier %v", r.Nullifier)
			return 0, storeError(ErrData, str, nil)
		}
		r.ID = extractNoteID(v)
		log.Debugf("Note with nullifier %v already stored as %d",
			r.Nullifier, r.ID)
		return r.ID, nil
	}

	id, err := ns.NestedReadWriteBucket(bucketNotes).NextSequence()
	if err != nil {
		str := "failed to assign note ID"
		return 0, storeError(ErrDatabase, str, err)
	}
	r.ID = id
	if r.Received.IsZero() {
		r.Received = s.clock.Now()
	}

	if err := putNoteRecord(ns, r); err != nil {
		return 0, err
	}
	if err := putNoteIndexes(ns, r); err != nil {
		return 0, err
	}

	log.Debugf("Stored note %d of %d %v at %v", id, r.Note.Value,
		r.Note.Asset, r.OutPoint)
	return id, nil
}

// MarkSpent records that the note was spent by the action at the height.
// Marking a note again replaces the earlier spend.
func (s *Store) MarkSpent(ns walletdb.ReadWriteBucket, id uint64,
	spentBy InPoint, height int32) error {

	r, err := fetchNoteRecord(ns, id)
	if err != nil {
		return err
	}

	if r.SpentBy.IsSome() {
		k := keyHeightNote(r.SpendHeight, id)
		if err := deleteRawIndex(ns, bucketSpends, k); err != nil {
			return err
		}
	}

	r.SpentBy = fn.Some(spentBy)
	r.SpendHeight = height
	if err := putNoteRecord(ns, r); err != nil {
		return err
	}

	log.Debugf("Note %d spent by %v at height %d", id, spentBy, height)
	return putRawIndex(
		ns, bucketSpends, keyHeightNote(height, id), emptyValue,
	)
}

// SetPosition records the commitment tree position of the note.
func (s *Store) SetPosition(ns walletdb.ReadWriteBucket, id uint64,
	pos uint64) error {

	r, err := fetchNoteRecord(ns, id)
	if err != nil {
		return err
	}
	r.Position = fn.Some(pos)
	return putNoteRecord(ns, r)
}

// Rollback removes all notes created by blocks above height and clears the
// spends recorded by them, restoring the state the store had at height.
func (s *Store) Rollback(ns walletdb.ReadWriteBucket, height int32) error {
	spent, err := fetchIDsAbove(ns, bucketSpends, height)
	if err != nil {
		return err
	}
	for _, id := range spent {
		r, err := fetchNoteRecord(ns, id)
		if err != nil {
			return err
		}
		k := keyHeightNote(r.SpendHeight, id)
		if err := deleteRawIndex(ns, bucketSpends, k); err != nil {
			return err
		}
		r.SpentBy = fn.None[InPoint]()
		r.SpendHeight = 0
		if err := putNoteRecord(ns, r); err != nil {
			return err
		}
	}

	created, err := fetchIDsAbove(ns, bucketCreated, height)
	if err != nil {
		return err
	}
	for _, id := range created {
		r, err := fetchNoteRecord(ns, id)
		if err != nil {
			return err
		}
		if err := deleteNoteRecord(ns, r); err != nil {
			return err
		}
	}

	if len(spent) != 0 || len(created) != 0 {
		log.Infof("Rolled back %d notes and %d spends above height %d",
			len(created), len(spent), height)
	}
	return nil
}

// DeleteAll removes every note and index entry from the store. The ID
// sequence restarts.
func (s *Store) DeleteAll(ns walletdb.ReadWriteBucket) error {
	if err := deleteBuckets(ns); err != nil {
		return err
	}
	return createBuckets(ns)
}

// ForEachNote calls f with every stored note in ID order.
func (s *Store) ForEachNote(ns walletdb.ReadBucket,
	f func(*NoteRecord) error) error {

	return ns.NestedReadBucket(bucketNotes).ForEach(func(k, v []byte) error {
		if len(k) != 8 {
			str := "malformed note key"
			return storeError(ErrData, str, nil)
		}
		var r NoteRecord
		if err := readNoteRecord(extractNoteID(k), v, &r); err != nil {
			return err
		}
		return f(&r)
	})
}
