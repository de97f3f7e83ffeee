package wtxmgr

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/zsasuite/zsawallet/shielded"
)

// Naming
//
// The following variables are commonly used in this file and given
// reserved names:
//
//   ns: The namespace bucket for this package
//   b:  The primary bucket being operated on
//   k:  A single bucket key
//   v:  A single bucket value
//   c:  A bucket cursor
//   ck: The current cursor key
//   cv: The current cursor value
//
// Functions use the naming scheme `Op[Raw]Type[Field]`, which performs the
// operation `Op` on the type `Type`, optionally dealing with raw keys and
// values if `Raw` is used.  Fetch and extract operations may only need to read
// some portion of a key or value, in which case `Field` describes the component
// being returned.  The following operations are used:
//
//   key:     return a db key for some data
//   value:   return a db value for some data
//   put:     insert or replace a value into a bucket
//   fetch:   read and return a value
//   read:    read a value into an out parameter
//   exists:  return the raw (nil if not found) value for some data
//   delete:  remove a k/v pair
//   extract: perform an unchecked slice to extract a key or value

// Big endian is the preferred byte order, due to cursor scans over integer
// keys iterating in order.
var byteOrder = binary.BigEndian

// This package makes assumptions that the width of a chainhash.Hash is always
// 32 bytes.  Use a compile-time assertion that this assumption holds true.
var _ [32]byte = chainhash.Hash{}

// Bucket names
var (
	// bucketNotes maps a note ID to its record.
	bucketNotes = []byte("n")

	// bucketNullifiers maps a nullifier to the ID of its note.
	bucketNullifiers = []byte("nf")

	// bucketTxNotes maps txid||action index to the ID of the note the
	// action created.
	bucketTxNotes = []byte("tx")

	// bucketAddrAsset indexes note IDs by recipient address and asset.
	// Keys are addr||asset||id with empty values.
	bucketAddrAsset = []byte("aa")

	// bucketCreated indexes note IDs by creation height. Keys are
	// height||id with empty values.
	bucketCreated = []byte("ch")

	// bucketSpends indexes spent note IDs by spend height. Keys are
	// height||id with empty values.
	bucketSpends = []byte("sh")
)

// Root (namespace) bucket keys
var (
	rootCreateDate = []byte("date")
	rootVersion    = []byte("vers")
)

// emptyValue is stored in index buckets whose keys carry all the data.
var emptyValue = []byte{}

func keyNoteID(id uint64) []byte {
	var k [8]byte
	byteOrder.PutUint64(k[:], id)
	return k[:]
}

func extractNoteID(k []byte) uint64 {
	return byteOrder.Uint64(k[len(k)-8:])
}

// keyHeightNote returns the key of a height index entry.
func keyHeightNote(height int32, id uint64) []byte {
	k := make([]byte, 12)
	byteOrder.PutUint32(k[:4], uint32(height))
	byteOrder.PutUint64(k[4:], id)
	return k
}

func keyHeightPrefix(height int32) []byte {
	var k [4]byte
	byteOrder.PutUint32(k[:], uint32(height))
	return k[:]
}

func keyTxPrefix(txID *chainhash.Hash) []byte {
	return append([]byte(nil), txID[:]...)
}

func keyTxNote(op *OutPoint) []byte {
	k := make([]byte, 36)
	copy(k, op.TxID[:])
	byteOrder.PutUint32(k[32:], op.ActionIndex)
	return k
}

func keyAddrAssetPrefix(addr shielded.Address, asset shielded.AssetBase) []byte {
	k := make([]byte, 0, shielded.AddressSize+shielded.AssetBaseSize+8)
	k = append(k, addr.Bytes()...)
	k = append(k, asset[:]...)
	return k
}

func keyAddrAssetNote(r *NoteRecord) []byte {
	k := keyAddrAssetPrefix(r.Note.Recipient, r.Note.Asset)
	return append(k, keyNoteID(r.ID)...)
}

// putRawIndex stores an index entry in the named bucket.
func putRawIndex(ns walletdb.ReadWriteBucket, bucket, k, v []byte) error {
	err := ns.NestedReadWriteBucket(bucket).Put(k, v)
	if err != nil {
		str := fmt.Sprintf("failed to put %s index entry", bucket)
		return storeError(ErrDatabase, str, err)
	}
	return nil
}

// deleteRawIndex removes an index entry from the named bucket.
func deleteRawIndex(ns walletdb.ReadWriteBucket, bucket, k []byte) error {
	err := ns.NestedReadWriteBucket(bucket).Delete(k)
	if err != nil {
		str := fmt.Sprintf("failed to delete %s index entry", bucket)
		return storeError(ErrDatabase, str, err)
	}
	return nil
}

// putNoteRecord inserts or replaces the record of a note.
func putNoteRecord(ns walletdb.ReadWriteBucket, r *NoteRecord) error {
	v, err := valueNoteRecord(r)
	if err != nil {
		str := fmt.Sprintf("failed to serialize note %d", r.ID)
		return storeError(ErrInput, str, err)
	}
	err = ns.NestedReadWriteBucket(bucketNotes).Put(keyNoteID(r.ID), v)
	if err != nil {
		str := fmt.Sprintf("failed to store note %d", r.ID)
		return storeError(ErrDatabase, str, err)
	}
	return nil
}

// fetchNoteRecord loads the record of a note. ErrInput is returned for an
// unknown ID.
func fetchNoteRecord(ns walletdb.ReadBucket, id uint64) (*NoteRecord, error) {
	v := ns.NestedReadBucket(bucketNotes).Get(keyNoteID(id))
	if v == nil {
		str := fmt.Sprintf("note %d does not exist", id)
		return nil, storeError(ErrInput, str, nil)
	}
	var r NoteRecord
	if err := readNoteRecord(id, v, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// existsRawNullifier returns the raw ID of the note carrying nf, or nil.
func existsRawNullifier(ns walletdb.ReadBucket, nf *shielded.Nullifier) []byte {
	return ns.NestedReadBucket(bucketNullifiers).Get(nf[:])
}

// putNoteIndexes adds every index entry of a newly inserted note.
func putNoteIndexes(ns walletdb.ReadWriteBucket, r *NoteRecord) error {
	id := keyNoteID(r.ID)
	if err := putRawIndex(ns, bucketNullifiers, r.Nullifier[:], id); err != nil {
		return err
	}
	err := putRawIndex(ns, bucketTxNotes, keyTxNote(&r.OutPoint), id)
	if err != nil {
		return err
	}
	err = putRawIndex(ns, bucketAddrAsset, keyAddrAssetNote(r), emptyValue)
	if err != nil {
		return err
	}
	return putRawIndex(
		ns, bucketCreated, keyHeightNote(r.Height, r.ID), emptyValue,
	)
}

// deleteNoteRecord removes a note and every index entry referring to it.
func deleteNoteRecord(ns walletdb.ReadWriteBucket, r *NoteRecord) error {
	err := ns.NestedReadWriteBucket(bucketNotes).Delete(keyNoteID(r.ID))
	if err != nil {
		str := fmt.Sprintf("failed to delete note %d", r.ID)
		return storeError(ErrDatabase, str, err)
	}
	if err := deleteRawIndex(ns, bucketNullifiers, r.Nullifier[:]); err != nil {
		return err
	}
	if err := deleteRawIndex(ns, bucketTxNotes, keyTxNote(&r.OutPoint)); err != nil {
		return err
	}
	if err := deleteRawIndex(ns, bucketAddrAsset, keyAddrAssetNote(r)); err != nil {
		return err
	}
	err = deleteRawIndex(ns, bucketCreated, keyHeightNote(r.Height, r.ID))
	if err != nil {
		return err
	}
	if r.SpentBy.IsSome() {
		k := keyHeightNote(r.SpendHeight, r.ID)
		return deleteRawIndex(ns, bucketSpends, k)
	}
	return nil
}

// fetchPrefixIDs returns the note IDs of every key in the bucket starting
// with prefix, in key order. The IDs are read from the value if valueID is
// set and from the key suffix otherwise.
func fetchPrefixIDs(ns walletdb.ReadBucket, bucket, prefix []byte,
	valueID bool) ([]uint64, error) {

	var ids []uint64
	c := ns.NestedReadBucket(bucket).ReadCursor()
	for ck, cv := c.Seek(prefix); ck != nil && bytes.HasPrefix(ck, prefix); ck, cv = c.Next() {
		raw := ck
		if valueID {
			raw = cv
		}
		if len(raw) < 8 {
			str := fmt.Sprintf("short %s index entry", bucket)
			return nil, storeError(ErrData, str, nil)
		}
		ids = append(ids, extractNoteID(raw))
	}
	return ids, nil
}

// fetchIDsAbove returns the note IDs of a height index with a height above
// the given one.
func fetchIDsAbove(ns walletdb.ReadBucket, bucket []byte,
	height int32) ([]uint64, error) {

	var ids []uint64
	c := ns.NestedReadBucket(bucket).ReadCursor()
	for ck, _ := c.Seek(keyHeightPrefix(height + 1)); ck != nil; ck, _ = c.Next() {
		if len(ck) != 12 {
			str := fmt.Sprintf("malformed %s index entry", bucket)
			return nil, storeError(ErrData, str, nil)
		}
		ids = append(ids, extractNoteID(ck))
	}
	return ids, nil
}

// openStore opens an existing note store from the passed namespace.
func openStore(ns walletdb.ReadBucket) error {
	version, err := fetchVersion(ns)
	if err != nil {
		return err
	}

	latestVersion := getLatestVersion()
	if version < latestVersion {
		str := fmt.Sprintf("a database upgrade is required to upgrade "+
			"wtxmgr from recorded version %d to the latest version %d",
			version, latestVersion)
		return storeError(ErrNeedsUpgrade, str, nil)
	}

	if version > latestVersion {
		str := fmt.Sprintf("version recorded version %d is newer that "+
			"latest understood version %d", version, latestVersion)
		return storeError(ErrUnknownVersion, str, nil)
	}

	return nil
}

// createStore creates the note store (with the latest db version) in the
// passed namespace.  If a store already exists, ErrAlreadyExists is returned.
func createStore(ns walletdb.ReadWriteBucket) error {
	// Ensure that nothing currently exists in the namespace bucket.
	ck, cv := ns.ReadCursor().First()
	if ck != nil || cv != nil {
		const str = "namespace is not empty"
		return storeError(ErrAlreadyExists, str, nil)
	}

	// Write the latest store version.
	if err := putVersion(ns, getLatestVersion()); err != nil {
		return err
	}

	// Save the creation date of the store.
	var v [8]byte
	byteOrder.PutUint64(v[:], uint64(time.Now().Unix()))
	err := ns.Put(rootCreateDate, v[:])
	if err != nil {
		str := "failed to store database creation time"
		return storeError(ErrDatabase, str, err)
	}

	// Finally, create all of our required descendant buckets.
	return createBuckets(ns)
}

// noteBuckets lists every descendant bucket of the store.
var noteBuckets = [][]byte{
	bucketNotes, bucketNullifiers, bucketTxNotes, bucketAddrAsset,
	bucketCreated, bucketSpends,
}

// createBuckets creates all of the descendants buckets required for the
// note store to properly carry its duties.
func createBuckets(ns walletdb.ReadWriteBucket) error {
	for _, name := range noteBuckets {
		if _, err := ns.CreateBucket(name); err != nil {
			str := fmt.Sprintf("failed to create %s bucket", name)
			return storeError(ErrDatabase, str, err)
		}
	}
	return nil
}

// deleteBuckets deletes all of the descendants buckets required for the
// note store to properly carry its duties.
func deleteBuckets(ns walletdb.ReadWriteBucket) error {
	for _, name := range noteBuckets {
		if err := ns.DeleteNestedBucket(name); err != nil {
			str := fmt.Sprintf("failed to delete %s bucket", name)
			return storeError(ErrDatabase, str, err)
		}
	}
	return nil
}

// putVersion modifies the version of the store to reflect the given version
// number.
func putVersion(ns walletdb.ReadWriteBucket, version uint32) error {
	var v [4]byte
	byteOrder.PutUint32(v[:], version)
	if err := ns.Put(rootVersion, v[:]); err != nil {
		str := "failed to store database version"
		return storeError(ErrDatabase, str, err)
	}

	return nil
}

// fetchVersion fetches the current version of the store.
func fetchVersion(ns walletdb.ReadBucket) (uint32, error) {
	v := ns.Get(rootVersion)
	if len(v) != 4 {
		str := "no note store exists in namespace"
		return 0, storeError(ErrNoExists, str, nil)
	}

	return byteOrder.Uint32(v), nil
}
