package wtxmgr

import (
	"bytes"
	"crypto/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcwallet/walletdb"
	_ "github.com/btcsuite/btcwallet/walletdb/bdb"
	"github.com/btcsuite/btcwallet/walletdb/migration"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/require"
	"github.com/zsasuite/zsawallet/shielded"
)

var (
	namespaceKey = []byte("wtxmgr")

	testTime = time.Unix(1700000000, 0)
)

func setupStore(t *testing.T) (walletdb.DB, *Store) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "notes.db")
	db, err := walletdb.Create("bdb", dbPath, true, time.Second*10, false)
	require.NoError(t, err)
	t.Cleanup(func() {
		db.Close()
	})

	var s *Store
	err = walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		ns, err := tx.CreateTopLevelBucket(namespaceKey)
		if err != nil {
			return err
		}
		if err := Create(ns); err != nil {
			return err
		}
		s, err = Open(ns, clock.NewTestClock(testTime))
		return err
	})
	require.NoError(t, err)
	return db, s
}

func update(t *testing.T, db walletdb.DB,
	f func(ns walletdb.ReadWriteBucket)) {

	t.Helper()

	err := walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		f(tx.ReadWriteBucket(namespaceKey))
		return nil
	})
	require.NoError(t, err)
}

func view(t *testing.T, db walletdb.DB, f func(ns walletdb.ReadBucket)) {
	t.Helper()

	err := walletdb.View(db, func(tx walletdb.ReadTx) error {
		f(tx.ReadBucket(namespaceKey))
		return nil
	})
	require.NoError(t, err)
}

func testAddress(t *testing.T, account uint32) shielded.Address {
	t.Helper()

	seed := bytes.Repeat([]byte{0x33}, 32)
	sk, err := shielded.SpendingKeyFromSeed(seed, 1, account)
	require.NoError(t, err)
	addr, err := sk.FullViewingKey().AddressAt(0, shielded.ExternalScope)
	require.NoError(t, err)
	return addr
}

func testRecord(t *testing.T, addr shielded.Address, value uint64,
	asset shielded.AssetBase, height int32, index uint32) *NoteRecord {

	t.Helper()

	var rho shielded.Nullifier
	_, err := rand.Read(rho[:])
	require.NoError(t, err)
	note, err := shielded.NewNote(addr, value, asset, rho, rand.Reader)
	require.NoError(t, err)

	var nf shielded.Nullifier
	_, err = rand.Read(nf[:])
	require.NoError(t, err)

	return &NoteRecord{
		Note:      note,
		Memo:      shielded.MemoFromText("hi"),
		Nullifier: nf,
		OutPoint: OutPoint{
			TxID:        chainhash.DoubleHashH([]byte{byte(height)}),
			ActionIndex: index,
		},
		Height: height,
	}
}

func insert(t *testing.T, db walletdb.DB, s *Store, recs ...*NoteRecord) {
	t.Helper()

	update(t, db, func(ns walletdb.ReadWriteBucket) {
		for _, r := range recs {
			_, err := s.Insert(ns, r)
			require.NoError(t, err)
		}
	})
}

func values(recs []*NoteRecord) []uint64 {
	vals := make([]uint64, 0, len(recs))
	for _, r := range recs {
		vals = append(vals, r.Note.Value)
	}
	return vals
}

func TestInsertFind(t *testing.T) {
	t.Parallel()

	db, s := setupStore(t)
	alice, bob := testAddress(t, 0), testAddress(t, 1)
	asset := shielded.DeriveAsset(
		shielded.IssuanceValidatingKey{1}, shielded.AssetDescHash("x"),
	)

	a1 := testRecord(t, alice, 10, shielded.NativeAsset, 1, 0)
	a2 := testRecord(t, alice, 20, shielded.NativeAsset, 1, 1)
	a3 := testRecord(t, alice, 30, asset, 2, 0)
	b1 := testRecord(t, bob, 40, shielded.NativeAsset, 2, 1)
	insert(t, db, s, a1, a2, a3, b1)
	require.Equal(t, []uint64{1, 2, 3, 4}, []uint64{a1.ID, a2.ID, a3.ID, b1.ID})

	view(t, db, func(ns walletdb.ReadBucket) {
		got, err := s.FindUnspent(ns, alice, shielded.NativeAsset)
		require.NoError(t, err)
		require.Equal(t, []uint64{10, 20}, values(got))
		require.Equal(t, testTime, got[0].Received)
		require.Equal(t, a1.Memo, got[0].Memo)
		require.True(t, got[0].Position.IsNone())
		require.False(t, got[0].Spendable())

		got, err = s.FindUnspent(ns, alice, asset)
		require.NoError(t, err)
		require.Equal(t, []uint64{30}, values(got))

		got, err = s.FindForTx(ns, a1.OutPoint.TxID)
		require.NoError(t, err)
		require.Equal(t, []uint64{10, 20}, values(got))

		found, err := s.FindByNullifier(ns, b1.Nullifier)
		require.NoError(t, err)
		rec := found.UnwrapOrFail(t)
		require.Equal(t, b1.ID, rec.ID)
		require.Equal(t, b1.Note, rec.Note)
		require.Equal(t, b1.OutPoint, rec.OutPoint)

		missing, err := s.FindByNullifier(ns, shielded.Nullifier{9})
		require.NoError(t, err)
		require.True(t, missing.IsNone())
	})

	// Inserting the same note again is a no-op.
	dup := *a2
	dup.ID = 0
	insert(t, db, s, &dup)
	require.Equal(t, a2.ID, dup.ID)
	view(t, db, func(ns walletdb.ReadBucket) {
		got, err := s.FindUnspent(ns, alice, shielded.NativeAsset)
		require.NoError(t, err)
		require.Len(t, got, 2)
	})
}

func TestSpendAndPosition(t *testing.T) {
	t.Parallel()

	db, s := setupStore(t)
	alice := testAddress(t, 0)
	r := testRecord(t, alice, 10, shielded.NativeAsset, 1, 0)
	insert(t, db, s, r)

	update(t, db, func(ns walletdb.ReadWriteBucket) {
		require.NoError(t, s.SetPosition(ns, r.ID, 7))
	})
	view(t, db, func(ns walletdb.ReadBucket) {
		got, err := s.FindUnspent(ns, alice, shielded.NativeAsset)
		require.NoError(t, err)
		require.Len(t, got, 1)
		require.Equal(t, uint64(7), got[0].Position.UnwrapOrFail(t))
		require.True(t, got[0].Spendable())
	})

	in := InPoint{TxID: chainhash.Hash{5}, ActionIndex: 2}
	update(t, db, func(ns walletdb.ReadWriteBucket) {
		require.NoError(t, s.MarkSpent(ns, r.ID, in, 3))
		err := s.MarkSpent(ns, 99, in, 3)
		require.True(t, IsError(err, ErrInput))
	})
	view(t, db, func(ns walletdb.ReadBucket) {
		got, err := s.FindUnspent(ns, alice, shielded.NativeAsset)
		require.NoError(t, err)
		require.Empty(t, got)

		found, err := s.FindByNullifier(ns, r.Nullifier)
		require.NoError(t, err)
		rec := found.UnwrapOrFail(t)
		require.Equal(t, in, rec.SpentBy.UnwrapOrFail(t))
		require.Equal(t, int32(3), rec.SpendHeight)
		require.Equal(t, uint64(7), rec.Position.UnwrapOrFail(t))
	})
}

func TestRollback(t *testing.T) {
	t.Parallel()

	db, s := setupStore(t)
	alice := testAddress(t, 0)
	old := testRecord(t, alice, 10, shielded.NativeAsset, 5, 0)
	spentOld := testRecord(t, alice, 20, shielded.NativeAsset, 5, 1)
	fresh := testRecord(t, alice, 30, shielded.NativeAsset, 6, 0)
	insert(t, db, s, old, spentOld, fresh)

	update(t, db, func(ns walletdb.ReadWriteBucket) {
		in := InPoint{TxID: chainhash.Hash{6}}
		require.NoError(t, s.MarkSpent(ns, spentOld.ID, in, 6))
		require.NoError(t, s.Rollback(ns, 5))
	})

	view(t, db, func(ns walletdb.ReadBucket) {
		got, err := s.FindUnspent(ns, alice, shielded.NativeAsset)
		require.NoError(t, err)
		require.Equal(t, []uint64{10, 20}, values(got))

		found, err := s.FindByNullifier(ns, fresh.Nullifier)
		require.NoError(t, err)
		require.True(t, found.IsNone())

		notes, err := s.FindForTx(ns, fresh.OutPoint.TxID)
		require.NoError(t, err)
		require.Empty(t, notes)
	})

	// Rolling back to a height above every note changes nothing.
	update(t, db, func(ns walletdb.ReadWriteBucket) {
		require.NoError(t, s.Rollback(ns, 100))
	})

	update(t, db, func(ns walletdb.ReadWriteBucket) {
		require.NoError(t, s.DeleteAll(ns))
	})
	view(t, db, func(ns walletdb.ReadBucket) {
		got, err := s.FindUnspent(ns, alice, shielded.NativeAsset)
		require.NoError(t, err)
		require.Empty(t, got)
	})
}

func TestOpenVersions(t *testing.T) {
	t.Parallel()

	db, _ := setupStore(t)

	err := walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		ns := tx.ReadWriteBucket(namespaceKey)
		require.True(t, IsError(Create(ns), ErrAlreadyExists))

		require.NoError(t, putVersion(ns, getLatestVersion()+1))
		_, err := Open(ns, nil)
		require.True(t, IsError(err, ErrUnknownVersion))

		empty, err := tx.CreateTopLevelBucket([]byte("empty"))
		require.NoError(t, err)
		_, err = Open(empty, nil)
		require.True(t, IsNoExists(err))
		return nil
	})
	require.NoError(t, err)
}

func TestMigrationAddrAssetIndex(t *testing.T) {
	t.Parallel()

	db, s := setupStore(t)
	alice := testAddress(t, 0)
	insert(t, db, s,
		testRecord(t, alice, 10, shielded.NativeAsset, 1, 0),
		testRecord(t, alice, 20, shielded.NativeAsset, 2, 0),
	)

	// Roll the store back to the first version, which had no address
	// index.
	update(t, db, func(ns walletdb.ReadWriteBucket) {
		require.NoError(t, ns.DeleteNestedBucket(bucketAddrAsset))
		require.NoError(t, putVersion(ns, 1))
		_, err := Open(ns, nil)
		require.True(t, IsError(err, ErrNeedsUpgrade))
	})

	update(t, db, func(ns walletdb.ReadWriteBucket) {
		require.NoError(t, migration.Upgrade(NewMigrationManager(ns)))
	})

	view(t, db, func(ns walletdb.ReadBucket) {
		version, err := fetchVersion(ns)
		require.NoError(t, err)
		require.Equal(t, getLatestVersion(), version)

		got, err := s.FindUnspent(ns, alice, shielded.NativeAsset)
		require.NoError(t, err)
		require.Equal(t, []uint64{10, 20}, values(got))
	})
}
