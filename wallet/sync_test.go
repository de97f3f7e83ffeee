package wallet

import (
	"context"
	"crypto/rand"
	"testing"

	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"
	"github.com/zsasuite/zsawallet/chain"
	"github.com/zsasuite/zsawallet/netparams"
	"github.com/zsasuite/zsawallet/shielded"
	"github.com/zsasuite/zsawallet/wallet/txauthor"
	"github.com/zsasuite/zsawallet/waddrmgr"
	"github.com/zsasuite/zsawallet/wtxmgr"
)

func TestSyncReceiveAndSpend(t *testing.T) {
	t.Parallel()

	w, c := testWallet(t, testSeed(), 10)
	addr := address(t, w, 0)

	pay := payTx(t,
		output{addr: strangerAddress(t), value: 5, asset: testAsset},
		output{addr: addr, value: 1000, asset: testAsset},
	)
	legacy := &shielded.Transaction{Version: 4}
	addBlock(t, c, legacy, pay)
	syncWallet(t, w)

	notes := unspent(t, w, addr, testAsset)
	require.Len(t, notes, 1)
	got := notes[0]
	require.Equal(t, uint64(1000), got.Note.Value)
	require.Equal(t, int32(10), got.Height)
	require.Equal(t, wtxmgr.OutPoint{
		TxID:        pay.TxHash(),
		ActionIndex: 1,
	}, got.OutPoint)
	require.Equal(t, shielded.MemoFromText("test"), got.Memo)
	require.Equal(t, fn.Some(uint64(1)), got.Position)
	require.True(t, got.Spendable())
	require.True(t, testStart.Equal(got.Received))
	require.Equal(t, uint64(3), w.TreeSize())
	require.Empty(t, unspent(t, w, addr, shielded.NativeAsset))

	balance, err := w.Balance(addr, testAsset)
	require.NoError(t, err)
	require.Equal(t, uint64(1000), balance)

	// Revealing the nullifier spends the note.
	spend := spendTx(t, got.Nullifier, 990)
	addBlock(t, c, spend)
	syncWallet(t, w)

	require.Empty(t, unspent(t, w, addr, testAsset))
	notes = notesForTx(t, w, pay)
	require.Len(t, notes, 1)
	require.Equal(t, fn.Some(wtxmgr.InPoint{
		TxID:        spend.TxHash(),
		ActionIndex: 0,
	}), notes[0].SpentBy)
	require.Equal(t, int32(11), notes[0].SpendHeight)

	bs := w.Manager.SyncedTo().UnwrapOrFail(t)
	require.Equal(t, int32(11), bs.Height)
	require.Equal(t, SyncState{Status: StatusIdle, Height: 11},
		w.SyncState())
}

func TestIngestBlockOrder(t *testing.T) {
	t.Parallel()

	w, c := testWallet(t, testSeed(), 10)
	addr := address(t, w, 0)

	b10 := addBlock(t, c, payTx(t, output{addr, 7, testAsset}))
	b11 := addBlock(t, c)

	var orderErr *BlockOrderError
	err := w.IngestBlock(b11, nil)
	require.ErrorAs(t, err, &orderErr)
	require.Equal(t, &BlockOrderError{Expected: 10, Actual: 11}, orderErr)

	txs, err := w.fetchBlockTxs(b10)
	require.NoError(t, err)
	require.NoError(t, w.IngestBlock(b10, txs))

	size := w.TreeSize()
	anchor, err := w.Anchor()
	require.NoError(t, err)
	before := unspent(t, w, addr, testAsset)

	// Ingesting the synced block again changes nothing.
	require.NoError(t, w.IngestBlock(b10, txs))
	require.Equal(t, size, w.TreeSize())
	again, err := w.Anchor()
	require.NoError(t, err)
	require.Equal(t, anchor, again)
	require.Equal(t, before, unspent(t, w, addr, testAsset))

	orphan := *b11
	orphan.PrevHash = b11.Hash
	require.ErrorIs(t, w.IngestBlock(&orphan, nil), ErrPrevBlockMismatch)

	require.NoError(t, w.IngestBlock(b11, nil))
	require.Equal(t, b11.Hash, w.Manager.SyncedTo().UnwrapOrFail(t).Hash)
}

func TestUnwitnessedNote(t *testing.T) {
	t.Parallel()

	w, c := testWallet(t, testSeed(), 10)
	addr := address(t, w, 0)

	addBlock(t, c, payTx(t, output{addr, 1, testAsset}))
	syncWallet(t, w)

	pay := payTx(t, output{addr, 50, testAsset})
	act := &pay.Actions[0]
	ivk, err := w.Manager.IVKForAddress(addr)
	require.NoError(t, err)
	note, memo, ok := act.TryDecrypt(&ivk)
	require.True(t, ok)
	fvk, ok := w.Manager.FVKForIVK(ivk)
	require.True(t, ok)

	// The note is known before its transaction is mined, so it has no
	// position yet.
	rec := &wtxmgr.NoteRecord{
		Note:      note,
		Memo:      memo,
		Nullifier: note.Nullifier(&fvk),
		OutPoint:  wtxmgr.OutPoint{TxID: pay.TxHash()},
		Height:    11,
	}
	err = walletdb.Update(w.db, func(tx walletdb.ReadWriteTx) error {
		ns := tx.ReadWriteBucket(wtxmgrNamespaceKey)
		_, err := w.TxStore.Insert(ns, rec)
		return err
	})
	require.NoError(t, err)

	notes := notesForTx(t, w, pay)
	require.Len(t, notes, 1)
	require.True(t, notes[0].Position.IsNone())
	require.False(t, notes[0].Spendable())

	_, err = w.SelectSpendableNotes(addr, 2, testAsset)
	var fundsErr *txauthor.InsufficientFundsError
	require.ErrorAs(t, err, &fundsErr)
	require.Equal(t, uint64(1), fundsErr.Available)

	addBlock(t, c, pay)
	syncWallet(t, w)

	notes = notesForTx(t, w, pay)
	require.Len(t, notes, 1)
	require.Equal(t, rec.ID, notes[0].ID)
	require.Equal(t, fn.Some(uint64(2)), notes[0].Position)

	plan, err := w.SelectSpendableNotes(addr, 2, testAsset)
	require.NoError(t, err)
	require.Equal(t, []uint64{1, 50}, values(planRecords(plan)))
}

func TestSyncReorg(t *testing.T) {
	t.Parallel()

	w, c := testWallet(t, testSeed(), 5)
	addr := address(t, w, 0)

	addBlock(t, c, payTx(t, output{addr, 100, testAsset}))
	b6 := addBlock(t, c, payTx(t, output{addr, 200, testAsset}))
	syncWallet(t, w)
	require.Equal(t, []uint64{100, 200}, values(unspent(t, w, addr, testAsset)))
	require.Equal(t, uint64(4), w.TreeSize())

	// Replace block 6 with a block carrying a different note.
	c.Disconnect(6)
	b6b := addBlock(t, c, payTx(t, output{addr, 300, testAsset}))
	require.NotEqual(t, b6.Hash, b6b.Hash)
	syncWallet(t, w)

	require.Equal(t, []uint64{100, 300}, values(unspent(t, w, addr, testAsset)))
	require.Equal(t, uint64(4), w.TreeSize())
	bs := w.Manager.SyncedTo().UnwrapOrFail(t)
	require.Equal(t, int32(6), bs.Height)
	require.Equal(t, b6b.Hash, bs.Hash)

	// A longer replacement branch is detected by its first block.
	c.Disconnect(6)
	addBlock(t, c)
	addBlock(t, c, payTx(t, output{addr, 400, testAsset}))
	syncWallet(t, w)

	require.Equal(t, []uint64{100, 400}, values(unspent(t, w, addr, testAsset)))
	require.Equal(t, int32(7), w.Manager.SyncedTo().UnwrapOrFail(t).Height)

	// Every witness still leads to the current anchor.
	plan, err := w.SelectSpendableNotes(addr, 500, testAsset)
	require.NoError(t, err)
	require.NoError(t, plan.Verify())
	require.Len(t, plan.Inputs, 2)
}

func TestReorgSpend(t *testing.T) {
	t.Parallel()

	w, c := testWallet(t, testSeed(), 5)
	addr := address(t, w, 0)

	addBlock(t, c, payTx(t, output{addr, 100, testAsset}))
	syncWallet(t, w)
	nf := unspent(t, w, addr, testAsset)[0].Nullifier

	addBlock(t, c, spendTx(t, nf, 100))
	syncWallet(t, w)
	require.Empty(t, unspent(t, w, addr, testAsset))

	// The spend is reorganized out, so the note is unspent again.
	c.Disconnect(6)
	addBlock(t, c)
	syncWallet(t, w)
	notes := unspent(t, w, addr, testAsset)
	require.Len(t, notes, 1)
	require.True(t, notes[0].SpentBy.IsNone())
	require.True(t, notes[0].Spendable())
}

func TestReorgBelowBirthday(t *testing.T) {
	t.Parallel()

	w, c := testWallet(t, testSeed(), 5)
	addr := address(t, w, 0)

	addBlock(t, c, payTx(t, output{addr, 100, testAsset}))
	syncWallet(t, w)

	c.Disconnect(5)
	addBlock(t, c, payTx(t, output{addr, 3, testAsset}))
	syncWallet(t, w)

	require.Equal(t, []uint64{3}, values(unspent(t, w, addr, testAsset)))
	require.Equal(t, int32(5), w.Manager.SyncedTo().UnwrapOrFail(t).Height)
}

func TestRescanRequired(t *testing.T) {
	t.Parallel()

	w, c := testWallet(t, testSeed(), 10)
	addr := address(t, w, 0)

	addBlock(t, c, payTx(t, output{addr, 100, testAsset}))
	for i := 0; i < 104; i++ {
		addBlock(t, c)
	}
	syncWallet(t, w)
	require.Equal(t, int32(114), w.Manager.SyncedTo().UnwrapOrFail(t).Height)

	// Only the last hundred checkpoints are retained, which is not
	// enough to reach a fork point at height 12.
	c.Disconnect(13)
	addBlock(t, c)
	err := w.Sync(context.Background())
	require.ErrorIs(t, err, ErrRescanRequired)

	// The rescan starts from scratch.
	require.NoError(t, w.SyncFrom(context.Background(), 10))
	require.Equal(t, []uint64{100}, values(unspent(t, w, addr, testAsset)))
	require.Equal(t, int32(13), w.Manager.SyncedTo().UnwrapOrFail(t).Height)
}

func TestResetAndSyncFrom(t *testing.T) {
	t.Parallel()

	w, c := testWallet(t, testSeed(), 10)
	addr := address(t, w, 0)

	addBlock(t, c, payTx(t, output{addr, 1, testAsset}))
	addBlock(t, c, payTx(t, output{addr, 2, testAsset}))
	addBlock(t, c, payTx(t, output{addr, 3, testAsset}))
	syncWallet(t, w)
	anchor, err := w.Anchor()
	require.NoError(t, err)

	require.NoError(t, w.Reset())
	require.Empty(t, unspent(t, w, addr, testAsset))
	require.Zero(t, w.TreeSize())
	require.True(t, w.Manager.SyncedTo().IsNone())
	require.Equal(t, int32(10), w.Manager.NextHeight())

	syncWallet(t, w)
	require.Equal(t, []uint64{1, 2, 3}, values(unspent(t, w, addr, testAsset)))
	again, err := w.Anchor()
	require.NoError(t, err)
	require.Equal(t, anchor, again)

	// Starting later skips the earlier blocks.
	require.NoError(t, w.SyncFrom(context.Background(), 12))
	require.Equal(t, []uint64{3}, values(unspent(t, w, addr, testAsset)))
	require.Equal(t, int32(12), w.Manager.BirthdayHeight())
	require.Equal(t, uint64(2), w.TreeSize())
}

func TestSyncCancel(t *testing.T) {
	t.Parallel()

	w, c := testWallet(t, testSeed(), 10)
	addBlock(t, c)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, w.Sync(ctx), context.Canceled)
	require.True(t, w.Manager.SyncedTo().IsNone())
}

func TestIssuedNotes(t *testing.T) {
	t.Parallel()

	w, c := testWallet(t, testSeed(), 10)
	addr := address(t, w, 0)

	ik, err := w.Manager.IssuanceKey()
	require.NoError(t, err)
	descHash := shielded.AssetDescHash("gold")
	asset, err := w.Manager.Asset(descHash)
	require.NoError(t, err)

	issued, err := shielded.NewNote(addr, 21, asset, shielded.Nullifier{1},
		rand.Reader)
	require.NoError(t, err)
	foreign, err := shielded.NewNote(strangerAddress(t), 5, asset,
		shielded.Nullifier{2}, rand.Reader)
	require.NoError(t, err)

	tx := payTx(t)
	tx.Issuance = &shielded.IssueBundle{Actions: []shielded.IssueAction{{
		AssetDescHash: descHash,
		Notes:         []shielded.Note{foreign, issued},
	}}}
	require.NoError(t, tx.Issuance.Sign(ik))
	addBlock(t, c, tx)
	syncWallet(t, w)

	notes := unspent(t, w, addr, asset)
	require.Len(t, notes, 1)
	require.Equal(t, uint64(21), notes[0].Note.Value)
	require.Equal(t, uint32(2), notes[0].OutPoint.ActionIndex)
	require.Equal(t, shielded.EmptyMemo, notes[0].Memo)
	require.Equal(t, fn.Some(uint64(2)), notes[0].Position)
}

func TestDiversifiedAddresses(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	params := &netparams.RegTestParams
	require.NoError(t, Create(db, testSeed(), params, 10))
	c := chain.NewSimChain(10)
	w, err := Open(db, testSeed(), params, c, nil)
	require.NoError(t, err)

	ivk, err := w.Manager.IVKForAddress(address(t, w, 0))
	require.NoError(t, err)
	diversified, err := ivk.AddressAt(9)
	require.NoError(t, err)
	_, err = w.Manager.IVKForAddress(diversified)
	require.True(t, waddrmgr.IsError(err, waddrmgr.ErrAddressNotFound))

	addBlock(t, c, payTx(t, output{diversified, 8, testAsset}))
	syncWallet(t, w)

	// The address is registered once a note to it is found.
	got, err := w.Manager.IVKForAddress(diversified)
	require.NoError(t, err)
	require.Equal(t, ivk, got)
	w.Close()

	// Reopening registers it again from the stored notes.
	w, err = Open(db, testSeed(), params, c, nil)
	require.NoError(t, err)
	defer w.Close()

	got, err = w.Manager.IVKForAddress(diversified)
	require.NoError(t, err)
	require.Equal(t, ivk, got)
	require.Equal(t, []uint64{8}, values(unspent(t, w, diversified, testAsset)))
	require.Equal(t, int32(11), w.Manager.NextHeight())

	plan, err := w.SelectSpendableNotes(diversified, 8, testAsset)
	require.NoError(t, err)
	require.NoError(t, plan.Verify())
}

func TestWatchingOnly(t *testing.T) {
	t.Parallel()

	spender, _ := testWallet(t, testSeed(), 10)
	addr := address(t, spender, 0)
	sk := spender.Manager.ResolveSpendingKey(addr).UnwrapOrFail(t)

	w, c := testWallet(t, nil, 10)
	addrs, err := w.ImportFullViewingKey(sk.FullViewingKey())
	require.NoError(t, err)
	require.Equal(t, addr, addrs[shielded.ExternalScope])

	addBlock(t, c, payTx(t, output{addr, 42, testAsset}))
	syncWallet(t, w)

	balance, err := w.Balance(addr, testAsset)
	require.NoError(t, err)
	require.Equal(t, uint64(42), balance)

	_, err = w.SelectSpendableNotes(addr, 1, testAsset)
	require.ErrorIs(t, err, ErrNoSpendingKey)

	// Importing the spending key makes the notes spendable.
	_, err = w.ImportSpendingKey(sk)
	require.NoError(t, err)
	plan, err := w.SelectSpendableNotes(addr, 1, testAsset)
	require.NoError(t, err)
	require.Equal(t, uint64(41), plan.Change)
}
