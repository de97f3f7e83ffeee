package wallet

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/zsasuite/zsawallet/commitmenttree"
	"github.com/zsasuite/zsawallet/shielded"
	"github.com/zsasuite/zsawallet/wallet/txauthor"
	"github.com/zsasuite/zsawallet/wtxmgr"
)

func planRecords(plan *txauthor.SpendPlan) []*wtxmgr.NoteRecord {
	recs := make([]*wtxmgr.NoteRecord, 0, len(plan.Inputs))
	for _, in := range plan.Inputs {
		recs = append(recs, in.Record)
	}
	return recs
}

func TestSelectSpendableNotes(t *testing.T) {
	t.Parallel()

	w, c := testWallet(t, testSeed(), 10)
	addr := address(t, w, 0)
	addBlock(t, c, payTx(t, output{addr, 1000, testAsset}))
	syncWallet(t, w)

	plan, err := w.SelectSpendableNotes(addr, 600, testAsset)
	require.NoError(t, err)
	require.Len(t, plan.Inputs, 1)
	require.Equal(t, uint64(1000), plan.Total)
	require.Equal(t, uint64(400), plan.Change)
	require.Equal(t, testAsset, plan.Asset)
	require.NoError(t, plan.Verify())

	anchor, err := w.Anchor()
	require.NoError(t, err)
	require.Equal(t, anchor, plan.Anchor)

	sk := w.Manager.ResolveSpendingKey(addr).UnwrapOrFail(t)
	require.Equal(t, sk, plan.Inputs[0].SpendingKey)

	_, err = w.SelectSpendableNotes(addr, 1500, testAsset)
	var fundsErr *txauthor.InsufficientFundsError
	require.ErrorAs(t, err, &fundsErr)
	require.Equal(t, &txauthor.InsufficientFundsError{
		Required:  1500,
		Available: 1000,
	}, fundsErr)

	// Other assets and unknown addresses do not mix in.
	_, err = w.SelectSpendableNotes(addr, 1, shielded.NativeAsset)
	require.ErrorAs(t, err, &fundsErr)
	require.Zero(t, fundsErr.Available)

	_, err = w.SelectSpendableNotes(strangerAddress(t), 1, testAsset)
	require.ErrorIs(t, err, ErrNoSpendingKey)
}

func TestSelectFirstFit(t *testing.T) {
	t.Parallel()

	w, c := testWallet(t, testSeed(), 10)
	addr := address(t, w, 0)
	change, err := w.AccountAddress(0, shielded.InternalScope)
	require.NoError(t, err)

	addBlock(t, c, payTx(t,
		output{addr, 30, testAsset},
		output{change, 1000, testAsset},
		output{addr, 20, testAsset},
	))
	addBlock(t, c, payTx(t, output{addr, 50, testAsset}))
	syncWallet(t, w)

	tests := []struct {
		name   string
		amount uint64
		values []uint64
		change uint64
	}{
		{"zero", 0, []uint64{}, 0},
		{"first note", 30, []uint64{30}, 0},
		{"two notes", 31, []uint64{30, 20}, 19},
		{"all notes", 100, []uint64{30, 20, 50}, 0},
	}
	for _, test := range tests {
		plan, err := w.SelectSpendableNotes(addr, test.amount, testAsset)
		require.NoError(t, err, test.name)
		require.Equal(t, test.values, values(planRecords(plan)), test.name)
		require.Equal(t, test.change, plan.Change, test.name)
		require.NoError(t, plan.Verify(), test.name)

		// Selection only depends on the store.
		again, err := w.SelectSpendableNotes(addr, test.amount, testAsset)
		require.NoError(t, err, test.name)
		require.Equal(t, plan, again, test.name)
	}

	plan, err := w.SelectSpendableNotes(change, 1, testAsset)
	require.NoError(t, err)
	require.Equal(t, []uint64{1000}, values(planRecords(plan)))
}

func TestSelectAtDepth(t *testing.T) {
	t.Parallel()

	w, c := testWallet(t, testSeed(), 10)
	addr := address(t, w, 0)

	addBlock(t, c, payTx(t, output{addr, 10, testAsset}))
	addBlock(t, c, payTx(t, output{addr, 20, testAsset}))
	addBlock(t, c)
	syncWallet(t, w)

	// Depth 1 is the tree at the latest checkpoint, which holds every
	// note.
	plan, err := w.SelectSpendableNotesAtDepth(addr, 30, testAsset, 1)
	require.NoError(t, err)
	require.NoError(t, plan.Verify())

	// At depth 3 only the first block's note was part of the tree.
	plan, err = w.SelectSpendableNotesAtDepth(addr, 10, testAsset, 3)
	require.NoError(t, err)
	require.Equal(t, []uint64{10}, values(planRecords(plan)))
	require.NoError(t, plan.Verify())

	_, err = w.SelectSpendableNotesAtDepth(addr, 20, testAsset, 3)
	var fundsErr *txauthor.InsufficientFundsError
	require.ErrorAs(t, err, &fundsErr)
	require.Equal(t, uint64(10), fundsErr.Available)

	_, err = w.SelectSpendableNotesAtDepth(addr, 1, testAsset, 4)
	var depthErr *commitmenttree.CheckpointDepthError
	require.ErrorAs(t, err, &depthErr)
}

func TestSpendPlanVerify(t *testing.T) {
	t.Parallel()

	w, c := testWallet(t, testSeed(), 10)
	addr := address(t, w, 0)
	addBlock(t, c, payTx(t, output{addr, 10, testAsset}))
	syncWallet(t, w)

	plan, err := w.SelectSpendableNotes(addr, 10, testAsset)
	require.NoError(t, err)
	require.NoError(t, plan.Verify())

	plan.Anchor[0] ^= 1
	require.Error(t, plan.Verify())
	plan.Anchor[0] ^= 1

	plan.Asset = shielded.NativeAsset
	require.Error(t, plan.Verify())
	plan.Asset = testAsset

	plan.Total++
	require.Error(t, plan.Verify())
}
