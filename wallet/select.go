package wallet

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/zsasuite/zsawallet/commitmenttree"
	"github.com/zsasuite/zsawallet/shielded"
	"github.com/zsasuite/zsawallet/wallet/txauthor"
	"github.com/zsasuite/zsawallet/wtxmgr"
)

// Balance returns the value of every unspent note of the asset sent to
// addr. Notes not witnessed yet are included.
func (w *Wallet) Balance(addr shielded.Address, asset shielded.AssetBase) (
	uint64, error) {

	var balance uint64
	err := walletdb.View(w.db, func(tx walletdb.ReadTx) error {
		txmgrNs := tx.ReadBucket(wtxmgrNamespaceKey)

		unspent, err := w.TxStore.FindUnspent(txmgrNs, addr, asset)
		if err != nil {
			return err
		}
		for _, r := range unspent {
			balance += r.Note.Value
		}
		return nil
	})
	return balance, err
}

// SelectSpendableNotes selects notes of the asset sent to addr worth at
// least amount, with authentication paths against the current tree.
func (w *Wallet) SelectSpendableNotes(addr shielded.Address, amount uint64,
	asset shielded.AssetBase) (*txauthor.SpendPlan, error) {

	return w.SelectSpendableNotesAtDepth(addr, amount, asset, 0)
}

// SelectSpendableNotesAtDepth selects notes of the asset sent to addr worth
// at least amount. Authentication paths lead to the tree root at the
// checkpoint depth: 0 is the current tree and d the d-th most recent
// checkpoint. Notes appended after that checkpoint are not eligible.
//
// Notes are taken in the order they were received until their sum reaches
// amount, so the plan only changes when the store does. An
// InsufficientFundsError is returned when the eligible notes fall short.
func (w *Wallet) SelectSpendableNotesAtDepth(addr shielded.Address,
	amount uint64, asset shielded.AssetBase,
	depth int) (*txauthor.SpendPlan, error) {

	sk, err := w.Manager.ResolveSpendingKey(addr).UnwrapOrErr(
		fmt.Errorf("%w %v", ErrNoSpendingKey, addr),
	)
	if err != nil {
		return nil, err
	}

	w.mtx.Lock()
	defer w.mtx.Unlock()

	anchor, err := w.tree.Root(depth)
	if err != nil {
		return nil, err
	}

	var unspent []*wtxmgr.NoteRecord
	err = walletdb.View(w.db, func(tx walletdb.ReadTx) error {
		txmgrNs := tx.ReadBucket(wtxmgrNamespaceKey)

		var err error
		unspent, err = w.TxStore.FindUnspent(txmgrNs, addr, asset)
		return err
	})
	if err != nil {
		return nil, err
	}

	inputSource := w.makeInputSource(unspent, sk, depth)
	plan, err := txauthor.NewSpendPlan(amount, asset, anchor, inputSource)
	if err != nil {
		return nil, err
	}

	log.Debugf("Selected %d notes worth %d for %d of asset %v, change %d",
		len(plan.Inputs), plan.Total, amount, asset, plan.Change)
	return plan, nil
}

// makeInputSource creates an InputSource taking witnessed notes from
// eligible in order until the target is reached. Notes whose commitment is
// not part of the tree at depth are passed over.
func (w *Wallet) makeInputSource(eligible []*wtxmgr.NoteRecord,
	sk shielded.SpendingKey, depth int) txauthor.InputSource {

	return func(target uint64) (uint64, []*txauthor.Input, error) {
		var (
			total  uint64
			inputs []*txauthor.Input
		)
		for _, r := range eligible {
			if total >= target {
				break
			}
			if !r.Spendable() {
				continue
			}

			pos := r.Position.UnwrapOr(0)
			path, err := w.tree.Witness(pos, depth)
			switch {
			case errors.Is(err, commitmenttree.ErrPositionNotInTree):
				continue
			case err != nil:
				return 0, nil, fmt.Errorf("unable to witness note "+
					"%d: %w", r.ID, err)
			}

			total += r.Note.Value
			inputs = append(inputs, &txauthor.Input{
				Record:      r,
				SpendingKey: sk,
				AuthPath:    path,
			})
		}
		return total, inputs, nil
	}
}
