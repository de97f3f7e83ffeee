package wallet

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/davecgh/go-spew/spew"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/zsasuite/zsawallet/chain"
	"github.com/zsasuite/zsawallet/shielded"
	"github.com/zsasuite/zsawallet/waddrmgr"
	"github.com/zsasuite/zsawallet/wtxmgr"
)

// BlockTx is a shielded transaction of a block together with the id the
// chain knows it by.
type BlockTx struct {
	TxID chainhash.Hash
	Tx   *shielded.Transaction
}

// fetchBlockTxs fetches the transactions of block in block order. Versions
// without a shielded component are skipped.
func (w *Wallet) fetchBlockTxs(block *chain.Block) ([]BlockTx, error) {
	txs := make([]BlockTx, 0, len(block.TxIDs))
	for i := range block.TxIDs {
		txid := block.TxIDs[i]
		tx, err := w.chainClient.GetTransaction(&txid)
		switch {
		case errors.Is(err, shielded.ErrUnsupportedTxVersion):
			log.Tracef("Skipping transaction %v: %v", txid, err)
			continue
		case err != nil:
			return nil, fmt.Errorf("unable to fetch transaction "+
				"%v: %w", txid, err)
		}
		txs = append(txs, BlockTx{TxID: txid, Tx: tx})
	}
	return txs, nil
}

// IngestBlock processes the transactions of the block following the synced
// block. Every change the block causes is committed in one database
// transaction, so a failed block leaves no trace.
//
// Ingesting the block the wallet is already synced to is a no-op. Any other
// height than the next one is rejected with a BlockOrderError, and a block
// that does not connect to the synced one with ErrPrevBlockMismatch.
func (w *Wallet) IngestBlock(block *chain.Block, txs []BlockTx) error {
	w.mtx.Lock()
	defer w.mtx.Unlock()

	return w.ingestBlock(block, txs)
}

func (w *Wallet) ingestBlock(block *chain.Block, txs []BlockTx) error {
	synced := w.Manager.SyncedTo()
	ingested := fn.MapOptionZ(synced, func(bs waddrmgr.BlockStamp) bool {
		return bs.Height == block.Height && bs.Hash == block.Hash
	})
	if ingested {
		log.Debugf("Block %v (height %d) already ingested", block.Hash,
			block.Height)
		return nil
	}

	if next := w.Manager.NextHeight(); block.Height != next {
		return &BlockOrderError{Expected: next, Actual: block.Height}
	}
	if w.disconnects(block) {
		return fmt.Errorf("block %v (height %d): %w", block.Hash,
			block.Height, ErrPrevBlockMismatch)
	}

	// Keys imported while the block is processed are used from the next
	// block on.
	ivks := w.Manager.IncomingViewingKeys()

	w.setState(StatusIngesting, block.Height)
	err := walletdb.Update(w.db, func(tx walletdb.ReadWriteTx) error {
		addrmgrNs := tx.ReadWriteBucket(waddrmgrNamespaceKey)
		txmgrNs := tx.ReadWriteBucket(wtxmgrNamespaceKey)
		treeNs := tx.ReadWriteBucket(treeNamespaceKey)

		for i := range txs {
			err := w.addRelevantTx(txmgrNs, &txs[i], block.Height, ivks)
			if err != nil {
				return err
			}
		}

		if err := w.tree.Checkpoint(block.Height); err != nil {
			return err
		}
		if err := w.tree.Put(treeNs); err != nil {
			return err
		}

		bs := waddrmgr.BlockStamp{
			Height:    block.Height,
			Hash:      block.Hash,
			Timestamp: block.Time,
		}
		return w.Manager.SetSyncedTo(addrmgrNs, &bs)
	})
	if err != nil {
		w.reloadTree()
		w.setState(StatusIdle, w.Manager.NextHeight()-1)
		return err
	}
	w.setState(StatusIdle, block.Height)

	log.Debugf("Ingested block %v (height %d) with %d shielded "+
		"transactions, tree size %d", block.Hash, block.Height,
		len(txs), w.tree.Size())
	return nil
}

// disconnects returns whether block does not build on the synced block.
func (w *Wallet) disconnects(block *chain.Block) bool {
	return fn.MapOptionZ(w.Manager.SyncedTo(), func(bs waddrmgr.BlockStamp) bool {
		return bs.Hash != block.PrevHash
	})
}

// addRelevantTx records the notes a transaction sends to the wallet and the
// notes of the wallet it spends, then appends its commitments to the tree.
// The transaction's actions are processed strictly in order since leaf
// positions depend on it.
func (w *Wallet) addRelevantTx(ns walletdb.ReadWriteBucket, btx *BlockTx,
	height int32, ivks []shielded.IncomingViewingKey) error {

	tx := btx.Tx
	log.Tracef("Processing transaction %v: %v", btx.TxID,
		newLogClosure(func() string {
			return spew.Sdump(tx)
		}))

	for i := range tx.Actions {
		action := &tx.Actions[i]
		for j := range ivks {
			note, memo, ok := action.TryDecrypt(&ivks[j])
			if !ok {
				continue
			}
			op := wtxmgr.OutPoint{
				TxID:        btx.TxID,
				ActionIndex: uint32(i),
			}
			err := w.insertNote(ns, &note, memo, ivks[j], op, height)
			if err != nil {
				return err
			}
			break
		}
	}

	// Issued notes are public, so they are matched by their recipient.
	issued := tx.IssuedNotes()
	for i := range issued {
		note := &issued[i]
		if !w.Manager.RecoverAddress(note.Recipient) {
			continue
		}
		ivk, err := w.Manager.IVKForAddress(note.Recipient)
		if err != nil {
			return err
		}
		op := wtxmgr.OutPoint{
			TxID:        btx.TxID,
			ActionIndex: uint32(len(tx.Actions) + i),
		}
		err = w.insertNote(ns, note, shielded.EmptyMemo, ivk, op, height)
		if err != nil {
			return err
		}
	}

	// A revealed nullifier only marks a potential spend: the spending
	// transaction may still be reorganized out.
	for i := range tx.Actions {
		rec, err := w.TxStore.FindByNullifier(ns, tx.Actions[i].Nullifier)
		if err != nil {
			return err
		}
		spentBy := wtxmgr.InPoint{TxID: btx.TxID, ActionIndex: uint32(i)}
		err = fn.MapOptionZ(rec, func(r wtxmgr.NoteRecord) error {
			log.Infof("Note %d of value %d spent by %v", r.ID,
				r.Note.Value, spentBy)
			return w.TxStore.MarkSpent(ns, r.ID, spentBy, height)
		})
		if err != nil {
			return err
		}
	}

	return w.appendCommitments(ns, btx)
}

// insertNote stores a decrypted note and registers its recipient.
func (w *Wallet) insertNote(ns walletdb.ReadWriteBucket, note *shielded.Note,
	memo shielded.Memo, ivk shielded.IncomingViewingKey,
	op wtxmgr.OutPoint, height int32) error {

	fvk, ok := w.Manager.FVKForIVK(ivk)
	if !ok {
		return &FvkNotFoundError{OutPoint: op}
	}

	rec := &wtxmgr.NoteRecord{
		Note:      *note,
		Memo:      memo,
		Nullifier: note.Nullifier(&fvk),
		OutPoint:  op,
		Height:    height,
	}
	id, err := w.TxStore.Insert(ns, rec)
	if err != nil {
		return err
	}
	w.Manager.AddRawAddress(note.Recipient, ivk)

	log.Infof("Received note %d of value %d (asset %v) at %v", id,
		note.Value, note.Asset, op)
	return nil
}

// appendCommitments appends the commitments of a transaction to the tree,
// marking the leaves of the transaction's notes that are not witnessed yet
// and recording their positions.
func (w *Wallet) appendCommitments(ns walletdb.ReadWriteBucket,
	btx *BlockTx) error {

	recs, err := w.TxStore.FindForTx(ns, btx.TxID)
	if err != nil {
		return err
	}
	unwitnessed := make(map[uint32]uint64, len(recs))
	for _, r := range recs {
		if r.Position.IsNone() {
			unwitnessed[r.OutPoint.ActionIndex] = r.ID
		}
	}

	for i, cmx := range btx.Tx.Commitments() {
		pos, err := w.tree.Append(cmx)
		if err != nil {
			return fmt.Errorf("unable to append commitment %d of "+
				"%v: %w", i, btx.TxID, err)
		}

		id, ok := unwitnessed[uint32(i)]
		if !ok {
			continue
		}
		if _, err := w.tree.Mark(); err != nil {
			return err
		}
		if err := w.TxStore.SetPosition(ns, id, pos); err != nil {
			return err
		}
		log.Debugf("Note %d witnessed at position %d", id, pos)
	}
	return nil
}
