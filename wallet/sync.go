package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/zsasuite/zsawallet/chain"
	"github.com/zsasuite/zsawallet/commitmenttree"
	"github.com/zsasuite/zsawallet/waddrmgr"
)

// Sync ingests blocks from the chain back-end until it has no block at the
// next height. Blocks that no longer connect to the synced block are
// disconnected one at a time until the wallet is back on the best chain.
//
// The context is only checked between blocks; every block is either fully
// ingested or not at all, so an interrupted sync resumes where it stopped.
func (w *Wallet) Sync(ctx context.Context) error {
	w.mtx.Lock()
	defer w.mtx.Unlock()

	return w.sync(ctx)
}

func (w *Wallet) sync(ctx context.Context) error {
	start := w.clock.Now()
	var ingested int
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		height := w.Manager.NextHeight()
		block, err := w.chainClient.GetBlock(height)
		switch {
		case errors.Is(err, chain.ErrBlockNotFound):
			reorged, err := w.checkBestBlock()
			if err != nil {
				return err
			}
			if reorged {
				continue
			}
			if ingested > 0 {
				log.Infof("Synced %d blocks to height %d in %v",
					ingested, height-1,
					w.clock.Now().Sub(start))
			}
			return nil

		case err != nil:
			return fmt.Errorf("unable to fetch block %d: %w", height,
				err)
		}

		if w.disconnects(block) {
			log.Infof("Block %v (height %d) does not connect to the "+
				"synced block", block.Hash, block.Height)
			if err := w.rewindTo(height - 2); err != nil {
				return err
			}
			continue
		}

		txs, err := w.fetchBlockTxs(block)
		if err != nil {
			return err
		}
		if err := w.ingestBlock(block, txs); err != nil {
			return err
		}
		ingested++
	}
}

// checkBestBlock compares the synced block against the chain once there is
// nothing left to fetch. If the block at the synced height was replaced, or
// the chain is now shorter, the synced block is disconnected and true is
// returned.
func (w *Wallet) checkBestBlock() (bool, error) {
	synced := w.Manager.SyncedTo()
	if synced.IsNone() {
		return false, nil
	}
	bs := synced.UnwrapOr(waddrmgr.BlockStamp{})

	best, err := w.chainClient.GetBestBlockHash()
	if err != nil {
		return false, fmt.Errorf("unable to fetch best block: %w", err)
	}
	if *best == bs.Hash {
		return false, nil
	}

	block, err := w.chainClient.GetBlock(bs.Height)
	switch {
	case errors.Is(err, chain.ErrBlockNotFound):
		log.Infof("Chain no longer has a block at synced height %d",
			bs.Height)

	case err != nil:
		return false, fmt.Errorf("unable to fetch block %d: %w",
			bs.Height, err)

	case block.Hash == bs.Hash:
		return false, nil

	default:
		log.Infof("Synced block %v (height %d) was replaced by %v",
			bs.Hash, bs.Height, block.Hash)
	}

	return true, w.rewindTo(bs.Height - 1)
}

// SyncFrom discards the sync progress and every note, then syncs from the
// start height. Keys are kept.
func (w *Wallet) SyncFrom(ctx context.Context, startHeight int32) error {
	w.mtx.Lock()
	defer w.mtx.Unlock()

	err := w.reset(func(tx walletdb.ReadWriteTx) error {
		addrmgrNs := tx.ReadWriteBucket(waddrmgrNamespaceKey)
		return w.Manager.SetBirthdayHeight(addrmgrNs, startHeight)
	})
	if err != nil {
		return err
	}
	return w.sync(ctx)
}

// Reset deletes every note, empties the commitment tree and clears the sync
// cursor so the next sync starts over from the birthday height. Keys are
// kept.
func (w *Wallet) Reset() error {
	w.mtx.Lock()
	defer w.mtx.Unlock()

	return w.reset(nil)
}

// reset empties the wallet's chain state and runs then, if set, in the same
// database transaction.
func (w *Wallet) reset(then func(walletdb.ReadWriteTx) error) error {
	err := walletdb.Update(w.db, func(tx walletdb.ReadWriteTx) error {
		addrmgrNs := tx.ReadWriteBucket(waddrmgrNamespaceKey)
		txmgrNs := tx.ReadWriteBucket(wtxmgrNamespaceKey)
		treeNs := tx.ReadWriteBucket(treeNamespaceKey)

		if err := w.TxStore.DeleteAll(txmgrNs); err != nil {
			return err
		}
		if err := commitmenttree.Reset(treeNs); err != nil {
			return err
		}
		if err := w.Manager.ResetSyncedTo(addrmgrNs); err != nil {
			return err
		}
		if then != nil {
			return then(tx)
		}
		return nil
	})
	if err != nil {
		w.reloadTree()
		return err
	}

	w.tree = commitmenttree.New()
	w.setState(StatusIdle, w.Manager.NextHeight()-1)
	log.Infof("Wallet reset, next sync starts at height %d",
		w.Manager.NextHeight())
	return nil
}

// rewindTo disconnects every block above height. The tree is rewound to its
// checkpoint at height, notes created above it are deleted and spends
// recorded above it cleared. Rewinding below the birthday resets the wallet.
//
// If the tree no longer retains the checkpoint while notes are witnessed,
// ErrRescanRequired is returned and nothing changes.
func (w *Wallet) rewindTo(height int32) error {
	if height < w.Manager.BirthdayHeight() {
		log.Infof("Rewinding below birthday height %d",
			w.Manager.BirthdayHeight())
		return w.reset(nil)
	}

	log.Infof("Rollbacking to block %d", height)
	w.setState(StatusReorging, height)

	var resetTree bool
	err := walletdb.Update(w.db, func(tx walletdb.ReadWriteTx) error {
		addrmgrNs := tx.ReadWriteBucket(waddrmgrNamespaceKey)
		txmgrNs := tx.ReadWriteBucket(wtxmgrNamespaceKey)
		treeNs := tx.ReadWriteBucket(treeNamespaceKey)

		rewound, err := w.tree.Rewind(height)
		var icErr *commitmenttree.InsufficientCheckpointsError
		switch {
		case errors.As(err, &icErr):
			return fmt.Errorf("%w: %v", ErrRescanRequired, err)
		case err != nil:
			return err
		}

		// Nothing was marked and the checkpoint is gone: the tree
		// restarts empty, so must the sync.
		if rewound == commitmenttree.NoCheckpoint {
			resetTree = true
			if err := w.TxStore.DeleteAll(txmgrNs); err != nil {
				return err
			}
			if err := commitmenttree.Reset(treeNs); err != nil {
				return err
			}
			return w.Manager.ResetSyncedTo(addrmgrNs)
		}

		if err := w.tree.Put(treeNs); err != nil {
			return err
		}
		if err := w.TxStore.Rollback(txmgrNs, height); err != nil {
			return err
		}
		return w.Manager.RewindSyncedTo(addrmgrNs, height)
	})
	if err != nil {
		w.reloadTree()
		w.setState(StatusIdle, w.Manager.NextHeight()-1)
		return err
	}
	if resetTree {
		log.Warnf("Commitment tree no longer reaches height %d, "+
			"resyncing from height %d", height,
			w.Manager.NextHeight())
		w.tree = commitmenttree.New()
	}

	w.setState(StatusIdle, w.Manager.NextHeight()-1)
	return nil
}

// Rewind disconnects every block above height.
func (w *Wallet) Rewind(height int32) error {
	w.mtx.Lock()
	defer w.mtx.Unlock()

	return w.rewindTo(height)
}
