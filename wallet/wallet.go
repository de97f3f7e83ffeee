// Package wallet ties the key manager, note store and commitment tree
// together: it ingests blocks from a chain back-end and selects notes to
// spend.
package wallet

import (
	"fmt"
	"sync"

	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/btcsuite/btcwallet/walletdb/migration"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/zsasuite/zsawallet/chain"
	"github.com/zsasuite/zsawallet/commitmenttree"
	"github.com/zsasuite/zsawallet/netparams"
	"github.com/zsasuite/zsawallet/shielded"
	"github.com/zsasuite/zsawallet/waddrmgr"
	"github.com/zsasuite/zsawallet/wtxmgr"
)

// Namespace bucket keys.
var (
	waddrmgrNamespaceKey = []byte("waddrmgr")
	wtxmgrNamespaceKey   = []byte("wtxmgr")
	treeNamespaceKey     = []byte("ncttree")
)

// SyncStatus is the phase the sync engine is in.
type SyncStatus uint8

const (
	// StatusIdle means no block is being processed.
	StatusIdle SyncStatus = iota

	// StatusIngesting means a block is being ingested.
	StatusIngesting

	// StatusReorging means blocks are being disconnected.
	StatusReorging
)

// String returns the status as a human-readable name.
func (s SyncStatus) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusIngesting:
		return "ingesting"
	case StatusReorging:
		return "reorging"
	default:
		return fmt.Sprintf("unknown status (%d)", uint8(s))
	}
}

// SyncState reports what the sync engine is doing. Height is the height
// of the block being processed, or of the synced block when idle.
type SyncState struct {
	Status SyncStatus
	Height int32
}

// Wallet is a shielded wallet. The commitment tree and the note store are
// owned by the wallet and only mutated through it; callers must not ingest
// blocks or select notes from several goroutines at once.
type Wallet struct {
	db          walletdb.DB
	chainClient chain.Interface
	chainParams *netparams.Params
	clock       clock.Clock

	// Manager and TxStore are exported so callers can query keys and notes
	// directly. Their namespaces are not.
	Manager *waddrmgr.Manager
	TxStore *wtxmgr.Store

	// mtx serializes ingestion, rewinds and selection.
	mtx  sync.Mutex
	tree *commitmenttree.Tree

	stateMtx sync.Mutex
	state    SyncState
}

// Create creates a new wallet in db. A nil seed creates a watching-only
// wallet. The birthday is the first block height that is scanned.
func Create(db walletdb.DB, seed []byte, params *netparams.Params,
	birthday int32) error {

	return walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		addrmgrNs, err := tx.CreateTopLevelBucket(waddrmgrNamespaceKey)
		if err != nil {
			return err
		}
		txmgrNs, err := tx.CreateTopLevelBucket(wtxmgrNamespaceKey)
		if err != nil {
			return err
		}
		treeNs, err := tx.CreateTopLevelBucket(treeNamespaceKey)
		if err != nil {
			return err
		}

		err = waddrmgr.Create(addrmgrNs, seed, params, birthday)
		if err != nil {
			return err
		}
		if err := wtxmgr.Create(txmgrNs); err != nil {
			return err
		}
		return commitmenttree.Create(treeNs)
	})
}

// Open loads the wallet stored in db, upgrading its namespaces first if
// needed. The seed must be the one the wallet was created with, or nil for a
// watching-only wallet. A nil clock uses the system clock.
func Open(db walletdb.DB, seed []byte, params *netparams.Params,
	chainClient chain.Interface, clk clock.Clock) (*Wallet, error) {

	if clk == nil {
		clk = clock.NewDefaultClock()
	}

	var (
		addrMgr *waddrmgr.Manager
		txMgr   *wtxmgr.Store
		tree    *commitmenttree.Tree
	)
	err := walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		addrmgrNs := tx.ReadWriteBucket(waddrmgrNamespaceKey)
		txmgrNs := tx.ReadWriteBucket(wtxmgrNamespaceKey)
		treeNs := tx.ReadWriteBucket(treeNamespaceKey)
		if addrmgrNs == nil || txmgrNs == nil || treeNs == nil {
			return ErrNotCreated
		}

		err := migration.Upgrade(
			waddrmgr.NewMigrationManager(addrmgrNs),
			wtxmgr.NewMigrationManager(txmgrNs),
		)
		if err != nil {
			return err
		}

		addrMgr, err = waddrmgr.Open(addrmgrNs, seed, params)
		if err != nil {
			return err
		}
		txMgr, err = wtxmgr.Open(txmgrNs, clk)
		if err != nil {
			return err
		}
		tree, err = commitmenttree.Fetch(treeNs)
		if err != nil {
			return err
		}

		// Diversified addresses learned from decrypted notes are not
		// stored by the manager. Register them again.
		return txMgr.ForEachNote(txmgrNs, func(r *wtxmgr.NoteRecord) error {
			if !addrMgr.RecoverAddress(r.Note.Recipient) {
				log.Warnf("No viewing key owns the recipient of "+
					"note %d", r.ID)
			}
			return nil
		})
	})
	if err != nil {
		if addrMgr != nil {
			addrMgr.Close()
		}
		return nil, err
	}

	w := &Wallet{
		db:          db,
		chainClient: chainClient,
		chainParams: params,
		clock:       clk,
		Manager:     addrMgr,
		TxStore:     txMgr,
		tree:        tree,
	}
	w.setState(StatusIdle, addrMgr.NextHeight()-1)

	log.Infof("Opened wallet on %s, %d commitments, next height %d",
		params.Name, tree.Size(), addrMgr.NextHeight())
	return w, nil
}

// Close removes key material from memory. The database is owned by the
// caller.
func (w *Wallet) Close() {
	w.Manager.Close()
}

// Database returns the underlying walletdb database.
func (w *Wallet) Database() walletdb.DB {
	return w.db
}

// ChainClient returns the chain back-end the wallet syncs from.
func (w *Wallet) ChainClient() chain.Interface {
	return w.chainClient
}

// ChainParams returns the network parameters of the wallet.
func (w *Wallet) ChainParams() *netparams.Params {
	return w.chainParams
}

// SyncState returns a snapshot of what the sync engine is doing.
func (w *Wallet) SyncState() SyncState {
	w.stateMtx.Lock()
	defer w.stateMtx.Unlock()

	return w.state
}

func (w *Wallet) setState(status SyncStatus, height int32) {
	w.stateMtx.Lock()
	w.state = SyncState{Status: status, Height: height}
	w.stateMtx.Unlock()
}

// AccountAddress returns the default address of the account for the scope,
// deriving and storing the account on first use.
func (w *Wallet) AccountAddress(account uint32, scope shielded.Scope) (
	shielded.Address, error) {

	var addr shielded.Address
	err := walletdb.Update(w.db, func(tx walletdb.ReadWriteTx) error {
		addrmgrNs := tx.ReadWriteBucket(waddrmgrNamespaceKey)

		var err error
		addr, err = w.Manager.AccountAddress(addrmgrNs, account, scope)
		return err
	})
	return addr, err
}

// ImportSpendingKey adds a spending key outside of the seed's hierarchy. Its
// notes are found from the next ingested block on.
func (w *Wallet) ImportSpendingKey(sk shielded.SpendingKey) (
	[2]shielded.Address, error) {

	var addrs [2]shielded.Address
	err := walletdb.Update(w.db, func(tx walletdb.ReadWriteTx) error {
		addrmgrNs := tx.ReadWriteBucket(waddrmgrNamespaceKey)

		var err error
		addrs, err = w.Manager.AddSpendingKey(addrmgrNs, sk)
		return err
	})
	return addrs, err
}

// ImportFullViewingKey adds a watch-only viewing key. Its notes are found
// from the next ingested block on but cannot be spent.
func (w *Wallet) ImportFullViewingKey(fvk shielded.FullViewingKey) (
	[2]shielded.Address, error) {

	var addrs [2]shielded.Address
	err := walletdb.Update(w.db, func(tx walletdb.ReadWriteTx) error {
		addrmgrNs := tx.ReadWriteBucket(waddrmgrNamespaceKey)

		var err error
		addrs, err = w.Manager.AddFullViewingKey(addrmgrNs, fvk)
		return err
	})
	return addrs, err
}

// Anchor returns the current root of the commitment tree.
func (w *Wallet) Anchor() (shielded.MerkleHash, error) {
	w.mtx.Lock()
	defer w.mtx.Unlock()

	return w.tree.Root(0)
}

// TreeSize returns the number of commitments the wallet has seen.
func (w *Wallet) TreeSize() uint64 {
	w.mtx.Lock()
	defer w.mtx.Unlock()

	return w.tree.Size()
}

// reloadTree replaces the in-memory tree with the stored one. It is used to
// drop the changes of a database transaction that did not commit.
func (w *Wallet) reloadTree() {
	err := walletdb.View(w.db, func(tx walletdb.ReadTx) error {
		tree, err := commitmenttree.Fetch(tx.ReadBucket(treeNamespaceKey))
		if err != nil {
			return err
		}
		w.tree = tree
		return nil
	})
	if err != nil {
		log.Errorf("Unable to reload commitment tree: %v", err)
	}
}
