package waddrmgr

import (
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// BlockStamp defines a block (by height and a unique hash) and is used to mark
// a point in the blockchain that an address manager element is
// synced to.
type BlockStamp struct {
	Height    int32
	Hash      chainhash.Hash
	Timestamp time.Time
}

// syncState houses the sync state of the manager.  It consists of the height
// sync begins at and the block the manager is currently synced to, if any.
type syncState struct {
	// startHeight is the first block height the wallet scans.
	startHeight int32

	// syncedTo is the current block the addresses in the manager are known
	// to be synced against.
	syncedTo fn.Option[BlockStamp]
}

// newSyncState returns a new sync state with the provided parameters.
func newSyncState(startHeight int32, syncedTo *BlockStamp) syncState {
	state := syncState{startHeight: startHeight}
	if syncedTo != nil {
		state.syncedTo = fn.Some(*syncedTo)
	}
	return state
}

// SyncedTo returns details about the block height and hash that the address
// manager is synced through at the very least.  The intention is that callers
// can use this information for intelligently initiating rescans to sync back
// to the best chain from the last known good block. None is returned when no
// block was ever synced.
func (m *Manager) SyncedTo() fn.Option[BlockStamp] {
	m.mtx.RLock()
	defer m.mtx.RUnlock()

	return m.syncState.syncedTo
}

// BirthdayHeight returns the height sync begins at when nothing was synced
// yet.
func (m *Manager) BirthdayHeight() int32 {
	m.mtx.RLock()
	defer m.mtx.RUnlock()

	return m.syncState.startHeight
}

// NextHeight returns the height of the next block to sync.
func (m *Manager) NextHeight() int32 {
	m.mtx.RLock()
	defer m.mtx.RUnlock()

	return fn.ElimOption(m.syncState.syncedTo, func() int32 {
		return m.syncState.startHeight
	}, func(bs BlockStamp) int32 {
		return bs.Height + 1
	})
}

// SetSyncedTo marks already synced to the provided block and records its hash
// so a later reorg can be detected.
func (m *Manager) SetSyncedTo(ns walletdb.ReadWriteBucket, bs *BlockStamp) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	if err := PutSyncedTo(ns, bs); err != nil {
		return err
	}

	m.syncState.syncedTo = fn.Some(*bs)
	return nil
}

// RewindSyncedTo moves the sync cursor back to height, forgetting the hashes
// of every block above it. A height below the birthday clears the cursor.
func (m *Manager) RewindSyncedTo(ns walletdb.ReadWriteBucket, height int32) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	if height < m.syncState.startHeight {
		if err := deleteSyncedTo(ns); err != nil {
			return err
		}
		m.syncState.syncedTo = fn.None[BlockStamp]()
		return nil
	}

	hash, err := fetchBlockHash(ns, height)
	if err != nil {
		return err
	}
	if err := deleteBlockHashesAbove(ns, height); err != nil {
		return err
	}

	bs := BlockStamp{Height: height, Hash: *hash}
	if err := updateSyncedTo(ns, &bs); err != nil {
		return err
	}
	m.syncState.syncedTo = fn.Some(bs)
	return nil
}

// ResetSyncedTo clears the sync cursor so the next sync starts over from the
// birthday height.
func (m *Manager) ResetSyncedTo(ns walletdb.ReadWriteBucket) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	if err := deleteSyncedTo(ns); err != nil {
		return err
	}
	m.syncState.syncedTo = fn.None[BlockStamp]()
	return nil
}

// BlockHash returns the block hash at a particular block height. This
// information is useful for comparing against the chain back-end to see if a
// reorg is taking place and how far back it goes.
func (m *Manager) BlockHash(ns walletdb.ReadBucket, height int32) (
	*chainhash.Hash, error) {

	m.mtx.RLock()
	defer m.mtx.RUnlock()

	return fetchBlockHash(ns, height)
}

// SetBirthdayHeight changes the height sync begins at. It is only allowed
// while no block is synced.
func (m *Manager) SetBirthdayHeight(ns walletdb.ReadWriteBucket, height int32) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	if m.syncState.syncedTo.IsSome() {
		str := "birthday height can only be changed before the first " +
			"block is synced"
		return managerError(ErrAlreadySynced, str, nil)
	}
	if err := putBirthdayHeight(ns, height); err != nil {
		return err
	}
	m.syncState.startHeight = height
	return nil
}
