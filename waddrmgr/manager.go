package waddrmgr

import (
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/zsasuite/zsawallet/netparams"
	"github.com/zsasuite/zsawallet/shielded"
)

// DefaultAccountNum is the number of the account created along with the
// manager.
const DefaultAccountNum = 0

// Manager represents a concurrency safe registry of the keys of a shielded
// wallet. It derives accounts from the seed, imports additional spending and
// viewing keys and tracks the block the wallet is synced to.
type Manager struct {
	mtx sync.RWMutex

	keys         *KeyStore
	chainParams  *netparams.Params
	syncState    syncState
	watchingOnly bool
	closed       bool

	// issuanceKey is derived on first use.
	issuanceKey fn.Option[*shielded.IssuanceKey]
}

// WatchOnly returns true if the root manager is in watch only mode, and false
// otherwise.
func (m *Manager) WatchOnly() bool {
	m.mtx.RLock()
	defer m.mtx.RUnlock()

	return m.watchingOnly
}

// ChainParams returns the chain parameters for this address manager.
func (m *Manager) ChainParams() *netparams.Params {
	// NOTE: No need for mutex here since the net params do not change.

	return m.chainParams
}

// Close cleanly shuts down the manager.  It makes a best try effort to remove
// the seed from memory.
func (m *Manager) Close() {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	if m.closed {
		return
	}

	for i := range m.keys.seed {
		m.keys.seed[i] = 0
	}
	m.issuanceKey = fn.None[*shielded.IssuanceKey]()
	m.closed = true
}

// AccountAddress returns the default address of the account for the scope.
// The account is derived and persisted on first use, so repeated calls
// return the same address.
func (m *Manager) AccountAddress(ns walletdb.ReadWriteBucket, account uint32,
	scope shielded.Scope) (shielded.Address, error) {

	m.mtx.Lock()
	defer m.mtx.Unlock()

	acct, isNew, err := m.keys.account(account)
	if err != nil {
		return shielded.Address{}, err
	}
	if isNew {
		if err := putAccount(ns, account, time.Now()); err != nil {
			delete(m.keys.accounts, account)
			return shielded.Address{}, err
		}
		log.Debugf("Derived account %d", account)
	}

	return acct.addresses[scope], nil
}

// Accounts returns the derived account numbers in ascending order.
func (m *Manager) Accounts() []uint32 {
	m.mtx.RLock()
	defer m.mtx.RUnlock()

	return m.keys.Accounts()
}

// AddSpendingKey imports a spending key from outside the seed's derivation
// tree and returns its default addresses, indexed by scope.
func (m *Manager) AddSpendingKey(ns walletdb.ReadWriteBucket,
	sk shielded.SpendingKey) ([2]shielded.Address, error) {

	m.mtx.Lock()
	defer m.mtx.Unlock()

	if err := putImportedSpendingKey(ns, sk, time.Now()); err != nil {
		return [2]shielded.Address{}, err
	}
	return m.keys.AddSpendingKey(sk)
}

// AddFullViewingKey imports a full viewing key without its spending key.
// Notes received by its addresses are tracked but never selected for
// spending.
func (m *Manager) AddFullViewingKey(ns walletdb.ReadWriteBucket,
	fvk shielded.FullViewingKey) ([2]shielded.Address, error) {

	m.mtx.Lock()
	defer m.mtx.Unlock()

	if err := putWatchOnlyKey(ns, fvk, time.Now()); err != nil {
		return [2]shielded.Address{}, err
	}
	return m.keys.AddFullViewingKey(fvk)
}

// AddRawAddress registers addr under ivk. The result reports whether the
// full viewing key of ivk is known.
func (m *Manager) AddRawAddress(addr shielded.Address,
	ivk shielded.IncomingViewingKey) bool {

	m.mtx.Lock()
	defer m.mtx.Unlock()

	return m.keys.AddRawAddress(addr, ivk)
}

// RecoverAddress registers addr under whichever known incoming viewing key
// diversified it. It returns false if no known key owns the address.
func (m *Manager) RecoverAddress(addr shielded.Address) bool {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	return m.keys.RecoverAddress(addr)
}

// IVKForAddress returns the incoming viewing key of a registered address.
func (m *Manager) IVKForAddress(addr shielded.Address) (
	shielded.IncomingViewingKey, error) {

	m.mtx.RLock()
	defer m.mtx.RUnlock()

	ivk, ok := m.keys.IVKForAddress(addr)
	if !ok {
		str := fmt.Sprintf("address %v is not registered", addr)
		return ivk, managerError(ErrAddressNotFound, str, nil)
	}
	return ivk, nil
}

// FVKForIVK returns the full viewing key an incoming viewing key was derived
// from.
func (m *Manager) FVKForIVK(ivk shielded.IncomingViewingKey) (
	shielded.FullViewingKey, bool) {

	m.mtx.RLock()
	defer m.mtx.RUnlock()

	return m.keys.FVKForIVK(ivk)
}

// ResolveSpendingKey returns the spending key controlling addr, if known.
func (m *Manager) ResolveSpendingKey(addr shielded.Address) fn.Option[shielded.SpendingKey] {
	m.mtx.RLock()
	defer m.mtx.RUnlock()

	return m.keys.ResolveSpendingKey(addr)
}

// IncomingViewingKeys returns a snapshot of every known incoming viewing key.
// Keys added afterwards do not affect the returned slice.
func (m *Manager) IncomingViewingKeys() []shielded.IncomingViewingKey {
	m.mtx.RLock()
	defer m.mtx.RUnlock()

	return m.keys.IncomingViewingKeys()
}

// IssuanceKey returns the key this wallet signs issuance bundles with.
func (m *Manager) IssuanceKey() (*shielded.IssuanceKey, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	return m.issuanceKeyLocked()
}

// issuanceKeyLocked derives the issuance key on first use.
//
// NOTE: This method requires the Manager's lock to be held for writes.
func (m *Manager) issuanceKeyLocked() (*shielded.IssuanceKey, error) {
	if m.issuanceKey.IsSome() {
		return m.issuanceKey.UnwrapOr(nil), nil
	}
	if m.watchingOnly {
		return nil, managerError(ErrWatchingOnly, errWatchingOnly, nil)
	}

	ik, err := shielded.IssuanceKeyFromSeed(m.keys.seed, m.keys.coinType)
	if err != nil {
		str := "failed to derive issuance key"
		return nil, managerError(ErrKeyChain, str, err)
	}
	m.issuanceKey = fn.Some(ik)
	return ik, nil
}

// Asset returns the identifier of the asset this wallet issues under the
// description hash.
func (m *Manager) Asset(descHash [32]byte) (shielded.AssetBase, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	ik, err := m.issuanceKeyLocked()
	if err != nil {
		return shielded.AssetBase{}, err
	}
	return shielded.DeriveAsset(ik.ValidatingKey(), descHash), nil
}

// loadManager returns a new address manager that results from loading it from
// the passed opened database.
func loadManager(ns walletdb.ReadBucket, seed []byte,
	chainParams *netparams.Params) (*Manager, error) {

	version, err := fetchManagerVersion(ns)
	if err != nil {
		str := "failed to fetch version for update"
		return nil, managerError(ErrDatabase, str, err)
	}
	if version < latestMgrVersion {
		str := "database upgrade required"
		return nil, managerError(ErrUpgrade, str, nil)
	} else if version > latestMgrVersion {
		str := "database version is greater than latest understood version"
		return nil, managerError(ErrUpgrade, str, nil)
	}

	watchingOnly, err := fetchWatchingOnly(ns)
	if err != nil {
		return nil, maybeConvertDbError(err)
	}
	if watchingOnly {
		seed = nil
	} else if err := checkSeed(ns, seed); err != nil {
		return nil, err
	}

	coinType, err := fetchCoinType(ns)
	if err != nil {
		return nil, maybeConvertDbError(err)
	}
	if coinType != chainParams.CoinType {
		str := fmt.Sprintf("wallet was created for coin type %d, not %d",
			coinType, chainParams.CoinType)
		return nil, managerError(ErrWrongSeed, str, nil)
	}

	var seedCopy []byte
	if seed != nil {
		seedCopy = append([]byte(nil), seed...)
	}
	keys := NewKeyStore(seedCopy, coinType)

	accounts, err := fetchAccounts(ns)
	if err != nil {
		return nil, maybeConvertDbError(err)
	}
	for _, account := range accounts {
		if _, _, err := keys.account(account); err != nil {
			return nil, err
		}
	}

	imported, err := fetchImportedSpendingKeys(ns)
	if err != nil {
		return nil, maybeConvertDbError(err)
	}
	for _, sk := range imported {
		if _, err := keys.AddSpendingKey(sk); err != nil {
			return nil, err
		}
	}

	fvks, err := fetchWatchOnlyKeys(ns)
	if err != nil {
		return nil, maybeConvertDbError(err)
	}
	for _, fvk := range fvks {
		if _, err := keys.AddFullViewingKey(fvk); err != nil {
			return nil, err
		}
	}

	startHeight, err := fetchBirthdayHeight(ns)
	if err != nil {
		return nil, maybeConvertDbError(err)
	}
	syncedTo, err := fetchSyncedTo(ns)
	if err != nil {
		return nil, maybeConvertDbError(err)
	}

	return &Manager{
		keys:         keys,
		chainParams:  chainParams,
		syncState:    newSyncState(startHeight, syncedTo),
		watchingOnly: watchingOnly,
	}, nil
}

// Open loads an existing address manager from the given namespace.  The seed
// must match the one the manager was created with. A watching-only manager
// ignores it.
//
// A ManagerError with an error code of ErrNoExist will be returned if the
// passed manager does not exist in the specified namespace.
func Open(ns walletdb.ReadBucket, seed []byte,
	chainParams *netparams.Params) (*Manager, error) {

	// Return an error if the manager has NOT already been created in the
	// given database namespace.
	exists := managerExists(ns)
	if !exists {
		str := "the specified address manager does not exist"
		return nil, managerError(ErrNoExist, str, nil)
	}

	return loadManager(ns, seed, chainParams)
}

// Create creates a new address manager in the given namespace.
//
// Every account is derived from the seed, so the whole wallet can be
// recovered by using the same seed. The default account is derived right
// away.
//
// If the provided seed value is nil the address manager will be created in
// watchingOnly mode in which case no accounts are created. Viewing keys are
// then imported with AddFullViewingKey.
//
// The birthday is the first block height the wallet scans.
//
// A ManagerError with an error code of ErrAlreadyExists will be returned the
// address manager already exists in the specified namespace.
func Create(ns walletdb.ReadWriteBucket, seed []byte,
	chainParams *netparams.Params, birthday int32) error {

	// Return an error if the manager has already been created in
	// the given database namespace.
	exists := managerExists(ns)
	if exists {
		return managerError(ErrAlreadyExists, errAlreadyExists, nil)
	}

	if seed != nil && (len(seed) < shielded.MinSeedBytes ||
		len(seed) > shielded.MaxSeedBytes) {

		return managerError(ErrKeyChain, "invalid seed",
			shielded.ErrInvalidSeedLen)
	}

	if err := createManagerNS(ns); err != nil {
		return maybeConvertDbError(err)
	}
	if err := putKeyParams(ns, seed, chainParams.CoinType); err != nil {
		return maybeConvertDbError(err)
	}
	if err := putBirthdayHeight(ns, birthday); err != nil {
		return maybeConvertDbError(err)
	}

	if seed == nil {
		return nil
	}

	// Derive the default account to catch derivation failures before the
	// manager is ever opened.
	keys := NewKeyStore(seed, chainParams.CoinType)
	if _, _, err := keys.account(DefaultAccountNum); err != nil {
		return err
	}
	return putAccount(ns, DefaultAccountNum, time.Now())
}
