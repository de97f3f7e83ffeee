package waddrmgr

import (
	"fmt"
	"sort"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/zsasuite/zsawallet/shielded"
)

// MaxAccountNum is the maximum allowed account number. Accounts are
// hardened children.
const MaxAccountNum = shielded.HardenedKeyStart - 1

// accountKeys houses the keys of a derived account.
type accountKeys struct {
	sk        shielded.SpendingKey
	fvk       shielded.FullViewingKey
	addresses [2]shielded.Address
}

// KeyStore indexes spending and viewing keys together with every address
// known to resolve to them. It is a pure in-memory structure built from
// three directional maps:
//
//	address -> incoming viewing key
//	incoming viewing key -> full viewing key
//	full viewing key -> spending key
//
// An address resolves to at most one spending key, or none at all when its
// viewing key was imported without one.
//
// KeyStore is not safe for concurrent use; Manager serializes access.
type KeyStore struct {
	seed     []byte
	coinType uint32

	accounts map[uint32]*accountKeys
	payment  map[shielded.Address]shielded.IncomingViewingKey
	viewing  map[shielded.IncomingViewingKey]shielded.FullViewingKey
	spending map[shielded.FullViewingKey]shielded.SpendingKey
}

// NewKeyStore returns a key store deriving accounts from seed under the
// coin type. A nil seed creates a watching-only store.
func NewKeyStore(seed []byte, coinType uint32) *KeyStore {
	return &KeyStore{
		seed:     seed,
		coinType: coinType,
		accounts: make(map[uint32]*accountKeys),
		payment:  make(map[shielded.Address]shielded.IncomingViewingKey),
		viewing:  make(map[shielded.IncomingViewingKey]shielded.FullViewingKey),
		spending: make(map[shielded.FullViewingKey]shielded.SpendingKey),
	}
}

// WatchingOnly returns whether the store was created without a seed.
func (ks *KeyStore) WatchingOnly() bool {
	return ks.seed == nil
}

// account derives the keys of the account if they were not derived yet.
// The second return value reports whether the account is new.
func (ks *KeyStore) account(index uint32) (*accountKeys, bool, error) {
	if acct, ok := ks.accounts[index]; ok {
		return acct, false, nil
	}
	if index > MaxAccountNum {
		str := fmt.Sprintf("account number %d is higher than max %d",
			index, MaxAccountNum)
		return nil, false, managerError(ErrAccountNumTooHigh, str, nil)
	}
	if ks.WatchingOnly() {
		return nil, false, managerError(ErrWatchingOnly, errWatchingOnly, nil)
	}

	sk, err := shielded.SpendingKeyFromSeed(ks.seed, ks.coinType, index)
	if err != nil {
		str := fmt.Sprintf("failed to derive account %d", index)
		return nil, false, managerError(ErrKeyChain, str, err)
	}
	addresses, err := ks.AddSpendingKey(sk)
	if err != nil {
		return nil, false, err
	}

	acct := &accountKeys{
		sk:        sk,
		fvk:       sk.FullViewingKey(),
		addresses: addresses,
	}
	ks.accounts[index] = acct
	return acct, true, nil
}

// AccountAddress returns the default address of the account for the
// scope. The first call for an account derives and caches its keys; every
// call with the same inputs returns the same address.
func (ks *KeyStore) AccountAddress(index uint32, scope shielded.Scope) (
	shielded.Address, error) {

	acct, _, err := ks.account(index)
	if err != nil {
		return shielded.Address{}, err
	}
	return acct.addresses[scope], nil
}

// Accounts returns the derived account numbers in ascending order.
func (ks *KeyStore) Accounts() []uint32 {
	accounts := make([]uint32, 0, len(ks.accounts))
	for index := range ks.accounts {
		accounts = append(accounts, index)
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i] < accounts[j]
	})
	return accounts
}

// AddSpendingKey registers sk along with its viewing keys and default
// addresses, indexed by scope.
func (ks *KeyStore) AddSpendingKey(sk shielded.SpendingKey) (
	[2]shielded.Address, error) {

	fvk := sk.FullViewingKey()
	addresses, err := ks.AddFullViewingKey(fvk)
	if err != nil {
		return addresses, err
	}
	ks.spending[fvk] = sk
	return addresses, nil
}

// AddFullViewingKey registers fvk without a spending key and returns its
// default addresses, indexed by scope.
func (ks *KeyStore) AddFullViewingKey(fvk shielded.FullViewingKey) (
	[2]shielded.Address, error) {

	var addresses [2]shielded.Address
	for _, scope := range shielded.Scopes {
		ivk := fvk.IVK(scope)
		addr, err := ivk.AddressAt(0)
		if err != nil {
			str := fmt.Sprintf("failed to derive %v address", scope)
			return addresses, managerError(ErrKeyChain, str, err)
		}
		ks.viewing[ivk] = fvk
		ks.payment[addr] = ivk
		addresses[scope] = addr
	}
	return addresses, nil
}

// AddRawAddress records that addr belongs to ivk. The pair is recorded even
// when ivk has no known full viewing key; the return value reports whether
// it does.
func (ks *KeyStore) AddRawAddress(addr shielded.Address,
	ivk shielded.IncomingViewingKey) bool {

	ks.payment[addr] = ivk
	_, ok := ks.viewing[ivk]
	return ok
}

// IVKForAddress returns the incoming viewing key of a registered address.
func (ks *KeyStore) IVKForAddress(addr shielded.Address) (
	shielded.IncomingViewingKey, bool) {

	ivk, ok := ks.payment[addr]
	return ivk, ok
}

// FVKForIVK returns the full viewing key an incoming viewing key was
// derived from.
func (ks *KeyStore) FVKForIVK(ivk shielded.IncomingViewingKey) (
	shielded.FullViewingKey, bool) {

	fvk, ok := ks.viewing[ivk]
	return fvk, ok
}

// FVKForAddress resolves the full viewing key of a registered address.
func (ks *KeyStore) FVKForAddress(addr shielded.Address) (
	shielded.FullViewingKey, bool) {

	ivk, ok := ks.payment[addr]
	if !ok {
		return shielded.FullViewingKey{}, false
	}
	return ks.FVKForIVK(ivk)
}

// ResolveSpendingKey returns the spending key controlling addr. Unknown
// and watching-only addresses resolve to none.
func (ks *KeyStore) ResolveSpendingKey(addr shielded.Address) fn.Option[shielded.SpendingKey] {
	fvk, ok := ks.FVKForAddress(addr)
	if !ok {
		return fn.None[shielded.SpendingKey]()
	}
	sk, ok := ks.spending[fvk]
	if !ok {
		return fn.None[shielded.SpendingKey]()
	}
	return fn.Some(sk)
}

// IncomingViewingKeys returns a snapshot of every known incoming viewing
// key in canonical order.
func (ks *KeyStore) IncomingViewingKeys() []shielded.IncomingViewingKey {
	ivks := make([]shielded.IncomingViewingKey, 0, len(ks.viewing))
	for ivk := range ks.viewing {
		ivks = append(ivks, ivk)
	}
	sort.Slice(ivks, func(i, j int) bool {
		return ivks[i].Compare(ivks[j]) < 0
	})
	return ivks
}

// RecoverAddress registers addr under the known incoming viewing key that
// diversified it, if any.
func (ks *KeyStore) RecoverAddress(addr shielded.Address) bool {
	if _, ok := ks.payment[addr]; ok {
		return true
	}
	for _, ivk := range ks.IncomingViewingKeys() {
		if ivk.Owns(addr) {
			ks.payment[addr] = ivk
			return true
		}
	}
	return false
}
