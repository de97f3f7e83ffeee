package waddrmgr

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/zsasuite/zsawallet/shielded"
)

const (
	// MaxReorgDepth represents the maximum number of block hashes we'll
	// keep within the wallet at any given point in order to recover from
	// long reorgs.
	MaxReorgDepth = 10000
)

var (
	// LatestMgrVersion is the most recent manager version.
	LatestMgrVersion = getLatestVersion()

	// latestMgrVersion is the most recent manager version as a variable so
	// the tests can change it to force errors.
	latestMgrVersion = LatestMgrVersion
)

// maybeConvertDbError converts the passed error to a ManagerError with an
// error code of ErrDatabase if it is not already a ManagerError.  This is
// useful for potential errors returned from managed transaction an other parts
// of the walletdb database.
func maybeConvertDbError(err error) error {
	// When the error is already a ManagerError, just return it.
	var e ManagerError
	if errors.As(err, &e) {
		return err
	}

	return managerError(ErrDatabase, err.Error(), err)
}

// Key names for various database fields.
var (
	// mainBucketName is the name of the bucket that stores the seed
	// fingerprint, the coin type, the watch only flag and versioning
	// information.
	mainBucketName = []byte("main")

	// acctBucketName is the name of the bucket that stores every derived
	// account number along with its creation time.
	acctBucketName = []byte("acct")

	// watchOnlyBucketName is the name of the bucket that stores imported
	// full viewing keys without spending keys.
	watchOnlyBucketName = []byte("watchfvk")

	// importedBucketName is the name of the bucket that stores imported
	// spending keys that were not derived from the seed.
	importedBucketName = []byte("importsk")

	// syncBucketName is the name of the bucket that stores the current
	// sync state of the root manager.
	syncBucketName = []byte("sync")

	// Db related key names (main bucket).
	mgrVersionName    = []byte("mgrver")
	mgrCreateDateName = []byte("mgrcreated")

	// Key related key names (main bucket).
	seedFingerprintName = []byte("seedfp")
	coinTypeName        = []byte("cointype")
	watchingOnlyName    = []byte("watchonly")

	// Sync related key names (sync bucket).
	syncedToName       = []byte("syncedto")
	birthdayHeightName = []byte("birthdayheight")
)

// uint32ToBytes converts a 32 bit unsigned integer into a 4-byte slice in
// little-endian order: 1 -> [1 0 0 0].
func uint32ToBytes(number uint32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, number)
	return buf
}

// uint64ToBytes converts a 64 bit unsigned integer into a 8-byte slice in
// little-endian order: 1 -> [1 0 0 0 0 0 0 0].
func uint64ToBytes(number uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, number)
	return buf
}

// fetchManagerVersion fetches the current manager version from the database.
func fetchManagerVersion(ns walletdb.ReadBucket) (uint32, error) {
	mainBucket := ns.NestedReadBucket(mainBucketName)
	verBytes := mainBucket.Get(mgrVersionName)
	if verBytes == nil {
		str := "required version number not stored in database"
		return 0, managerError(ErrDatabase, str, nil)
	}
	version := binary.LittleEndian.Uint32(verBytes)
	return version, nil
}

// putManagerVersion stores the provided version to the database.
func putManagerVersion(ns walletdb.ReadWriteBucket, version uint32) error {
	bucket := ns.NestedReadWriteBucket(mainBucketName)

	verBytes := uint32ToBytes(version)
	err := bucket.Put(mgrVersionName, verBytes)
	if err != nil {
		str := "failed to store version"
		return managerError(ErrDatabase, str, err)
	}
	return nil
}

// seedFingerprint returns the value stored to recognize the seed a manager
// was created with. A nil seed has an empty fingerprint.
func seedFingerprint(seed []byte) []byte {
	if seed == nil {
		return []byte{}
	}
	h := chainhash.DoubleHashB(seed)
	return h[:8]
}

// fetchSeedFingerprint loads the seed fingerprint from the database.
func fetchSeedFingerprint(ns walletdb.ReadBucket) ([]byte, error) {
	bucket := ns.NestedReadBucket(mainBucketName)
	fp := bucket.Get(seedFingerprintName)
	if fp == nil {
		str := "required seed fingerprint not stored in database"
		return nil, managerError(ErrDatabase, str, nil)
	}
	return append([]byte(nil), fp...), nil
}

// putKeyParams stores the seed fingerprint, coin type and watch only flag.
func putKeyParams(ns walletdb.ReadWriteBucket, seed []byte,
	coinType uint32) error {

	bucket := ns.NestedReadWriteBucket(mainBucketName)

	err := bucket.Put(seedFingerprintName, seedFingerprint(seed))
	if err != nil {
		str := "failed to store seed fingerprint"
		return managerError(ErrDatabase, str, err)
	}

	if err := bucket.Put(coinTypeName, uint32ToBytes(coinType)); err != nil {
		str := "failed to store coin type"
		return managerError(ErrDatabase, str, err)
	}

	watchingOnly := byte(0)
	if seed == nil {
		watchingOnly = 1
	}
	err = bucket.Put(watchingOnlyName, []byte{watchingOnly})
	if err != nil {
		str := "failed to store watching only flag"
		return managerError(ErrDatabase, str, err)
	}
	return nil
}

// fetchCoinType loads the coin type keys are derived under.
func fetchCoinType(ns walletdb.ReadBucket) (uint32, error) {
	bucket := ns.NestedReadBucket(mainBucketName)
	buf := bucket.Get(coinTypeName)
	if len(buf) != 4 {
		str := "malformed coin type stored in database"
		return 0, managerError(ErrDatabase, str, nil)
	}
	return binary.LittleEndian.Uint32(buf), nil
}

// fetchWatchingOnly loads the watching-only flag from the main bucket.
func fetchWatchingOnly(ns walletdb.ReadBucket) (bool, error) {
	bucket := ns.NestedReadBucket(mainBucketName)

	buf := bucket.Get(watchingOnlyName)
	if len(buf) != 1 {
		str := "malformed watching-only flag stored in database"
		return false, managerError(ErrDatabase, str, nil)
	}

	return buf[0] != 0, nil
}

// keyAccount returns the db key of an account. Big endian keeps cursor
// iteration in account order.
func keyAccount(account uint32) []byte {
	var k [4]byte
	binary.BigEndian.PutUint32(k[:], account)
	return k[:]
}

// putAccount records that the account has been derived.
func putAccount(ns walletdb.ReadWriteBucket, account uint32,
	created time.Time) error {

	bucket := ns.NestedReadWriteBucket(acctBucketName)
	v := uint64ToBytes(uint64(created.Unix()))
	if err := bucket.Put(keyAccount(account), v); err != nil {
		str := fmt.Sprintf("failed to store account %d", account)
		return managerError(ErrDatabase, str, err)
	}
	return nil
}

// fetchAccounts loads every derived account number in ascending order.
func fetchAccounts(ns walletdb.ReadBucket) ([]uint32, error) {
	bucket := ns.NestedReadBucket(acctBucketName)

	var accounts []uint32
	err := bucket.ForEach(func(k, _ []byte) error {
		if len(k) != 4 {
			str := "malformed account entry stored in database"
			return managerError(ErrDatabase, str, nil)
		}
		accounts = append(accounts, binary.BigEndian.Uint32(k))
		return nil
	})
	return accounts, err
}

// putWatchOnlyKey stores an imported full viewing key.
func putWatchOnlyKey(ns walletdb.ReadWriteBucket,
	fvk shielded.FullViewingKey, created time.Time) error {

	bucket := ns.NestedReadWriteBucket(watchOnlyBucketName)
	v := uint64ToBytes(uint64(created.Unix()))
	if err := bucket.Put(fvk.Bytes(), v); err != nil {
		str := "failed to store full viewing key"
		return managerError(ErrDatabase, str, err)
	}
	return nil
}

// fetchWatchOnlyKeys loads every imported full viewing key.
func fetchWatchOnlyKeys(ns walletdb.ReadBucket) ([]shielded.FullViewingKey,
	error) {

	bucket := ns.NestedReadBucket(watchOnlyBucketName)

	var fvks []shielded.FullViewingKey
	err := bucket.ForEach(func(k, _ []byte) error {
		fvk, err := shielded.FullViewingKeyFromBytes(k)
		if err != nil {
			str := "malformed full viewing key stored in database"
			return managerError(ErrDatabase, str, err)
		}
		fvks = append(fvks, fvk)
		return nil
	})
	return fvks, err
}

// putImportedSpendingKey stores a spending key imported outside of the
// seed's derivation tree.
func putImportedSpendingKey(ns walletdb.ReadWriteBucket,
	sk shielded.SpendingKey, created time.Time) error {

	bucket := ns.NestedReadWriteBucket(importedBucketName)
	v := uint64ToBytes(uint64(created.Unix()))
	if err := bucket.Put(sk[:], v); err != nil {
		str := "failed to store imported spending key"
		return managerError(ErrDatabase, str, err)
	}
	return nil
}

// fetchImportedSpendingKeys loads every imported spending key.
func fetchImportedSpendingKeys(ns walletdb.ReadBucket) ([]shielded.SpendingKey,
	error) {

	bucket := ns.NestedReadBucket(importedBucketName)

	var sks []shielded.SpendingKey
	err := bucket.ForEach(func(k, _ []byte) error {
		if len(k) != shielded.KeySize {
			str := "malformed spending key stored in database"
			return managerError(ErrDatabase, str, nil)
		}
		var sk shielded.SpendingKey
		copy(sk[:], k)
		sks = append(sks, sk)
		return nil
	})
	return sks, err
}

// fetchSyncedTo loads the block stamp the manager is synced to from the
// database. A nil stamp is returned if the manager never synced a block.
func fetchSyncedTo(ns walletdb.ReadBucket) (*BlockStamp, error) {
	bucket := ns.NestedReadBucket(syncBucketName)

	// The serialized synced to format is:
	//   <blockheight><blockhash><timestamp>
	//
	// 4 bytes block height + 32 bytes hash length + 4 byte timestamp length
	buf := bucket.Get(syncedToName)
	if buf == nil {
		return nil, nil
	}
	if len(buf) < 36 {
		str := "malformed sync information stored in database"
		return nil, managerError(ErrDatabase, str, nil)
	}

	var bs BlockStamp
	bs.Height = int32(binary.LittleEndian.Uint32(buf[0:4]))
	copy(bs.Hash[:], buf[4:36])

	if len(buf) == 40 {
		bs.Timestamp = time.Unix(
			int64(binary.LittleEndian.Uint32(buf[36:])), 0,
		)
	}

	return &bs, nil
}

// PutSyncedTo stores the provided synced to blockstamp to the database.
func PutSyncedTo(ns walletdb.ReadWriteBucket, bs *BlockStamp) error {
	errStr := fmt.Sprintf("failed to store sync information %v", bs.Hash)

	// If the wallet already synced a block, check that the previous block
	// height exists. This prevents reorg issues in the future. We use
	// BigEndian so that keys/values are added to the bucket in order,
	// making writes more efficient for some database backends.
	current, err := fetchSyncedTo(ns)
	if err != nil {
		return err
	}
	if current != nil && bs.Height > 0 {
		if _, err := fetchBlockHash(ns, bs.Height-1); err != nil {
			return managerError(ErrBlockNotFound, errStr, err)
		}
	}

	// Store the block hash by block height.
	if err := addBlockHash(ns, bs.Height, bs.Hash); err != nil {
		return managerError(ErrDatabase, errStr, err)
	}

	// Remove the stale height if any, as we should only store MaxReorgDepth
	// block hashes at any given point.
	staleHeight := staleHeight(bs.Height)
	if staleHeight >= 0 {
		if err := deleteBlockHash(ns, staleHeight); err != nil {
			return managerError(ErrDatabase, errStr, err)
		}
	}

	// Finally, we can update the syncedTo value.
	if err := updateSyncedTo(ns, bs); err != nil {
		return managerError(ErrDatabase, errStr, err)
	}

	return nil
}

// heightKey returns the key of the block hash index for height.
func heightKey(height int32) []byte {
	var rawHeight [4]byte
	binary.BigEndian.PutUint32(rawHeight[:], uint32(height))
	return rawHeight[:]
}

// fetchBlockHash loads the block hash for the provided height from the
// database.
func fetchBlockHash(ns walletdb.ReadBucket, height int32) (*chainhash.Hash, error) {
	bucket := ns.NestedReadBucket(syncBucketName)
	errStr := fmt.Sprintf("failed to fetch block hash for height %d", height)

	if height < 0 {
		err := errors.New("negative height")
		return nil, managerError(ErrBlockNotFound, errStr, err)
	}

	hashBytes := bucket.Get(heightKey(height))
	if hashBytes == nil {
		err := errors.New("block not found")
		return nil, managerError(ErrBlockNotFound, errStr, err)
	}
	if len(hashBytes) != 32 {
		err := fmt.Errorf("couldn't get hash from database")
		return nil, managerError(ErrDatabase, errStr, err)
	}
	var hash chainhash.Hash
	if err := hash.SetBytes(hashBytes); err != nil {
		return nil, managerError(ErrDatabase, errStr, err)
	}
	return &hash, nil
}

// addBlockHash adds a block hash entry to the index within the syncBucket.
func addBlockHash(ns walletdb.ReadWriteBucket, height int32, hash chainhash.Hash) error {
	bucket := ns.NestedReadWriteBucket(syncBucketName)
	if err := bucket.Put(heightKey(height), hash[:]); err != nil {
		errStr := fmt.Sprintf("failed to add hash %v", hash)
		return managerError(ErrDatabase, errStr, err)
	}
	return nil
}

// deleteBlockHash deletes the block hash entry within the syncBucket for the
// given height.
func deleteBlockHash(ns walletdb.ReadWriteBucket, height int32) error {
	bucket := ns.NestedReadWriteBucket(syncBucketName)
	if err := bucket.Delete(heightKey(height)); err != nil {
		errStr := fmt.Sprintf("failed to delete hash for height %v",
			height)
		return managerError(ErrDatabase, errStr, err)
	}
	return nil
}

// deleteBlockHashesAbove removes every indexed block hash above height.
func deleteBlockHashesAbove(ns walletdb.ReadWriteBucket, height int32) error {
	bucket := ns.NestedReadWriteBucket(syncBucketName)

	var stale [][]byte
	err := bucket.ForEach(func(k, _ []byte) error {
		if len(k) != 4 {
			return nil
		}
		if int32(binary.BigEndian.Uint32(k)) > height {
			stale = append(stale, append([]byte(nil), k...))
		}
		return nil
	})
	if err != nil {
		return managerError(ErrDatabase, "failed to scan block hashes", err)
	}
	for _, k := range stale {
		if err := bucket.Delete(k); err != nil {
			str := "failed to delete stale block hash"
			return managerError(ErrDatabase, str, err)
		}
	}
	return nil
}

// updateSyncedTo updates the value behind the syncedToName key to the given
// block.
func updateSyncedTo(ns walletdb.ReadWriteBucket, bs *BlockStamp) error {
	// The serialized synced to format is:
	//   <blockheight><blockhash><timestamp>
	//
	// 4 bytes block height + 32 bytes hash length + 4 byte timestamp length
	var serializedStamp [40]byte
	binary.LittleEndian.PutUint32(serializedStamp[0:4], uint32(bs.Height))
	copy(serializedStamp[4:36], bs.Hash[0:32])
	binary.LittleEndian.PutUint32(
		serializedStamp[36:], uint32(bs.Timestamp.Unix()),
	)

	bucket := ns.NestedReadWriteBucket(syncBucketName)
	if err := bucket.Put(syncedToName, serializedStamp[:]); err != nil {
		errStr := "failed to update synced to value"
		return managerError(ErrDatabase, errStr, err)
	}

	return nil
}

// deleteSyncedTo removes the synced to value together with the whole block
// hash index.
func deleteSyncedTo(ns walletdb.ReadWriteBucket) error {
	if err := deleteBlockHashesAbove(ns, -1); err != nil {
		return err
	}
	bucket := ns.NestedReadWriteBucket(syncBucketName)
	if err := bucket.Delete(syncedToName); err != nil {
		errStr := "failed to delete synced to value"
		return managerError(ErrDatabase, errStr, err)
	}
	return nil
}

// staleHeight returns the stale height for the given height. The stale height
// indicates the height we should remove in order to maintain a maximum of
// MaxReorgDepth block hashes.
func staleHeight(height int32) int32 {
	return height - MaxReorgDepth
}

// fetchBirthdayHeight loads the height sync starts from when the manager
// has no synced to value.
func fetchBirthdayHeight(ns walletdb.ReadBucket) (int32, error) {
	bucket := ns.NestedReadBucket(syncBucketName)
	buf := bucket.Get(birthdayHeightName)
	if len(buf) != 4 {
		str := "malformed birthday height stored in database"
		return 0, managerError(ErrDatabase, str, nil)
	}
	return int32(binary.BigEndian.Uint32(buf)), nil
}

// putBirthdayHeight stores the height sync starts from.
func putBirthdayHeight(ns walletdb.ReadWriteBucket, height int32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(height))

	bucket := ns.NestedReadWriteBucket(syncBucketName)
	if err := bucket.Put(birthdayHeightName, buf[:]); err != nil {
		str := "failed to store birthday height"
		return managerError(ErrDatabase, str, err)
	}
	return nil
}

// managerExists returns whether or not the manager has already been created
// in the given database namespace.
func managerExists(ns walletdb.ReadBucket) bool {
	if ns == nil {
		return false
	}
	mainBucket := ns.NestedReadBucket(mainBucketName)
	return mainBucket != nil
}

// createManagerNS creates the initial namespace structure needed for all of
// the manager data.  This includes things such as all of the buckets as well
// as the version and creation date.
func createManagerNS(ns walletdb.ReadWriteBucket) error {
	mainBucket, err := ns.CreateBucket(mainBucketName)
	if err != nil {
		str := "failed to create main bucket"
		return managerError(ErrDatabase, str, err)
	}

	for _, name := range [][]byte{
		syncBucketName, acctBucketName, watchOnlyBucketName,
		importedBucketName,
	} {
		if _, err := ns.CreateBucket(name); err != nil {
			str := fmt.Sprintf("failed to create %s bucket", name)
			return managerError(ErrDatabase, str, err)
		}
	}

	if err := putManagerVersion(ns, latestMgrVersion); err != nil {
		return err
	}

	createDate := uint64(time.Now().Unix())
	var dateBytes [8]byte
	binary.LittleEndian.PutUint64(dateBytes[:], createDate)
	err = mainBucket.Put(mgrCreateDateName, dateBytes[:])
	if err != nil {
		str := "failed to store database creation time"
		return managerError(ErrDatabase, str, err)
	}

	return nil
}

// checkSeed returns ErrWrongSeed when seed does not match the stored
// fingerprint.
func checkSeed(ns walletdb.ReadBucket, seed []byte) error {
	fp, err := fetchSeedFingerprint(ns)
	if err != nil {
		return err
	}
	if !bytes.Equal(fp, seedFingerprint(seed)) {
		str := "the provided seed does not match the wallet seed"
		return managerError(ErrWrongSeed, str, nil)
	}
	return nil
}
