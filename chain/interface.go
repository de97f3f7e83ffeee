package chain

import (
	"errors"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/zsasuite/zsawallet/shielded"
)

// ErrBlockNotFound is returned when the back end has no block at the
// requested height. Sync treats it as having reached the tip.
var ErrBlockNotFound = errors.New("block not found")

// BackEnds returns a list of the available back ends.
// When there are more than one backend, it should transfer
// into a driver and use dynamic registration.
func BackEnds() []string {
	return []string{
		"zebrad",
		"sim",
	}
}

// Block is a block of the best chain as seen by the back end. Only the
// fields the wallet needs are kept; transactions are fetched by id.
type Block struct {
	Hash     chainhash.Hash
	Height   int32
	PrevHash chainhash.Hash
	Time     time.Time
	TxIDs    []chainhash.Hash
}

// Interface allows more than one backing blockchain source, such as a
// full node's RPC server or an in-memory chain, as long as we write a driver
// for it.
type Interface interface {
	// GetBlock returns the block at height on the best chain, or
	// ErrBlockNotFound past the tip.
	GetBlock(height int32) (*Block, error)

	// GetTransaction returns the shielded part of a transaction. A
	// transaction without one returns an error wrapping
	// shielded.ErrUnsupportedTxVersion.
	GetTransaction(txid *chainhash.Hash) (*shielded.Transaction, error)

	// GetBestBlockHash returns the hash of the tip of the best chain.
	GetBestBlockHash() (*chainhash.Hash, error)

	// BackEnd returns the name of the driver.
	BackEnd() string
}
