package wallet

import (
	"errors"
	"fmt"

	"github.com/zsasuite/zsawallet/wtxmgr"
)

var (
	// ErrNotCreated is returned when opening a database that holds no
	// wallet.
	ErrNotCreated = errors.New("wallet has not been created")

	// ErrRescanRequired is returned when a reorg reaches further back than
	// the retained commitment tree checkpoints. The wallet cannot recover
	// on its own and must be resynced from a trusted height.
	ErrRescanRequired = errors.New("reorg exceeds the retained " +
		"checkpoints, wallet must be rescanned")

	// ErrPrevBlockMismatch is returned when ingesting a block that does not
	// connect to the block the wallet is synced to.
	ErrPrevBlockMismatch = errors.New("previous block hash does not " +
		"match the synced block")

	// ErrNoSpendingKey is returned when selecting notes of an address the
	// wallet cannot spend from.
	ErrNoSpendingKey = errors.New("no spending key for address")
)

// BlockOrderError is returned when a block is ingested out of order.
type BlockOrderError struct {
	Expected int32
	Actual   int32
}

// Error implements the error interface.
func (e *BlockOrderError) Error() string {
	return fmt.Sprintf("block out of order: expected height %d, got %d",
		e.Expected, e.Actual)
}

// FvkNotFoundError is returned when a note decrypts under an incoming
// viewing key whose full viewing key is unknown, so its nullifier cannot be
// derived.
type FvkNotFoundError struct {
	OutPoint wtxmgr.OutPoint
}

// Error implements the error interface.
func (e *FvkNotFoundError) Error() string {
	return fmt.Sprintf("no full viewing key for the incoming viewing key "+
		"of note %v", e.OutPoint)
}
