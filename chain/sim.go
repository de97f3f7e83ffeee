package chain

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/zsasuite/zsawallet/shielded"
)

// SimChain is an in-memory chain. Blocks are added at the tip and may be
// replaced from any height to simulate a reorganization.
type SimChain struct {
	mtx sync.RWMutex

	start  int32
	blocks []*Block
	txs    map[chainhash.Hash][]byte

	// salt makes the hashes of replacement blocks differ from the blocks
	// they replace.
	salt uint32
}

// A compile-time assertion to ensure that SimChain implements Interface.
var _ Interface = (*SimChain)(nil)

// NewSimChain returns an empty chain whose first block will be at height
// start.
func NewSimChain(start int32) *SimChain {
	return &SimChain{
		start: start,
		txs:   make(map[chainhash.Hash][]byte),
	}
}

// AddBlock appends a block holding txs to the tip and returns it.
func (c *SimChain) AddBlock(txs ...*shielded.Transaction) (*Block, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	height := c.start + int32(len(c.blocks))
	block := &Block{
		Height: height,
		Time:   time.Unix(int64(height)*75, 0),
	}
	if len(c.blocks) > 0 {
		block.PrevHash = c.blocks[len(c.blocks)-1].Hash
	}

	var header bytes.Buffer
	header.Write(block.PrevHash[:])
	fmt.Fprintf(&header, "%d/%d", height, c.salt)
	for _, tx := range txs {
		var raw bytes.Buffer
		if err := tx.Serialize(&raw); err != nil {
			return nil, err
		}
		txid := tx.TxHash()
		c.txs[txid] = raw.Bytes()
		block.TxIDs = append(block.TxIDs, txid)
		header.Write(txid[:])
	}
	block.Hash = chainhash.DoubleHashH(header.Bytes())

	c.blocks = append(c.blocks, block)
	return block, nil
}

// Disconnect removes every block at and above height. Blocks added
// afterwards get hashes different from the removed ones.
func (c *SimChain) Disconnect(height int32) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	idx := height - c.start
	if idx < 0 {
		idx = 0
	}
	if int(idx) < len(c.blocks) {
		c.blocks = c.blocks[:idx]
	}
	c.salt++
}

// Tip returns the height of the best block, or start-1 for an empty chain.
func (c *SimChain) Tip() int32 {
	c.mtx.RLock()
	defer c.mtx.RUnlock()

	return c.start + int32(len(c.blocks)) - 1
}

// GetBlock returns the block at height.
func (c *SimChain) GetBlock(height int32) (*Block, error) {
	c.mtx.RLock()
	defer c.mtx.RUnlock()

	idx := height - c.start
	if idx < 0 || int(idx) >= len(c.blocks) {
		return nil, fmt.Errorf("height %d: %w", height, ErrBlockNotFound)
	}
	block := *c.blocks[idx]
	return &block, nil
}

// GetTransaction decodes a transaction of any block that was ever added.
func (c *SimChain) GetTransaction(txid *chainhash.Hash) (
	*shielded.Transaction, error) {

	c.mtx.RLock()
	raw, ok := c.txs[*txid]
	c.mtx.RUnlock()

	if !ok {
		return nil, fmt.Errorf("transaction %v not found", txid)
	}
	return shielded.DecodeTransaction(raw)
}

// GetBestBlockHash returns the hash of the tip, or the zero hash for an
// empty chain.
func (c *SimChain) GetBestBlockHash() (*chainhash.Hash, error) {
	c.mtx.RLock()
	defer c.mtx.RUnlock()

	if len(c.blocks) == 0 {
		return &chainhash.Hash{}, nil
	}
	hash := c.blocks[len(c.blocks)-1].Hash
	return &hash, nil
}

// BackEnd returns the name of the driver.
func (c *SimChain) BackEnd() string {
	return "sim"
}
