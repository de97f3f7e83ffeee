package chain

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/zsasuite/zsawallet/shielded"
)

// Error codes a zcash node returns for blocks and transactions it does not
// know.
const (
	errCodeInvalidParameter btcjson.RPCErrorCode = -8
	errCodeInvalidAddrOrKey btcjson.RPCErrorCode = -5
)

// RPCConfig describes the connection to a node's JSON-RPC server.
type RPCConfig struct {
	Host string
	User string
	Pass string

	// Certificates enables TLS using the PEM encoded certificates.
	Certificates []byte

	// Proxy is the address of an optional SOCKS5 proxy.
	Proxy     string
	ProxyUser string
	ProxyPass string
}

// RPCClient is a chain back end served by a zcash full node over HTTP POST
// JSON-RPC.
type RPCClient struct {
	client *rpcclient.Client
	host   string
}

// A compile-time assertion to ensure that RPCClient implements Interface.
var _ Interface = (*RPCClient)(nil)

// NewRPCClient creates a client for the node described by cfg. No request
// is made until the first call.
func NewRPCClient(cfg *RPCConfig) (*RPCClient, error) {
	connCfg := &rpcclient.ConnConfig{
		Host:                 cfg.Host,
		User:                 cfg.User,
		Pass:                 cfg.Pass,
		Certificates:         cfg.Certificates,
		DisableTLS:           len(cfg.Certificates) == 0,
		Proxy:                cfg.Proxy,
		ProxyUser:            cfg.ProxyUser,
		ProxyPass:            cfg.ProxyPass,
		DisableConnectOnNew:  true,
		DisableAutoReconnect: false,
		HTTPPostMode:         true,
	}
	client, err := rpcclient.New(connCfg, nil)
	if err != nil {
		return nil, err
	}

	log.Infof("Using %s JSON-RPC at %s", BackEnds()[0], cfg.Host)
	return &RPCClient{client: client, host: cfg.Host}, nil
}

// Stop shuts down the client.
func (c *RPCClient) Stop() {
	c.client.Shutdown()
	c.client.WaitForShutdown()
}

// call sends the request and decodes the result into thing.
func (c *RPCClient) call(method string, args []any, thing any) error {
	params := make([]json.RawMessage, 0, len(args))
	for i := range args {
		p, err := json.Marshal(args[i])
		if err != nil {
			return err
		}
		params = append(params, p)
	}

	b, err := c.client.RawRequest(method, params)
	if err != nil {
		return fmt.Errorf("rawrequest (%v) error: %w", method, err)
	}
	if thing != nil {
		return json.Unmarshal(b, thing)
	}
	return nil
}

// isNotFound returns whether err is the node reporting an unknown block or
// transaction.
func isNotFound(err error) bool {
	var rpcErr *btcjson.RPCError
	if !errors.As(err, &rpcErr) {
		return false
	}
	return rpcErr.Code == errCodeInvalidParameter ||
		rpcErr.Code == errCodeInvalidAddrOrKey
}

// getBlockVerboseResult models the fields of the getblock response at
// verbosity 1 the wallet reads.
type getBlockVerboseResult struct {
	Hash              string   `json:"hash"`
	Height            int32    `json:"height"`
	PreviousBlockHash string   `json:"previousblockhash"`
	Time              int64    `json:"time"`
	Tx                []string `json:"tx"`
}

// GetBlock returns the block at height on the node's best chain.
func (c *RPCClient) GetBlock(height int32) (*Block, error) {
	var res getBlockVerboseResult
	err := c.call("getblock", []any{fmt.Sprint(height), 1}, &res)
	if isNotFound(err) {
		return nil, fmt.Errorf("height %d: %w", height, ErrBlockNotFound)
	}
	if err != nil {
		return nil, err
	}

	hash, err := chainhash.NewHashFromStr(res.Hash)
	if err != nil {
		return nil, err
	}
	block := &Block{
		Hash:   *hash,
		Height: res.Height,
		Time:   time.Unix(res.Time, 0),
		TxIDs:  make([]chainhash.Hash, 0, len(res.Tx)),
	}

	switch {
	case res.PreviousBlockHash != "":
		prev, err := chainhash.NewHashFromStr(res.PreviousBlockHash)
		if err != nil {
			return nil, err
		}
		block.PrevHash = *prev

	// Some nodes leave the parent out of the verbose result, ask for it
	// by height instead.
	case height > 0:
		prev, err := c.getBlockHash(height - 1)
		if err != nil {
			return nil, err
		}
		block.PrevHash = *prev
	}

	for _, txid := range res.Tx {
		h, err := chainhash.NewHashFromStr(txid)
		if err != nil {
			return nil, err
		}
		block.TxIDs = append(block.TxIDs, *h)
	}

	log.Tracef("Fetched block %d (%v) with %d transactions", height,
		block.Hash, len(block.TxIDs))
	return block, nil
}

// getBlockHash returns the hash of the best chain block at height.
func (c *RPCClient) getBlockHash(height int32) (*chainhash.Hash, error) {
	var hash string
	err := c.call("getblockhash", []any{height}, &hash)
	if isNotFound(err) {
		return nil, fmt.Errorf("height %d: %w", height, ErrBlockNotFound)
	}
	if err != nil {
		return nil, err
	}
	return chainhash.NewHashFromStr(hash)
}

// GetTransaction fetches the raw transaction and decodes its shielded part.
func (c *RPCClient) GetTransaction(txid *chainhash.Hash) (
	*shielded.Transaction, error) {

	var txHex string
	if err := c.call("getrawtransaction", []any{txid.String(), 0}, &txHex); err != nil {
		return nil, err
	}
	raw, err := hex.DecodeString(txHex)
	if err != nil {
		return nil, err
	}
	tx, err := shielded.DecodeTransaction(raw)
	if err != nil {
		return nil, fmt.Errorf("transaction %v: %w", txid, err)
	}
	return tx, nil
}

// GetBestBlockHash returns the hash of the node's best block.
func (c *RPCClient) GetBestBlockHash() (*chainhash.Hash, error) {
	var hash string
	if err := c.call("getbestblockhash", nil, &hash); err != nil {
		return nil, err
	}
	return chainhash.NewHashFromStr(hash)
}

// BackEnd returns the name of the driver.
func (c *RPCClient) BackEnd() string {
	return BackEnds()[0]
}
