package netparams

import "fmt"

// Params is used to group parameters for various networks such as the main
// network and test networks.
type Params struct {
	// Name is the network name used for data directories.
	Name string

	// CoinType is the ZIP-32 coin type keys are derived under.
	CoinType uint32

	// RPCPort is the default port of the node's JSON-RPC server.
	RPCPort string

	// NU5ActivationHeight is the first height that may carry Orchard
	// actions. Sync starts here when no start height is configured.
	NU5ActivationHeight int32

	// NU7ActivationHeight is the first height that may carry issuance and
	// burns of custom assets.
	NU7ActivationHeight int32
}

// MainNetParams contains parameters specific running the wallet against
// the main network.
var MainNetParams = Params{
	Name:                "mainnet",
	CoinType:            133,
	RPCPort:             "8232",
	NU5ActivationHeight: 1687104,
	NU7ActivationHeight: 1687104,
}

// TestNetParams contains parameters specific running the wallet against
// the test network.
var TestNetParams = Params{
	Name:                "testnet",
	CoinType:            1,
	RPCPort:             "18232",
	NU5ActivationHeight: 1842420,
	NU7ActivationHeight: 1842420,
}

// RegTestParams contains parameters specific running the wallet against a
// local regression test node.
var RegTestParams = Params{
	Name:                "regtest",
	CoinType:            1,
	RPCPort:             "18232",
	NU5ActivationHeight: 1,
	NU7ActivationHeight: 1,
}

// ByName returns the parameters of the named network.
func ByName(name string) (*Params, error) {
	for _, p := range []*Params{&MainNetParams, &TestNetParams, &RegTestParams} {
		if p.Name == name {
			return p, nil
		}
	}
	return nil, fmt.Errorf("unknown network %q", name)
}
