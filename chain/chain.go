// Package chain defines the adapter interface the bridge uses for all
// blockchain reads and writes. The bridge never talks to a node directly;
// everything goes through an Adapter so chains stay pluggable and tests can
// substitute a fake.
package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// CallMsg is the chain-neutral shape of a contract call or gas estimate.
type CallMsg struct {
	From     common.Address
	To       *common.Address
	Value    *big.Int
	Data     []byte
	Gas      uint64
	GasPrice *big.Int
}

// Network describes one chain the wallet can point at.
type Network struct {
	ChainID     uint64 `toml:"ChainID" json:"chainId"`
	Name        string `toml:"Name" json:"name"`
	RPCURL      string `toml:"RPCURL" json:"rpcUrl"`
	ExplorerURL string `toml:"ExplorerURL" json:"explorerUrl,omitempty"`
}

// Adapter performs chain-specific reads and writes on behalf of the bridge.
type Adapter interface {
	ChainID(ctx context.Context) (uint64, error)
	BlockNumber(ctx context.Context) (uint64, error)
	Balance(ctx context.Context, addr common.Address) (*big.Int, error)
	GasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg CallMsg) (uint64, error)
	Call(ctx context.Context, msg CallMsg) ([]byte, error)
	TransactionCount(ctx context.Context, addr common.Address) (uint64, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	Broadcast(ctx context.Context, tx *types.Transaction) (common.Hash, error)
}
