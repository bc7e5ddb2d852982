// Package evm backs the chain.Adapter interface with an Ethereum JSON-RPC
// endpoint via go-ethereum's ethclient.
package evm

import (
	"context"
	"fmt"

	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"emberwallet/chain"
)

// Client adapts one EVM endpoint. It caches the chain id after the first
// successful query; a wallet connection never migrates between chains
// without an explicit network switch.
type Client struct {
	rpcURL  string
	eth     *ethclient.Client
	chainID uint64
}

// Dial connects to the endpoint and verifies it answers for the expected
// chain id. Pass zero to accept whatever the endpoint reports.
func Dial(ctx context.Context, rpcURL string, wantChainID uint64) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rpcURL, err)
	}
	id, err := eth.ChainID(ctx)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("query chain id: %w", err)
	}
	if wantChainID != 0 && id.Uint64() != wantChainID {
		eth.Close()
		return nil, fmt.Errorf("endpoint %s serves chain %d, want %d", rpcURL, id.Uint64(), wantChainID)
	}
	return &Client{rpcURL: rpcURL, eth: eth, chainID: id.Uint64()}, nil
}

func (c *Client) Close()         { c.eth.Close() }
func (c *Client) RPCURL() string { return c.rpcURL }

func (c *Client) ChainID(ctx context.Context) (uint64, error) {
	return c.chainID, nil
}

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	return c.eth.BlockNumber(ctx)
}

func (c *Client) Balance(ctx context.Context, addr common.Address) (*big.Int, error) {
	return c.eth.BalanceAt(ctx, addr, nil)
}

func (c *Client) GasPrice(ctx context.Context) (*big.Int, error) {
	return c.eth.SuggestGasPrice(ctx)
}

func (c *Client) EstimateGas(ctx context.Context, msg chain.CallMsg) (uint64, error) {
	return c.eth.EstimateGas(ctx, callMsg(msg))
}

func (c *Client) Call(ctx context.Context, msg chain.CallMsg) ([]byte, error) {
	return c.eth.CallContract(ctx, callMsg(msg), nil)
}

func (c *Client) TransactionCount(ctx context.Context, addr common.Address) (uint64, error) {
	return c.eth.PendingNonceAt(ctx, addr)
}

func (c *Client) TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	return c.eth.TransactionByHash(ctx, hash)
}

func (c *Client) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	return c.eth.TransactionReceipt(ctx, hash)
}

func (c *Client) Broadcast(ctx context.Context, tx *types.Transaction) (common.Hash, error) {
	if err := c.eth.SendTransaction(ctx, tx); err != nil {
		return common.Hash{}, err
	}
	return tx.Hash(), nil
}

func callMsg(msg chain.CallMsg) ethereum.CallMsg {
	return ethereum.CallMsg{
		From:     msg.From,
		To:       msg.To,
		Value:    msg.Value,
		Data:     msg.Data,
		Gas:      msg.Gas,
		GasPrice: msg.GasPrice,
	}
}
