package router

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"emberwallet/bridge"
)

// netErr logs the upstream failure in full and hands the wire a sanitized
// error so endpoint details never reach the page.
func (r *Router) netErr(method string, err error) *bridge.Error {
	r.log.Error("upstream rpc failure", slog.String("method", method), slog.Any("error", err))
	return bridge.ErrNetwork()
}

func (r *Router) handleChainID(ctx context.Context) (interface{}, *bridge.Error) {
	id, err := r.chain.ChainID(ctx)
	if err != nil {
		return nil, r.netErr("eth_chainId", err)
	}
	return hexutil.EncodeUint64(id), nil
}

func (r *Router) handleNetVersion(ctx context.Context) (interface{}, *bridge.Error) {
	id, err := r.chain.ChainID(ctx)
	if err != nil {
		return nil, r.netErr("net_version", err)
	}
	return strconv.FormatUint(id, 10), nil
}

func (r *Router) handleBlockNumber(ctx context.Context) (interface{}, *bridge.Error) {
	n, err := r.chain.BlockNumber(ctx)
	if err != nil {
		return nil, r.netErr("eth_blockNumber", err)
	}
	return hexutil.EncodeUint64(n), nil
}

func (r *Router) handleGasPrice(ctx context.Context) (interface{}, *bridge.Error) {
	price, err := r.chain.GasPrice(ctx)
	if err != nil {
		return nil, r.netErr("eth_gasPrice", err)
	}
	return hexutil.EncodeBig(price), nil
}

func (r *Router) handleGetBalance(ctx context.Context, params json.RawMessage) (interface{}, *bridge.Error) {
	list, perr := positional(params)
	if perr != nil {
		return nil, perr
	}
	if len(list) < 1 {
		return nil, bridge.ErrInvalidParams("eth_getBalance requires an address")
	}
	addr, perr := decodeAddress(list[0])
	if perr != nil {
		return nil, perr
	}
	bal, err := r.chain.Balance(ctx, addr)
	if err != nil {
		return nil, r.netErr("eth_getBalance", err)
	}
	return hexutil.EncodeBig(bal), nil
}

func (r *Router) handleCall(ctx context.Context, params json.RawMessage) (interface{}, *bridge.Error) {
	list, perr := positional(params)
	if perr != nil {
		return nil, perr
	}
	if len(list) < 1 {
		return nil, bridge.ErrInvalidParams("eth_call requires a call object")
	}
	msg, perr := decodeCallParams(list[0])
	if perr != nil {
		return nil, perr
	}
	ret, err := r.chain.Call(ctx, msg)
	if err != nil {
		return nil, r.netErr("eth_call", err)
	}
	return hexutil.Encode(ret), nil
}

func (r *Router) handleEstimateGas(ctx context.Context, params json.RawMessage) (interface{}, *bridge.Error) {
	list, perr := positional(params)
	if perr != nil {
		return nil, perr
	}
	if len(list) < 1 {
		return nil, bridge.ErrInvalidParams("eth_estimateGas requires a call object")
	}
	msg, perr := decodeCallParams(list[0])
	if perr != nil {
		return nil, perr
	}
	gas, err := r.chain.EstimateGas(ctx, msg)
	if err != nil {
		return nil, r.netErr("eth_estimateGas", err)
	}
	return hexutil.EncodeUint64(gas), nil
}

func (r *Router) handleTransactionCount(ctx context.Context, params json.RawMessage) (interface{}, *bridge.Error) {
	list, perr := positional(params)
	if perr != nil {
		return nil, perr
	}
	if len(list) < 1 {
		return nil, bridge.ErrInvalidParams("eth_getTransactionCount requires an address")
	}
	addr, perr := decodeAddress(list[0])
	if perr != nil {
		return nil, perr
	}
	nonce, err := r.chain.TransactionCount(ctx, addr)
	if err != nil {
		return nil, r.netErr("eth_getTransactionCount", err)
	}
	return hexutil.EncodeUint64(nonce), nil
}

func (r *Router) handleTransactionByHash(ctx context.Context, params json.RawMessage) (interface{}, *bridge.Error) {
	list, perr := positional(params)
	if perr != nil {
		return nil, perr
	}
	if len(list) < 1 {
		return nil, bridge.ErrInvalidParams("eth_getTransactionByHash requires a hash")
	}
	hash, perr := decodeHash(list[0])
	if perr != nil {
		return nil, perr
	}
	tx, _, err := r.chain.TransactionByHash(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, r.netErr("eth_getTransactionByHash", err)
	}
	return tx, nil
}

func (r *Router) handleTransactionReceipt(ctx context.Context, params json.RawMessage) (interface{}, *bridge.Error) {
	list, perr := positional(params)
	if perr != nil {
		return nil, perr
	}
	if len(list) < 1 {
		return nil, bridge.ErrInvalidParams("eth_getTransactionReceipt requires a hash")
	}
	hash, perr := decodeHash(list[0])
	if perr != nil {
		return nil, perr
	}
	receipt, err := r.chain.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, r.netErr("eth_getTransactionReceipt", err)
	}
	return receipt, nil
}
