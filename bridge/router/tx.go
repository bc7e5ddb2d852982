package router

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"emberwallet/bridge"
	"emberwallet/bridge/approval"
	"emberwallet/bridge/session"
	"emberwallet/chain"
	"emberwallet/vault"
)

const fallbackGasLimit = 21000

// requireSession loads the live session for id and checks that addr was
// granted in it. Sensitive methods refuse to run without both.
func (r *Router) requireSession(id bridge.Identity, addr common.Address) (session.Session, *bridge.Error) {
	sess, ok := r.sessions.Get(id.ConnectionID, id.Origin)
	if !ok {
		return session.Session{}, bridge.ErrUnauthorized("no active session; call eth_requestAccounts first")
	}
	for _, a := range sess.Accounts {
		if a == addr {
			r.sessions.Touch(id.ConnectionID, id.Origin)
			return sess, nil
		}
	}
	return session.Session{}, bridge.ErrUnauthorized("address not authorized for this session")
}

// authorize runs the vault's password check over the material the approval
// UI collected alongside its decision.
func (r *Router) authorize(authData string) *bridge.Error {
	if authData == "" {
		return bridge.ErrUnauthorized("authorization required")
	}
	if err := r.vault.VerifyPassword(authData); err != nil {
		return bridge.ErrUnauthorized("invalid authorization")
	}
	return nil
}

func (r *Router) handleSendTransaction(ctx context.Context, id bridge.Identity, params json.RawMessage) (interface{}, *bridge.Error) {
	list, perr := positional(params)
	if perr != nil {
		return nil, perr
	}
	if len(list) < 1 {
		return nil, bridge.ErrInvalidParams("eth_sendTransaction requires a transaction object")
	}
	tx, perr := decodeTxParams(list[0])
	if perr != nil {
		return nil, perr
	}
	if _, perr := r.requireSession(id, tx.From); perr != nil {
		return nil, perr
	}

	// Fill gas fields before the prompt so the user sees real numbers.
	if tx.GasPrice.Sign() == 0 {
		price, err := r.chain.GasPrice(ctx)
		if err != nil {
			return nil, r.netErr("eth_sendTransaction", err)
		}
		tx.GasPrice = price
	}
	if tx.Gas == 0 {
		gas, err := r.chain.EstimateGas(ctx, chain.CallMsg{
			From:     tx.From,
			To:       &tx.To,
			Value:    tx.Value,
			Data:     tx.Data,
			GasPrice: tx.GasPrice,
		})
		if err != nil {
			r.log.Warn("gas estimate failed, using fallback",
				slog.String("origin", id.Origin), slog.Any("error", err))
			gas = fallbackGasLimit
		}
		tx.Gas = gas
	}

	payload := approval.TxPayload{
		From:     tx.From.Hex(),
		To:       tx.To.Hex(),
		Value:    hexutil.EncodeBig(tx.Value),
		Gas:      tx.Gas,
		GasPrice: hexutil.EncodeBig(tx.GasPrice),
	}
	if len(tx.Data) > 0 {
		payload.Data = hexutil.Encode(tx.Data)
	}
	req, ch, perr := r.submit(id, approval.KindSendTx, payload)
	if perr != nil {
		return nil, perr
	}
	out, perr := r.awaitDecision(ctx, req, ch)
	if perr != nil {
		return nil, perr
	}
	if perr := r.authorize(out.AuthData); perr != nil {
		return nil, perr
	}

	chainID, err := r.chain.ChainID(ctx)
	if err != nil {
		return nil, r.netErr("eth_sendTransaction", err)
	}
	nonce, err := r.chain.TransactionCount(ctx, tx.From)
	if err != nil {
		return nil, r.netErr("eth_sendTransaction", err)
	}
	unsigned := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &tx.To,
		Value:    tx.Value,
		Gas:      tx.Gas,
		GasPrice: tx.GasPrice,
		Data:     tx.Data,
	})
	signed, err := r.vault.SignTransaction(tx.From, unsigned, new(big.Int).SetUint64(chainID), out.AuthData)
	if err != nil {
		return nil, r.vaultErr(err)
	}
	hash, err := r.chain.Broadcast(ctx, signed)
	if err != nil {
		r.log.Error("broadcast failed",
			slog.String("origin", id.Origin),
			slog.String("from", tx.From.Hex()),
			slog.Any("error", err))
		return nil, bridge.ErrTransactionFailed()
	}
	r.log.Info("transaction broadcast",
		slog.String("origin", id.Origin),
		slog.String("hash", hash.Hex()))
	return hash.Hex(), nil
}

func (r *Router) handlePersonalSign(ctx context.Context, id bridge.Identity, params json.RawMessage) (interface{}, *bridge.Error) {
	list, perr := positional(params)
	if perr != nil {
		return nil, perr
	}
	// Parameter order follows the provider convention: message first,
	// address second.
	if len(list) < 2 {
		return nil, bridge.ErrInvalidParams("personal_sign requires message and address")
	}
	var rawMsg string
	if err := json.Unmarshal(list[0], &rawMsg); err != nil {
		return nil, bridge.ErrInvalidParams("message must be a string")
	}
	addr, perr := decodeAddress(list[1])
	if perr != nil {
		return nil, perr
	}
	if _, perr := r.requireSession(id, addr); perr != nil {
		return nil, perr
	}

	message := []byte(rawMsg)
	if decoded, err := hexutil.Decode(rawMsg); err == nil {
		message = decoded
	}

	req, ch, perr := r.submit(id, approval.KindSignMessage, approval.MessagePayload{
		Address: addr.Hex(),
		Message: displayText(message),
	})
	if perr != nil {
		return nil, perr
	}
	out, perr := r.awaitDecision(ctx, req, ch)
	if perr != nil {
		return nil, perr
	}
	if perr := r.authorize(out.AuthData); perr != nil {
		return nil, perr
	}
	sig, err := r.vault.SignMessage(addr, message, out.AuthData)
	if err != nil {
		return nil, r.vaultErr(err)
	}
	return hexutil.Encode(sig), nil
}

func (r *Router) handleSignTypedData(ctx context.Context, id bridge.Identity, params json.RawMessage) (interface{}, *bridge.Error) {
	list, perr := positional(params)
	if perr != nil {
		return nil, perr
	}
	if len(list) < 2 {
		return nil, bridge.ErrInvalidParams("eth_signTypedData_v4 requires address and typed data")
	}
	addr, perr := decodeAddress(list[0])
	if perr != nil {
		return nil, perr
	}
	// Typed data arrives either as a JSON object or as a JSON string
	// containing one.
	typedJSON := list[1]
	var asString string
	if err := json.Unmarshal(list[1], &asString); err == nil {
		typedJSON = json.RawMessage(asString)
	}
	var typed apitypes.TypedData
	if err := json.Unmarshal(typedJSON, &typed); err != nil {
		return nil, bridge.ErrInvalidParams("malformed typed data")
	}
	if _, perr := r.requireSession(id, addr); perr != nil {
		return nil, perr
	}

	req, ch, perr := r.submit(id, approval.KindSignTypedData, approval.TypedDataPayload{
		Address:   addr.Hex(),
		TypedData: string(typedJSON),
	})
	if perr != nil {
		return nil, perr
	}
	out, perr := r.awaitDecision(ctx, req, ch)
	if perr != nil {
		return nil, perr
	}
	if perr := r.authorize(out.AuthData); perr != nil {
		return nil, perr
	}
	sig, err := r.vault.SignTypedData(addr, typed, out.AuthData)
	if err != nil {
		return nil, r.vaultErr(err)
	}
	return hexutil.Encode(sig), nil
}

// vaultErr maps vault failures onto wire errors without leaking internals.
func (r *Router) vaultErr(err error) *bridge.Error {
	switch {
	case errors.Is(err, vault.ErrLocked):
		return bridge.ErrUnauthorized("invalid authorization")
	case errors.Is(err, vault.ErrUnknownAccount):
		return bridge.ErrUnauthorized("address not held by wallet")
	default:
		r.log.Error("signing failed", slog.Any("error", err))
		return bridge.ErrInternal()
	}
}
