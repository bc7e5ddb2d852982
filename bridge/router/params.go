package router

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"

	"emberwallet/bridge"
	"emberwallet/chain"
)

// positional splits a JSON-RPC params value into its positional elements.
// Absent or null params decode to an empty slice.
func positional(params json.RawMessage) ([]json.RawMessage, *bridge.Error) {
	trimmed := strings.TrimSpace(string(params))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}
	var list []json.RawMessage
	if err := json.Unmarshal(params, &list); err != nil {
		return nil, bridge.ErrInvalidParams("params must be an array")
	}
	return list, nil
}

func decodeAddress(raw json.RawMessage) (common.Address, *bridge.Error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return common.Address{}, bridge.ErrInvalidParams("address must be a string")
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, bridge.ErrInvalidAddress(s)
	}
	return common.HexToAddress(s), nil
}

func decodeHash(raw json.RawMessage) (common.Hash, *bridge.Error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return common.Hash{}, bridge.ErrInvalidParams("hash must be a string")
	}
	b, err := hexutil.Decode(s)
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, bridge.ErrInvalidParams("malformed transaction hash")
	}
	return common.BytesToHash(b), nil
}

// quantity parses a 0x-prefixed hex quantity. Empty input yields zero.
func quantity(s, field string) (*big.Int, *bridge.Error) {
	if s == "" {
		return new(big.Int), nil
	}
	v, err := uint256.FromHex(s)
	if err != nil {
		return nil, bridge.ErrInvalidParams(fmt.Sprintf("%s: malformed hex quantity", field))
	}
	return v.ToBig(), nil
}

// txParams is the wire shape of a transaction request object.
type txParams struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Value    string `json:"value"`
	Gas      string `json:"gas"`
	GasPrice string `json:"gasPrice"`
	Data     string `json:"data"`
}

type decodedTx struct {
	From     common.Address
	To       common.Address
	Value    *big.Int
	Gas      uint64
	GasPrice *big.Int
	Data     []byte
}

func decodeTxParams(raw json.RawMessage) (decodedTx, *bridge.Error) {
	var p txParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return decodedTx{}, bridge.ErrInvalidParams("transaction must be an object")
	}
	if !common.IsHexAddress(p.From) {
		return decodedTx{}, bridge.ErrInvalidAddress(p.From)
	}
	if !common.IsHexAddress(p.To) {
		return decodedTx{}, bridge.ErrInvalidAddress(p.To)
	}
	out := decodedTx{
		From: common.HexToAddress(p.From),
		To:   common.HexToAddress(p.To),
	}
	var perr *bridge.Error
	if out.Value, perr = quantity(p.Value, "value"); perr != nil {
		return decodedTx{}, perr
	}
	if p.Gas != "" {
		g, err := hexutil.DecodeUint64(p.Gas)
		if err != nil {
			return decodedTx{}, bridge.ErrInvalidParams("gas: malformed hex quantity")
		}
		out.Gas = g
	}
	if out.GasPrice, perr = quantity(p.GasPrice, "gasPrice"); perr != nil {
		return decodedTx{}, perr
	}
	if p.Data != "" {
		d, err := hexutil.Decode(p.Data)
		if err != nil {
			return decodedTx{}, bridge.ErrInvalidParams("data: malformed hex bytes")
		}
		out.Data = d
	}
	return out, nil
}

// callParams mirrors txParams but with every field optional, matching the
// eth_call request object.
func decodeCallParams(raw json.RawMessage) (chain.CallMsg, *bridge.Error) {
	var p txParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return chain.CallMsg{}, bridge.ErrInvalidParams("call object must be an object")
	}
	var msg chain.CallMsg
	if p.From != "" {
		if !common.IsHexAddress(p.From) {
			return chain.CallMsg{}, bridge.ErrInvalidAddress(p.From)
		}
		msg.From = common.HexToAddress(p.From)
	}
	if p.To != "" {
		if !common.IsHexAddress(p.To) {
			return chain.CallMsg{}, bridge.ErrInvalidAddress(p.To)
		}
		a := common.HexToAddress(p.To)
		msg.To = &a
	}
	var perr *bridge.Error
	if msg.Value, perr = quantity(p.Value, "value"); perr != nil {
		return chain.CallMsg{}, perr
	}
	if p.Gas != "" {
		g, err := hexutil.DecodeUint64(p.Gas)
		if err != nil {
			return chain.CallMsg{}, bridge.ErrInvalidParams("gas: malformed hex quantity")
		}
		msg.Gas = g
	}
	if msg.GasPrice, perr = quantity(p.GasPrice, "gasPrice"); perr != nil {
		return chain.CallMsg{}, perr
	}
	if p.Data != "" {
		d, err := hexutil.Decode(p.Data)
		if err != nil {
			return chain.CallMsg{}, bridge.ErrInvalidParams("data: malformed hex bytes")
		}
		msg.Data = d
	}
	return msg, nil
}

// displayText renders sign-message bytes for the approval UI: UTF-8 text is
// shown verbatim, anything else as hex.
func displayText(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	return hexutil.Encode(b)
}
