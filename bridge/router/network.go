package router

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"emberwallet/bridge"
	"emberwallet/bridge/approval"
	"emberwallet/chain"
)

func decodeChainIDParam(params json.RawMessage) (uint64, *bridge.Error) {
	list, perr := positional(params)
	if perr != nil {
		return 0, perr
	}
	if len(list) < 1 {
		return 0, bridge.ErrInvalidParams("missing chain parameter object")
	}
	var p struct {
		ChainID string `json:"chainId"`
	}
	if err := json.Unmarshal(list[0], &p); err != nil {
		return 0, bridge.ErrInvalidParams("chain parameter must be an object")
	}
	id, err := hexutil.DecodeUint64(p.ChainID)
	if err != nil {
		return 0, bridge.ErrInvalidParams("chainId: malformed hex quantity")
	}
	return id, nil
}

func (r *Router) handleSwitchChain(ctx context.Context, id bridge.Identity, params json.RawMessage) (interface{}, *bridge.Error) {
	chainID, perr := decodeChainIDParam(params)
	if perr != nil {
		return nil, perr
	}
	sess, ok := r.sessions.Get(id.ConnectionID, id.Origin)
	if !ok {
		return nil, bridge.ErrUnauthorized("no active session; call eth_requestAccounts first")
	}
	if _, known := r.network(chainID); !known {
		return nil, bridge.ErrInvalidParams("unrecognized chain id; add it with wallet_addEthereumChain")
	}
	if sess.ChainID == chainID {
		return nil, nil
	}

	req, ch, perr := r.submit(id, approval.KindSwitchChain, approval.ChainPayload{ChainID: chainID})
	if perr != nil {
		return nil, perr
	}
	if _, perr := r.awaitDecision(ctx, req, ch); perr != nil {
		return nil, perr
	}
	r.sessions.UpdateChain(id.ConnectionID, id.Origin, chainID)
	r.log.Info("session chain switched",
		slog.String("origin", id.Origin),
		slog.Uint64("chainId", chainID))
	return nil, nil
}

func (r *Router) handleAddChain(ctx context.Context, id bridge.Identity, params json.RawMessage) (interface{}, *bridge.Error) {
	list, perr := positional(params)
	if perr != nil {
		return nil, perr
	}
	if len(list) < 1 {
		return nil, bridge.ErrInvalidParams("missing chain definition object")
	}
	var p struct {
		ChainID           string   `json:"chainId"`
		ChainName         string   `json:"chainName"`
		RPCURLs           []string `json:"rpcUrls"`
		BlockExplorerURLs []string `json:"blockExplorerUrls"`
	}
	if err := json.Unmarshal(list[0], &p); err != nil {
		return nil, bridge.ErrInvalidParams("chain definition must be an object")
	}
	chainID, err := hexutil.DecodeUint64(p.ChainID)
	if err != nil {
		return nil, bridge.ErrInvalidParams("chainId: malformed hex quantity")
	}
	if strings.TrimSpace(p.ChainName) == "" {
		return nil, bridge.ErrInvalidParams("chainName is required")
	}
	if len(p.RPCURLs) == 0 {
		return nil, bridge.ErrInvalidParams("rpcUrls must contain at least one endpoint")
	}
	rpcURL := p.RPCURLs[0]
	if u, err := url.Parse(rpcURL); err != nil || (u.Scheme != "https" && u.Scheme != "http" && u.Scheme != "wss" && u.Scheme != "ws") {
		return nil, bridge.ErrInvalidParams("rpcUrls[0]: unsupported endpoint URL")
	}
	if _, ok := r.sessions.Get(id.ConnectionID, id.Origin); !ok {
		return nil, bridge.ErrUnauthorized("no active session; call eth_requestAccounts first")
	}
	if _, known := r.network(chainID); known {
		// Already registered; nothing to prompt for.
		return nil, nil
	}

	network := chain.Network{
		ChainID: chainID,
		Name:    p.ChainName,
		RPCURL:  rpcURL,
	}
	if len(p.BlockExplorerURLs) > 0 {
		network.ExplorerURL = p.BlockExplorerURLs[0]
	}
	req, ch, perr := r.submit(id, approval.KindAddChain, approval.AddChainPayload{
		ChainID:     network.ChainID,
		Name:        network.Name,
		RPCURL:      network.RPCURL,
		ExplorerURL: network.ExplorerURL,
	})
	if perr != nil {
		return nil, perr
	}
	if _, perr := r.awaitDecision(ctx, req, ch); perr != nil {
		return nil, perr
	}
	r.addNetwork(network)
	r.log.Info("network registered",
		slog.String("origin", id.Origin),
		slog.Uint64("chainId", network.ChainID),
		slog.String("name", network.Name))
	return nil, nil
}

const maxAssetSymbolLen = 11

func (r *Router) handleWatchAsset(ctx context.Context, id bridge.Identity, params json.RawMessage) (interface{}, *bridge.Error) {
	// wallet_watchAsset takes an object, not a positional array.
	var p struct {
		Type    string `json:"type"`
		Options struct {
			Address  string `json:"address"`
			Symbol   string `json:"symbol"`
			Decimals uint8  `json:"decimals"`
			Image    string `json:"image"`
		} `json:"options"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, bridge.ErrInvalidParams("watchAsset params must be an object")
	}
	if p.Type != "ERC20" {
		return nil, bridge.ErrInvalidParams("only ERC20 assets are supported")
	}
	if !common.IsHexAddress(p.Options.Address) {
		return nil, bridge.ErrInvalidAddress(p.Options.Address)
	}
	if p.Options.Symbol == "" || len(p.Options.Symbol) > maxAssetSymbolLen {
		return nil, bridge.ErrInvalidParams("symbol must be 1 to 11 characters")
	}
	if p.Options.Decimals > 36 {
		return nil, bridge.ErrInvalidParams("decimals out of range")
	}
	if _, ok := r.sessions.Get(id.ConnectionID, id.Origin); !ok {
		return nil, bridge.ErrUnauthorized("no active session; call eth_requestAccounts first")
	}

	req, ch, perr := r.submit(id, approval.KindWatchAsset, approval.AssetPayload{
		Type:     p.Type,
		Address:  common.HexToAddress(p.Options.Address).Hex(),
		Symbol:   p.Options.Symbol,
		Decimals: p.Options.Decimals,
		Image:    p.Options.Image,
	})
	if perr != nil {
		return nil, perr
	}
	if _, perr := r.awaitDecision(ctx, req, ch); perr != nil {
		return nil, perr
	}
	r.log.Info("asset watch accepted",
		slog.String("origin", id.Origin),
		slog.String("symbol", p.Options.Symbol))
	return true, nil
}
