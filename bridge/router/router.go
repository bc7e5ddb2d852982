// Package router dispatches decoded dApp requests: it consults the rate
// limiter and session store, parks sensitive operations on the approval
// queue until a human decides, and performs the approved operation through
// the chain adapter and key vault.
package router

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"emberwallet/bridge"
	"emberwallet/bridge/approval"
	"emberwallet/bridge/ratelimit"
	"emberwallet/bridge/session"
	"emberwallet/chain"
	"emberwallet/observability/metrics"
	"emberwallet/vault"
)

// Config wires the router's collaborators.
type Config struct {
	Sessions  *session.Store
	Approvals *approval.Queue
	Limits    *ratelimit.Limiter
	Chain     chain.Adapter
	Vault     vault.Vault
	Networks  []chain.Network
	Logger    *slog.Logger
	Metrics   *metrics.BridgeMetrics
}

type Router struct {
	sessions  *session.Store
	approvals *approval.Queue
	limits    *ratelimit.Limiter
	chain     chain.Adapter
	vault     vault.Vault
	log       *slog.Logger
	metrics   *metrics.BridgeMetrics

	netMu    sync.RWMutex
	networks map[uint64]chain.Network
}

func New(cfg Config) *Router {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	networks := make(map[uint64]chain.Network, len(cfg.Networks))
	for _, n := range cfg.Networks {
		networks[n.ChainID] = n
	}
	return &Router{
		sessions:  cfg.Sessions,
		approvals: cfg.Approvals,
		limits:    cfg.Limits,
		chain:     cfg.Chain,
		vault:     cfg.Vault,
		log:       logger,
		metrics:   cfg.Metrics,
		networks:  networks,
	}
}

// Handle processes one decoded request on behalf of the identified
// connection. It always returns either a result or a wire error; it never
// panics outward.
func (r *Router) Handle(ctx context.Context, id bridge.Identity, method string, params json.RawMessage) (result interface{}, rpcErr *bridge.Error) {
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("handler panic",
				slog.String("method", method),
				slog.String("connection", id.ConnectionID),
				slog.Any("panic", rec))
			result, rpcErr = nil, bridge.ErrInternal()
		}
		outcome := "ok"
		if rpcErr != nil {
			outcome = "error"
		}
		r.metrics.ObserveRequest(method, outcome, time.Since(start))
	}()

	// Admission control runs before anything else so a flood can never
	// reach the approval UI.
	if class, ok := r.limits.Allow(id.Origin, method); !ok {
		r.metrics.RateLimited(string(class))
		r.log.Warn("rate limited",
			slog.String("origin", id.Origin),
			slog.String("method", method),
			slog.String("class", string(class)))
		return nil, bridge.ErrRateLimited(id.Origin)
	}

	switch method {
	case "eth_requestAccounts":
		return r.handleRequestAccounts(ctx, id)
	case "eth_accounts":
		return r.handleAccounts(id), nil
	case "eth_chainId":
		return r.handleChainID(ctx)
	case "net_version":
		return r.handleNetVersion(ctx)
	case "eth_blockNumber":
		return r.handleBlockNumber(ctx)
	case "eth_getBalance":
		return r.handleGetBalance(ctx, params)
	case "eth_gasPrice":
		return r.handleGasPrice(ctx)
	case "eth_call":
		return r.handleCall(ctx, params)
	case "eth_estimateGas":
		return r.handleEstimateGas(ctx, params)
	case "eth_getTransactionCount":
		return r.handleTransactionCount(ctx, params)
	case "eth_getTransactionByHash":
		return r.handleTransactionByHash(ctx, params)
	case "eth_getTransactionReceipt":
		return r.handleTransactionReceipt(ctx, params)
	case "eth_sendTransaction":
		return r.handleSendTransaction(ctx, id, params)
	case "personal_sign":
		return r.handlePersonalSign(ctx, id, params)
	case "eth_signTypedData_v4":
		return r.handleSignTypedData(ctx, id, params)
	case "wallet_switchEthereumChain":
		return r.handleSwitchChain(ctx, id, params)
	case "wallet_addEthereumChain":
		return r.handleAddChain(ctx, id, params)
	case "wallet_watchAsset":
		return r.handleWatchAsset(ctx, id, params)
	case "wallet_getPermissions":
		return r.handleGetPermissions(id), nil
	case "wallet_requestPermissions":
		return r.handleRequestPermissions(ctx, id)
	case "wallet_revokePermissions":
		return r.handleRevokePermissions(id), nil
	default:
		return nil, bridge.ErrUnsupportedMethod(method)
	}
}

// awaitDecision suspends the calling task on an approval outcome. The queue
// enforces the deadline; a closed connection context cancels the entry so
// the UI stops showing it.
func (r *Router) awaitDecision(ctx context.Context, req approval.Request, ch <-chan approval.Outcome) (approval.Outcome, *bridge.Error) {
	select {
	case <-ctx.Done():
		r.approvals.Cancel(req.ID)
		r.metrics.ApprovalResolved(string(req.Kind), string(approval.Cancelled))
		return approval.Outcome{}, bridge.ErrUserRejected()
	case out := <-ch:
		r.metrics.ApprovalResolved(string(req.Kind), string(out.Decision))
		switch out.Decision {
		case approval.Approved:
			return out, nil
		case approval.Expired:
			return approval.Outcome{}, bridge.ErrExpired()
		default:
			return approval.Outcome{}, bridge.ErrUserRejected()
		}
	}
}

// submit wraps queue admission, translating a full queue into a wire error.
func (r *Router) submit(id bridge.Identity, kind approval.Kind, payload interface{}) (approval.Request, <-chan approval.Outcome, *bridge.Error) {
	req, ch, err := r.approvals.Submit(id.ConnectionID, id.Origin, kind, payload)
	if err != nil {
		return approval.Request{}, nil, &bridge.Error{
			Code:    bridge.CodeServerError,
			Message: "too many pending approvals for this connection",
		}
	}
	r.metrics.SetPendingApprovals(r.approvals.Len())
	return req, ch, nil
}

func (r *Router) network(chainID uint64) (chain.Network, bool) {
	r.netMu.RLock()
	defer r.netMu.RUnlock()
	n, ok := r.networks[chainID]
	return n, ok
}

func (r *Router) addNetwork(n chain.Network) {
	r.netMu.Lock()
	defer r.netMu.Unlock()
	r.networks[n.ChainID] = n
}

// Networks returns the registered network list for the UI gateway.
func (r *Router) Networks() []chain.Network {
	r.netMu.RLock()
	defer r.netMu.RUnlock()
	out := make([]chain.Network, 0, len(r.networks))
	for _, n := range r.networks {
		out = append(out, n)
	}
	return out
}
