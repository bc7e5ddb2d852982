package router

import (
	"context"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"emberwallet/bridge"
	"emberwallet/bridge/approval"
)

// Permission is the EIP-2255 shape returned by the wallet_*Permissions
// methods. The bridge grants a single capability, eth_accounts, whose
// lifetime is the session's.
type Permission struct {
	ParentCapability string `json:"parentCapability"`
	Invoker          string `json:"invoker"`
	Date             int64  `json:"date"`
}

func hexAccounts(accounts []common.Address) []string {
	out := make([]string, len(accounts))
	for i, a := range accounts {
		out[i] = a.Hex()
	}
	return out
}

// handleAccounts is the silent variant: no session means an empty list, not
// an error, so pages can probe connection state without a prompt.
func (r *Router) handleAccounts(id bridge.Identity) []string {
	sess, ok := r.sessions.Get(id.ConnectionID, id.Origin)
	if !ok {
		return []string{}
	}
	r.sessions.Touch(id.ConnectionID, id.Origin)
	return hexAccounts(sess.Accounts)
}

func (r *Router) handleRequestAccounts(ctx context.Context, id bridge.Identity) (interface{}, *bridge.Error) {
	// Idempotent while a session is live: no second prompt.
	if sess, ok := r.sessions.Get(id.ConnectionID, id.Origin); ok {
		r.sessions.Touch(id.ConnectionID, id.Origin)
		return hexAccounts(sess.Accounts), nil
	}

	accounts := r.vault.ActiveAccounts()
	if len(accounts) == 0 {
		return nil, bridge.ErrUnauthorized("wallet is locked")
	}

	if !id.Trusted {
		req, ch, perr := r.submit(id, approval.KindConnect, nil)
		if perr != nil {
			return nil, perr
		}
		if _, derr := r.awaitDecision(ctx, req, ch); derr != nil {
			return nil, derr
		}
	}

	chainID, err := r.chain.ChainID(ctx)
	if err != nil {
		return nil, r.netErr("eth_requestAccounts", err)
	}
	sess := r.sessions.Create(id.ConnectionID, id.Origin, accounts, chainID, id.Trusted)
	r.metrics.SetActiveSessions(r.sessions.Len())
	r.log.Info("session established",
		slog.String("origin", id.Origin),
		slog.String("connection", id.ConnectionID),
		slog.Int("accounts", len(sess.Accounts)),
		slog.Bool("autoApproved", sess.AutoApproved))
	return hexAccounts(sess.Accounts), nil
}

func (r *Router) handleGetPermissions(id bridge.Identity) []Permission {
	sess, ok := r.sessions.Get(id.ConnectionID, id.Origin)
	if !ok {
		return []Permission{}
	}
	return []Permission{{
		ParentCapability: "eth_accounts",
		Invoker:          id.Origin,
		Date:             sess.CreatedAt.UnixMilli(),
	}}
}

// handleRequestPermissions behaves like eth_requestAccounts, then reports
// the resulting grant.
func (r *Router) handleRequestPermissions(ctx context.Context, id bridge.Identity) (interface{}, *bridge.Error) {
	if _, perr := r.handleRequestAccounts(ctx, id); perr != nil {
		return nil, perr
	}
	return r.handleGetPermissions(id), nil
}

func (r *Router) handleRevokePermissions(id bridge.Identity) interface{} {
	r.sessions.Revoke(id.ConnectionID, id.Origin)
	r.metrics.SetActiveSessions(r.sessions.Len())
	r.log.Info("session revoked by page",
		slog.String("origin", id.Origin),
		slog.String("connection", id.ConnectionID))
	return nil
}
