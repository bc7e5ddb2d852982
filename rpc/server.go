// Package rpc is the dApp-facing transport: it accepts WebSocket
// connections, frames JSON-RPC 2.0 traffic, and hands decoded calls to the
// router. Connection identity is minted here and never taken from the wire.
package rpc

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"

	"emberwallet/bridge"
	"emberwallet/bridge/approval"
	"emberwallet/bridge/session"
	"emberwallet/observability/metrics"
)

const writeTimeout = 5 * time.Second

// Handler processes one decoded request. *router.Router satisfies it.
type Handler interface {
	Handle(ctx context.Context, id bridge.Identity, method string, params json.RawMessage) (interface{}, *bridge.Error)
}

// ServerConfig wires the transport's collaborators.
type ServerConfig struct {
	Handler         Handler
	Sessions        *session.Store
	Approvals       *approval.Queue
	TrustedOrigins  []string
	MaxRequestBytes int64
	Logger          *slog.Logger
	Metrics         *metrics.BridgeMetrics
}

// Server upgrades HTTP requests to WebSocket connections and serves them.
type Server struct {
	handler   Handler
	sessions  *session.Store
	approvals *approval.Queue
	trusted   map[string]bool
	readLimit int64
	log       *slog.Logger
	metrics   *metrics.BridgeMetrics
}

func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limit := cfg.MaxRequestBytes
	if limit <= 0 {
		limit = 1 << 20
	}
	trusted := make(map[string]bool, len(cfg.TrustedOrigins))
	for _, o := range cfg.TrustedOrigins {
		trusted[o] = true
	}
	return &Server{
		handler:   cfg.Handler,
		sessions:  cfg.Sessions,
		approvals: cfg.Approvals,
		trusted:   trusted,
		readLimit: limit,
		log:       logger,
		metrics:   cfg.Metrics,
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		http.Error(w, "missing Origin header", http.StatusForbidden)
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		s.log.Warn("websocket accept failed", slog.Any("error", err))
		return
	}
	conn.SetReadLimit(s.readLimit)

	id := bridge.Identity{
		ConnectionID: uuid.NewString(),
		Origin:       origin,
		Trusted:      s.trusted[origin],
	}
	s.metrics.ConnectionOpened()
	s.log.Info("connection opened",
		slog.String("connection", id.ConnectionID),
		slog.String("origin", id.Origin),
		slog.Bool("trusted", id.Trusted))

	s.serveConn(r.Context(), conn, id)
}

// serveConn runs the per-connection read loop until the socket dies, then
// tears down everything the connection owned.
func (s *Server) serveConn(parent context.Context, conn *websocket.Conn, id bridge.Identity) {
	ctx, cancel := context.WithCancel(parent)
	c := &connState{
		conn:     conn,
		inflight: make(map[string]struct{}),
	}
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
		revoked := s.sessions.RevokeAll(id.ConnectionID)
		cancelled := s.approvals.CancelAll(id.ConnectionID)
		s.metrics.ConnectionClosed()
		s.metrics.SetActiveSessions(s.sessions.Len())
		s.metrics.SetPendingApprovals(s.approvals.Len())
		s.log.Info("connection closed",
			slog.String("connection", id.ConnectionID),
			slog.String("origin", id.Origin),
			slog.Int("sessionsRevoked", revoked),
			slog.Int("approvalsCancelled", cancelled))
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status == -1 && ctx.Err() == nil {
				s.log.Debug("read failed",
					slog.String("connection", id.ConnectionID), slog.Any("error", err))
			}
			return
		}
		s.dispatch(ctx, c, id, data, &wg)
	}
}

type connState struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	inflightMu sync.Mutex
	inflight   map[string]struct{}
}

func (c *connState) begin(id string) bool {
	c.inflightMu.Lock()
	defer c.inflightMu.Unlock()
	if _, dup := c.inflight[id]; dup {
		return false
	}
	c.inflight[id] = struct{}{}
	return true
}

func (c *connState) end(id string) {
	c.inflightMu.Lock()
	defer c.inflightMu.Unlock()
	delete(c.inflight, id)
}

// dispatch validates one frame and runs the call on its own goroutine so a
// request parked on an approval never blocks the ones behind it.
func (s *Server) dispatch(ctx context.Context, c *connState, id bridge.Identity, data []byte, wg *sync.WaitGroup) {
	var req request
	if err := json.Unmarshal(data, &req); err != nil {
		s.writeError(ctx, c, nil, &bridge.Error{Code: bridge.CodeParseError, Message: "parse error"})
		return
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		s.writeError(ctx, c, req.ID, &bridge.Error{Code: bridge.CodeInvalidRequest, Message: "invalid request"})
		return
	}
	if len(req.ID) == 0 || string(req.ID) == "null" {
		s.writeError(ctx, c, nil, &bridge.Error{Code: bridge.CodeInvalidRequest, Message: "request id is required"})
		return
	}
	key := string(req.ID)
	if !c.begin(key) {
		s.writeError(ctx, c, req.ID, &bridge.Error{
			Code:    bridge.CodeDuplicateRequest,
			Message: "request id already in flight",
		})
		return
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer c.end(key)
		result, rpcErr := s.handler.Handle(ctx, id, req.Method, req.Params)
		if ctx.Err() != nil {
			return
		}
		if rpcErr != nil {
			s.writeError(ctx, c, req.ID, rpcErr)
			return
		}
		s.write(ctx, c, req.ID, successResponse{JSONRPC: "2.0", ID: req.ID, Result: result})
	}()
}

func (s *Server) writeError(ctx context.Context, c *connState, id json.RawMessage, rpcErr *bridge.Error) {
	if id == nil {
		id = json.RawMessage("null")
	}
	s.write(ctx, c, id, errorResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   errorPayload{Code: rpcErr.Code, Message: rpcErr.Message, Data: rpcErr.Data},
	})
}

func (s *Server) write(ctx context.Context, c *connState, id json.RawMessage, resp interface{}) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.log.Error("response marshal failed", slog.Any("error", err))
		data, _ = json.Marshal(errorResponse{
			JSONRPC: "2.0",
			ID:      id,
			Error:   errorPayload{Code: bridge.CodeInternalError, Message: "internal error"},
		})
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		s.log.Debug("response write failed", slog.Any("error", err))
	}
}
