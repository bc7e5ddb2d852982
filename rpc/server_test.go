package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"emberwallet/bridge"
	"emberwallet/bridge/approval"
	"emberwallet/bridge/session"
)

const testOrigin = "https://app.example"

type stubHandler struct {
	mu       sync.Mutex
	lastID   bridge.Identity
	lastCall string
	block    chan struct{}
	result   interface{}
	err      *bridge.Error
}

func (h *stubHandler) Handle(ctx context.Context, id bridge.Identity, method string, _ json.RawMessage) (interface{}, *bridge.Error) {
	h.mu.Lock()
	h.lastID = id
	h.lastCall = method
	block := h.block
	result, rpcErr := h.result, h.err
	h.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, bridge.ErrInternal()
		}
	}
	return result, rpcErr
}

func (h *stubHandler) setResult(v interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.result = v
}

func (h *stubHandler) identity() bridge.Identity {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastID
}

func (h *stubHandler) method() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastCall
}

type harness struct {
	handler   *stubHandler
	sessions  *session.Store
	approvals *approval.Queue
	httpSrv   *httptest.Server
}

func newHarness(t *testing.T, trusted ...string) *harness {
	t.Helper()
	h := &harness{
		handler:   &stubHandler{},
		sessions:  session.NewStore(),
		approvals: approval.NewQueue(time.Minute, 10),
	}
	srv := NewServer(ServerConfig{
		Handler:        h.handler,
		Sessions:       h.sessions,
		Approvals:      h.approvals,
		TrustedOrigins: trusted,
	})
	h.httpSrv = httptest.NewServer(srv)
	t.Cleanup(h.httpSrv.Close)
	return h
}

func (h *harness) dial(t *testing.T, origin string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	url := "ws" + strings.TrimPrefix(h.httpSrv.URL, "http")
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, frame string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte(frame)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

type wireResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *errorPayload   `json:"error"`
}

func recv(t *testing.T, conn *websocket.Conn) wireResponse {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var resp wireResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		t.Fatalf("decode %q: %v", data, err)
	}
	return resp
}

func TestRoundTrip(t *testing.T) {
	h := newHarness(t)
	h.handler.result = "0x539"
	conn := h.dial(t, testOrigin)

	send(t, conn, `{"jsonrpc":"2.0","id":1,"method":"eth_chainId"}`)
	resp := recv(t, conn)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	if string(resp.ID) != "1" || string(resp.Result) != `"0x539"` {
		t.Fatalf("unexpected response: %+v", resp)
	}

	id := h.handler.identity()
	if id.Origin != testOrigin {
		t.Fatalf("handler saw origin %q", id.Origin)
	}
	if h.handler.method() != "eth_chainId" {
		t.Fatalf("handler saw method %q", h.handler.method())
	}
	if id.ConnectionID == "" {
		t.Fatal("connection id must be minted for the connection")
	}
	if id.Trusted {
		t.Fatal("unlisted origin must not be trusted")
	}
}

func TestTrustedOriginFlag(t *testing.T) {
	h := newHarness(t, testOrigin)
	conn := h.dial(t, testOrigin)
	send(t, conn, `{"jsonrpc":"2.0","id":1,"method":"eth_accounts"}`)
	recv(t, conn)
	if !h.handler.identity().Trusted {
		t.Fatal("listed origin should be trusted")
	}
}

func TestHandlerErrorOnWire(t *testing.T) {
	h := newHarness(t)
	h.handler.err = bridge.ErrUnsupportedMethod("eth_mining")
	conn := h.dial(t, testOrigin)
	send(t, conn, `{"jsonrpc":"2.0","id":"abc","method":"eth_mining"}`)
	resp := recv(t, conn)
	if resp.Error == nil || resp.Error.Code != bridge.CodeUnsupportedMethod {
		t.Fatalf("expected unsupported method error, got %+v", resp.Error)
	}
	if string(resp.ID) != `"abc"` {
		t.Fatalf("error response must echo the request id, got %s", resp.ID)
	}
}

func TestMalformedFrame(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t, testOrigin)
	send(t, conn, `{not json`)
	resp := recv(t, conn)
	if resp.Error == nil || resp.Error.Code != bridge.CodeParseError {
		t.Fatalf("expected parse error, got %+v", resp.Error)
	}
	if string(resp.ID) != "null" {
		t.Fatalf("parse error response must carry a null id, got %s", resp.ID)
	}

	// The connection survives the bad frame.
	h.handler.setResult(true)
	send(t, conn, `{"jsonrpc":"2.0","id":2,"method":"eth_accounts"}`)
	if resp := recv(t, conn); resp.Error != nil {
		t.Fatalf("connection should still serve requests, got %+v", resp.Error)
	}
}

func TestInvalidRequest(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t, testOrigin)

	send(t, conn, `{"jsonrpc":"1.0","id":1,"method":"eth_accounts"}`)
	if resp := recv(t, conn); resp.Error == nil || resp.Error.Code != bridge.CodeInvalidRequest {
		t.Fatalf("wrong version: expected invalid request, got %+v", resp.Error)
	}

	send(t, conn, `{"jsonrpc":"2.0","method":"eth_accounts"}`)
	if resp := recv(t, conn); resp.Error == nil || resp.Error.Code != bridge.CodeInvalidRequest {
		t.Fatalf("missing id: expected invalid request, got %+v", resp.Error)
	}
}

func TestDuplicateInflightID(t *testing.T) {
	h := newHarness(t)
	h.handler.block = make(chan struct{})
	conn := h.dial(t, testOrigin)

	send(t, conn, `{"jsonrpc":"2.0","id":7,"method":"eth_sendTransaction"}`)
	send(t, conn, `{"jsonrpc":"2.0","id":7,"method":"eth_sendTransaction"}`)

	resp := recv(t, conn)
	if resp.Error == nil || resp.Error.Code != bridge.CodeDuplicateRequest {
		t.Fatalf("expected duplicate request error, got %+v", resp)
	}

	close(h.handler.block)
	if resp := recv(t, conn); resp.Error != nil {
		t.Fatalf("original request should complete, got %+v", resp.Error)
	}

	// The id is free again once the first call finished.
	send(t, conn, `{"jsonrpc":"2.0","id":7,"method":"eth_accounts"}`)
	if resp := recv(t, conn); resp.Error != nil {
		t.Fatalf("reused id after completion should work, got %+v", resp.Error)
	}
}

func TestMissingOriginRefused(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(h.httpSrv.URL, "http")
	conn, resp, err := websocket.Dial(ctx, url, nil)
	if err == nil {
		conn.Close(websocket.StatusNormalClosure, "")
		t.Fatal("dial without Origin should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %+v", resp)
	}
}

func TestDisconnectTearsDownState(t *testing.T) {
	h := newHarness(t)
	h.handler.setResult(true)
	conn := h.dial(t, testOrigin)
	send(t, conn, `{"jsonrpc":"2.0","id":1,"method":"eth_accounts"}`)
	recv(t, conn)

	connID := h.handler.identity().ConnectionID
	h.sessions.Create(connID, testOrigin, nil, 1, false)
	_, outcomes, err := h.approvals.Submit(connID, testOrigin, approval.KindSendTx, nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	conn.Close(websocket.StatusNormalClosure, "bye")

	deadline := time.Now().Add(2 * time.Second)
	for h.sessions.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if h.sessions.Len() != 0 {
		t.Fatal("sessions must be revoked on disconnect")
	}
	select {
	case out := <-outcomes:
		if out.Decision != approval.Cancelled {
			t.Fatalf("expected cancelled, got %s", out.Decision)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pending approval was not cancelled on disconnect")
	}
}
