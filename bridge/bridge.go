// Package bridge holds the shared types of the dApp connector: the identity
// a transport connection carries into every request, and the wire error
// taxonomy the router maps all failures into.
package bridge

import "fmt"

// Identity names the transport channel a request arrived on. ConnectionID is
// issued by the transport server when the socket is accepted and is never
// read from client input. Origin is the declared source URL of the page on
// that channel. Trusted is set only by the component that accepted the
// connection; nothing arriving over the wire can flip it.
type Identity struct {
	ConnectionID string
	Origin       string
	Trusted      bool
}

// JSON-RPC 2.0 error codes plus the EIP-1193 provider codes dApps expect.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeServerError    = -32000

	CodeUserRejected      = 4001
	CodeUnauthorized      = 4100
	CodeUnsupportedMethod = 4200
	CodeRateLimited       = 4902
	CodeExpired           = 4904
	CodeDuplicateRequest  = 4905
)

// Error is the JSON-RPC-shaped error every failed request resolves to.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func ErrInvalidParams(msg string) *Error {
	if msg == "" {
		msg = "invalid params"
	}
	return &Error{Code: CodeInvalidParams, Message: msg}
}

func ErrInvalidAddress(addr string) *Error {
	return &Error{Code: CodeInvalidParams, Message: "invalid address", Data: addr}
}

func ErrUnsupportedMethod(method string) *Error {
	return &Error{Code: CodeUnsupportedMethod, Message: fmt.Sprintf("unsupported method %s", method)}
}

func ErrRateLimited(origin string) *Error {
	return &Error{Code: CodeRateLimited, Message: "rate limit exceeded", Data: origin}
}

func ErrUserRejected() *Error {
	return &Error{Code: CodeUserRejected, Message: "user rejected the request"}
}

func ErrExpired() *Error {
	return &Error{Code: CodeExpired, Message: "approval request expired"}
}

func ErrUnauthorized(msg string) *Error {
	if msg == "" {
		msg = "not connected; call eth_requestAccounts first"
	}
	return &Error{Code: CodeUnauthorized, Message: msg}
}

// ErrNetwork sanitizes upstream chain failures: the cause is logged by the
// router, only a generic message crosses the wire.
func ErrNetwork() *Error {
	return &Error{Code: CodeServerError, Message: "upstream network error"}
}

func ErrTransactionFailed() *Error {
	return &Error{Code: CodeServerError, Message: "transaction failed"}
}

func ErrInternal() *Error {
	return &Error{Code: CodeInternalError, Message: "internal error"}
}
