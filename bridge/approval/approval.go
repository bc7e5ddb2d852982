// Package approval bridges requests that need a human decision and the
// wallet UI that makes it. Submit parks a request and hands back a one-shot
// completion channel; the UI resolves or cancels by id. Every entry is
// resolved at most once, structurally: it is removed from the pending map
// under the lock before its channel is signalled.
package approval

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind is the closed set of decisions the wallet can ask for.
type Kind string

const (
	KindConnect       Kind = "connect"
	KindSendTx        Kind = "sendTransaction"
	KindSignMessage   Kind = "signMessage"
	KindSignTypedData Kind = "signTypedData"
	KindSwitchChain   Kind = "switchChain"
	KindAddChain      Kind = "addChain"
	KindWatchAsset    Kind = "watchAsset"
)

// Decision is the terminal state of a request. Pending entries transition to
// exactly one of these and never leave it.
type Decision string

const (
	Approved  Decision = "approved"
	Rejected  Decision = "rejected"
	Expired   Decision = "expired"
	Cancelled Decision = "cancelled"
)

// TxPayload describes a transaction awaiting consent.
type TxPayload struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Value    string `json:"value"`
	Data     string `json:"data,omitempty"`
	Gas      uint64 `json:"gas,omitempty"`
	GasPrice string `json:"gasPrice,omitempty"`
}

// MessagePayload describes a personal_sign request.
type MessagePayload struct {
	Address string `json:"address"`
	Message string `json:"message"`
}

// TypedDataPayload describes an EIP-712 signing request.
type TypedDataPayload struct {
	Address   string `json:"address"`
	TypedData string `json:"typedData"`
}

// ChainPayload describes a network switch.
type ChainPayload struct {
	ChainID uint64 `json:"chainId"`
}

// AddChainPayload describes a new network definition.
type AddChainPayload struct {
	ChainID     uint64 `json:"chainId"`
	Name        string `json:"name"`
	RPCURL      string `json:"rpcUrl"`
	ExplorerURL string `json:"explorerUrl,omitempty"`
}

// AssetPayload describes a wallet_watchAsset suggestion.
type AssetPayload struct {
	Type     string `json:"type"`
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
	Image    string `json:"image,omitempty"`
}

// Request is one suspended decision, listed to the UI while pending.
type Request struct {
	ID           string      `json:"id"`
	ConnectionID string      `json:"connectionId"`
	Origin       string      `json:"origin"`
	Kind         Kind        `json:"kind"`
	Payload      interface{} `json:"payload"`
	CreatedAt    time.Time   `json:"createdAt"`
	ExpiresAt    time.Time   `json:"expiresAt"`
}

// Outcome is delivered exactly once to the task suspended on a request.
// AuthData carries the authorization material the UI collected (a wallet
// password); it is handed to the waiter and never stored.
type Outcome struct {
	Decision Decision
	AuthData string
}

// ErrQueueFull is returned by Submit when a connection already has the
// maximum number of pending approvals.
var ErrQueueFull = errors.New("approval queue full for connection")

type entry struct {
	req Request
	ch  chan Outcome
}

// Queue holds pending approval requests. Safe for use from many connection
// tasks plus the UI task.
type Queue struct {
	ttl        time.Duration
	maxPerConn int

	mu      sync.Mutex
	pending map[string]*entry
	now     func() time.Time
}

// NewQueue builds a queue whose entries expire ttl after creation and which
// admits at most maxPerConn pending entries per connection.
func NewQueue(ttl time.Duration, maxPerConn int) *Queue {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if maxPerConn <= 0 {
		maxPerConn = 10
	}
	return &Queue{
		ttl:        ttl,
		maxPerConn: maxPerConn,
		pending:    make(map[string]*entry),
		now:        time.Now,
	}
}

// Submit registers a new pending request and returns it together with the
// channel its outcome will arrive on. The channel receives exactly one value.
func (q *Queue) Submit(connectionID, origin string, kind Kind, payload interface{}) (Request, <-chan Outcome, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	inFlight := 0
	for _, e := range q.pending {
		if e.req.ConnectionID == connectionID {
			inFlight++
		}
	}
	if inFlight >= q.maxPerConn {
		return Request{}, nil, ErrQueueFull
	}

	now := q.now()
	req := Request{
		ID:           uuid.NewString(),
		ConnectionID: connectionID,
		Origin:       origin,
		Kind:         kind,
		Payload:      payload,
		CreatedAt:    now,
		ExpiresAt:    now.Add(q.ttl),
	}
	e := &entry{req: req, ch: make(chan Outcome, 1)}
	q.pending[req.ID] = e
	return req, e.ch, nil
}

// Get returns a pending request by id.
func (q *Queue) Get(id string) (Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.pending[id]
	if !ok {
		return Request{}, false
	}
	return e.req, true
}

// ListPending returns every pending request, oldest first.
func (q *Queue) ListPending() []Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Request, 0, len(q.pending))
	for _, e := range q.pending {
		out = append(out, e.req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Resolve completes the request with the user's decision. Resolving an
// unknown or already-resolved id is a no-op and returns false: the user
// deciding just as a timeout or disconnect fires is an expected race.
func (q *Queue) Resolve(id string, approved bool, authData string) bool {
	decision := Rejected
	if approved {
		decision = Approved
	}
	return q.complete(id, Outcome{Decision: decision, AuthData: authData})
}

// Cancel resolves the request as cancelled without human input. Safe no-op
// on unknown ids.
func (q *Queue) Cancel(id string) bool {
	return q.complete(id, Outcome{Decision: Cancelled})
}

// CancelAll cancels every pending request belonging to a connection. Called
// on disconnect; returns the number of requests cancelled.
func (q *Queue) CancelAll(connectionID string) int {
	q.mu.Lock()
	var victims []*entry
	for id, e := range q.pending {
		if e.req.ConnectionID == connectionID {
			delete(q.pending, id)
			victims = append(victims, e)
		}
	}
	q.mu.Unlock()
	for _, e := range victims {
		e.ch <- Outcome{Decision: Cancelled}
	}
	return len(victims)
}

// Clear cancels everything pending.
func (q *Queue) Clear() int {
	q.mu.Lock()
	victims := make([]*entry, 0, len(q.pending))
	for id, e := range q.pending {
		delete(q.pending, id)
		victims = append(victims, e)
	}
	q.mu.Unlock()
	for _, e := range victims {
		e.ch <- Outcome{Decision: Cancelled}
	}
	return len(victims)
}

func (q *Queue) complete(id string, out Outcome) bool {
	q.mu.Lock()
	e, ok := q.pending[id]
	if ok {
		delete(q.pending, id)
	}
	q.mu.Unlock()
	if !ok {
		return false
	}
	e.ch <- out
	return true
}

// SweepExpired resolves every entry past its deadline as expired and returns
// how many were swept.
func (q *Queue) SweepExpired() int {
	now := q.now()
	q.mu.Lock()
	var victims []*entry
	for id, e := range q.pending {
		if !e.req.ExpiresAt.After(now) {
			delete(q.pending, id)
			victims = append(victims, e)
		}
	}
	q.mu.Unlock()
	for _, e := range victims {
		e.ch <- Outcome{Decision: Expired}
	}
	return len(victims)
}

// Run sweeps expired entries on the given interval until ctx is done.
func (q *Queue) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.SweepExpired()
		}
	}
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
