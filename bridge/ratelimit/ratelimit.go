// Package ratelimit bounds request volume per origin before any approval UI
// is shown, so a hostile page cannot spam prompts. Buckets are token buckets
// from golang.org/x/time/rate, keyed by (origin, method class); sensitive
// classes get small capacity and slow refill.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// Class groups methods with a shared admission budget.
type Class string

const (
	ClassReadOnly   Class = "read"
	ClassConnection Class = "connection"
	ClassSensitive  Class = "sensitive"
	ClassDefault    Class = "default"
)

var methodClasses = map[string]Class{
	"eth_sendTransaction":        ClassSensitive,
	"eth_sign":                   ClassSensitive,
	"personal_sign":              ClassSensitive,
	"eth_signTypedData":          ClassSensitive,
	"eth_signTypedData_v3":       ClassSensitive,
	"eth_signTypedData_v4":       ClassSensitive,
	"wallet_switchEthereumChain": ClassSensitive,
	"wallet_addEthereumChain":    ClassSensitive,
	"wallet_watchAsset":          ClassSensitive,

	"eth_requestAccounts":       ClassConnection,
	"wallet_requestPermissions": ClassConnection,

	"eth_accounts":              ClassReadOnly,
	"eth_chainId":               ClassReadOnly,
	"net_version":               ClassReadOnly,
	"eth_blockNumber":           ClassReadOnly,
	"eth_getBalance":            ClassReadOnly,
	"eth_gasPrice":              ClassReadOnly,
	"eth_call":                  ClassReadOnly,
	"eth_estimateGas":           ClassReadOnly,
	"eth_getTransactionCount":   ClassReadOnly,
	"eth_getTransactionByHash":  ClassReadOnly,
	"eth_getTransactionReceipt": ClassReadOnly,
	"wallet_getPermissions":     ClassReadOnly,
}

// Classify maps an RPC method to its admission class. Unknown methods share
// the default budget.
func Classify(method string) Class {
	if c, ok := methodClasses[method]; ok {
		return c
	}
	return ClassDefault
}

// Limit is one class budget: sustained refill rate and burst capacity.
type Limit struct {
	PerSecond float64
	Burst     int
}

// Limits carries a budget per class.
type Limits map[Class]Limit

// DefaultLimits mirrors the admission policy the wallet ships with.
func DefaultLimits() Limits {
	return Limits{
		ClassSensitive:  {PerSecond: 1, Burst: 2},
		ClassConnection: {PerSecond: 5, Burst: 10},
		ClassReadOnly:   {PerSecond: 20, Burst: 50},
		ClassDefault:    {PerSecond: 10, Burst: 20},
	}
}

type bucketKey struct {
	origin string
	class  Class
}

// Limiter is the per-origin admission gate. Allow never blocks.
type Limiter struct {
	limits Limits

	mu      sync.Mutex
	buckets map[bucketKey]*rate.Limiter
}

func New(limits Limits) *Limiter {
	if limits == nil {
		limits = DefaultLimits()
	}
	return &Limiter{
		limits:  limits,
		buckets: make(map[bucketKey]*rate.Limiter),
	}
}

// Allow atomically tests and consumes one token for (origin, method). It
// returns the class the method fell into so callers can label metrics.
func (l *Limiter) Allow(origin, method string) (Class, bool) {
	class := Classify(method)
	l.mu.Lock()
	key := bucketKey{origin: origin, class: class}
	bucket, ok := l.buckets[key]
	if !ok {
		cfg, ok := l.limits[class]
		if !ok {
			cfg = DefaultLimits()[class]
		}
		if cfg.PerSecond <= 0 {
			cfg.PerSecond = 1
		}
		if cfg.Burst <= 0 {
			cfg.Burst = 1
		}
		bucket = rate.NewLimiter(rate.Limit(cfg.PerSecond), cfg.Burst)
		l.buckets[key] = bucket
	}
	l.mu.Unlock()
	return class, bucket.Allow()
}

// Forget drops the bucket for (origin, method)'s class, restoring its full
// burst. Used by tests and by the UI's "reset site" action.
func (l *Limiter) Forget(origin, method string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, bucketKey{origin: origin, class: Classify(method)})
}
