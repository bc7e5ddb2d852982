package ratelimit

import "testing"

func TestClassify(t *testing.T) {
	cases := []struct {
		method string
		want   Class
	}{
		{"eth_sendTransaction", ClassSensitive},
		{"personal_sign", ClassSensitive},
		{"eth_signTypedData_v4", ClassSensitive},
		{"eth_requestAccounts", ClassConnection},
		{"wallet_requestPermissions", ClassConnection},
		{"eth_chainId", ClassReadOnly},
		{"eth_getBalance", ClassReadOnly},
		{"eth_call", ClassReadOnly},
		{"wallet_switchEthereumChain", ClassSensitive},
		{"wallet_watchAsset", ClassSensitive},
		{"web3_clientVersion", ClassDefault},
		{"some_unknown_method", ClassDefault},
	}
	for _, tc := range cases {
		if got := Classify(tc.method); got != tc.want {
			t.Errorf("Classify(%q) = %s, want %s", tc.method, got, tc.want)
		}
	}
}

func TestAllowExhaustsBurst(t *testing.T) {
	l := New(Limits{
		ClassSensitive:  {PerSecond: 1, Burst: 2},
		ClassConnection: {PerSecond: 5, Burst: 10},
		ClassReadOnly:   {PerSecond: 20, Burst: 50},
		ClassDefault:    {PerSecond: 10, Burst: 20},
	})
	origin := "https://app.example"
	for i := 0; i < 2; i++ {
		if _, ok := l.Allow(origin, "eth_sendTransaction"); !ok {
			t.Fatalf("request %d within burst should pass", i)
		}
	}
	class, ok := l.Allow(origin, "eth_sendTransaction")
	if ok {
		t.Fatal("request beyond burst should be refused")
	}
	if class != ClassSensitive {
		t.Fatalf("expected sensitive class, got %s", class)
	}
}

func TestBucketsAreIndependent(t *testing.T) {
	l := New(nil)
	origin := "https://app.example"
	for i := 0; i < 2; i++ {
		l.Allow(origin, "eth_sendTransaction")
	}
	if _, ok := l.Allow(origin, "eth_sendTransaction"); ok {
		t.Fatal("sensitive bucket should be exhausted")
	}
	// Same origin, different class: unaffected.
	if _, ok := l.Allow(origin, "eth_chainId"); !ok {
		t.Fatal("read-only bucket must not share the sensitive budget")
	}
	// Same class, different origin: unaffected.
	if _, ok := l.Allow("https://other.example", "eth_sendTransaction"); !ok {
		t.Fatal("origins must not share buckets")
	}
}

func TestForgetResetsBucket(t *testing.T) {
	l := New(nil)
	origin := "https://app.example"
	for i := 0; i < 2; i++ {
		l.Allow(origin, "eth_sendTransaction")
	}
	if _, ok := l.Allow(origin, "eth_sendTransaction"); ok {
		t.Fatal("bucket should be exhausted")
	}
	l.Forget(origin, "eth_sendTransaction")
	if _, ok := l.Allow(origin, "eth_sendTransaction"); !ok {
		t.Fatal("forgotten bucket should refill")
	}
}
