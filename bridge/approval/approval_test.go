package approval

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestSubmitAndApprove(t *testing.T) {
	q := NewQueue(time.Minute, 10)
	req, ch, err := q.Submit("conn-1", "https://app.example", KindConnect, nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if req.Kind != KindConnect || req.Origin != "https://app.example" {
		t.Fatalf("unexpected request: %+v", req)
	}
	if !q.Resolve(req.ID, true, "hunter2") {
		t.Fatal("resolve should succeed for a pending request")
	}
	out := <-ch
	if out.Decision != Approved {
		t.Fatalf("expected approved, got %s", out.Decision)
	}
	if out.AuthData != "hunter2" {
		t.Fatal("auth data must reach the waiter")
	}
	if q.Len() != 0 {
		t.Fatalf("queue should be empty, has %d", q.Len())
	}
}

func TestResolveRejected(t *testing.T) {
	q := NewQueue(time.Minute, 10)
	req, ch, _ := q.Submit("conn-1", "https://app.example", KindSendTx, nil)
	if !q.Resolve(req.ID, false, "") {
		t.Fatal("resolve should succeed")
	}
	if out := <-ch; out.Decision != Rejected {
		t.Fatalf("expected rejected, got %s", out.Decision)
	}
}

func TestResolveUnknownIDIsNoOp(t *testing.T) {
	q := NewQueue(time.Minute, 10)
	if q.Resolve("nope", true, "") {
		t.Fatal("unknown id must not resolve")
	}
	if q.Cancel("nope") {
		t.Fatal("unknown id must not cancel")
	}
}

func TestResolveExactlyOnce(t *testing.T) {
	q := NewQueue(time.Minute, 10)
	req, ch, _ := q.Submit("conn-1", "https://app.example", KindSendTx, nil)

	var wg sync.WaitGroup
	resolved := make(chan bool, 16)
	for i := 0; i < 16; i++ {
		approve := i%2 == 0
		wg.Add(1)
		go func() {
			defer wg.Done()
			resolved <- q.Resolve(req.ID, approve, "")
		}()
	}
	wg.Wait()
	close(resolved)

	wins := 0
	for ok := range resolved {
		if ok {
			wins++
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winning resolve, got %d", wins)
	}
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("waiter never received the outcome")
	}
	select {
	case out, ok := <-ch:
		if ok {
			t.Fatalf("second outcome delivered: %+v", out)
		}
	default:
	}
}

func TestQueueFullPerConnection(t *testing.T) {
	q := NewQueue(time.Minute, 2)
	for i := 0; i < 2; i++ {
		if _, _, err := q.Submit("conn-1", "https://app.example", KindSendTx, nil); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	if _, _, err := q.Submit("conn-1", "https://app.example", KindSendTx, nil); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	// The cap is per connection, not global.
	if _, _, err := q.Submit("conn-2", "https://app.example", KindSendTx, nil); err != nil {
		t.Fatalf("other connection should be admitted: %v", err)
	}
}

func TestCancelAll(t *testing.T) {
	q := NewQueue(time.Minute, 10)
	_, ch1, _ := q.Submit("conn-1", "https://a.example", KindConnect, nil)
	_, ch2, _ := q.Submit("conn-1", "https://b.example", KindSendTx, nil)
	_, _, _ = q.Submit("conn-2", "https://a.example", KindConnect, nil)

	if n := q.CancelAll("conn-1"); n != 2 {
		t.Fatalf("expected 2 cancelled, got %d", n)
	}
	for _, ch := range []<-chan Outcome{ch1, ch2} {
		if out := <-ch; out.Decision != Cancelled {
			t.Fatalf("expected cancelled, got %s", out.Decision)
		}
	}
	if q.Len() != 1 {
		t.Fatalf("conn-2 entry should remain, len=%d", q.Len())
	}
}

func TestListPendingOldestFirst(t *testing.T) {
	q := NewQueue(time.Minute, 10)
	current := time.Unix(1_700_000_000, 0)
	q.now = func() time.Time { return current }

	first, _, _ := q.Submit("conn-1", "https://a.example", KindConnect, nil)
	current = current.Add(time.Second)
	second, _, _ := q.Submit("conn-1", "https://b.example", KindSendTx, nil)

	pending := q.ListPending()
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending, got %d", len(pending))
	}
	if pending[0].ID != first.ID || pending[1].ID != second.ID {
		t.Fatal("pending list must be ordered oldest first")
	}
}

func TestSweepExpired(t *testing.T) {
	q := NewQueue(time.Minute, 10)
	current := time.Unix(1_700_000_000, 0)
	q.now = func() time.Time { return current }

	_, expiredCh, _ := q.Submit("conn-1", "https://a.example", KindSendTx, nil)
	current = current.Add(30 * time.Second)
	_, freshCh, _ := q.Submit("conn-1", "https://b.example", KindSendTx, nil)

	current = current.Add(31 * time.Second)
	if n := q.SweepExpired(); n != 1 {
		t.Fatalf("expected 1 swept, got %d", n)
	}
	if out := <-expiredCh; out.Decision != Expired {
		t.Fatalf("expected expired, got %s", out.Decision)
	}
	select {
	case out := <-freshCh:
		t.Fatalf("fresh entry should still be pending, got %+v", out)
	default:
	}
}

func TestRunSweepsOnInterval(t *testing.T) {
	q := NewQueue(10*time.Millisecond, 10)
	_, ch, _ := q.Submit("conn-1", "https://a.example", KindSendTx, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx, 5*time.Millisecond)

	select {
	case out := <-ch:
		if out.Decision != Expired {
			t.Fatalf("expected expired, got %s", out.Decision)
		}
	case <-time.After(time.Second):
		t.Fatal("sweeper never expired the entry")
	}
}
