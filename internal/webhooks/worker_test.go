package webhooks

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"gasroute/internal/store"
)

type recordStore struct {
	*store.Memory
	mu        sync.Mutex
	delivered []string
	resched   []string
	dead      []string
}

func (r *recordStore) MarkWebhookDelivered(ctx context.Context, id string) error {
	r.mu.Lock()
	r.delivered = append(r.delivered, id)
	r.mu.Unlock()
	return r.Memory.MarkWebhookDelivered(ctx, id)
}

func (r *recordStore) RescheduleWebhook(ctx context.Context, id string, next time.Time, lastError string) error {
	r.mu.Lock()
	r.resched = append(r.resched, id)
	r.mu.Unlock()
	return r.Memory.RescheduleWebhook(ctx, id, next, lastError)
}

func (r *recordStore) FailWebhook(ctx context.Context, id string, lastError string) error {
	r.mu.Lock()
	r.dead = append(r.dead, id)
	r.mu.Unlock()
	return r.Memory.FailWebhook(ctx, id, lastError)
}

func TestWorkerDeliversWithSignature(t *testing.T) {
	var gotSig, gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Signature")
		gotType = r.Header.Get("X-Event-Type")
		w.WriteHeader(200)
	}))
	defer srv.Close()

	rs := &recordStore{Memory: store.NewMemory()}
	w := &Worker{Store: rs, HTTP: srv.Client(), Stop: make(chan struct{}), MaxAttempts: 3}
	body := []byte(`{"id":"evt1"}`)
	id, err := rs.EnqueueWebhook(context.Background(), "sub1", EventRouteCompleted, srv.URL, "secret", body)
	if err != nil || id == "" {
		t.Fatalf("enqueue failed: %v", err)
	}

	w.processOnce()

	if gotType != EventRouteCompleted {
		t.Fatalf("event type header: got %q", gotType)
	}
	if !VerifyHMAC("secret", body, gotSig) {
		t.Fatalf("signature does not verify: %q", gotSig)
	}
	if len(rs.delivered) != 1 || rs.delivered[0] != id {
		t.Fatalf("expected delivered mark, got %+v", rs.delivered)
	}
}

func TestWorkerReschedulesOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(500) }))
	defer srv.Close()

	rs := &recordStore{Memory: store.NewMemory()}
	w := &Worker{Store: rs, HTTP: srv.Client(), Stop: make(chan struct{}), MaxAttempts: 3}
	_, _ = rs.EnqueueWebhook(context.Background(), "sub1", EventRouteStarted, srv.URL, "", []byte(`{}`))

	w.processOnce()

	if len(rs.resched) != 1 {
		t.Fatalf("expected reschedule, got resched=%v dead=%v", rs.resched, rs.dead)
	}
}

func TestWorkerDeadLettersAfterMaxAttempts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(500) }))
	defer srv.Close()

	rs := &recordStore{Memory: store.NewMemory()}
	w := &Worker{Store: rs, HTTP: srv.Client(), Stop: make(chan struct{}), MaxAttempts: 1}
	_, _ = rs.EnqueueWebhook(context.Background(), "sub1", EventRouteCancelled, srv.URL, "", []byte(`{}`))

	w.processOnce()

	if len(rs.dead) != 1 {
		t.Fatalf("expected dead-letter, got resched=%v dead=%v", rs.resched, rs.dead)
	}
}

func TestNextBackoffCapsAtOneHour(t *testing.T) {
	if nextBackoff(0) != time.Second {
		t.Fatalf("attempt 0: %v", nextBackoff(0))
	}
	if nextBackoff(3) != 8*time.Second {
		t.Fatalf("attempt 3: %v", nextBackoff(3))
	}
	if nextBackoff(30) != time.Hour {
		t.Fatalf("attempt 30: %v", nextBackoff(30))
	}
}
