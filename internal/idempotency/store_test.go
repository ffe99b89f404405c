package idempotency

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if rec, _ := store.Get(ctx, "missing"); rec != nil {
		t.Fatalf("expected nil for missing key")
	}

	now := time.Now()
	record := Record{
		Route:      "POST /api/v1/orders",
		StatusCode: 200,
		Body:       []byte(`{"status":"ok"}`),
		CreatedAt:  now,
		ExpiresAt:  now.Add(time.Minute),
	}
	if err := store.Save(ctx, "abc", record); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got, _ := store.Get(ctx, "abc")
	if got == nil || string(got.Body) != `{"status":"ok"}` || got.Route != record.Route {
		t.Fatalf("unexpected record: %+v", got)
	}
}

func TestMemoryStoreExpires(t *testing.T) {
	store := NewMemoryStore()
	now := time.Unix(1_700_000_000, 0)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	_ = store.Save(ctx, "k", Record{StatusCode: 200, CreatedAt: now, ExpiresAt: now.Add(time.Second)})
	if rec, _ := store.Get(ctx, "k"); rec == nil {
		t.Fatalf("record should still be live")
	}

	now = now.Add(time.Second)
	if rec, _ := store.Get(ctx, "k"); rec != nil {
		t.Fatalf("record should have expired: %+v", rec)
	}
	if store.Len() != 0 {
		t.Fatalf("expired record was not dropped")
	}
}
