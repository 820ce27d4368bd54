package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"

	"github.com/curalink/signchain/model"
)

func TestFormatIdempotencyKey(t *testing.T) {
	key := FormatIdempotencyKey("inst-1", "req-abc")
	if key != "signchain:idem:inst-1:req-abc" {
		t.Errorf("key = %q", key)
	}
}

func TestMemoryIdempotencyStore_roundTrip(t *testing.T) {
	s := NewMemoryIdempotencyStore()
	ctx := context.Background()

	inst := storedInstance("i-1", "facility-1")
	if err := s.Store(ctx, "k1", "hash-a", inst, time.Minute); err != nil {
		t.Fatalf("Store: %v", err)
	}

	got, found, err := s.Check(ctx, "k1", "hash-a")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !found || got == nil || got.ID != "i-1" {
		t.Errorf("got = %v, found = %v", got, found)
	}

	// Unknown key.
	_, found, err = s.Check(ctx, "k2", "hash-a")
	if err != nil || found {
		t.Errorf("unknown key: found = %v, err = %v", found, err)
	}
}

func TestMemoryIdempotencyStore_hashMismatch(t *testing.T) {
	s := NewMemoryIdempotencyStore()
	ctx := context.Background()

	if err := s.Store(ctx, "k1", "hash-a", storedInstance("i-1", "facility-1"), time.Minute); err != nil {
		t.Fatalf("Store: %v", err)
	}

	_, found, err := s.Check(ctx, "k1", "hash-b")
	if !found {
		t.Error("key should be reported as found")
	}
	if !model.IsCode(err, model.ErrConflict) {
		t.Errorf("err = %v, want CONFLICT", err)
	}
}

func TestMemoryIdempotencyStore_expiry(t *testing.T) {
	s := NewMemoryIdempotencyStore()
	ctx := context.Background()

	if err := s.Store(ctx, "k1", "hash-a", storedInstance("i-1", "facility-1"), time.Millisecond); err != nil {
		t.Fatalf("Store: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	_, found, err := s.Check(ctx, "k1", "hash-a")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if found {
		t.Error("expired entry should not be found")
	}
	if s.Len() != 0 {
		t.Errorf("expired entry not evicted, len = %d", s.Len())
	}
}

func TestRedisIdempotencyStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisIdempotencyStore(client)
	ctx := context.Background()

	inst := storedInstance("i-1", "facility-1")
	if err := s.Store(ctx, "k1", "hash-a", inst, time.Minute); err != nil {
		t.Fatalf("Store: %v", err)
	}

	got, found, err := s.Check(ctx, "k1", "hash-a")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !found || got.ID != "i-1" {
		t.Errorf("got = %v, found = %v", got, found)
	}

	// Hash mismatch → conflict.
	_, found, err = s.Check(ctx, "k1", "hash-b")
	if !found || !model.IsCode(err, model.ErrConflict) {
		t.Errorf("mismatch: found = %v, err = %v", found, err)
	}

	// Miss.
	_, found, err = s.Check(ctx, "k2", "hash-a")
	if err != nil || found {
		t.Errorf("miss: found = %v, err = %v", found, err)
	}

	// TTL expiry.
	mr.FastForward(2 * time.Minute)
	_, found, err = s.Check(ctx, "k1", "hash-a")
	if err != nil || found {
		t.Errorf("after TTL: found = %v, err = %v", found, err)
	}
}
