package kv

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestMemoryStore_SetGetDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := s.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := s.Get(ctx, "k")
	if err != nil || string(got) != "v" {
		t.Fatalf("Get = %q, %v", got, err)
	}

	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected key gone, got %v", err)
	}
}

func TestMemoryStore_TTL(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Unix(1000, 0)
	s.now = func() time.Time { return now }

	s.Set(ctx, "k", []byte("v"), time.Minute)
	now = now.Add(59 * time.Second)
	if _, err := s.Get(ctx, "k"); err != nil {
		t.Fatalf("key should still be live: %v", err)
	}

	now = now.Add(2 * time.Second)
	if _, err := s.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("key should have expired, got %v", err)
	}

	ok, _ := s.SetNX(ctx, "k", []byte("again"), time.Minute)
	if !ok {
		t.Error("SetNX should succeed on an expired key")
	}
}

func TestMemoryStore_SweepsUnreadExpiredKeys(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Unix(1000, 0)
	s.now = func() time.Time { return now }

	s.Set(ctx, "pinned", []byte("v"), 0)
	for i := 0; i < 3*sweepEvery; i++ {
		if ok, _ := s.SetNX(ctx, fmt.Sprintf("submit:%d", i), []byte("x"), time.Minute); !ok {
			t.Fatalf("SetNX %d should win on a fresh key", i)
		}
	}

	// None of the submit keys is ever read again
	now = now.Add(2 * time.Minute)
	for i := 0; i < sweepEvery; i++ {
		s.Set(ctx, fmt.Sprintf("fresh:%d", i), []byte("y"), time.Minute)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.data {
		if strings.HasPrefix(k, "submit:") {
			t.Fatalf("expired key %s survived a sweep", k)
		}
	}
	if _, ok := s.data["pinned"]; !ok {
		t.Error("a key without TTL must never be swept")
	}
	if len(s.data) > 1+sweepEvery {
		t.Errorf("store holds %d keys after sweep", len(s.data))
	}
}

func TestMemoryStore_SetNXSingleWinner(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := s.SetNX(ctx, "submit:key", []byte("pending"), time.Hour); ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("expected exactly one SetNX winner, got %d", wins.Load())
	}
}
