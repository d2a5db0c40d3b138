package directory

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

func TestMemoryStore_InsertGet(t *testing.T) {
	s := NewMemoryStore()

	if err := s.Insert(Record{JobID: "j1", AgentName: "a", AgentURL: "http://a:5000"}); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	rec, err := s.Get("j1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec.Status != StatusSubmitted {
		t.Errorf("new records should be submitted, got %s", rec.Status)
	}
	if rec.CreatedAt.IsZero() {
		t.Error("CreatedAt should be set")
	}

	if err := s.Insert(Record{JobID: "j1"}); !errors.Is(err, ErrExists) {
		t.Errorf("expected ErrExists, got %v", err)
	}
	if _, err := s.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_UpdateStatus(t *testing.T) {
	s := NewMemoryStore()
	s.Insert(Record{JobID: "j1"})

	if err := s.UpdateStatus("j1", StatusCompleted); err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}
	rec, _ := s.Get("j1")
	if rec.Status != StatusCompleted {
		t.Errorf("got %s", rec.Status)
	}

	if err := s.UpdateStatus("nope", StatusFailed); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_ListInsertionOrder(t *testing.T) {
	s := NewMemoryStore()
	for _, id := range []string{"c", "a", "b"} {
		s.Insert(Record{JobID: id, AgentName: "agent-" + id})
	}

	var got []string
	for _, rec := range s.List() {
		got = append(got, rec.JobID)
	}
	if fmt.Sprint(got) != "[c a b]" {
		t.Errorf("List order = %v", got)
	}
}

func TestMemoryStore_Concurrent(t *testing.T) {
	s := NewMemoryStore()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("j%d", i)
			s.Insert(Record{JobID: id})
			s.UpdateStatus(id, StatusRunning)
			s.List()
		}(i)
	}
	wg.Wait()

	if n := len(s.List()); n != 50 {
		t.Errorf("expected 50 records, got %d", n)
	}
}

func TestParseStatus(t *testing.T) {
	cases := map[string]Status{
		"running":   StatusRunning,
		"completed": StatusCompleted,
		"cancelled": StatusCancelled,
		"exploded":  StatusUnknown,
		"":          StatusUnknown,
	}
	for in, want := range cases {
		if got := ParseStatus(in); got != want {
			t.Errorf("ParseStatus(%q) = %s, want %s", in, got, want)
		}
	}
}
