// Package directory records which agent accepted each job.
package directory

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/quatton/jobman/pkg/qres"
)

type Status string

const (
	StatusSubmitted Status = "submitted"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusUnknown   Status = "unknown"
)

// ParseStatus maps an agent-reported status onto the directory's enum.
func ParseStatus(s string) Status {
	switch st := Status(s); st {
	case StatusSubmitted, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return st
	default:
		return StatusUnknown
	}
}

var (
	ErrNotFound = errors.New("job not found")
	ErrExists   = errors.New("job already recorded")
)

// Record is the scheduler's view of a job.
type Record struct {
	JobID     string
	AgentName string
	AgentURL  string
	Status    Status
	Resources *qres.Request // nil when the submission declared none
	CreatedAt time.Time
}

// Store is the job directory. Implementations must be safe for concurrent use.
type Store interface {
	Insert(rec Record) error
	Get(jobID string) (Record, error)
	UpdateStatus(jobID string, status Status) error
	// List returns records in insertion order.
	List() []Record
}

type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
	order   []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

func (s *MemoryStore) Insert(rec Record) error {
	if rec.JobID == "" {
		return fmt.Errorf("record has no job id")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	if rec.Status == "" {
		rec.Status = StatusSubmitted
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.JobID]; ok {
		return fmt.Errorf("%s: %w", rec.JobID, ErrExists)
	}
	s.records[rec.JobID] = &rec
	s.order = append(s.order, rec.JobID)
	return nil
}

func (s *MemoryStore) Get(jobID string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[jobID]
	if !ok {
		return Record{}, fmt.Errorf("%s: %w", jobID, ErrNotFound)
	}
	return *rec, nil
}

func (s *MemoryStore) UpdateStatus(jobID string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[jobID]
	if !ok {
		return fmt.Errorf("%s: %w", jobID, ErrNotFound)
	}
	rec.Status = status
	return nil
}

func (s *MemoryStore) List() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.records[id])
	}
	return out
}

var _ Store = (*MemoryStore)(nil)
