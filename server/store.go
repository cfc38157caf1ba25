package server

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// Sentinel errors for store operations.
var (
	ErrRunExists   = errors.New("run already exists")
	ErrRunNotFound = errors.New("run not found")
)

// Run statuses.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// Run triggers.
const (
	TriggerAPI      = "api"
	TriggerSchedule = "schedule"
)

// RunRecord represents one digest run in the history.
type RunRecord struct {
	ID         string     `json:"id"`
	Status     string     `json:"status"`
	Trigger    string     `json:"trigger"`
	EmailCount int        `json:"email_count"`
	Digest     string     `json:"digest,omitempty"`
	Error      string     `json:"error,omitempty"`
	TraceID    string     `json:"trace_id,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// RunStore provides persistence for run records.
type RunStore interface {
	// List returns records ordered newest first, up to limit (0 = all).
	List(ctx context.Context, limit int) ([]RunRecord, error)
	Get(ctx context.Context, id string) (RunRecord, bool, error)
	Create(ctx context.Context, rec RunRecord) error
	Update(ctx context.Context, rec RunRecord) error
}

// MemoryRunStore keeps run records in memory. It is the default store when
// no sqlite path is configured; history does not survive a restart.
type MemoryRunStore struct {
	mu      sync.RWMutex
	records map[string]RunRecord
}

// NewMemoryRunStore creates an empty in-memory run store.
func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{records: make(map[string]RunRecord)}
}

func (s *MemoryRunStore) List(ctx context.Context, limit int) ([]RunRecord, error) {
	s.mu.RLock()
	records := make([]RunRecord, 0, len(s.records))
	for _, rec := range s.records {
		records = append(records, rec)
	}
	s.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool {
		if records[i].StartedAt.Equal(records[j].StartedAt) {
			return records[i].ID > records[j].ID
		}
		return records[i].StartedAt.After(records[j].StartedAt)
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func (s *MemoryRunStore) Get(ctx context.Context, id string) (RunRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	return rec, ok, nil
}

func (s *MemoryRunStore) Create(ctx context.Context, rec RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[rec.ID]; exists {
		return ErrRunExists
	}
	s.records[rec.ID] = rec
	return nil
}

func (s *MemoryRunStore) Update(ctx context.Context, rec RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[rec.ID]; !exists {
		return ErrRunNotFound
	}
	s.records[rec.ID] = rec
	return nil
}

var _ RunStore = (*MemoryRunStore)(nil)
