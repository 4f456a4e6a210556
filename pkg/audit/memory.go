package audit

import (
	"context"
	"sync"
)

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records []Record
	seq     int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(ctx context.Context, record Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record.Seq == 0 {
		s.seq++
		record.Seq = s.seq
	}
	record.Objects = append([]string(nil), record.Objects...)
	s.records = append(s.records, record)
	return nil
}

func (s *MemoryStore) Query(ctx context.Context, object string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Record
	for _, r := range s.records {
		if r.Touches(object) {
			out = append(out, r)
		}
	}
	Sort(out)
	return out, nil
}

// All returns every record in append order.
func (s *MemoryStore) All(ctx context.Context) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Record(nil), s.records...), nil
}

var (
	_ Store  = (*MemoryStore)(nil)
	_ Lister = (*MemoryStore)(nil)
)
