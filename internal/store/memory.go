package store

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/fieldtrack/internal/model"
)

type fieldKey struct {
	entity model.Ref
	field  string
}

// MemoryStore implements ChangeLog in process memory. Each (entity, field)
// history is kept sorted oldest first.
type MemoryStore struct {
	mu      sync.RWMutex
	seq     int64
	history map[fieldKey][]model.ChangeRecord
}

// NewMemory creates an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{history: make(map[fieldKey][]model.ChangeRecord)}
}

func (s *MemoryStore) Migrate(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) Append(ctx context.Context, rec *model.ChangeRecord) error {
	if err := rec.Validate(); err != nil {
		return eris.Wrap(err, "memory: append")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insert(rec)
	return nil
}

func (s *MemoryStore) AppendBatch(ctx context.Context, recs []model.ChangeRecord) error {
	if err := validateAll(recs); err != nil {
		return eris.Wrap(err, "memory: append batch")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range recs {
		s.insert(&recs[i])
	}
	return nil
}

// insert places rec after every record that is not newer than it, so equal
// timestamps keep insertion order. Caller holds the write lock.
func (s *MemoryStore) insert(rec *model.ChangeRecord) {
	s.seq++
	rec.Seq = s.seq

	k := fieldKey{entity: rec.Entity, field: rec.FieldName}
	h := s.history[k]
	i := len(h)
	for i > 0 && h[i-1].ChangedAt.After(rec.ChangedAt) {
		i--
	}
	h = append(h, model.ChangeRecord{})
	copy(h[i+1:], h[i:])
	h[i] = cloneRecord(*rec)
	s.history[k] = h
}

func (s *MemoryStore) Latest(ctx context.Context, entity model.Ref, field string) (*model.ChangeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h := s.history[fieldKey{entity: entity, field: field}]
	if len(h) == 0 {
		return nil, nil
	}
	rec := cloneRecord(h[len(h)-1])
	return &rec, nil
}

func (s *MemoryStore) AllFor(ctx context.Context, entity model.Ref, field string) ([]model.ChangeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h := s.history[fieldKey{entity: entity, field: field}]
	out := make([]model.ChangeRecord, 0, len(h))
	for i := len(h) - 1; i >= 0; i-- {
		out = append(out, cloneRecord(h[i]))
	}
	return out, nil
}

func (s *MemoryStore) DeleteFor(ctx context.Context, entity model.Ref) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for k, h := range s.history {
		if k.entity == entity {
			n += len(h)
			delete(s.history, k)
		}
	}
	return n, nil
}

func cloneRecord(rec model.ChangeRecord) model.ChangeRecord {
	if rec.Source != nil {
		src := *rec.Source
		rec.Source = &src
	}
	return rec
}
