package fails

import (
	"context"
	"slices"
	"sync"
	"time"
)

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

type MemoryRepository struct {
	mu     sync.Mutex
	lastId uint64
	recs   []Record
}

func (m *MemoryRepository) Save(_ context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastId++

	stored := *rec
	stored.Id = m.lastId
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	m.recs = append(m.recs, stored)

	return nil
}

func (m *MemoryRepository) GetFails(_ context.Context, notAfter time.Time, limit uint) ([]*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ret []*Record
	for _, rec := range m.recs {
		if uint(len(ret)) >= limit {
			break
		}
		if rec.CreatedAt.After(notAfter) {
			continue
		}

		rec := rec
		ret = append(ret, &rec)
	}

	return ret, nil
}

func (m *MemoryRepository) DeleteById(_ context.Context, id uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.recs = slices.DeleteFunc(m.recs, func(r Record) bool { return r.Id == id })
	return nil
}
