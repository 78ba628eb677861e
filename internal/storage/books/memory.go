package books

import (
	"context"
	"slices"
	"strings"
	"sync"

	"bookcatalog/internal/filter"
	"bookcatalog/internal/types"
)

// NewMemoryRepository keeps books in a plain list, it backs the stand-alone mode and tests.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

type MemoryRepository struct {
	mu    sync.RWMutex
	books []*types.Book
}

func (m *MemoryRepository) Create(_ context.Context, book *types.Book) (*types.Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.indexOf(book.Id) >= 0 {
		return nil, ErrDuplicate
	}
	for _, b := range m.books {
		if strings.EqualFold(b.Title, book.Title) {
			return nil, ErrDuplicate
		}
	}

	stored := clone(book)
	m.books = append(m.books, stored)

	return clone(stored), nil
}

func (m *MemoryRepository) GetById(_ context.Context, id int) (*types.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if ix := m.indexOf(id); ix >= 0 {
		return clone(m.books[ix]), nil
	}

	return nil, nil
}

func (m *MemoryRepository) GetByTitle(_ context.Context, title string) (*types.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, b := range m.books {
		if strings.EqualFold(b.Title, title) {
			return clone(b), nil
		}
	}

	return nil, nil
}

func (m *MemoryRepository) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.books), nil
}

func (m *MemoryRepository) LastId(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	last := 0
	for _, b := range m.books {
		last = max(last, b.Id)
	}

	return last, nil
}

func (m *MemoryRepository) DeleteById(_ context.Context, id int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ix := m.indexOf(id)
	if ix < 0 {
		return false, nil
	}

	m.books = slices.Delete(m.books, ix, ix+1)
	return true, nil
}

func (m *MemoryRepository) Search(_ context.Context, f *types.Filter) ([]*types.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ret := make([]*types.Book, 0, len(m.books))
	for _, b := range m.books {
		if filter.Matches(b, f) {
			ret = append(ret, clone(b))
		}
	}

	return ret, nil
}

func (m *MemoryRepository) UpdatePrice(_ context.Context, id int, price int) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ix := m.indexOf(id)
	if ix < 0 {
		return 0, false, nil
	}

	prev := m.books[ix].Price
	m.books[ix].Price = price

	return prev, true, nil
}

func (m *MemoryRepository) indexOf(id int) int {
	return slices.IndexFunc(m.books, func(b *types.Book) bool { return b.Id == id })
}

func clone(b *types.Book) *types.Book {
	c := *b
	c.Genres = slices.Clone(b.Genres)
	return &c
}
