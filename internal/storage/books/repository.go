package books

import (
	"context"

	"bookcatalog/internal/types"
)

// Repository is implemented by every storage engine with the same observable semantics.
// Lookups of absent records return (nil, nil).
type Repository interface {
	// Create stores book under the id already assigned to it.
	Create(ctx context.Context, book *types.Book) (*types.Book, error)

	GetById(ctx context.Context, id int) (*types.Book, error)
	// GetByTitle matches the whole title case-insensitively.
	GetByTitle(ctx context.Context, title string) (*types.Book, error)

	Count(ctx context.Context) (int, error)
	// LastId returns the highest stored id, 0 for an empty store.
	LastId(ctx context.Context) (int, error)

	DeleteById(ctx context.Context, id int) (bool, error)

	// Search applies filter.Matches semantics, the result is unsorted.
	Search(ctx context.Context, f *types.Filter) ([]*types.Book, error)

	UpdatePrice(ctx context.Context, id int, price int) (previous int, found bool, err error)
}
