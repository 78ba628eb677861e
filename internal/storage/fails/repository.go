package fails

import (
	"context"
	"time"

	"bookcatalog/internal/types"
)

type Op string

const (
	OpCreate      Op = "create"
	OpUpdatePrice Op = "update_price"
	OpDelete      Op = "delete"
)

// Record is a replica write that did not go through after retries.
type Record struct {
	Id        uint64
	CreatedAt time.Time
	Backend   types.Backend
	Op        Op
	BookId    int
	Error     string
}

type Repository interface {
	Save(ctx context.Context, rec *Record) error

	// GetFails returns the oldest records first.
	GetFails(ctx context.Context, notAfter time.Time, limit uint) ([]*Record, error)
	DeleteById(ctx context.Context, id uint64) error
}
