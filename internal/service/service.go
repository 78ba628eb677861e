package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/cenkalti/backoff/v4"

	"bookcatalog/internal/filter"
	"bookcatalog/internal/metrics"
	"bookcatalog/internal/storage/books"
	"bookcatalog/internal/storage/fails"
	"bookcatalog/internal/types"
)

const (
	MinYear = 1940
	MaxYear = 2100

	defaultRetries = 2
)

// Store is one configured backend.
type Store struct {
	Backend types.Backend
	Repo    books.Repository
}

type Config struct {
	// Primary is the system of record, it answers reads without a selector.
	Primary  Store
	Replicas []Store

	// Fails keeps replica writes for the reconciler, nil disables recording.
	Fails   fails.Repository
	Metrics *metrics.Metrics
	Logger  *slog.Logger

	// Retries bounds replica write attempts after the first one.
	Retries    uint64
	NewBackOff func() backoff.BackOff
}

type Service struct {
	// mu serializes every write together with its fan-out, and each reconciliation of a book,
	// so replicas see changes in the primary's order.
	mu     sync.Mutex
	lastId int

	primary    Store
	replicas   []Store
	fails      fails.Repository
	// fallback keeps failures the configured log could not store.
	fallback   *fails.MemoryRepository
	metrics    *metrics.Metrics
	l          *slog.Logger
	retries    uint64
	newBackOff func() backoff.BackOff
}

// New seeds the id counter from the highest id found in any backend so ids are never reused.
func New(ctx context.Context, cfg Config) (*Service, error) {
	if cfg.Primary.Repo == nil {
		return nil, errors.New("primary backend is required")
	}

	s := &Service{
		primary:    cfg.Primary,
		replicas:   cfg.Replicas,
		fails:      cfg.Fails,
		fallback:   fails.NewMemoryRepository(),
		metrics:    cfg.Metrics,
		l:          cfg.Logger,
		retries:    cfg.Retries,
		newBackOff: cfg.NewBackOff,
	}

	if s.l == nil {
		s.l = slog.Default()
	}
	if s.retries == 0 {
		s.retries = defaultRetries
	}
	if s.newBackOff == nil {
		s.newBackOff = func() backoff.BackOff { return backoff.NewExponentialBackOff() }
	}

	last, err := cfg.Primary.Repo.LastId(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading last id of %s: %w", cfg.Primary.Backend, err)
	}

	for _, r := range cfg.Replicas {
		id, err := r.Repo.LastId(ctx)
		if err != nil {
			s.l.WarnContext(ctx, "Failed to read last id of replica "+string(r.Backend)+": "+err.Error())
			continue
		}
		last = max(last, id)
	}

	s.lastId = last
	s.l.DebugContext(ctx, fmt.Sprintf("Identifier counter seeded with %d", last))

	return s, nil
}

// CreateBook validates book and stores it under the next id, which it returns.
func (s *Service) CreateBook(ctx context.Context, book *types.Book) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(book.Title) == "" {
		return 0, s.reject(ctx, invalid(ErrEmptyTitle, "Error: Can't create new Book without a title"))
	}

	existing, err := s.primary.Repo.GetByTitle(ctx, book.Title)
	if err != nil {
		return 0, fmt.Errorf("checking title: %w", err)
	}

	if existing != nil {
		return 0, s.reject(ctx, duplicate(book.Title))
	}

	if book.Year < MinYear || book.Year > MaxYear {
		return 0, s.reject(ctx, invalid(ErrYearOutOfRange,
			"Error: Can't create new Book that its year %d is not in the accepted range [%d -> %d]",
			book.Year, MinYear, MaxYear))
	}

	if book.Price < 0 {
		return 0, s.reject(ctx, invalid(ErrNegativePrice, "Error: Can't create new Book with negative price"))
	}

	for _, g := range book.Genres {
		if !g.Valid() {
			return 0, s.reject(ctx, &ValidationError{
				Err:     types.ErrInvalidGenre,
				Message: fmt.Sprintf("Error: unknown genre %q", string(g)),
			})
		}
	}

	s.l.InfoContext(ctx, "Creating new Book with Title ["+book.Title+"]")

	toStore := *book
	toStore.Id = s.lastId + 1

	if s.l.Enabled(ctx, slog.LevelDebug) {
		if n, err := s.primary.Repo.Count(ctx); err == nil {
			s.l.DebugContext(ctx, fmt.Sprintf("Currently there are %d Books in the system. New Book will be assigned with id %d",
				n, toStore.Id))
		}
	}

	created, err := s.primary.Repo.Create(ctx, &toStore)
	if err != nil {
		if errors.Is(err, books.ErrDuplicate) {
			return 0, s.reject(ctx, duplicate(book.Title))
		}
		return 0, fmt.Errorf("creating book in %s: %w", s.primary.Backend, err)
	}

	s.lastId = created.Id

	s.fanOut(ctx, fails.OpCreate, created.Id, func(ctx context.Context, repo books.Repository) error {
		_, err := repo.Create(ctx, created)
		if errors.Is(err, books.ErrDuplicate) {
			return backoff.Permanent(err)
		}
		return err
	})

	return created.Id, nil
}

// UpdatePrice sets the price of the book and returns the previous one.
func (s *Service) UpdatePrice(ctx context.Context, id int, price int) (int, error) {
	if price < 0 {
		return 0, s.reject(ctx, invalid(ErrNegativePrice, "Error: price update for book %d must be a positive integer", id))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, found, err := s.primary.Repo.UpdatePrice(ctx, id, price)
	if err != nil {
		return 0, fmt.Errorf("updating price in %s: %w", s.primary.Backend, err)
	}

	if !found {
		return 0, s.reject(ctx, notFound(id))
	}

	s.l.InfoContext(ctx, fmt.Sprintf("Update Book id [%d] price to %d", id, price))
	s.l.DebugContext(ctx, fmt.Sprintf("Book id [%d] price change: %d --> %d", id, prev, price))

	s.fanOut(ctx, fails.OpUpdatePrice, id, func(ctx context.Context, repo books.Repository) error {
		_, found, err := repo.UpdatePrice(ctx, id, price)
		if err == nil && !found {
			return backoff.Permanent(fmt.Errorf("book %d is missing", id))
		}
		return err
	})

	return prev, nil
}

// DeleteById removes the book and returns the number of books left.
func (s *Service) DeleteById(ctx context.Context, id int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ok, err := s.primary.Repo.DeleteById(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("deleting book from %s: %w", s.primary.Backend, err)
	}

	if !ok {
		return 0, s.reject(ctx, notFound(id))
	}

	s.fanOut(ctx, fails.OpDelete, id, func(ctx context.Context, repo books.Repository) error {
		_, err := repo.DeleteById(ctx, id)
		return err
	})

	total, err := s.primary.Repo.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("counting books in %s: %w", s.primary.Backend, err)
	}

	s.l.InfoContext(ctx, fmt.Sprintf("Removed book id [%d]", id))
	s.l.DebugContext(ctx, fmt.Sprintf("After removing book id [%d] there are %d books in the system", id, total))

	return total, nil
}

func (s *Service) GetTotal(ctx context.Context, sel types.Backend) (int, error) {
	st, err := s.store(sel)
	if err != nil {
		return 0, err
	}

	return st.Repo.Count(ctx)
}

func (s *Service) GetById(ctx context.Context, sel types.Backend, id int) (*types.Book, error) {
	st, err := s.store(sel)
	if err != nil {
		return nil, err
	}

	b, err := st.Repo.GetById(ctx, id)
	if err != nil {
		return nil, err
	}

	if b == nil {
		return nil, s.reject(ctx, notFound(id))
	}

	s.l.DebugContext(ctx, fmt.Sprintf("Fetching book id %d details", id))

	return b, nil
}

func (s *Service) GetByTitle(ctx context.Context, sel types.Backend, title string) (*types.Book, error) {
	st, err := s.store(sel)
	if err != nil {
		return nil, err
	}

	b, err := st.Repo.GetByTitle(ctx, title)
	if err != nil {
		return nil, err
	}

	if b == nil {
		return nil, invalid(ErrNotFound, "Error: no such Book with title %s", title)
	}

	return b, nil
}

// ListFiltered returns the matching books sorted by title.
func (s *Service) ListFiltered(ctx context.Context, sel types.Backend, f *types.Filter) ([]*types.Book, error) {
	st, err := s.store(sel)
	if err != nil {
		return nil, err
	}

	bks, err := st.Repo.Search(ctx, f)
	if err != nil {
		return nil, err
	}

	// Backends push the predicates down, this keeps the result identical whichever answered.
	bks = filter.Apply(bks, f)
	filter.SortByTitle(bks)

	s.l.InfoContext(ctx, fmt.Sprintf("Total Books found for requested filters is %d", len(bks)))

	return bks, nil
}

// Backends lists the configured backends, primary first.
func (s *Service) Backends() []types.Backend {
	ret := []types.Backend{s.primary.Backend}
	for _, r := range s.replicas {
		ret = append(ret, r.Backend)
	}

	return ret
}

func (s *Service) store(sel types.Backend) (Store, error) {
	if sel == "" || sel == s.primary.Backend {
		return s.primary, nil
	}

	for _, r := range s.replicas {
		if r.Backend == sel {
			return r, nil
		}
	}

	return Store{}, fmt.Errorf("%w: %s is not configured", types.ErrInvalidBackend, sel)
}

func (s *Service) reject(ctx context.Context, err error) error {
	s.l.ErrorContext(ctx, err.Error())
	return err
}

func duplicate(title string) error {
	return invalid(ErrDuplicateTitle, "Error: Book with the title [%s] already exists in the system", title)
}
