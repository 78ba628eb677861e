package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AlekSi/pointer"
	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookcatalog/internal/storage/books"
	"bookcatalog/internal/storage/fails"
	"bookcatalog/internal/types"
)

var (
	errReplicaDown = errors.New("replica down")
	farFuture      = time.Now().Add(24 * time.Hour)
)

// flakyRepo fails every write while down is set.
type flakyRepo struct {
	*books.MemoryRepository
	down   atomic.Bool
	writes atomic.Int32
}

func (f *flakyRepo) Create(ctx context.Context, b *types.Book) (*types.Book, error) {
	f.writes.Add(1)
	if f.down.Load() {
		return nil, errReplicaDown
	}
	return f.MemoryRepository.Create(ctx, b)
}

func (f *flakyRepo) UpdatePrice(ctx context.Context, id int, price int) (int, bool, error) {
	f.writes.Add(1)
	if f.down.Load() {
		return 0, false, errReplicaDown
	}
	return f.MemoryRepository.UpdatePrice(ctx, id, price)
}

func (f *flakyRepo) DeleteById(ctx context.Context, id int) (bool, error) {
	f.writes.Add(1)
	if f.down.Load() {
		return false, errReplicaDown
	}
	return f.MemoryRepository.DeleteById(ctx, id)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newService(t *testing.T) *Service {
	t.Helper()

	s, err := New(context.Background(), Config{
		Primary: Store{Backend: types.BackendMemory, Repo: books.NewMemoryRepository()},
		Logger:  discardLogger(),
	})
	require.NoError(t, err)

	return s
}

type dualSetup struct {
	s       *Service
	primary *books.MemoryRepository
	replica *flakyRepo
	fails   *fails.MemoryRepository
}

func newDual(t *testing.T) *dualSetup {
	t.Helper()

	d := &dualSetup{
		primary: books.NewMemoryRepository(),
		replica: &flakyRepo{MemoryRepository: books.NewMemoryRepository()},
		fails:   fails.NewMemoryRepository(),
	}

	var err error
	d.s, err = New(context.Background(), Config{
		Primary:    Store{Backend: types.BackendPostgres, Repo: d.primary},
		Replicas:   []Store{{Backend: types.BackendMongo, Repo: d.replica}},
		Fails:      d.fails,
		Logger:     discardLogger(),
		Retries:    2,
		NewBackOff: func() backoff.BackOff { return &backoff.ZeroBackOff{} },
	})
	require.NoError(t, err)

	return d
}

func book(title string, year, price int, genres ...types.Genre) *types.Book {
	return &types.Book{Title: title, Author: "Someone", Year: year, Price: price, Genres: genres}
}

func TestCreateBookValidation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for name, tc := range map[string]struct {
		book *types.Book
		err  error
	}{
		"Year1939":      {book: book("A", 1939, 1), err: ErrYearOutOfRange},
		"Year1940":      {book: book("A", 1940, 1)},
		"Year2100":      {book: book("A", 2100, 1)},
		"Year2101":      {book: book("A", 2101, 1), err: ErrYearOutOfRange},
		"PriceNegative": {book: book("A", 2000, -1), err: ErrNegativePrice},
		"PriceZero":     {book: book("A", 2000, 0)},
		"EmptyTitle":    {book: book("  ", 2000, 0), err: ErrEmptyTitle},
		"UnknownGenre":  {book: book("A", 2000, 0, types.Genre("FANTASY")), err: types.ErrInvalidGenre},
	} {
		name, tc := name, tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			s := newService(t)
			id, err := s.CreateBook(ctx, tc.book)

			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
				var ve *ValidationError
				require.ErrorAs(t, err, &ve)
				assert.NotEmpty(t, ve.Message)

				total, err := s.GetTotal(ctx, "")
				require.NoError(t, err)
				assert.Zero(t, total)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, 1, id)
		})
	}
}

func TestCreateBookDuplicateTitle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newService(t)

	_, err := s.CreateBook(ctx, book("The Hobbit", 1950, 10, types.GenreNovel))
	require.NoError(t, err)

	for _, title := range []string{"The Hobbit", "the hobbit", "THE HOBBIT"} {
		// Duplicate wins over every other validation.
		_, err = s.CreateBook(ctx, book(title, 1800, -5, types.GenreManga))
		assert.ErrorIs(t, err, ErrDuplicateTitle, title)
	}
}

func TestIdsAreMonotonic(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newService(t)

	last := 0
	for i := 0; i < 5; i++ {
		id, err := s.CreateBook(ctx, book(fmt.Sprintf("Book %d", i), 2000, i))
		require.NoError(t, err)
		assert.Greater(t, id, last)
		last = id
	}

	_, err := s.DeleteById(ctx, last)
	require.NoError(t, err)

	id, err := s.CreateBook(ctx, book("After delete", 2000, 1))
	require.NoError(t, err)
	assert.Equal(t, last+1, id, "ids are not reused after deletion")

	_, err = s.CreateBook(ctx, book("Rejected", 1900, 1))
	require.Error(t, err)

	id, err = s.CreateBook(ctx, book("After rejection", 2000, 1))
	require.NoError(t, err)
	assert.Equal(t, last+2, id, "failed creations do not consume ids")
}

func TestCounterSeededFromBackends(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	primary := books.NewMemoryRepository()
	replica := books.NewMemoryRepository()
	_, err := primary.Create(ctx, &types.Book{Id: 3, Title: "A", Year: 2000})
	require.NoError(t, err)
	_, err = replica.Create(ctx, &types.Book{Id: 7, Title: "B", Year: 2000})
	require.NoError(t, err)

	s, err := New(ctx, Config{
		Primary:  Store{Backend: types.BackendPostgres, Repo: primary},
		Replicas: []Store{{Backend: types.BackendMongo, Repo: replica}},
		Logger:   discardLogger(),
	})
	require.NoError(t, err)

	id, err := s.CreateBook(ctx, book("C", 2000, 1))
	require.NoError(t, err)
	assert.Equal(t, 8, id)
}

func TestConcurrentCreates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newService(t)

	const n = 50

	var wg sync.WaitGroup
	ids := make([]int, n)
	errs := make([]error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Every other goroutine races for the same title.
			ids[i], errs[i] = s.CreateBook(ctx, book(fmt.Sprintf("Title %d", i/2), 2000, 1))
		}(i)
	}
	wg.Wait()

	seen := make(map[int]struct{})
	duplicates := 0
	for i := range ids {
		if errs[i] != nil {
			require.ErrorIs(t, errs[i], ErrDuplicateTitle)
			duplicates++
			continue
		}
		_, dup := seen[ids[i]]
		require.False(t, dup, "id %d assigned twice", ids[i])
		seen[ids[i]] = struct{}{}
	}

	assert.Equal(t, n/2, duplicates)
	assert.Len(t, seen, n/2)
}

func TestListFiltered(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newService(t)

	for _, b := range []*types.Book{
		book("dune", 1965, 10, types.GenreNovel, types.GenreSciFi),
		book("SPQR", 2015, 11, types.GenreHistory),
		book("Akira", 1982, 9, types.GenreManga),
		book("bible", 1950, 0, types.GenreHistory),
	} {
		_, err := s.CreateBook(ctx, b)
		require.NoError(t, err)
	}

	titles := func(bks []*types.Book) []string {
		ret := make([]string, 0, len(bks))
		for _, b := range bks {
			ret = append(ret, b.Title)
		}
		return ret
	}

	res, err := s.ListFiltered(ctx, "", &types.Filter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Akira", "bible", "dune", "SPQR"}, titles(res))

	res, err = s.ListFiltered(ctx, "", &types.Filter{Genres: []types.Genre{types.GenreNovel, types.GenreManga}})
	require.NoError(t, err)
	assert.Equal(t, []string{"Akira", "dune"}, titles(res))

	res, err = s.ListFiltered(ctx, "", &types.Filter{PriceBiggerThan: pointer.ToInt(10)})
	require.NoError(t, err)
	assert.Equal(t, []string{"SPQR"}, titles(res))

	_, err = s.ListFiltered(ctx, types.BackendMongo, &types.Filter{})
	assert.ErrorIs(t, err, types.ErrInvalidBackend)
}

func TestUpdatePrice(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newService(t)

	id, err := s.CreateBook(ctx, book("A", 2000, 5))
	require.NoError(t, err)

	_, err = s.UpdatePrice(ctx, id, -1)
	assert.ErrorIs(t, err, ErrNegativePrice)

	prev, err := s.UpdatePrice(ctx, id, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, prev)

	_, err = s.UpdatePrice(ctx, id+1, 3)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteMissingKeepsCount(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newService(t)

	_, err := s.CreateBook(ctx, book("A", 2000, 5))
	require.NoError(t, err)

	_, err = s.DeleteById(ctx, 99)
	assert.ErrorIs(t, err, ErrNotFound)

	total, err := s.GetTotal(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestGenresRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newService(t)

	in := &types.Book{Title: "Foundation", Author: "Asimov", Year: 1951, Price: 12,
		Genres: []types.Genre{types.GenreSciFi, types.GenreNovel}}

	id, err := s.CreateBook(ctx, in)
	require.NoError(t, err)

	out, err := s.GetById(ctx, "", id)
	require.NoError(t, err)
	assert.ElementsMatch(t, in.Genres, out.Genres)
	assert.Equal(t, in.Title, out.Title)
	assert.Equal(t, in.Author, out.Author)
	assert.Equal(t, in.Year, out.Year)
	assert.Equal(t, in.Price, out.Price)

	byTitle, err := s.GetByTitle(ctx, "", "FOUNDATION")
	require.NoError(t, err)
	assert.Equal(t, id, byTitle.Id)
}

func TestDuneScenario(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newService(t)

	id, err := s.CreateBook(ctx, &types.Book{Title: "Dune", Author: "Herbert", Year: 1965, Price: 25,
		Genres: []types.Genre{types.GenreSciFi}})
	require.NoError(t, err)
	assert.Equal(t, 1, id)

	_, err = s.CreateBook(ctx, &types.Book{Title: "Dune", Author: "X", Year: 1970, Price: 10,
		Genres: []types.Genre{types.GenreNovel}})
	assert.ErrorIs(t, err, ErrDuplicateTitle)

	prev, err := s.UpdatePrice(ctx, 1, 30)
	require.NoError(t, err)
	assert.Equal(t, 25, prev)

	b, err := s.GetById(ctx, "", 1)
	require.NoError(t, err)
	assert.Equal(t, 30, b.Price)

	total, err := s.DeleteById(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, total)

	_, err = s.GetById(ctx, "", 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFanOut(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("Healthy", func(t *testing.T) {
		t.Parallel()
		d := newDual(t)

		id, err := d.s.CreateBook(ctx, book("A", 2000, 5, types.GenreNovel))
		require.NoError(t, err)

		_, err = d.s.UpdatePrice(ctx, id, 7)
		require.NoError(t, err)

		b, err := d.s.GetById(ctx, types.BackendMongo, id)
		require.NoError(t, err)
		assert.Equal(t, 7, b.Price)

		total, err := d.s.DeleteById(ctx, id)
		require.NoError(t, err)
		assert.Zero(t, total)

		n, err := d.s.GetTotal(ctx, types.BackendMongo)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("ReplicaDownThenReconciled", func(t *testing.T) {
		t.Parallel()
		d := newDual(t)

		d.replica.down.Store(true)

		id, err := d.s.CreateBook(ctx, book("A", 2000, 5))
		require.NoError(t, err, "primary success is the caller's success")
		assert.Equal(t, int32(3), d.replica.writes.Load(), "first attempt plus two retries")

		id2, err := d.s.CreateBook(ctx, book("B", 2000, 5))
		require.NoError(t, err)
		_, err = d.s.DeleteById(ctx, id2)
		require.NoError(t, err)

		_, err = d.s.GetById(ctx, types.BackendMongo, id)
		assert.ErrorIs(t, err, ErrNotFound)

		recs, err := d.fails.GetFails(ctx, farFuture, 10)
		require.NoError(t, err)
		assert.Len(t, recs, 3)

		// Book B is gone from both sides, only A still needs the replica.
		n, err := d.s.Reconcile(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		recs, err = d.fails.GetFails(ctx, farFuture, 10)
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, id, recs[0].BookId)

		d.replica.down.Store(false)

		n, err = d.s.Reconcile(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		b, err := d.s.GetById(ctx, types.BackendMongo, id)
		require.NoError(t, err)
		assert.Equal(t, "A", b.Title)

		total, err := d.s.GetTotal(ctx, types.BackendMongo)
		require.NoError(t, err)
		assert.Equal(t, 1, total)

		recs, err = d.fails.GetFails(ctx, farFuture, 10)
		require.NoError(t, err)
		assert.Empty(t, recs)
	})

	t.Run("PriceDivergenceReconciled", func(t *testing.T) {
		t.Parallel()
		d := newDual(t)

		id, err := d.s.CreateBook(ctx, book("A", 2000, 5))
		require.NoError(t, err)

		d.replica.down.Store(true)
		_, err = d.s.UpdatePrice(ctx, id, 9)
		require.NoError(t, err)
		d.replica.down.Store(false)

		b, err := d.s.GetById(ctx, types.BackendMongo, id)
		require.NoError(t, err)
		assert.Equal(t, 5, b.Price)

		n, err := d.s.Reconcile(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		b, err = d.s.GetById(ctx, types.BackendMongo, id)
		require.NoError(t, err)
		assert.Equal(t, 9, b.Price)
	})
}

// pausingRepo blocks the first GetById after arm until release is closed.
type pausingRepo struct {
	*books.MemoryRepository
	armed   atomic.Bool
	paused  chan struct{}
	release chan struct{}
}

func (p *pausingRepo) arm() {
	p.paused = make(chan struct{})
	p.release = make(chan struct{})
	p.armed.Store(true)
}

func (p *pausingRepo) GetById(ctx context.Context, id int) (*types.Book, error) {
	if p.armed.CompareAndSwap(true, false) {
		close(p.paused)
		<-p.release
	}
	return p.MemoryRepository.GetById(ctx, id)
}

// brokenFails refuses to store anything.
type brokenFails struct{}

func (brokenFails) Save(context.Context, *fails.Record) error {
	return errors.New("failure log unavailable")
}

func (brokenFails) GetFails(context.Context, time.Time, uint) ([]*fails.Record, error) {
	return nil, nil
}

func (brokenFails) DeleteById(context.Context, uint64) error {
	return nil
}

func TestReconcileRacesWrites(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("DeleteDuringReconcile", func(t *testing.T) {
		t.Parallel()

		primary := &pausingRepo{MemoryRepository: books.NewMemoryRepository()}
		replica := &flakyRepo{MemoryRepository: books.NewMemoryRepository()}
		log := fails.NewMemoryRepository()

		s, err := New(ctx, Config{
			Primary:    Store{Backend: types.BackendPostgres, Repo: primary},
			Replicas:   []Store{{Backend: types.BackendMongo, Repo: replica}},
			Fails:      log,
			Logger:     discardLogger(),
			NewBackOff: func() backoff.BackOff { return &backoff.ZeroBackOff{} },
		})
		require.NoError(t, err)

		replica.down.Store(true)
		id, err := s.CreateBook(ctx, book("A", 2000, 5))
		require.NoError(t, err)
		replica.down.Store(false)

		primary.arm()

		reconciled := make(chan error, 1)
		go func() {
			_, err := s.Reconcile(ctx)
			reconciled <- err
		}()
		<-primary.paused

		deleted := make(chan error, 1)
		go func() {
			_, err := s.DeleteById(ctx, id)
			deleted <- err
		}()

		select {
		case <-deleted:
			t.Fatal("delete finished while the book was being reconciled")
		case <-time.After(50 * time.Millisecond):
		}

		close(primary.release)
		require.NoError(t, <-reconciled)
		require.NoError(t, <-deleted)

		for _, b := range []types.Backend{types.BackendPostgres, types.BackendMongo} {
			total, err := s.GetTotal(ctx, b)
			require.NoError(t, err)
			assert.Zero(t, total, "%s", b)
		}

		recs, err := log.GetFails(ctx, farFuture, 10)
		require.NoError(t, err)
		assert.Empty(t, recs)
	})

	t.Run("FailureLogDown", func(t *testing.T) {
		t.Parallel()

		replica := &flakyRepo{MemoryRepository: books.NewMemoryRepository()}
		s, err := New(ctx, Config{
			Primary:    Store{Backend: types.BackendMongo, Repo: books.NewMemoryRepository()},
			Replicas:   []Store{{Backend: types.BackendPostgres, Repo: replica}},
			Fails:      brokenFails{},
			Logger:     discardLogger(),
			NewBackOff: func() backoff.BackOff { return &backoff.ZeroBackOff{} },
		})
		require.NoError(t, err)

		replica.down.Store(true)
		id, err := s.CreateBook(ctx, book("A", 2000, 5))
		require.NoError(t, err)
		replica.down.Store(false)

		n, err := s.Reconcile(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		b, err := s.GetById(ctx, types.BackendPostgres, id)
		require.NoError(t, err)
		assert.Equal(t, "A", b.Title)

		n, err = s.Reconcile(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}
