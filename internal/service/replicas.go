package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"bookcatalog/internal/storage/books"
	"bookcatalog/internal/storage/fails"
	"bookcatalog/internal/types"
)

const reconcileBatch = 100

// fanOut repeats a write already applied to the primary on every replica.
// A replica that still fails after the retries is logged, counted and recorded
// for Reconcile, the caller's request succeeds regardless.
func (s *Service) fanOut(ctx context.Context, op fails.Op, bookId int,
	write func(ctx context.Context, repo books.Repository) error) {

	// The primary already changed, a client hanging up must not stop the replicas.
	ctx = context.WithoutCancel(ctx)

	for _, r := range s.replicas {
		repo := r.Repo
		b := backoff.WithContext(backoff.WithMaxRetries(s.newBackOff(), s.retries), ctx)

		err := backoff.Retry(func() error { return write(ctx, repo) }, b)
		if err == nil {
			continue
		}

		s.l.ErrorContext(ctx, "Replica "+string(r.Backend)+" diverged from "+string(s.primary.Backend)+": "+err.Error(),
			slog.String("op", string(op)), slog.Int("book", bookId))
		s.metrics.ReplicaWriteFailed(string(r.Backend), string(op))

		rec := &fails.Record{
			CreatedAt: time.Now(),
			Backend:   r.Backend,
			Op:        op,
			BookId:    bookId,
			Error:     err.Error(),
		}

		if s.fails != nil {
			ferr := s.fails.Save(ctx, rec)
			if ferr == nil {
				continue
			}
			s.l.ErrorContext(ctx, "Failed to record replica failure, keeping it in memory: "+ferr.Error(),
				slog.String("op", string(op)), slog.Int("book", bookId))
		}

		_ = s.fallback.Save(ctx, rec)
	}
}

// Reconcile copies the primary's state of every recorded book onto the replica
// that missed the write. It returns how many records were resolved.
func (s *Service) Reconcile(ctx context.Context) (int, error) {
	if len(s.replicas) == 0 {
		return 0, nil
	}

	resolved := 0
	for _, log := range []fails.Repository{s.fallback, s.fails} {
		if log == nil {
			continue
		}

		n, err := s.reconcileFrom(ctx, log)
		resolved += n
		if err != nil {
			return resolved, err
		}
	}

	return resolved, nil
}

func (s *Service) reconcileFrom(ctx context.Context, log fails.Repository) (int, error) {
	recs, err := log.GetFails(ctx, time.Now(), reconcileBatch)
	if err != nil {
		return 0, fmt.Errorf("loading replica failures: %w", err)
	}

	resolved := 0
	for _, rec := range recs {
		l := s.l.With(slog.String("backend", string(rec.Backend)), slog.Int("book", rec.BookId))

		replica, ok := s.replica(rec.Backend)
		if ok {
			if err := s.syncBook(ctx, replica, rec.BookId); err != nil {
				l.WarnContext(ctx, "Reconciliation attempt failed: "+err.Error())
				continue
			}
			s.metrics.ReplicaReconciled(string(rec.Backend), string(rec.Op))
		} else {
			l.WarnContext(ctx, "Dropping replica failure for a backend that is not configured anymore")
		}

		if err := log.DeleteById(ctx, rec.Id); err != nil {
			return resolved, fmt.Errorf("deleting replica failure %d: %w", rec.Id, err)
		}

		resolved++
		l.InfoContext(ctx, "Replica reconciled", slog.String("op", string(rec.Op)))
	}

	return resolved, nil
}

// RunReconciler calls Reconcile every interval until ctx is done.
func (s *Service) RunReconciler(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := s.Reconcile(ctx); err != nil {
				s.l.ErrorContext(ctx, "Reconciliation failed: "+err.Error())
			}
		}
	}
}

func (s *Service) syncBook(ctx context.Context, replica Store, id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	want, err := s.primary.Repo.GetById(ctx, id)
	if err != nil {
		return fmt.Errorf("reading primary: %w", err)
	}

	have, err := replica.Repo.GetById(ctx, id)
	if err != nil {
		return fmt.Errorf("reading replica: %w", err)
	}

	switch {
	case want == nil && have == nil:
		return nil
	case want == nil:
		_, err = replica.Repo.DeleteById(ctx, id)
	case have == nil:
		_, err = replica.Repo.Create(ctx, want)
	case have.Price != want.Price:
		_, _, err = replica.Repo.UpdatePrice(ctx, id, want.Price)
	}

	return err
}

func (s *Service) replica(b types.Backend) (Store, bool) {
	for _, r := range s.replicas {
		if r.Backend == b {
			return r, true
		}
	}

	return Store{}, false
}
