// Package storage opens the configured databases and assembles the backends of the book service.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"bookcatalog/internal/logger"
	"bookcatalog/internal/service"
	"bookcatalog/internal/storage/books"
	"bookcatalog/internal/storage/fails"
	"bookcatalog/internal/types"
)

const connectRetries = 5

type Config struct {
	PostgresURL   string
	MongoURL      string
	MongoDatabase string

	// Primary picks the system of record among the configured databases,
	// empty means PostgreSQL when configured and MongoDB otherwise.
	Primary types.Backend

	Logger *slog.Logger
}

type Storage struct {
	Primary  service.Store
	Replicas []service.Store
	Fails    fails.Repository

	pg    *pgxpool.Pool
	mongo *mongo.Client
}

// Open connects to every configured database and prepares its schema. Without any database
// the catalog lives in memory.
func Open(ctx context.Context, cfg Config) (*Storage, error) {
	l := cfg.Logger
	if l == nil {
		l = slog.Default()
	}

	s := &Storage{}
	var stores []service.Store

	if cfg.PostgresURL != "" {
		repo, err := s.openPostgres(ctx, cfg.PostgresURL, l)
		if err != nil {
			s.Close(ctx)
			return nil, err
		}
		stores = append(stores, service.Store{Backend: types.BackendPostgres, Repo: repo})
	}

	if cfg.MongoURL != "" {
		repo, err := s.openMongo(ctx, cfg.MongoURL, cfg.MongoDatabase, l)
		if err != nil {
			s.Close(ctx)
			return nil, err
		}
		stores = append(stores, service.Store{Backend: types.BackendMongo, Repo: repo})
	}

	if len(stores) == 0 {
		l.InfoContext(ctx, "No database configured, books are kept in memory")
		stores = append(stores, service.Store{Backend: types.BackendMemory, Repo: books.NewMemoryRepository()})
	}

	if s.Fails == nil {
		s.Fails = fails.NewMemoryRepository()
	}

	primary := cfg.Primary
	if primary == "" {
		primary = stores[0].Backend
	}

	for _, st := range stores {
		if st.Backend == primary {
			s.Primary = st
		} else {
			s.Replicas = append(s.Replicas, st)
		}
	}

	if s.Primary.Repo == nil {
		s.Close(ctx)
		return nil, fmt.Errorf("%w: primary %s is not configured", types.ErrInvalidBackend, primary)
	}

	return s, nil
}

func (s *Storage) openPostgres(ctx context.Context, url string, l *slog.Logger) (*books.PGXRepository, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	cfg.ConnConfig.Tracer = logger.NewPGXTracer(l)

	s.pg, err = pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating postgres pool: %w", err)
	}

	err = retry(ctx, l, "postgres", func() error { return s.pg.Ping(ctx) })
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	repo := books.NewPGXRepository(s.pg, l)
	if err = repo.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("creating book schema: %w", err)
	}

	fr := fails.NewPGXRepository(s.pg, l)
	if err = fr.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("creating replica failure schema: %w", err)
	}
	s.Fails = fr

	return repo, nil
}

func (s *Storage) openMongo(ctx context.Context, url, database string, l *slog.Logger) (*books.MongoRepository, error) {
	if database == "" {
		return nil, errors.New("mongo database name is required")
	}

	var err error
	s.mongo, err = mongo.Connect(ctx, options.Client().
		ApplyURI(url).
		SetMonitor(logger.NewMongoMonitor(l)))
	if err != nil {
		return nil, fmt.Errorf("creating mongo client: %w", err)
	}

	err = retry(ctx, l, "mongo", func() error { return s.mongo.Ping(ctx, readpref.Primary()) })
	if err != nil {
		return nil, fmt.Errorf("connecting to mongo: %w", err)
	}

	repo := books.NewMongoRepository(s.mongo.Database(database), l)
	if err = repo.EnsureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("creating book indexes: %w", err)
	}

	return repo, nil
}

// Close releases the pools and clients opened by Open.
func (s *Storage) Close(ctx context.Context) {
	if s.mongo != nil {
		if err := s.mongo.Disconnect(ctx); err != nil {
			slog.WarnContext(ctx, "Failed to disconnect from mongo: "+err.Error())
		}
	}

	if s.pg != nil {
		s.pg.Close()
	}
}

func retry(ctx context.Context, l *slog.Logger, name string, op func() error) error {
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), connectRetries), ctx)

	return backoff.RetryNotify(op, b, func(err error, wait time.Duration) {
		l.WarnContext(ctx, fmt.Sprintf("%s is not reachable, retrying in %s: %s", name, wait, err))
	})
}
