package fails

import (
	"context"
	"log/slog"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5/pgxpool"

	"bookcatalog/internal/types"
)

const schema = `CREATE TABLE IF NOT EXISTS replica_fail (
	id         bigserial PRIMARY KEY,
	created_at timestamptz NOT NULL,
	backend    text NOT NULL,
	op         text NOT NULL,
	book_id    bigint NOT NULL,
	error      text NOT NULL
)`

func NewPGXRepository(pg *pgxpool.Pool, l *slog.Logger) *PGXRepository {
	return &PGXRepository{pg: pg, g: goqu.Dialect("postgres"), l: l}
}

type PGXRepository struct {
	pg *pgxpool.Pool
	g  goqu.DialectWrapper
	l  *slog.Logger
}

type pgxRecord struct {
	Id        uint64    `db:"id"`
	CreatedAt time.Time `db:"created_at"`
	Backend   string    `db:"backend"`
	Op        string    `db:"op"`
	BookId    int       `db:"book_id"`
	Error     string    `db:"error"`
}

func (p *PGXRepository) EnsureSchema(ctx context.Context) error {
	_, err := p.pg.Exec(ctx, schema)
	return err
}

func (p *PGXRepository) Save(ctx context.Context, rec *Record) error {
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	sql, params, err := p.g.Insert("replica_fail").
		Rows(goqu.Record{
			"created_at": createdAt,
			"backend":    string(rec.Backend),
			"op":         string(rec.Op),
			"book_id":    rec.BookId,
			"error":      rec.Error,
		}).
		ToSQL()
	if err != nil {
		return err
	}

	_, err = p.pg.Exec(ctx, sql, params...)
	return err
}

func (p *PGXRepository) GetFails(ctx context.Context, notAfter time.Time, limit uint) ([]*Record, error) {
	sql, params, err := p.g.From("replica_fail").
		Where(goqu.C("created_at").Lte(notAfter)).
		Order(goqu.C("id").Asc()).
		Limit(limit).
		ToSQL()
	if err != nil {
		return nil, err
	}

	var rows []pgxRecord

	err = pgxscan.Select(ctx, p.pg, &rows, sql, params...)
	if err != nil {
		return nil, err
	}

	ret := make([]*Record, 0, len(rows))
	for _, row := range rows {
		backend, err := types.ParseBackend(row.Backend)
		if err != nil {
			p.l.ErrorContext(ctx, "Failed to parse backend stored in DB ("+row.Backend+"): "+err.Error())
			continue
		}

		ret = append(ret, &Record{
			Id:        row.Id,
			CreatedAt: row.CreatedAt,
			Backend:   backend,
			Op:        Op(row.Op),
			BookId:    row.BookId,
			Error:     row.Error,
		})
	}

	return ret, nil
}

func (p *PGXRepository) DeleteById(ctx context.Context, id uint64) error {
	sql, params, err := p.g.Delete("replica_fail").
		Where(goqu.C("id").Eq(id)).
		ToSQL()
	if err != nil {
		return err
	}

	_, err = p.pg.Exec(ctx, sql, params...)
	return err
}
