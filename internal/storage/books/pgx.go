package books

import (
	"context"
	"database/sql/driver"
	"errors"
	"log/slog"
	"strings"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"bookcatalog/internal/types"
)

// ErrDuplicate is returned by Create when a unique constraint rejects the book.
var ErrDuplicate = errors.New("duplicate book")

var schema = []string{
	`CREATE TABLE IF NOT EXISTS book (
		id     bigint PRIMARY KEY,
		title  text NOT NULL,
		author text NOT NULL,
		year   integer NOT NULL,
		price  integer NOT NULL,
		genres text[] NOT NULL DEFAULT '{}'
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS book_title_lower_idx ON book (lower(title))`,
}

func NewPGXRepository(pg *pgxpool.Pool, l *slog.Logger) *PGXRepository {
	return &PGXRepository{pg: pg, g: goqu.Dialect("postgres"), l: l}
}

type PGXRepository struct {
	pg *pgxpool.Pool
	g  goqu.DialectWrapper
	l  *slog.Logger
}

type pgxBook struct {
	Id     int      `db:"id"`
	Title  string   `db:"title"`
	Author string   `db:"author"`
	Year   int      `db:"year"`
	Price  int      `db:"price"`
	Genres []string `db:"genres"`
}

// pgGenres renders as a text[] literal, goqu would otherwise expand a slice into a value list.
type pgGenres []string

func (g pgGenres) Value() (driver.Value, error) {
	quoted := make([]string, 0, len(g))
	for _, s := range g {
		quoted = append(quoted, `"`+strings.ReplaceAll(strings.ReplaceAll(s, `\`, `\\`), `"`, `\"`)+`"`)
	}

	return "{" + strings.Join(quoted, ",") + "}", nil
}

func (b *pgxBook) intoCommon(l *slog.Logger, ctx context.Context) *types.Book {
	genres := make([]types.Genre, 0, len(b.Genres))
	for _, s := range b.Genres {
		g := types.Genre(s)
		if !g.Valid() {
			l.WarnContext(ctx, "Skipping unknown genre stored in DB ("+s+")", slog.Int("book", b.Id))
			continue
		}
		genres = append(genres, g)
	}

	return &types.Book{
		Id:     b.Id,
		Title:  b.Title,
		Author: b.Author,
		Year:   b.Year,
		Price:  b.Price,
		Genres: genres,
	}
}

// EnsureSchema creates the book table and its indexes when missing.
func (p *PGXRepository) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := p.pg.Exec(ctx, stmt); err != nil {
			return err
		}
	}

	return nil
}

func (p *PGXRepository) Create(ctx context.Context, book *types.Book) (*types.Book, error) {
	sql, params, err := p.g.Insert("book").
		Rows(goqu.Record{
			"id":     book.Id,
			"title":  book.Title,
			"author": book.Author,
			"year":   book.Year,
			"price":  book.Price,
			"genres": pgGenres(book.GenreStrings()),
		}).
		ToSQL()
	if err != nil {
		return nil, err
	}

	_, err = p.pg.Exec(ctx, sql, params...)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return nil, ErrDuplicate
		}
		return nil, err
	}

	ret := *book
	return &ret, nil
}

func (p *PGXRepository) GetById(ctx context.Context, id int) (*types.Book, error) {
	sql, params, err := p.g.From("book").
		Where(goqu.C("id").Eq(id)).
		ToSQL()
	if err != nil {
		return nil, err
	}

	return p.getOne(ctx, sql, params)
}

func (p *PGXRepository) GetByTitle(ctx context.Context, title string) (*types.Book, error) {
	sql, params, err := p.g.From("book").
		Where(goqu.L("lower(title)").Eq(strings.ToLower(title))).
		ToSQL()
	if err != nil {
		return nil, err
	}

	return p.getOne(ctx, sql, params)
}

func (p *PGXRepository) getOne(ctx context.Context, sql string, params []any) (*types.Book, error) {
	var row pgxBook

	err := pgxscan.Get(ctx, p.pg, &row, sql, params...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = nil
		}
		return nil, err
	}

	return row.intoCommon(p.l, ctx), nil
}

func (p *PGXRepository) Count(ctx context.Context) (int, error) {
	sql, params, err := p.g.From("book").
		Select(goqu.COUNT(goqu.Star())).
		ToSQL()
	if err != nil {
		return 0, err
	}

	var n int
	err = pgxscan.Get(ctx, p.pg, &n, sql, params...)
	return n, err
}

func (p *PGXRepository) LastId(ctx context.Context) (int, error) {
	sql, params, err := p.g.From("book").
		Select(goqu.COALESCE(goqu.MAX("id"), 0)).
		ToSQL()
	if err != nil {
		return 0, err
	}

	var id int
	err = pgxscan.Get(ctx, p.pg, &id, sql, params...)
	return id, err
}

func (p *PGXRepository) DeleteById(ctx context.Context, id int) (bool, error) {
	sql, params, err := p.g.Delete("book").
		Where(goqu.C("id").Eq(id)).
		ToSQL()
	if err != nil {
		return false, err
	}

	tag, err := p.pg.Exec(ctx, sql, params...)
	if err != nil {
		return false, err
	}

	return tag.RowsAffected() > 0, nil
}

func (p *PGXRepository) Search(ctx context.Context, f *types.Filter) ([]*types.Book, error) {
	sql, params, err := searchQuery(p.g, f).ToSQL()
	if err != nil {
		return nil, err
	}

	var rows []pgxBook

	err = pgxscan.Select(ctx, p.pg, &rows, sql, params...)
	if err != nil {
		return nil, err
	}

	ret := make([]*types.Book, 0, len(rows))
	for _, row := range rows {
		ret = append(ret, row.intoCommon(p.l, ctx))
	}

	return ret, nil
}

func (p *PGXRepository) UpdatePrice(ctx context.Context, id int, price int) (int, bool, error) {
	tx, err := p.pg.Begin(ctx)
	if err != nil {
		return 0, false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	sql, params, err := p.g.From("book").
		Select("price").
		Where(goqu.C("id").Eq(id)).
		ForUpdate(exp.Wait).
		ToSQL()
	if err != nil {
		return 0, false, err
	}

	var prev int
	err = pgxscan.Get(ctx, tx, &prev, sql, params...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}

	sql, params, err = p.g.Update("book").
		Set(goqu.Record{"price": price}).
		Where(goqu.C("id").Eq(id)).
		ToSQL()
	if err != nil {
		return 0, false, err
	}

	if _, err = tx.Exec(ctx, sql, params...); err != nil {
		return 0, false, err
	}

	if err = tx.Commit(ctx); err != nil {
		return 0, false, err
	}

	return prev, true, nil
}

func searchQuery(g goqu.DialectWrapper, f *types.Filter) *goqu.SelectDataset {
	qb := g.From("book")

	if f == nil {
		return qb
	}

	if f.Author != nil {
		author := strings.ReplaceAll(strings.ReplaceAll(strings.ReplaceAll(*f.Author,
			"\\", "\\\\"),
			"_", "\\_"),
			"%", "\\%")
		qb = qb.Where(goqu.C("author").ILike("%" + author + "%"))
	}

	if f.PriceBiggerThan != nil {
		qb = qb.Where(goqu.C("price").Gt(*f.PriceBiggerThan))
	}

	if f.PriceLessThan != nil {
		qb = qb.Where(goqu.C("price").Lt(*f.PriceLessThan))
	}

	if f.YearBiggerThan != nil {
		qb = qb.Where(goqu.C("year").Gt(*f.YearBiggerThan))
	}

	if f.YearLessThan != nil {
		qb = qb.Where(goqu.C("year").Lt(*f.YearLessThan))
	}

	if len(f.Genres) > 0 {
		anyOf := make([]exp.Expression, 0, len(f.Genres))
		for _, genre := range f.Genres {
			anyOf = append(anyOf, goqu.L("? = ANY(genres)", string(genre)))
		}
		qb = qb.Where(goqu.Or(anyOf...))
	}

	return qb
}
