package books

import (
	"context"
	"errors"
	"log/slog"
	"regexp"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"bookcatalog/internal/types"
)

const mongoCollection = "books"

// titleCollation compares strings ignoring case, it backs both the unique title index and GetByTitle.
var titleCollation = &options.Collation{Locale: "en", Strength: 2}

func NewMongoRepository(db *mongo.Database, l *slog.Logger) *MongoRepository {
	return &MongoRepository{c: db.Collection(mongoCollection), l: l}
}

type MongoRepository struct {
	c *mongo.Collection
	l *slog.Logger
}

type mongoBook struct {
	Id     int      `bson:"_id"`
	Title  string   `bson:"title"`
	Author string   `bson:"author"`
	Year   int      `bson:"year"`
	Price  int      `bson:"price"`
	Genres []string `bson:"genres"`
}

func (b *mongoBook) intoCommon(l *slog.Logger, ctx context.Context) *types.Book {
	genres := make([]types.Genre, 0, len(b.Genres))
	for _, s := range b.Genres {
		g := types.Genre(s)
		if !g.Valid() {
			l.WarnContext(ctx, "Skipping unknown genre stored in collection ("+s+")", slog.Int("book", b.Id))
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

// EnsureIndexes creates the case-insensitive unique index on title.
func (m *MongoRepository) EnsureIndexes(ctx context.Context) error {
	_, err := m.c.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "title", Value: 1}},
		Options: options.Index().
			SetName("title_ci_unique").
			SetUnique(true).
			SetCollation(titleCollation),
	})
	return err
}

func (m *MongoRepository) Create(ctx context.Context, book *types.Book) (*types.Book, error) {
	_, err := m.c.InsertOne(ctx, mongoBook{
		Id:     book.Id,
		Title:  book.Title,
		Author: book.Author,
		Year:   book.Year,
		Price:  book.Price,
		Genres: book.GenreStrings(),
	})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}

	ret := *book
	return &ret, nil
}

func (m *MongoRepository) GetById(ctx context.Context, id int) (*types.Book, error) {
	return m.findOne(ctx, bson.D{{Key: "_id", Value: id}}, options.FindOne())
}

func (m *MongoRepository) GetByTitle(ctx context.Context, title string) (*types.Book, error) {
	return m.findOne(ctx, bson.D{{Key: "title", Value: title}}, options.FindOne().SetCollation(titleCollation))
}

func (m *MongoRepository) findOne(ctx context.Context, q bson.D, opts *options.FindOneOptions) (*types.Book, error) {
	var doc mongoBook

	err := m.c.FindOne(ctx, q, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			err = nil
		}
		return nil, err
	}

	return doc.intoCommon(m.l, ctx), nil
}

func (m *MongoRepository) Count(ctx context.Context) (int, error) {
	n, err := m.c.CountDocuments(ctx, bson.D{})
	return int(n), err
}

func (m *MongoRepository) LastId(ctx context.Context) (int, error) {
	b, err := m.findOne(ctx, bson.D{}, options.FindOne().SetSort(bson.D{{Key: "_id", Value: -1}}))
	if err != nil || b == nil {
		return 0, err
	}

	return b.Id, nil
}

func (m *MongoRepository) DeleteById(ctx context.Context, id int) (bool, error) {
	res, err := m.c.DeleteOne(ctx, bson.D{{Key: "_id", Value: id}})
	if err != nil {
		return false, err
	}

	return res.DeletedCount > 0, nil
}

func (m *MongoRepository) Search(ctx context.Context, f *types.Filter) ([]*types.Book, error) {
	cur, err := m.c.Find(ctx, searchFilter(f))
	if err != nil {
		return nil, err
	}

	var docs []mongoBook
	if err = cur.All(ctx, &docs); err != nil {
		return nil, err
	}

	ret := make([]*types.Book, 0, len(docs))
	for _, doc := range docs {
		ret = append(ret, doc.intoCommon(m.l, ctx))
	}

	return ret, nil
}

func (m *MongoRepository) UpdatePrice(ctx context.Context, id int, price int) (int, bool, error) {
	var prev mongoBook

	err := m.c.FindOneAndUpdate(ctx,
		bson.D{{Key: "_id", Value: id}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "price", Value: price}}}},
		options.FindOneAndUpdate().SetReturnDocument(options.Before),
	).Decode(&prev)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, false, nil
		}
		return 0, false, err
	}

	return prev.Price, true, nil
}

func searchFilter(f *types.Filter) bson.D {
	q := bson.D{}

	if f == nil {
		return q
	}

	if f.Author != nil {
		q = append(q, bson.E{Key: "author", Value: primitive.Regex{Pattern: regexp.QuoteMeta(*f.Author), Options: "i"}})
	}

	if price := bounds(f.PriceBiggerThan, f.PriceLessThan); len(price) > 0 {
		q = append(q, bson.E{Key: "price", Value: price})
	}

	if year := bounds(f.YearBiggerThan, f.YearLessThan); len(year) > 0 {
		q = append(q, bson.E{Key: "year", Value: year})
	}

	if len(f.Genres) > 0 {
		genres := make(bson.A, 0, len(f.Genres))
		for _, g := range f.Genres {
			genres = append(genres, string(g))
		}
		q = append(q, bson.E{Key: "genres", Value: bson.D{{Key: "$in", Value: genres}}})
	}

	return q
}

func bounds(gt, lt *int) bson.D {
	d := bson.D{}
	if gt != nil {
		d = append(d, bson.E{Key: "$gt", Value: *gt})
	}
	if lt != nil {
		d = append(d, bson.E{Key: "$lt", Value: *lt})
	}

	return d
}
