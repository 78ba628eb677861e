package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"bookcatalog/internal/service"
	"bookcatalog/internal/types"
)

type Consumer interface {
	ConsumeBooks(ctx context.Context, books []*types.Book) error
}

// LoggerConsumer only reports what would be imported.
type LoggerConsumer struct {
	Logger *slog.Logger
}

func (c *LoggerConsumer) ConsumeBooks(ctx context.Context, books []*types.Book) error {
	for _, b := range books {
		genres := "without genres"
		if len(b.Genres) > 0 {
			genres = "in " + strings.Join(b.GenreStrings(), ", ")
		}

		author := b.Author
		if author == "" {
			author = "unknown author"
		}

		c.Logger.InfoContext(ctx, fmt.Sprintf("Consumed book %s by %s (%d) %s", b.Title, author, b.Year, genres))
	}

	return nil
}

type BookCreator interface {
	CreateBook(ctx context.Context, book *types.Book) (int, error)
}

// StoringConsumer creates every consumed book through the catalog service. Books the
// catalog rejects, such as duplicates or books out of the accepted years, are skipped.
type StoringConsumer struct {
	Logger  *slog.Logger
	Books   BookCreator
	Created int
	Skipped int
}

func (s *StoringConsumer) ConsumeBooks(ctx context.Context, books []*types.Book) error {
	for _, b := range books {
		id, err := s.Books.CreateBook(ctx, b)
		if err != nil {
			var ve *service.ValidationError
			if errors.As(err, &ve) {
				s.Skipped++
				s.Logger.WarnContext(ctx, "Skipping book "+b.Title+": "+ve.Message)
				continue
			}

			return fmt.Errorf("creating book %s: %w", b.Title, err)
		}

		s.Created++
		s.Logger.DebugContext(ctx, fmt.Sprintf("Imported book %s as %d", b.Title, id))
	}

	return nil
}
