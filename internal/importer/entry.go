package importer

import (
	"log/slog"
	"strconv"
	"strings"

	"github.com/opds-community/libopds2-go/opds1"

	"bookcatalog/internal/types"
)

// genreAliases maps normalized OPDS category terms onto the catalog genres.
var genreAliases = map[string]types.Genre{
	"SCIENCE_FICTION":   types.GenreSciFi,
	"SCIFI":             types.GenreSciFi,
	"SF":                types.GenreSciFi,
	"SF_SOCIAL":         types.GenreSciFi,
	"FICTION":           types.GenreNovel,
	"PROSE":             types.GenreNovel,
	"NOVELS":            types.GenreNovel,
	"HISTORICAL":        types.GenreHistory,
	"SCI_HISTORY":       types.GenreHistory,
	"COMICS":            types.GenreManga,
	"GRAPHIC_NOVELS":    types.GenreManga,
	"LOVE":              types.GenreRomance,
	"LOVE_CONTEMPORARY": types.GenreRomance,
	"ROMANCE_NOVELS":    types.GenreRomance,
	"COMPUTERS":         types.GenreProfessional,
	"BUSINESS":          types.GenreProfessional,
	"TECHNOLOGY":        types.GenreProfessional,
	"COMP_PROGRAMMING":  types.GenreProfessional,
}

func normalizeTerm(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '/':
			return '_'
		}
		return r
	}, s)
}

func mapGenre(term string) (types.Genre, bool) {
	norm := normalizeTerm(term)
	if g := types.Genre(norm); g.Valid() {
		return g, true
	}

	g, ok := genreAliases[norm]
	return g, ok
}

// parseYear accepts a bare year or any date starting with one.
func parseYear(issued string) (int, bool) {
	issued = strings.TrimSpace(issued)
	if len(issued) < 4 {
		return 0, false
	}

	y, err := strconv.Atoi(issued[:4])
	if err != nil {
		return 0, false
	}

	return y, true
}

func entryToBook(entry *opds1.Entry, price int, l *slog.Logger) (*types.Book, bool) {
	l = l.With(slog.String("entry", entry.ID))

	title := strings.TrimSpace(entry.Title)
	if title == "" {
		l.Warn("Skipping entry without title")
		return nil, false
	}

	year, ok := parseYear(entry.Issued)
	if !ok {
		l.Warn("Skipping book " + title + " without a parsable issue year (" + entry.Issued + ")")
		return nil, false
	}

	var authors []string
	seenAuthors := make(map[string]struct{}, len(entry.Author))
	for _, a := range entry.Author {
		name := strings.TrimSpace(a.Name)
		if name == "" {
			continue
		}
		if _, ok := seenAuthors[strings.ToLower(name)]; ok {
			l.Warn("In the same book found duplicate of author " + name)
			continue
		}
		seenAuthors[strings.ToLower(name)] = struct{}{}
		authors = append(authors, name)
	}

	genres := make([]types.Genre, 0, len(entry.Category))
	seenGenres := make(map[types.Genre]struct{}, len(entry.Category))
	for _, cat := range entry.Category {
		g, ok := mapGenre(cat.Term)
		if !ok {
			l.Debug("Dropping unknown genre " + cat.Term)
			continue
		}
		if _, ok := seenGenres[g]; ok {
			continue
		}
		seenGenres[g] = struct{}{}
		genres = append(genres, g)
	}

	return &types.Book{
		Title:  title,
		Author: strings.Join(authors, ", "),
		Year:   year,
		Price:  price,
		Genres: genres,
	}, true
}
