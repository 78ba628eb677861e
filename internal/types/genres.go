package types

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidGenre = errors.New("invalid genre")

type Genre string

const (
	GenreSciFi        Genre = "SCI_FI"
	GenreNovel        Genre = "NOVEL"
	GenreHistory      Genre = "HISTORY"
	GenreManga        Genre = "MANGA"
	GenreRomance      Genre = "ROMANCE"
	GenreProfessional Genre = "PROFESSIONAL"
)

var AllGenres = []Genre{
	GenreSciFi, GenreNovel, GenreHistory, GenreManga, GenreRomance, GenreProfessional,
}

func (g Genre) Valid() bool {
	for _, known := range AllGenres {
		if g == known {
			return true
		}
	}

	return false
}

// ParseGenre accepts only exact enumeration tokens, "novel" is rejected.
func ParseGenre(s string) (Genre, error) {
	g := Genre(strings.TrimSpace(s))
	if !g.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidGenre, s)
	}

	return g, nil
}

func ParseGenres(vals ...string) ([]Genre, error) {
	ret := make([]Genre, 0, len(vals))
	seen := make(map[Genre]struct{}, len(vals))

	for _, val := range vals {
		g, err := ParseGenre(val)
		if err != nil {
			return nil, err
		}

		if _, ok := seen[g]; ok {
			continue
		}

		seen[g] = struct{}{}
		ret = append(ret, g)
	}

	return ret, nil
}

// ParseGenreList parses the comma separated form used in query strings.
func ParseGenreList(s string) ([]Genre, error) {
	return ParseGenres(strings.Split(s, ",")...)
}
