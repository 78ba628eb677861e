// Package filter holds the one definition of which books a listing returns.
// Storage backends translate the same predicates into their query languages,
// the service re-checks every result with Matches.
package filter

import (
	"sort"
	"strings"

	"bookcatalog/internal/types"
)

// Matches reports whether b satisfies every predicate present in f.
// Author is a case-insensitive substring match, numeric bounds are strict
// and genres match when the book has at least one of the requested ones.
func Matches(b *types.Book, f *types.Filter) bool {
	if f == nil {
		return true
	}

	if f.Author != nil && !strings.Contains(strings.ToLower(b.Author), strings.ToLower(*f.Author)) {
		return false
	}

	if f.PriceBiggerThan != nil && !(b.Price > *f.PriceBiggerThan) {
		return false
	}

	if f.PriceLessThan != nil && !(b.Price < *f.PriceLessThan) {
		return false
	}

	if f.YearBiggerThan != nil && !(b.Year > *f.YearBiggerThan) {
		return false
	}

	if f.YearLessThan != nil && !(b.Year < *f.YearLessThan) {
		return false
	}

	if len(f.Genres) > 0 && !intersects(b.Genres, f.Genres) {
		return false
	}

	return true
}

func Apply(bks []*types.Book, f *types.Filter) []*types.Book {
	ret := make([]*types.Book, 0, len(bks))
	for _, b := range bks {
		if Matches(b, f) {
			ret = append(ret, b)
		}
	}

	return ret
}

// SortByTitle orders books by lower-cased title, keeping the input order of ties.
func SortByTitle(bks []*types.Book) {
	sort.SliceStable(bks, func(i, j int) bool {
		return strings.ToLower(bks[i].Title) < strings.ToLower(bks[j].Title)
	})
}

func intersects(have, want []types.Genre) bool {
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}

	return false
}
