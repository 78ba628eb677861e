package types

type Book struct {
	Id     int     `json:"id"`
	Title  string  `json:"title"`
	Author string  `json:"author"`
	Year   int     `json:"year"`
	Price  int     `json:"price"`
	Genres []Genre `json:"genres"`
}

// Filter narrows a listing. Nil fields impose no constraint.
type Filter struct {
	Author          *string
	PriceBiggerThan *int
	PriceLessThan   *int
	YearBiggerThan  *int
	YearLessThan    *int
	Genres          []Genre
}

func (f *Filter) IsEmpty() bool {
	return f.Author == nil &&
		f.PriceBiggerThan == nil && f.PriceLessThan == nil &&
		f.YearBiggerThan == nil && f.YearLessThan == nil &&
		len(f.Genres) == 0
}

// GenreStrings is the form genres are persisted in by every backend.
func (b *Book) GenreStrings() []string {
	ret := make([]string, 0, len(b.Genres))
	for _, g := range b.Genres {
		ret = append(ret, string(g))
	}

	return ret
}
