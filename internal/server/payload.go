package server

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"bookcatalog/internal/types"
)

var validate *validator.Validate

func init() {
	validate = validator.New()

	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
}

// bookPayload is the body of POST /book. Title uniqueness, year, price and genre checks stay
// in the service, which applies them in that order. The payload only has to be well formed.
type bookPayload struct {
	Title  string   `json:"title" validate:"max=1024"`
	Author string   `json:"author" validate:"max=1024"`
	Year   *int     `json:"year" validate:"required"`
	Price  *int     `json:"price" validate:"required"`
	Genres []string `json:"genres"`
}

func (p *bookPayload) intoBook() *types.Book {
	genres := make([]types.Genre, 0, len(p.Genres))
	for _, g := range p.Genres {
		genres = append(genres, types.Genre(g))
	}

	return &types.Book{
		Title:  p.Title,
		Author: p.Author,
		Year:   *p.Year,
		Price:  *p.Price,
		Genres: genres,
	}
}

func validatePayload(p *bookPayload) error {
	err := validate.Struct(p)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}

	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%w: %s is required", errBadRequest, fe.Field())
	case "max":
		return fmt.Errorf("%w: %s must be at most %s characters", errBadRequest, fe.Field(), fe.Param())
	default:
		return fmt.Errorf("%w: %s is invalid", errBadRequest, fe.Field())
	}
}
