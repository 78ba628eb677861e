package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/AlekSi/pointer"

	"bookcatalog/internal/logger"
	"bookcatalog/internal/response"
	"bookcatalog/internal/service"
	"bookcatalog/internal/types"
)

var errBadRequest = errors.New("bad request")

// respondError maps domain errors onto statuses, anything unknown is a 500.
func respondError(rr *response.Responder, w http.ResponseWriter, r *http.Request, err error) {
	var ve *service.ValidationError

	switch {
	case errors.Is(err, service.ErrNotFound), errors.Is(err, logger.ErrUnknownLogger):
		rr.RespondAndLogCustom(w, r.Context(), err, slog.LevelInfo, http.StatusNotFound)
	case errors.Is(err, types.ErrInvalidGenre), errors.Is(err, types.ErrInvalidBackend),
		errors.Is(err, logger.ErrInvalidLevel), errors.Is(err, errBadRequest):
		rr.RespondAndLogCustom(w, r.Context(), err, slog.LevelInfo, http.StatusBadRequest)
	case errors.As(err, &ve):
		rr.RespondAndLogCustom(w, r.Context(), err, slog.LevelInfo, http.StatusConflict)
	default:
		rr.RespondAndLogError(w, r.Context(), err)
	}
}

// getBackend reads persistenceMethod, an empty selector means the primary backend.
func getBackend(q url.Values) (types.Backend, error) {
	raw := strings.TrimSpace(q.Get("persistenceMethod"))
	if raw == "" {
		return "", nil
	}

	return types.ParseBackend(raw)
}

func getFilter(q url.Values) (*types.Filter, error) {
	f := &types.Filter{}

	if author, ok := getOptional("author", q); ok {
		f.Author = pointer.ToString(author)
	}

	for key, dst := range map[string]**int{
		"price-bigger-than": &f.PriceBiggerThan,
		"price-less-than":   &f.PriceLessThan,
		"year-bigger-than":  &f.YearBiggerThan,
		"year-less-than":    &f.YearLessThan,
	} {
		raw, ok := getOptional(key, q)
		if !ok {
			continue
		}

		v, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: query parameter %s must be an integer", errBadRequest, key)
		}
		*dst = pointer.ToInt(v)
	}

	if raw, ok := getOptional("genres", q); ok {
		genres, err := types.ParseGenreList(raw)
		if err != nil {
			return nil, err
		}
		f.Genres = genres
	}

	return f, nil
}

func getOptional(key string, q url.Values) (string, bool) {
	val := strings.TrimSpace(q.Get(key))
	return val, val != ""
}

func getRequiredInt(key string, q url.Values) (int, error) {
	raw, ok := getOptional(key, q)
	if !ok {
		return 0, fmt.Errorf("%w: query parameter %s is required", errBadRequest, key)
	}

	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: query parameter %s must be an integer", errBadRequest, key)
	}

	return v, nil
}
