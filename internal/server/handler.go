package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bookcatalog/internal/logger"
	"bookcatalog/internal/response"
	"bookcatalog/internal/service"
	"bookcatalog/internal/types"
)

func Handler(bs *service.Service, lr *logger.Registry, rr *response.Responder) http.Handler {
	r := chi.NewRouter()

	r.Get("/books/health", func(w http.ResponseWriter, r *http.Request) {
		rr.SendText(w, r.Context(), "OK")
	})

	r.Post("/book", func(w http.ResponseWriter, r *http.Request) {
		var p bookPayload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			respondError(rr, w, r, fmt.Errorf("%w: malformed book payload: %s", errBadRequest, err.Error()))
			return
		}

		if err := validatePayload(&p); err != nil {
			respondError(rr, w, r, err)
			return
		}

		id, err := bs.CreateBook(r.Context(), p.intoBook())
		if err != nil {
			respondError(rr, w, r, err)
			return
		}

		rr.SendResult(w, r.Context(), id)
	})

	r.Get("/books/total", func(w http.ResponseWriter, r *http.Request) {
		sel, err := getBackend(r.URL.Query())
		if err != nil {
			respondError(rr, w, r, err)
			return
		}

		total, err := bs.GetTotal(r.Context(), sel)
		if err != nil {
			respondError(rr, w, r, err)
			return
		}

		rr.SendResult(w, r.Context(), total)
	})

	r.Get("/books", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		sel, err := getBackend(q)
		if err != nil {
			respondError(rr, w, r, err)
			return
		}

		f, err := getFilter(q)
		if err != nil {
			respondError(rr, w, r, err)
			return
		}

		rows, err := bs.ListFiltered(r.Context(), sel, f)
		if err != nil {
			respondError(rr, w, r, err)
			return
		}

		if rows == nil {
			rows = make([]*types.Book, 0)
		}

		rr.SendResult(w, r.Context(), rows)
	})

	r.Get("/book", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		sel, err := getBackend(q)
		if err != nil {
			respondError(rr, w, r, err)
			return
		}

		var b *types.Book
		if title := q.Get("title"); title != "" && q.Get("id") == "" {
			b, err = bs.GetByTitle(r.Context(), sel, title)
		} else {
			var id int
			if id, err = getRequiredInt("id", q); err == nil {
				b, err = bs.GetById(r.Context(), sel, id)
			}
		}
		if err != nil {
			respondError(rr, w, r, err)
			return
		}

		rr.SendResult(w, r.Context(), b)
	})

	r.Put("/book", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		id, err := getRequiredInt("id", q)
		if err != nil {
			respondError(rr, w, r, err)
			return
		}

		price, err := getRequiredInt("price", q)
		if err != nil {
			respondError(rr, w, r, err)
			return
		}

		prev, err := bs.UpdatePrice(r.Context(), id, price)
		if err != nil {
			respondError(rr, w, r, err)
			return
		}

		rr.SendResult(w, r.Context(), prev)
	})

	r.Delete("/book", func(w http.ResponseWriter, r *http.Request) {
		id, err := getRequiredInt("id", r.URL.Query())
		if err != nil {
			respondError(rr, w, r, err)
			return
		}

		total, err := bs.DeleteById(r.Context(), id)
		if err != nil {
			respondError(rr, w, r, err)
			return
		}

		rr.SendResult(w, r.Context(), total)
	})

	r.Get("/logs/level", func(w http.ResponseWriter, r *http.Request) {
		lvl, err := lr.Level(r.URL.Query().Get("logger-name"))
		if err != nil {
			respondError(rr, w, r, err)
			return
		}

		rr.SendText(w, r.Context(), lvl)
	})

	r.Put("/logs/level", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		lvl, err := lr.SetLevel(q.Get("logger-name"), q.Get("logger-level"))
		if err != nil {
			respondError(rr, w, r, err)
			return
		}

		rr.SendText(w, r.Context(), lvl)
	})

	return r
}

// Metrics exposes the collectors of g in the Prometheus text format.
func Metrics(r chi.Router, g prometheus.Gatherer) {
	r.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
}
