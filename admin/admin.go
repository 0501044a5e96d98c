// Package admin exposes the cache administration operations over HTTP and on an interactive console.
package admin

import (
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	proxycache "github.com/always-cache/proxy-cache"
	"github.com/always-cache/proxy-cache/cache"
)

// Admin is the set of operations offered to an operator.
// *proxycache.Server implements it.
type Admin interface {
	ListEntries() []cache.Listing
	RemoveEntry(key string) bool
	RequestShutdown() error
	Stats() proxycache.Stats
}

// Entry is the JSON form of a cache listing.
type Entry struct {
	Key              string `json:"key"`
	ExpiresIn        string `json:"expires_in"`
	ExpiresInSeconds int64  `json:"expires_in_seconds"`
}

func toEntries(listings []cache.Listing) []Entry {
	entries := make([]Entry, 0, len(listings))
	for _, l := range listings {
		entries = append(entries, Entry{
			Key:              l.Key,
			ExpiresIn:        l.Remaining.Truncate(time.Second).String(),
			ExpiresInSeconds: int64(l.Remaining / time.Second),
		})
	}
	return entries
}

// NewRouter returns the admin HTTP API:
//
//	GET    /entries     list live entries
//	DELETE /entries/*   remove the entry with the given key
//	GET    /stats       request counters
//	POST   /shutdown    stop accepting proxy connections
func NewRouter(a Admin, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(hlog.NewHandler(logger))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("Admin request")
	}))
	r.Use(chimw.Recoverer)

	r.Get("/entries", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, r, http.StatusOK, toEntries(a.ListEntries()))
	})

	// keys contain slashes, so the key is everything after /entries/
	r.Delete("/entries/*", func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "*")
		if unescaped, err := url.PathUnescape(key); err == nil {
			key = unescaped
		}
		if key == "" {
			http.Error(w, "missing key", http.StatusBadRequest)
			return
		}
		if !a.RemoveEntry(key) {
			http.Error(w, "no cache entry found for key", http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, r, http.StatusOK, a.Stats())
	})

	r.Post("/shutdown", func(w http.ResponseWriter, r *http.Request) {
		if err := a.RequestShutdown(); err != nil {
			hlog.FromRequest(r).Error().Err(err).Msg("Could not stop server")
			http.Error(w, "could not stop server", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})

	return r
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("Could not write response")
	}
}
