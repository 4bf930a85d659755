package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/web3-frozen/tvl-extractor/internal/store"
)

// History is the persisted view of past runs.
type History interface {
	LatestEntries(ctx context.Context) ([]store.Entry, error)
	RecentRuns(ctx context.Context, limit int) ([]store.Run, error)
}

func ListEntries(h History) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := h.LatestEntries(r.Context())
		if err != nil {
			http.Error(w, `{"error":"failed to list entries"}`, http.StatusInternalServerError)
			return
		}
		if entries == nil {
			entries = []store.Entry{}
		}
		writeJSON(w, entries)
	}
}

const (
	defaultRunLimit = 20
	maxRunLimit     = 200
)

func ListRuns(h History) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultRunLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				http.Error(w, `{"error":"limit must be a positive integer"}`, http.StatusBadRequest)
				return
			}
			limit = min(n, maxRunLimit)
		}
		runs, err := h.RecentRuns(r.Context(), limit)
		if err != nil {
			http.Error(w, `{"error":"failed to list runs"}`, http.StatusInternalServerError)
			return
		}
		if runs == nil {
			runs = []store.Run{}
		}
		writeJSON(w, runs)
	}
}
