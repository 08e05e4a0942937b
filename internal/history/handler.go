package history

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// maxLimit caps the limit query parameter.
const maxLimit = 1000

// Handler serves the session history over HTTP.
type Handler struct {
	log *Log
}

// NewHandler returns a handler that lists the entries held by l.
func NewHandler(l *Log) *Handler {
	return &Handler{log: l}
}

type listResponse struct {
	Sessions []Entry `json:"sessions"`
	Count    int     `json:"count"`
}

// List writes the most recent sessions, newest first. The optional limit
// query parameter bounds the number of entries; it defaults to 20.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxLimit)
	}

	entries := h.log.Recent(limit)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(listResponse{Sessions: entries, Count: len(entries)}); err != nil {
		http.Error(w, `{"error":"encode"}`, http.StatusInternalServerError)
	}
}

// Register adds GET /api/sessions to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/sessions", h.List)
}
