package http

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"ledgerlens/internal/capture"
	"ledgerlens/internal/core"
	"ledgerlens/internal/views"
)

// GET /api/expenses?search=&category=
func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := views.Filter{
		Search:   strings.TrimSpace(q.Get("search")),
		Category: strings.TrimSpace(q.Get("category")),
	}
	writeJSON(w, r, http.StatusOK, s.deps.Ledger.View(f))
}

// POST /api/expenses
func (s *Server) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	var in capture.ManualInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	e, err := s.deps.Ledger.AddManual(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, e)
}

// DELETE /api/expenses/{id}
func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Ledger.DeleteExpense(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type categoriesResponse struct {
	Categories []string `json:"categories"`
	// InUse lists categories present in the ledger, in first-seen order,
	// including free-text ones outside the fixed set.
	InUse []string `json:"in_use"`
}

// GET /api/categories
func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	breakdown := views.ByCategory(s.deps.Ledger.Expenses())
	inUse := make([]string, 0, len(breakdown))
	for _, c := range breakdown {
		inUse = append(inUse, c.Name)
	}
	writeJSON(w, r, http.StatusOK, categoriesResponse{
		Categories: core.Categories,
		InUse:      inUse,
	})
}
