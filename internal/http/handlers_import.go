package http

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"ledgerlens/internal/capture"
	"ledgerlens/internal/core"
)

type uploadedFile struct {
	name        string
	contentType string
	data        []byte
}

// readUpload pulls the "file" part out of a multipart request. Files over
// the configured cap are read one byte past it so the adapter reports the
// size error.
func (s *Server) readUpload(r *http.Request) (uploadedFile, error) {
	if err := r.ParseMultipartForm(s.deps.MaxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return uploadedFile{}, err
		}
		return uploadedFile{}, validation.Errors{"file": fmt.Errorf("expected multipart form with a file field: %w", err)}
	}
	f, header, err := r.FormFile("file")
	if err != nil {
		return uploadedFile{}, validation.Errors{"file": errors.New("is required")}
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, s.deps.MaxUploadBytes+1))
	if err != nil {
		return uploadedFile{}, fmt.Errorf("read upload: %w", err)
	}
	return uploadedFile{
		name:        header.Filename,
		contentType: header.Header.Get("Content-Type"),
		data:        data,
	}, nil
}

// POST /api/imports/spreadsheet
func (s *Server) handleImportSpreadsheet(w http.ResponseWriter, r *http.Request) {
	up, err := s.readUpload(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, err := s.deps.Ledger.ImportSpreadsheet(r.Context(), up.name, up.data)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, p)
}

// POST /api/imports/image
func (s *Server) handleImportImage(w http.ResponseWriter, r *http.Request) {
	up, err := s.readUpload(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, err := s.deps.Ledger.ImportImage(r.Context(), up.name, up.contentType, up.data)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, p)
}

// GET /api/previews/{id}
func (s *Server) handleGetPreview(w http.ResponseWriter, r *http.Request) {
	p, err := s.deps.Ledger.Preview(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, p)
}

func candidateIndex(r *http.Request) (int, error) {
	i, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || i < 0 {
		return 0, fmt.Errorf("candidate %q: %w", chi.URLParam(r, "index"), core.ErrNotFound)
	}
	return i, nil
}

// PATCH /api/previews/{id}/candidates/{index}
func (s *Server) handleEditCandidate(w http.ResponseWriter, r *http.Request) {
	i, err := candidateIndex(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var edit capture.Edit
	if err := decodeJSON(r, &edit); err != nil {
		writeError(w, r, err)
		return
	}
	p, err := s.deps.Ledger.EditCandidate(chi.URLParam(r, "id"), i, edit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, p)
}

// DELETE /api/previews/{id}/candidates/{index}
func (s *Server) handleDropCandidate(w http.ResponseWriter, r *http.Request) {
	i, err := candidateIndex(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, err := s.deps.Ledger.DropCandidate(chi.URLParam(r, "id"), i)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, p)
}

type confirmResponse struct {
	Committed int            `json:"committed"`
	Expenses  []core.Expense `json:"expenses"`
}

// POST /api/previews/{id}/confirm
func (s *Server) handleConfirmPreview(w http.ResponseWriter, r *http.Request) {
	es, err := s.deps.Ledger.ConfirmPreview(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, confirmResponse{Committed: len(es), Expenses: es})
}

// DELETE /api/previews/{id}
func (s *Server) handleCancelPreview(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Ledger.CancelPreview(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
