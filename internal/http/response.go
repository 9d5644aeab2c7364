package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"ledgerlens/internal/agent"
	"ledgerlens/internal/capture"
	"ledgerlens/internal/chat"
	"ledgerlens/internal/core"
	"ledgerlens/internal/log"
)

type errResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.FromContext(r.Context()).Error("json encode failed", log.FieldError, err.Error())
	}
}

// writeError maps service errors onto status codes. Anything unrecognised
// is logged and reported as a 500 without details.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verrs    validation.Errors
		tooLarge *http.MaxBytesError
	)
	switch {
	case errors.As(err, &verrs):
		writeJSON(w, r, http.StatusUnprocessableEntity, errResponse{
			Error:  "validation failed",
			Fields: flattenFields("", verrs),
		})
	case errors.Is(err, errBadRequest):
		writeJSON(w, r, http.StatusBadRequest, errorBody(err.Error()))
	case errors.As(err, &tooLarge):
		writeJSON(w, r, http.StatusRequestEntityTooLarge,
			errorBody(fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit)))
	case errors.Is(err, core.ErrNotFound):
		writeJSON(w, r, http.StatusNotFound, errorBody("not found"))
	case errors.Is(err, capture.ErrBusy), errors.Is(err, chat.ErrBusy):
		writeJSON(w, r, http.StatusConflict, errorBody("another request of this kind is in progress"))
	case agent.IsAgentError(err):
		writeJSON(w, r, http.StatusBadGateway, errorBody("the assistant service could not process the request"))
	default:
		logger := log.NewStructuredLogger(log.FromContext(r.Context()).WithComponent(log.ComponentHTTP))
		logger.LogError(r.Context(), "Request failed", err, log.ErrorTypeInternal, strings.ToLower(r.Method),
			log.LogFields{log.FieldPath: r.URL.Path})
		writeJSON(w, r, http.StatusInternalServerError, errorBody("internal error"))
	}
}

// flattenFields turns nested validation errors into dotted keys such as
// "candidates[1].amount".
func flattenFields(prefix string, verrs validation.Errors) map[string]string {
	out := make(map[string]string, len(verrs))
	keys := make([]string, 0, len(verrs))
	for k := range verrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		name := k
		if prefix != "" {
			name = prefix + "." + k
		}
		var nested validation.Errors
		if errors.As(verrs[k], &nested) {
			for nk, nv := range flattenFields(name, nested) {
				out[nk] = nv
			}
			continue
		}
		out[name] = verrs[k].Error()
	}
	return out
}

// decodeJSON reads a JSON object into dst, rejecting unknown fields.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return err
		}
		return fmt.Errorf("%w: %s", errBadRequest, strings.TrimPrefix(err.Error(), "json: "))
	}
	return nil
}

var errBadRequest = errors.New("invalid JSON body")
