package adminapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/dmitrymomot/pgqueue/pkg/logger"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		a.log.ErrorContext(r.Context(), "admin request failed", logger.Error(err))
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// decodeBody decodes a JSON body into v. An empty body leaves v untouched.
// Numbers in untyped fields such as job args stay json.Number, so large integers survive.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return errors.Join(ErrInvalidBody, err)
	}
	return nil
}
