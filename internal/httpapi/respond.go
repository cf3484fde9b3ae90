package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/DoyleJ11/taleforge-client/internal/engine"
	"github.com/DoyleJ11/taleforge-client/pkg/errs"
	"github.com/DoyleJ11/taleforge-client/pkg/types"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("write json response failed", slog.Any("err", err))
	}
}

// writeError answers with the backend-style {error} payload.
func writeError(w http.ResponseWriter, err error) {
	status := errs.ToHTTP(err)
	if errors.Is(err, engine.ErrWrongPhase) {
		status = http.StatusConflict
	}
	writeJSON(w, status, types.ErrorPayload{Error: errs.Message(err)})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: bad json: %v", errs.ErrInvalidInput, err)
	}
	return nil
}
