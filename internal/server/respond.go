package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/koustreak/pha/internal/errs"
	"github.com/koustreak/pha/internal/logger"
)

type errorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func errorBody(kind, msg string) map[string]errorPayload {
	return map[string]errorPayload{"error": {Kind: kind, Message: msg}}
}

// statusFor maps an error kind to an HTTP status.
func statusFor(kind errs.ErrKind) int {
	switch kind {
	case errs.ErrKindInvalidInput, errs.ErrKindInvalidQueryType, errs.ErrKindInvalidLimit:
		return http.StatusBadRequest
	case errs.ErrKindSchema, errs.ErrKindNoPatientTable:
		return http.StatusUnprocessableEntity
	case errs.ErrKindNotFound:
		return http.StatusNotFound
	case errs.ErrKindConflict:
		return http.StatusConflict
	case errs.ErrKindTimeout:
		return http.StatusGatewayTimeout
	case errs.ErrKindConnectionFailed, errs.ErrKindQueryFailed, errs.ErrKindPermissionDenied:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError logs err and renders it. Unknown errors are not echoed.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := errs.KindOf(err)
	status := statusFor(kind)
	msg := errs.MessageOf(err)

	log := logger.FromContext(r.Context())
	fields := map[string]any{"kind": kind.String(), "status": status, "path": r.URL.Path}
	if status >= http.StatusInternalServerError {
		log.ErrorWith("request failed", err, fields)
	} else {
		log.DebugWith("request rejected: "+msg, fields)
	}

	if kind == errs.ErrKindUnknown {
		msg = "internal error"
	}
	writeJSON(w, status, errorBody(kind.String(), msg))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON reads exactly one JSON value from the body into dst.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errs.Wrap(errs.ErrKindInvalidInput, "request body too large", err)
		}
		return errs.Wrap(errs.ErrKindInvalidInput, "malformed request body: "+err.Error(), err)
	}
	if dec.More() {
		return errs.New(errs.ErrKindInvalidInput, "request body must hold a single JSON object")
	}
	return nil
}
