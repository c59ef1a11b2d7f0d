package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"tradejournal.app/internal/access"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError derives the reason class from the status code.
func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeReason(w, r, code, reasonForStatus(code), msg)
}

func writeReason(w http.ResponseWriter, r *http.Request, code int, reason, msg string) {
	payload := map[string]any{
		"error":  msg,
		"reason": reason,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

// writeFailure maps a service error onto status and reason. Only validation
// style messages are caller-facing; everything else gets a fixed text.
func writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	reason := access.Reason(err)
	switch {
	case errors.Is(err, access.ErrUnauthenticated):
		writeReason(w, r, http.StatusUnauthorized, reason, "authentication required")
	case errors.Is(err, access.ErrForbidden):
		writeReason(w, r, http.StatusForbidden, reason, publicMessage(err, "forbidden"))
	case errors.Is(err, access.ErrValidation):
		writeReason(w, r, http.StatusBadRequest, reason, publicMessage(err, "invalid request"))
	case errors.Is(err, access.ErrInvalidOperation):
		writeReason(w, r, http.StatusBadRequest, reason, publicMessage(err, "invalid operation"))
	case errors.Is(err, access.ErrNotFound):
		writeReason(w, r, http.StatusNotFound, reason, "not found")
	case errors.Is(err, access.ErrBlocked):
		writeReason(w, r, http.StatusTooManyRequests, reason, "blocked")
	case errors.Is(err, access.ErrAuditFailure):
		writeReason(w, r, http.StatusInternalServerError, reason, "audit log unavailable")
	case errors.Is(err, access.ErrPartialFailure):
		writeReason(w, r, http.StatusInternalServerError, reason, "operation partially applied")
	case errors.Is(err, access.ErrUpstreamUnavailable):
		writeReason(w, r, http.StatusInternalServerError, reason, "upstream unavailable")
	default:
		writeReason(w, r, http.StatusInternalServerError, "internal", "internal error")
	}
}

// publicMessage keeps only the text after the sentinel prefix, which the
// services write for the caller.
func publicMessage(err error, fallback string) string {
	_, detail, ok := strings.Cut(err.Error(), ": ")
	if !ok || detail == "" {
		return fallback
	}
	return detail
}

func reasonForStatus(code int) string {
	switch code {
	case http.StatusBadRequest:
		return "validation_error"
	case http.StatusUnauthorized:
		return "unauthenticated"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusMethodNotAllowed:
		return "method_not_allowed"
	case http.StatusRequestEntityTooLarge:
		return "payload_too_large"
	case http.StatusTooManyRequests:
		return "rate_limited"
	case http.StatusServiceUnavailable:
		return "unavailable"
	default:
		return "internal"
	}
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

// decodeJSON rejects unknown fields and trailing data.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	return decode(w, r, dst, true)
}

// decodeLenientJSON accepts unknown fields; browsers add environment keys freely.
func decodeLenientJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	return decode(w, r, dst, false)
}

func decode(w http.ResponseWriter, r *http.Request, dst any, strict bool) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	if strict {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
