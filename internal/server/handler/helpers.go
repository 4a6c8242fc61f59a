package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// writeJSON marshals v and writes it with the given status. If marshaling
// fails it falls back to a plain 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError sends a JSON error body.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps err onto an HTTP status and writes it. Server-side
// failures hide the error text.
func writeDomainError(w http.ResponseWriter, err error) int {
	status := statusFor(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable && status != http.StatusNotImplemented {
		msg = "internal server error"
	}
	writeError(w, status, msg)
	return status
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrNoPosition):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrAlreadyActive),
		errors.Is(err, domain.ErrNotActive),
		errors.Is(err, domain.ErrInvalidState),
		errors.Is(err, domain.ErrDuplicateIntent),
		errors.Is(err, domain.ErrLockHeld):
		return http.StatusConflict
	case errors.Is(err, domain.ErrRiskLimit),
		errors.Is(err, domain.ErrInsufficientBalance),
		errors.Is(err, domain.ErrInsufficientAllowance),
		errors.Is(err, domain.ErrInsufficientLiquidity),
		errors.Is(err, domain.ErrPriceImpactTooHigh),
		errors.Is(err, domain.ErrReverted),
		errors.Is(err, domain.ErrUnsupportedToken):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrNotImplemented):
		return http.StatusNotImplemented
	case errors.Is(err, domain.ErrPriceUnavailable),
		errors.Is(err, domain.ErrConnector),
		errors.Is(err, domain.ErrConfiguration):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// decodeJSON reads a JSON body into v. An empty body leaves v untouched
// when allowEmpty is set.
func decodeJSON(r *http.Request, v any, allowEmpty bool) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", domain.ErrValidation, err)
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		if allowEmpty {
			return nil
		}
		return fmt.Errorf("%w: request body is required", domain.ErrValidation)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", domain.ErrValidation, err)
	}
	return nil
}

// parseListOpts extracts limit and offset. Defaults: limit=50 (max 500),
// offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	limit = min(limit, 500)

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return domain.ListOpts{Limit: limit, Offset: offset}
}

func parseBool(s string) bool {
	b, _ := strconv.ParseBool(s)
	return b
}
