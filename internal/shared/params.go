package shared

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
)

// PathID parses a positive integer route parameter.
func PathID(r *http.Request, key string) (int64, error) {
	return positiveParam(key, chi.URLParam(r, key))
}

// QueryID parses a positive integer query parameter.
func QueryID(r *http.Request, key string) (int64, error) {
	return positiveParam(key, r.URL.Query().Get(key))
}

func positiveParam(key, raw string) (int64, error) {
	id, err := parsePositive(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be a positive integer", httpx.ErrValidation, key)
	}
	return id, nil
}

// OptionalInt parses an integer query parameter, returning def when absent.
func OptionalInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", httpx.ErrValidation, key)
	}
	return n, nil
}
