package http

import (
	"net/http"
	"strconv"
	"strings"
)

const (
	defaultListLimit = 10
	maxListLimit     = 100
)

// sanitizeInput removes potentially dangerous characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	result := strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
	return result
}

// isHTMX reports whether the request was issued by htmx.
func isHTMX(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}

// wantsJSON decides the response format. API routes always answer JSON;
// elsewhere htmx requests get HTML partials and everything else follows the
// Accept header.
func wantsJSON(r *http.Request) bool {
	if strings.HasPrefix(r.URL.Path, "/api/") {
		return true
	}
	if isHTMX(r) {
		return false
	}
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

// sentJSON reports whether the request body is declared as JSON.
func sentJSON(r *http.Request) bool {
	return strings.HasPrefix(strings.ToLower(r.Header.Get("Content-Type")), "application/json")
}

// parseLimit reads ?limit=N, clamped to maxListLimit.
func parseLimit(r *http.Request) (int, bool) {
	v := strings.TrimSpace(r.URL.Query().Get("limit"))
	if v == "" {
		return defaultListLimit, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, false
	}
	return min(n, maxListLimit), true
}

// parseID reads a positive record id from the {id} path segment.
func parseID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id < 1 {
		return 0, false
	}
	return id, true
}
