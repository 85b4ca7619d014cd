package httpserver

import (
	"net/http"
	"strings"
)

// bearerToken extracts the token from a standard "Authorization: Bearer
// <token>" header (§4.2's "per-agent bearer tokens" named only at the data
// model level; this is the conventional wire form for that scheme).
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" {
		return ""
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(h, prefix))
}
