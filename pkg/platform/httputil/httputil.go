// Package httputil contains small helpers shared by HTTP handlers and
// middleware.
package httputil

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
)

// WriteJSON writes v as a JSON response with the given status code.
// Encoding errors are ignored: headers are already out the door.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ClientIP extracts the originating client IP, preferring the first entry
// of X-Forwarded-For (set by the fronting proxy), then X-Real-IP, then the
// connection's remote address.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
