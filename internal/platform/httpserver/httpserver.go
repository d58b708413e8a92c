// Package httpserver constructs the process's HTTP server with the
// timeouts the public submission endpoint needs.
package httpserver

import (
	"net/http"
	"time"
)

// New returns the server for the given handler. ReadHeaderTimeout bounds
// slow header dribble from anonymous clients; IdleTimeout recycles
// keep-alive connections that stopped submitting.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
