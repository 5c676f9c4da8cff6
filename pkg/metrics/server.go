package metrics

import (
	"fmt"
	"net/http"
	"time"
)

// NewServer returns a server exposing Handler at /metrics on its own port,
// for deployments that keep scrape traffic off the service port. The caller
// runs and shuts it down.
func NewServer(port int, timeout time.Duration) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", Handler())
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: timeout,
		WriteTimeout:      timeout,
	}
}
