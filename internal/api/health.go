package api

import (
	"net/http"
	"time"
)

// healthResponse is the body of the liveness probe.
type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// healthHandler handles GET /health. The daemon holds no connections
// open between requests, so being able to answer is being healthy.
func healthHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSONOK(w, healthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
	})
}
