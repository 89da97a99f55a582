package handlers

import (
	"net/http"

	"github.com/MrSnakeDoc/smartmarks/internal/httpserver/deps"
)

type readyzResponse struct {
	Ready bool   `json:"ready"`
	Error string `json:"error,omitempty"`
}

// Readyz is ready when redis answers: the store, the change-feed and sessions all live there.
func Readyz(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if status := checkRedis(r.Context(), d); !status.OK {
			writeJSON(w, http.StatusServiceUnavailable, readyzResponse{Ready: false, Error: status.Error})
			return
		}
		writeJSON(w, http.StatusOK, readyzResponse{Ready: true})
	}
}
