package routers

import (
	"encoding/json"
	"net/http"

	"github.com/rshade/fleetscale/internal/webhooks"
)

// StatusHandler reports the controller's desired capacity, floors and last decision.
func StatusHandler(provider webhooks.StatusProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(provider.Status()); err != nil {
			http.Error(w, "Failed to encode status", http.StatusInternalServerError)
		}
	}
}
