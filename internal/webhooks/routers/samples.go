package routers

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/rshade/fleetscale/internal/webhooks"
)

// SampleHandler accepts pushed utilization readings for the push telemetry source.
func SampleHandler(recorder webhooks.SampleRecorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req webhooks.SamplePayload
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid JSON", http.StatusBadRequest)
			return
		}

		if req.Utilization == nil {
			http.Error(w, "utilization is required", http.StatusBadRequest)
			return
		}

		if err := recorder.Record(req.At, *req.Utilization); err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}

		log.Debug().
			Float64("utilization", *req.Utilization).
			Str("source", req.Source).
			Msg("Sample received")
		w.WriteHeader(http.StatusAccepted)
	}
}
