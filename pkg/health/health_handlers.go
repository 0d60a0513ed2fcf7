package health

import (
	"encoding/json"
	"net/http"
)

// HTTPHandler returns an HTTP handler for the health check endpoint;
// degraded still answers 200
func (hc *HealthChecker) HTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeResponse(w, hc.Check(), StatusDegraded)
	}
}

// ReadinessHandler returns an HTTP handler for readiness checks
func (hc *HealthChecker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeResponse(w, hc.CheckReadiness(), StatusHealthy)
	}
}

// LivenessHandler returns an HTTP handler for liveness checks
func (hc *HealthChecker) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeResponse(w, hc.CheckLiveness(), StatusHealthy)
	}
}

// writeResponse answers 200 up to the given status and 503 beyond it.
func writeResponse(w http.ResponseWriter, response Response, worstOK Status) {
	w.Header().Set("Content-Type", "application/json")
	code := http.StatusOK
	if response.Status == StatusUnhealthy || (worstOK == StatusHealthy && response.Status != StatusHealthy) {
		code = http.StatusServiceUnavailable
	}
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(response)
}
