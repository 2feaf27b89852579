package server

import (
	"encoding/json"
	"net/http"
	"time"
)

// healthResponse backs the liveness probe. The gateway holds no database or
// other stateful dependency to check readiness against, so /health and
// /health/live collapse to the same "process is up" signal, unlike the
// teacher's database-ping-backed /health/ready.
type healthResponse struct {
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(healthResponse{Status: "ok", Timestamp: time.Now().Unix()})
}
