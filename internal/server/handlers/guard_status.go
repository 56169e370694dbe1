package handlers

import (
	"encoding/json"
	"net/http"
)

// GuardStatusHandler reports the calling actor's rate budgets and circuits.
func GuardStatusHandler(w http.ResponseWriter, r *http.Request) {
	if !requireGateway(w, r) {
		return
	}

	status, err := gateway.Status(r.Context(), actorID(r))
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(status)
}
