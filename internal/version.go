package internal

import (
	"encoding/json"
	"net/http"
)

// Version is the current version of roomchat.
// This should be updated with each release.
const Version = "0.1.0"

// HandleHealthz reports liveness and the running version.
func HandleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":  "ok",
		"version": Version,
	})
}
