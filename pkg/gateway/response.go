package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/arjunmehta/relay/internal/apperr"
)

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeErr inspects err for a wrapped *apperr.Error to pick a status,
// defaulting to 500 for plain errors.
func writeErr(w http.ResponseWriter, err error) {
	writeJSONError(w, apperr.StatusFor(err), err.Error())
}
