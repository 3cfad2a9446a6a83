package collector

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// respondJSON writes a JSON response with the given status code and data.
func respondJSON(log zerolog.Logger, w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Warn().Err(err).Msg("failed to encode JSON response")
	}
}

// respondError writes an error response with the given status code and message.
func respondError(log zerolog.Logger, w http.ResponseWriter, status int, message string) {
	respondJSON(log, w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
	})
}
