package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/stanstork/herald/internal/notification"
	"github.com/stanstork/herald/internal/repository"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return false
	}
	return true
}

// writeError maps service errors onto status codes. Unknown errors are
// logged and reported as 500 with the generic message.
func writeError(w http.ResponseWriter, logger zerolog.Logger, err error, message string) {
	var verrs notification.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":  "Validation failed",
			"errors": verrs,
		})
	case errors.Is(err, repository.ErrNotFound):
		http.Error(w, "Notification not found", http.StatusNotFound)
	case errors.Is(err, repository.ErrNotEligible):
		http.Error(w, "Notification cannot change state", http.StatusConflict)
	default:
		logger.Error().Err(err).Msg(message)
		http.Error(w, message, http.StatusInternalServerError)
	}
}
