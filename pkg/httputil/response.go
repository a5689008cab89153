// Package httputil provides HTTP response helpers and middleware.
package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/user/gitwatch/pkg/logger"
)

// JSON writes data as a JSON response.
func JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			logger.Error().Err(err).Msg("Failed to encode response")
		}
	}
}

// OK writes {"ok":true}.
func OK(w http.ResponseWriter) {
	JSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// Error writes {"error": message}.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
