// Package utils holds small helpers shared by the HTTP handlers and jobs.
package utils

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/rebalancer/internal/domain"
)

// WriteJSON writes data as a JSON response
func WriteJSON(w http.ResponseWriter, status int, data interface{}, log zerolog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// WriteData writes data inside the standard {data, metadata} envelope
func WriteData(w http.ResponseWriter, status int, data interface{}, log zerolog.Logger) {
	WriteJSON(w, status, map[string]interface{}{
		"data": data,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	}, log)
}

// WriteError maps err to an HTTP status by its kind and writes an error envelope.
// Internal errors are logged and their details withheld from the client.
func WriteError(w http.ResponseWriter, err error, log zerolog.Logger) {
	kind := domain.KindOf(err)
	status := StatusForKind(kind)

	message := err.Error()
	if status >= http.StatusInternalServerError && kind != domain.KindGateway {
		log.Error().Err(err).Str("kind", string(kind)).Msg("Request failed")
		message = "internal error"
	} else {
		log.Warn().Err(err).Str("kind", string(kind)).Msg("Request rejected")
	}

	payload := map[string]interface{}{
		"message": message,
		"kind":    string(kind),
	}
	if code := domain.GatewayCode(err); code != "" {
		payload["code"] = string(code)
	}
	WriteJSON(w, status, map[string]interface{}{"error": payload}, log)
}

// StatusForKind returns the HTTP status for an error kind
func StatusForKind(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindConfiguration, domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindRunInProgress:
		return http.StatusConflict
	case domain.KindGateway:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
