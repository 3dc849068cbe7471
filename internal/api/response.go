package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/BTreeMap/IntakePipe/internal/flow"
	"github.com/BTreeMap/IntakePipe/internal/models"
	"github.com/BTreeMap/IntakePipe/internal/store"
)

// Pre-marshaled fallback responses to avoid runtime JSON encoding failures
var (
	fallbackErrorResponse []byte
)

// init validates that our fallback responses can be marshaled
func init() {
	var err error
	fallbackErrorResponse, err = json.Marshal(models.Error("Internal server error"))
	if err != nil {
		panic(fmt.Sprintf("Failed to marshal fallback error response at startup: %v", err))
	}
}

// writeJSONResponse writes a JSON response to the http.ResponseWriter with the given status code.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response any) {
	// Marshal first so an encoding failure can still change the status code
	jsonData, err := json.Marshal(response)
	if err != nil {
		slog.Error("Server.writeJSONResponse: failed to marshal JSON response", "error", err)
		jsonData = fallbackErrorResponse
		statusCode = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, writeErr := w.Write(jsonData); writeErr != nil {
		slog.Error("Server.writeJSONResponse: failed to write JSON response", "error", writeErr)
	}
}

// writeEngineError maps engine and store errors onto HTTP statuses.
func writeEngineError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, flow.ErrSessionNotFound), errors.Is(err, store.ErrCheckpointNotFound):
		slog.Warn("Server."+op+": not found", "error", err)
		writeJSONResponse(w, http.StatusNotFound, models.Error(err.Error()))
	case errors.Is(err, flow.ErrSessionCompleted):
		slog.Warn("Server."+op+": session completed", "error", err)
		writeJSONResponse(w, http.StatusConflict, models.Error(err.Error()))
	case errors.Is(err, flow.ErrMissingTenant):
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
	case errors.Is(err, store.ErrStaleCheckpoint):
		slog.Warn("Server."+op+": concurrent update", "error", err)
		writeJSONResponse(w, http.StatusConflict, models.Error("Session was updated elsewhere, please retry"))
	case errors.Is(err, flow.ErrPersistence):
		slog.Error("Server."+op+": persistence failure", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Progress could not be saved, please retry"))
	default:
		slog.Error("Server."+op+": unexpected error", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Internal server error"))
	}
}

// validationMessage turns validator errors into one readable line.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return "Invalid request: " + strings.Join(parts, "; ")
}
