package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/ismistube/backend/internal/logging"
)

func respondJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.FromContext(ctx).Error("encode response body", "status", status, "error", err)
		return
	}
	logStatus(ctx, status, payload)
}

func respondText(ctx context.Context, w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
	logStatus(ctx, status, body)
}

func errorBody(message string) map[string]string {
	return map[string]string{"error": message}
}

func logStatus(ctx context.Context, status int, payload any) {
	logger := logging.FromContext(ctx)
	switch {
	case status >= http.StatusInternalServerError:
		logger.Error("request failed", "status", status, "response", payload)
	case status >= http.StatusBadRequest:
		logger.Warn("request returned client error", "status", status, "response", payload)
	}
}
