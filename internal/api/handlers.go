// Package api provides HTTP handlers for the persona bot endpoints.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/Phantom00716/telegram-personalities-bot/internal/models"
)

// fallbackErrorBody is served when a response value itself fails to marshal.
var fallbackErrorBody = []byte(`{"status":"error","message":"Internal server error"}`)

// writeJSONResponse marshals before touching the ResponseWriter so an
// encoding failure can still produce a well-formed error body with the
// right status code.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response interface{}) {
	body, err := json.Marshal(response)
	if err != nil {
		slog.Error("Server.writeJSONResponse: failed to marshal response", "error", err)
		body = fallbackErrorBody
		statusCode = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, err := w.Write(body); err != nil {
		slog.Error("Server.writeJSONResponse: failed to write response", "error", err)
	}
}

// webhookHandler receives Telegram update payloads. Well-formed updates are
// acknowledged immediately and processed in the background; Telegram retries
// on anything but a prompt 2xx.
func (s *Server) webhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.webhookHandler: processing webhook request")

	var update models.Update
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		slog.Warn("Server.webhookHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	slog.Debug("Server.webhookHandler: parsed update", "updateID", update.UpdateID)

	s.dispatcher.Enqueue(func(ctx context.Context) error {
		return s.router.HandleUpdate(ctx, update)
	})
	writeJSONResponse(w, http.StatusOK, models.Success(nil))
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"status": "healthy"}))
}

// setWebhookHandler registers this deployment's webhook URL with Telegram.
func (s *Server) setWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if s.baseURL == "" {
		slog.Warn("Server.setWebhookHandler: base URL not configured")
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Base URL not configured"))
		return
	}
	url := s.WebhookURL()
	if err := s.registrar.SetWebhook(r.Context(), url); err != nil {
		slog.Error("Server.setWebhookHandler: webhook registration failed", "error", err, "url", url)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to register webhook"))
		return
	}
	slog.Info("Server.setWebhookHandler: webhook registered", "url", url)
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"webhook": url}))
}

// personasHandler lists the durably stored personas.
func (s *Server) personasHandler(w http.ResponseWriter, r *http.Request) {
	personas, err := s.store.GetPersonas()
	if err != nil {
		slog.Error("Server.personasHandler: failed to list personas", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list personas"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(personas))
}
