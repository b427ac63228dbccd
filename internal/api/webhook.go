package api

import (
	"errors"
	"fmt"
	"net/http"

	gogithub "github.com/google/go-github/v57/github"

	"github.com/joescharf/revy/internal/webhook"
	"github.com/joescharf/revy/internal/worker"
)

func (s *Server) githubWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := s.hooks.ReadPayload(r)
	if err != nil {
		s.logger.Warn("webhook rejected", "error", err)
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	eventType := gogithub.WebHookType(r)
	outcome, err := s.hooks.HandleEvent(r.Context(), eventType, gogithub.DeliveryID(r), payload)
	switch {
	case errors.Is(err, webhook.ErrInvalidPayload):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, worker.ErrQueueFull), errors.Is(err, worker.ErrPoolClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		s.writeServiceError(w, err)
		return
	}

	switch outcome {
	case webhook.OutcomePong:
		writeJSON(w, http.StatusOK, map[string]string{"message": "pong"})
	case webhook.OutcomeEnqueued:
		writeJSON(w, http.StatusAccepted, map[string]string{"message": "PR event received"})
	default:
		writeJSON(w, http.StatusOK, map[string]string{"message": fmt.Sprintf("Event %s received but not processed", eventType)})
	}
}

func (s *Server) webhookTest(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "Webhook endpoint is active"})
}
