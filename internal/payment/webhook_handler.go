package payment

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/frahmantamala/payment-reconciliation/internal/transport"
)

// WebhookHandler receives gateway notifications. Deliveries are
// acknowledged with 200 even when processing fails: the reconciler
// already dropped anything stale, and the gateway retrying a poison
// payload forever helps nobody. Only an unreadable body gets a 400.
type WebhookHandler struct {
	*transport.BaseHandler
	paymentService ServiceAPI
	logger         *slog.Logger
}

func NewWebhookHandler(baseHandler *transport.BaseHandler, paymentService ServiceAPI, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		BaseHandler:    baseHandler,
		paymentService: paymentService,
		logger:         logger,
	}
}

type webhookAck struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// HandleNotification handles POST /webhooks/gateway
func (h *WebhookHandler) HandleNotification(w http.ResponseWriter, r *http.Request) {
	var notification WebhookNotification
	if err := json.NewDecoder(r.Body).Decode(&notification); err != nil {
		h.logger.Error("invalid webhook payload", "error", err)
		h.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	h.logger.Info("received gateway webhook",
		"topic", notification.Topic,
		"resource_id", notification.GatewayResourceID(),
		"external_reference", notification.ExternalReference,
		"claimed_status", notification.ClaimedStatus)

	if notification.GatewayResourceID() == "" && notification.ExternalReference == "" {
		h.logger.Warn("webhook carries no payment identifier, dropping")
		h.WriteJSON(w, http.StatusOK, webhookAck{
			Status:  "ignored",
			Message: "notification carries no payment identifier",
		})
		return
	}

	if err := h.paymentService.HandleWebhookNotification(r.Context(), &notification); err != nil {
		h.logger.Error("failed to process webhook",
			"resource_id", notification.GatewayResourceID(),
			"external_reference", notification.ExternalReference,
			"error", err)
		h.WriteJSON(w, http.StatusOK, webhookAck{
			Status:  "error",
			Message: "notification accepted, processing failed",
		})
		return
	}

	h.WriteJSON(w, http.StatusOK, webhookAck{
		Status:  "ok",
		Message: "notification processed",
	})
}
