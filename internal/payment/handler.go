package payment

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"

	errors "github.com/frahmantamala/payment-reconciliation/internal"
	paymentmodel "github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/payment"
	"github.com/frahmantamala/payment-reconciliation/internal/transport"
)

// ServiceAPI is the handler's view of the payment service.
type ServiceAPI interface {
	CreatePayment(ctx context.Context, req *CreatePaymentRequest) (*paymentmodel.PaymentRecord, error)
	GetStatus(ctx context.Context, id int64, forceSync bool) (*PaymentStatusResponse, error)
	DecideCheckout(id int64) (*paymentmodel.PaymentRecord, CheckoutDecision, error)
	HandleWebhookNotification(ctx context.Context, n *WebhookNotification) error
	SyncTenant(ctx context.Context, tenantID string) (*SyncResult, error)
	RestartMonitor(id int64) (bool, error)
	StopMonitor(id int64) bool
	ActiveMonitors() []int64
}

type Handler struct {
	transport.BaseHandler
	Service ServiceAPI
}

func NewHandler(service ServiceAPI, logger *slog.Logger) *Handler {
	return &Handler{
		BaseHandler: *transport.NewBaseHandler(logger),
		Service:     service,
	}
}

// CreatePayment handles POST /api/v1/payments
// @Summary Create a payment and its gateway checkout
// @Tags payments
// @Accept json
// @Produce json
// @Param payment body CreatePaymentRequest true "payment to create"
// @Success 201 {object} PaymentResponse
// @Router /api/v1/payments [post]
func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var req CreatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Error("CreatePayment: failed to parse request body", "error", err)
		h.HandleError(w, errors.NewValidationError("invalid request body", errors.ErrCodeValidationFailed))
		return
	}

	record, err := h.Service.CreatePayment(r.Context(), &req)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusCreated, ToPaymentResponse(record))
}

// GetPayment handles GET /api/v1/payments/{id}
// @Summary Get a payment's status, optionally refreshed from the gateway
// @Tags payments
// @Produce json
// @Param id path int true "payment id"
// @Param sync query bool false "force a gateway sync before answering"
// @Success 200 {object} PaymentStatusResponse
// @Router /api/v1/payments/{id} [get]
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := h.paymentID(w, r)
	if !ok {
		return
	}

	forceSync := r.URL.Query().Get("sync") == "true"

	resp, err := h.Service.GetStatus(r.Context(), id, forceSync)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, resp)
}

// Checkout handles GET /pay/{id}: redirect the payer to the gateway
// checkout, or explain why that is no longer possible.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	id, ok := h.paymentID(w, r)
	if !ok {
		return
	}

	record, decision, err := h.Service.DecideCheckout(id)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	switch decision {
	case CheckoutAlreadyPaid:
		h.HandleError(w, errors.NewConflictError("payment already completed", errors.ErrCodeCheckoutCompleted))
	case CheckoutExpired:
		h.HandleError(w, errors.NewConflictError("checkout can no longer be completed", errors.ErrCodeCheckoutExpired))
	default:
		http.Redirect(w, r, record.CheckoutURL, http.StatusFound)
	}
}

// SyncTenant handles POST /api/v1/tenants/{tenantID}/sync. Tokens
// scoped to a tenant may only sweep that tenant.
func (h *Handler) SyncTenant(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	if tenantID == "" {
		h.HandleError(w, errors.NewValidationError("tenant id is required", errors.ErrCodeInvalidTenant))
		return
	}

	if claimed := errors.TenantIDFromContext(r.Context()); claimed != "" && claimed != tenantID {
		h.HandleError(w, errors.NewForbiddenError("token is not scoped to this tenant", errors.ErrCodeInvalidTenant))
		return
	}

	result, err := h.Service.SyncTenant(r.Context(), tenantID)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, result)
}

// ListMonitors handles GET /api/v1/monitors
func (h *Handler) ListMonitors(w http.ResponseWriter, r *http.Request) {
	ids := h.Service.ActiveMonitors()
	h.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"count":       len(ids),
		"payment_ids": ids,
	})
}

// StartMonitor handles POST /api/v1/payments/{id}/monitor
func (h *Handler) StartMonitor(w http.ResponseWriter, r *http.Request) {
	id, ok := h.paymentID(w, r)
	if !ok {
		return
	}

	started, err := h.Service.RestartMonitor(id)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"payment_id": id,
		"started":    started,
	})
}

// StopMonitor handles DELETE /api/v1/payments/{id}/monitor
func (h *Handler) StopMonitor(w http.ResponseWriter, r *http.Request) {
	id, ok := h.paymentID(w, r)
	if !ok {
		return
	}

	stopped := h.Service.StopMonitor(id)
	h.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"payment_id": id,
		"stopped":    stopped,
	})
}

func (h *Handler) paymentID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		h.Logger.Error("invalid payment id", "id", raw)
		h.HandleError(w, errors.NewValidationError("invalid payment id", errors.ErrCodeValidationFailed))
		return 0, false
	}
	return id, true
}
