package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/frahmantamala/payment-reconciliation/internal"
	paymentmodel "github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/payment"
	"github.com/frahmantamala/payment-reconciliation/internal/gateway"
)

// Service owns the payment lifecycle: creating checkouts, answering
// status queries, ingesting webhooks, running batch sweeps, and
// starting or stopping monitors.
type Service struct {
	repo       RepositoryAPI
	gateway    GatewayAPI
	reconciler *Reconciler
	monitor    *Monitor
	registry   *Registry
	batch      *BatchReconciler
	logger     *slog.Logger

	checkoutExpiry  time.Duration
	notificationURL string
}

type ServiceConfig struct {
	CheckoutExpiry  time.Duration
	NotificationURL string
}

func NewService(
	repo RepositoryAPI,
	gw GatewayAPI,
	reconciler *Reconciler,
	monitor *Monitor,
	registry *Registry,
	batch *BatchReconciler,
	cfg ServiceConfig,
	logger *slog.Logger,
) *Service {
	return &Service{
		repo:            repo,
		gateway:         gw,
		reconciler:      reconciler,
		monitor:         monitor,
		registry:        registry,
		batch:           batch,
		logger:          logger,
		checkoutExpiry:  cfg.CheckoutExpiry,
		notificationURL: cfg.NotificationURL,
	}
}

// CreatePayment registers a payment, opens a gateway checkout for it
// and starts its monitor. The external reference is generated here so
// it is unique before the gateway ever sees it.
func (s *Service) CreatePayment(ctx context.Context, req *CreatePaymentRequest) (*paymentmodel.PaymentRecord, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	externalReference := "pay_" + strings.ReplaceAll(uuid.New().String(), "-", "")
	expiresAt := time.Now().Add(s.checkoutExpiry)

	session, err := s.gateway.CreateCheckout(ctx, gateway.CheckoutRequest{
		ExternalReference: externalReference,
		Description:       req.Description,
		Amount:            req.Amount,
		PayerEmail:        req.PayerEmail,
		ExpiresAt:         expiresAt,
		NotificationURL:   s.notificationURL,
	})
	if err != nil {
		s.logger.Error("failed to create gateway checkout",
			"tenant_id", req.TenantID,
			"external_reference", externalReference,
			"error", err)
		return nil, apperrors.NewExternalError("could not create checkout", err)
	}

	record := &paymentmodel.PaymentRecord{
		TenantID:          req.TenantID,
		ExternalReference: externalReference,
		Description:       req.Description,
		Amount:            req.Amount,
		PayerEmail:        req.PayerEmail,
		CheckoutURL:       session.CheckoutURL,
		Status:            paymentmodel.StatusPending,
		ExpiresAt:         &expiresAt,
	}
	if session.GatewayPaymentID != "" {
		gatewayID := session.GatewayPaymentID
		record.GatewayPaymentID = &gatewayID
	}

	if err := s.repo.Create(record); err != nil {
		s.logger.Error("failed to persist payment record",
			"external_reference", externalReference, "error", err)
		return nil, fmt.Errorf("create payment record: %w", err)
	}

	s.logger.Info("payment created",
		"payment_id", record.ID,
		"tenant_id", record.TenantID,
		"external_reference", record.ExternalReference,
		"amount", record.Amount)

	s.registry.Start(record.ID, s.monitor.Run)

	return record, nil
}

// GetStatus returns the stored record, refreshed from the gateway when
// forceSync is set and the record is still non-terminal. Terminal
// records are immutable, so a forced sync is skipped for them.
func (s *Service) GetStatus(ctx context.Context, id int64, forceSync bool) (*PaymentStatusResponse, error) {
	record, err := s.repo.GetByID(id)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil, apperrors.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("load payment %d: %w", id, err)
	}

	synced := false
	if forceSync && !record.Status.IsTerminal() {
		if err := s.syncFromGateway(ctx, record, SourceQuery); err != nil {
			// stale data beats no data on a read path
			s.logger.Warn("forced sync failed, serving stored status",
				"payment_id", record.ID, "error", err)
		} else {
			synced = true
		}
	}

	resp := &PaymentStatusResponse{
		PaymentResponse: ToPaymentResponse(record),
		Synced:          synced,
	}
	if staleness, ok := record.Staleness(time.Now()); ok {
		seconds := int64(staleness.Seconds())
		resp.StalenessSeconds = &seconds
	}
	return resp, nil
}

// GetRecord loads a payment without touching the gateway.
func (s *Service) GetRecord(id int64) (*paymentmodel.PaymentRecord, error) {
	record, err := s.repo.GetByID(id)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil, apperrors.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("load payment %d: %w", id, err)
	}
	return record, nil
}

// DecideCheckout classifies a pay-link visit for the payment.
func (s *Service) DecideCheckout(id int64) (*paymentmodel.PaymentRecord, CheckoutDecision, error) {
	record, err := s.GetRecord(id)
	if err != nil {
		return nil, "", err
	}
	return record, DecideCheckout(record, time.Now()), nil
}

// HandleWebhookNotification ingests one gateway webhook. Unknown
// payments are logged and dropped; the caller still acknowledges the
// delivery so the gateway does not retry forever. Notifications that
// carry only a resource id trigger an authoritative gateway fetch;
// a claimed status is applied as-is but never advances lastSyncedAt.
func (s *Service) HandleWebhookNotification(ctx context.Context, n *WebhookNotification) error {
	resourceID := n.GatewayResourceID()

	record, err := s.resolveWebhookPayment(n)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			s.logger.Warn("webhook for unknown payment",
				"topic", n.Topic,
				"resource_id", resourceID,
				"external_reference", n.ExternalReference)
			return nil
		}
		return err
	}

	observedAt := time.Now()
	if n.OccurredAt != nil {
		observedAt = *n.OccurredAt
	}

	if n.ClaimedStatus != "" {
		status := gateway.MapRawStatus(n.ClaimedStatus, s.logger)
		_, err = s.reconciler.Reconcile(ctx, record, Observation{
			Status:           status,
			GatewayPaymentID: resourceID,
			ObservedAt:       observedAt,
			Source:           SourceWebhook,
			Authoritative:    false,
		})
		return err
	}

	// no trustworthy status in the payload: fetch it from the gateway
	var info *gateway.PaymentInfo
	if resourceID != "" {
		info, err = s.gateway.GetPayment(ctx, resourceID)
	} else {
		info, err = s.gateway.SearchByReference(ctx, record.ExternalReference)
	}
	if err != nil {
		if errors.Is(err, gateway.ErrNotFound) {
			s.logger.Warn("webhook resource not found at gateway",
				"resource_id", resourceID)
			return nil
		}
		return apperrors.NewExternalError("could not fetch webhook resource", err)
	}

	_, err = s.reconciler.Reconcile(ctx, record, Observation{
		Status:           info.Status,
		GatewayPaymentID: info.ID,
		ObservedAt:       time.Now(),
		Source:           SourceWebhook,
		Authoritative:    true,
	})
	return err
}

func (s *Service) resolveWebhookPayment(n *WebhookNotification) (*paymentmodel.PaymentRecord, error) {
	if resourceID := n.GatewayResourceID(); resourceID != "" {
		record, err := s.repo.GetByGatewayPaymentID(resourceID)
		if err == nil {
			return record, nil
		}
		if !errors.Is(err, ErrRecordNotFound) {
			return nil, err
		}
	}
	if n.ExternalReference != "" {
		return s.repo.GetByExternalReference(n.ExternalReference)
	}
	return nil, ErrRecordNotFound
}

// SyncTenant runs one batch sweep for the tenant.
func (s *Service) SyncTenant(ctx context.Context, tenantID string) (*SyncResult, error) {
	return s.batch.SyncPending(ctx, tenantID)
}

// StartPendingMonitors launches monitors for the tenant's non-terminal
// payments, up to the batch limit. Used after restarts to resume
// abandoned monitoring. Returns how many monitors were started.
func (s *Service) StartPendingMonitors(tenantID string, limit int) (int, error) {
	records, err := s.repo.ListNonTerminalByTenant(tenantID, limit)
	if err != nil {
		return 0, fmt.Errorf("list non-terminal payments: %w", err)
	}

	started := 0
	for _, record := range records {
		if s.registry.Start(record.ID, s.monitor.Run) {
			started++
		}
	}

	s.logger.Info("resumed payment monitors",
		"tenant_id", tenantID, "started", started, "candidates", len(records))
	return started, nil
}

// RestartMonitor starts a monitor for the payment unless it is already
// terminal or already monitored.
func (s *Service) RestartMonitor(id int64) (bool, error) {
	record, err := s.GetRecord(id)
	if err != nil {
		return false, err
	}
	if record.Status.IsTerminal() {
		return false, nil
	}
	return s.registry.Start(record.ID, s.monitor.Run), nil
}

// StopMonitor cancels the payment's monitor if one is running.
func (s *Service) StopMonitor(id int64) bool {
	return s.registry.Stop(id)
}

// ActiveMonitors lists the currently monitored payments.
func (s *Service) ActiveMonitors() []int64 {
	return s.registry.Active()
}

// syncFromGateway fetches the live status and reconciles it.
func (s *Service) syncFromGateway(ctx context.Context, record *paymentmodel.PaymentRecord, source string) error {
	var (
		info *gateway.PaymentInfo
		err  error
	)
	if record.GatewayPaymentID != nil && *record.GatewayPaymentID != "" {
		info, err = s.gateway.GetPayment(ctx, *record.GatewayPaymentID)
	} else {
		info, err = s.gateway.SearchByReference(ctx, record.ExternalReference)
	}
	if err != nil {
		return err
	}

	_, err = s.reconciler.Reconcile(ctx, record, Observation{
		Status:           info.Status,
		GatewayPaymentID: info.ID,
		ObservedAt:       time.Now(),
		Source:           source,
		Authoritative:    true,
	})
	return err
}
