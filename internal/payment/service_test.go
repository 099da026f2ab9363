package payment_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	apperrors "github.com/frahmantamala/payment-reconciliation/internal"
	paymentmodel "github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/payment"
	"github.com/frahmantamala/payment-reconciliation/internal/gateway"
	"github.com/frahmantamala/payment-reconciliation/internal/payment"
)

var _ = Describe("Service", func() {
	var (
		repo     *mockRepository
		gw       *mockGateway
		registry *payment.Registry
		service  *payment.Service
		ctx      context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		repo = newMockRepository()
		gw = newMockGateway()
		m := testMetrics()
		logger := testLogger()
		reconciler := payment.NewReconciler(repo, nil, m, logger)
		monitor := payment.NewMonitor(repo, gw, reconciler, m, logger, 5*time.Millisecond, 100*time.Millisecond)
		registry = payment.NewRegistry(m, logger)
		batch := payment.NewBatchReconciler(repo, gw, reconciler, m, logger, 20)
		service = payment.NewService(repo, gw, reconciler, monitor, registry, batch, payment.ServiceConfig{
			CheckoutExpiry:  time.Hour,
			NotificationURL: "https://example.test/webhooks/gateway",
		}, logger)
	})

	AfterEach(func() {
		registry.StopAll(time.Second)
	})

	validRequest := func() *payment.CreatePaymentRequest {
		return &payment.CreatePaymentRequest{
			TenantID:    "tenant-1",
			Description: "Order #42",
			Amount:      decimal.RequireFromString("30.50"),
			PayerEmail:  "payer@example.com",
		}
	}

	Describe("CreatePayment", func() {
		It("should persist the record with the checkout session attached", func() {
			record, err := service.CreatePayment(ctx, validRequest())

			Expect(err).ToNot(HaveOccurred())
			Expect(record.ID).ToNot(BeZero())
			Expect(record.Status).To(Equal(paymentmodel.StatusPending))
			Expect(record.ExternalReference).To(HavePrefix("pay_"))
			Expect(record.CheckoutURL).ToNot(BeEmpty())
			Expect(record.ExpiresAt).ToNot(BeNil())
		})

		It("should start a monitor for the new payment", func() {
			record, err := service.CreatePayment(ctx, validRequest())

			Expect(err).ToNot(HaveOccurred())
			Expect(registry.Active()).To(ContainElement(record.ID))
		})

		It("should reject a non-positive amount", func() {
			req := validRequest()
			req.Amount = decimal.Zero

			_, err := service.CreatePayment(ctx, req)

			Expect(err).To(HaveOccurred())
			appErr, ok := apperrors.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Type).To(Equal(apperrors.ErrorTypeValidation))
		})

		It("should not persist anything when the gateway refuses the checkout", func() {
			gw.checkoutErr = &gateway.TransientError{Op: "checkout", Err: context.DeadlineExceeded}

			_, err := service.CreatePayment(ctx, validRequest())

			Expect(err).To(HaveOccurred())
			Expect(repo.records).To(BeEmpty())
		})
	})

	Describe("GetStatus", func() {
		It("should return not found for an unknown payment", func() {
			_, err := service.GetStatus(ctx, 99, false)

			Expect(err).To(MatchError(apperrors.ErrPaymentNotFound))
		})

		It("should serve the stored status without a gateway call", func() {
			record := repo.seed(&paymentmodel.PaymentRecord{
				TenantID: "tenant-1", ExternalReference: "pay_abc",
				Status: paymentmodel.StatusInProcess,
			})

			resp, err := service.GetStatus(ctx, record.ID, false)

			Expect(err).ToNot(HaveOccurred())
			Expect(resp.Status).To(Equal(paymentmodel.StatusInProcess))
			Expect(resp.Synced).To(BeFalse())
			Expect(gw.getCalls).To(Equal(0))
		})

		It("should refresh from the gateway when sync is forced", func() {
			gatewayID := "gw-1"
			record := repo.seed(&paymentmodel.PaymentRecord{
				TenantID: "tenant-1", ExternalReference: "pay_abc",
				GatewayPaymentID: &gatewayID,
				Status:           paymentmodel.StatusPending,
			})
			gw.setPayment(gateway.PaymentInfo{ID: "gw-1", Status: paymentmodel.StatusApproved})

			resp, err := service.GetStatus(ctx, record.ID, true)

			Expect(err).ToNot(HaveOccurred())
			Expect(resp.Status).To(Equal(paymentmodel.StatusApproved))
			Expect(resp.Synced).To(BeTrue())
			Expect(resp.StalenessSeconds).ToNot(BeNil())
		})

		It("should fall back to the stored status when the forced sync fails", func() {
			gatewayID := "gw-1"
			record := repo.seed(&paymentmodel.PaymentRecord{
				TenantID: "tenant-1", ExternalReference: "pay_abc",
				GatewayPaymentID: &gatewayID,
				Status:           paymentmodel.StatusInProcess,
			})
			gw.getErr = &gateway.TransientError{Op: "get", Err: context.DeadlineExceeded}

			resp, err := service.GetStatus(ctx, record.ID, true)

			Expect(err).ToNot(HaveOccurred())
			Expect(resp.Status).To(Equal(paymentmodel.StatusInProcess))
			Expect(resp.Synced).To(BeFalse())
		})

		It("should not call the gateway for a terminal record even when sync is forced", func() {
			record := repo.seed(&paymentmodel.PaymentRecord{
				TenantID: "tenant-1", ExternalReference: "pay_abc",
				Status: paymentmodel.StatusApproved,
			})

			resp, err := service.GetStatus(ctx, record.ID, true)

			Expect(err).ToNot(HaveOccurred())
			Expect(resp.Status).To(Equal(paymentmodel.StatusApproved))
			Expect(gw.getCalls).To(Equal(0))
		})
	})

	Describe("HandleWebhookNotification", func() {
		var record *paymentmodel.PaymentRecord

		BeforeEach(func() {
			gatewayID := "gw-1"
			record = repo.seed(&paymentmodel.PaymentRecord{
				TenantID: "tenant-1", ExternalReference: "pay_abc",
				GatewayPaymentID: &gatewayID,
				Status:           paymentmodel.StatusPending,
			})
		})

		It("should apply a claimed status without a gateway fetch", func() {
			err := service.HandleWebhookNotification(ctx, &payment.WebhookNotification{
				Topic:         "payment",
				ResourceID:    "gw-1",
				ClaimedStatus: "approved",
			})

			Expect(err).ToNot(HaveOccurred())
			stored := repo.stored(record.ID)
			Expect(stored.Status).To(Equal(paymentmodel.StatusApproved))
			Expect(stored.LastSyncedAt).To(BeNil())
			Expect(gw.getCalls).To(Equal(0))
		})

		It("should fetch the gateway for an id-only notification", func() {
			gw.setPayment(gateway.PaymentInfo{ID: "gw-1", Status: paymentmodel.StatusApproved})

			err := service.HandleWebhookNotification(ctx, &payment.WebhookNotification{
				Topic:      "payment",
				ResourceID: "gw-1",
			})

			Expect(err).ToNot(HaveOccurred())
			stored := repo.stored(record.ID)
			Expect(stored.Status).To(Equal(paymentmodel.StatusApproved))
			Expect(stored.LastSyncedAt).ToNot(BeNil())
		})

		It("should be idempotent for duplicate deliveries", func() {
			notification := &payment.WebhookNotification{
				ResourceID:    "gw-1",
				ClaimedStatus: "approved",
			}

			Expect(service.HandleWebhookNotification(ctx, notification)).To(Succeed())
			paidAt := *repo.stored(record.ID).PaidAt

			Expect(service.HandleWebhookNotification(ctx, notification)).To(Succeed())

			stored := repo.stored(record.ID)
			Expect(stored.Status).To(Equal(paymentmodel.StatusApproved))
			Expect(*stored.PaidAt).To(Equal(paidAt))
		})

		It("should ignore a stale status arriving after a newer one", func() {
			Expect(service.HandleWebhookNotification(ctx, &payment.WebhookNotification{
				ResourceID:    "gw-1",
				ClaimedStatus: "approved",
			})).To(Succeed())

			Expect(service.HandleWebhookNotification(ctx, &payment.WebhookNotification{
				ResourceID:    "gw-1",
				ClaimedStatus: "in_process",
			})).To(Succeed())

			Expect(repo.stored(record.ID).Status).To(Equal(paymentmodel.StatusApproved))
		})

		It("should resolve by external reference when the id is unknown", func() {
			err := service.HandleWebhookNotification(ctx, &payment.WebhookNotification{
				ResourceID:        "gw-other",
				ExternalReference: "pay_abc",
				ClaimedStatus:     "in_process",
			})

			Expect(err).ToNot(HaveOccurred())
			Expect(repo.stored(record.ID).Status).To(Equal(paymentmodel.StatusInProcess))
		})

		It("should swallow notifications for unknown payments", func() {
			err := service.HandleWebhookNotification(ctx, &payment.WebhookNotification{
				ResourceID:    "gw-missing",
				ClaimedStatus: "approved",
			})

			Expect(err).ToNot(HaveOccurred())
		})
	})

	Describe("StartPendingMonitors", func() {
		It("should launch monitors for non-terminal payments only", func() {
			gatewayID := "gw-1"
			open := repo.seed(&paymentmodel.PaymentRecord{
				TenantID: "tenant-1", ExternalReference: "pay_1",
				GatewayPaymentID: &gatewayID, Status: paymentmodel.StatusPending,
			})
			repo.seed(&paymentmodel.PaymentRecord{
				TenantID: "tenant-1", ExternalReference: "pay_2",
				Status: paymentmodel.StatusApproved,
			})
			gw.setPayment(gateway.PaymentInfo{ID: "gw-1", Status: paymentmodel.StatusPending})

			started, err := service.StartPendingMonitors("tenant-1", 20)

			Expect(err).ToNot(HaveOccurred())
			Expect(started).To(Equal(1))
			Expect(registry.Active()).To(Equal([]int64{open.ID}))
		})
	})

	Describe("RestartMonitor", func() {
		It("should refuse to monitor a terminal payment", func() {
			record := repo.seed(&paymentmodel.PaymentRecord{
				TenantID: "tenant-1", ExternalReference: "pay_done",
				Status: paymentmodel.StatusApproved,
			})

			started, err := service.RestartMonitor(record.ID)

			Expect(err).ToNot(HaveOccurred())
			Expect(started).To(BeFalse())
			Expect(registry.Len()).To(Equal(0))
		})
	})
})
