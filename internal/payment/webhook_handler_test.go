package payment_test

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	paymentmodel "github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/payment"
	"github.com/frahmantamala/payment-reconciliation/internal/gateway"
	"github.com/frahmantamala/payment-reconciliation/internal/payment"
	"github.com/frahmantamala/payment-reconciliation/internal/transport"
)

var _ = Describe("WebhookHandler", func() {
	var (
		repo     *mockRepository
		gw       *mockGateway
		registry *payment.Registry
		handler  *payment.WebhookHandler
		record   *paymentmodel.PaymentRecord
	)

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/gateway", bytes.NewBufferString(body))
		rec := httptest.NewRecorder()
		handler.HandleNotification(rec, req)
		return rec
	}

	BeforeEach(func() {
		repo = newMockRepository()
		gw = newMockGateway()
		m := testMetrics()
		logger := testLogger()
		reconciler := payment.NewReconciler(repo, nil, m, logger)
		monitor := payment.NewMonitor(repo, gw, reconciler, m, logger, 5*time.Millisecond, 100*time.Millisecond)
		registry = payment.NewRegistry(m, logger)
		batch := payment.NewBatchReconciler(repo, gw, reconciler, m, logger, 20)
		service := payment.NewService(repo, gw, reconciler, monitor, registry, batch, payment.ServiceConfig{
			CheckoutExpiry: time.Hour,
		}, logger)
		handler = payment.NewWebhookHandler(transport.NewBaseHandler(logger), service, logger)

		gatewayID := "gw-1"
		record = repo.seed(&paymentmodel.PaymentRecord{
			TenantID: "tenant-1", ExternalReference: "pay_abc",
			GatewayPaymentID: &gatewayID,
			Status:           paymentmodel.StatusPending,
		})
	})

	AfterEach(func() {
		registry.StopAll(time.Second)
	})

	It("should apply a valid notification and return 200", func() {
		rec := post(`{"topic": "payment", "resource_id": "gw-1", "status": "approved"}`)

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(repo.stored(record.ID).Status).To(Equal(paymentmodel.StatusApproved))
	})

	It("should resolve the id nested under data", func() {
		gw.setPayment(gateway.PaymentInfo{
			ID: "gw-1", ExternalReference: "pay_abc",
			Status: paymentmodel.StatusApproved,
		})

		rec := post(`{"topic": "payment", "data": {"id": "gw-1"}}`)

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(repo.stored(record.ID).Status).To(Equal(paymentmodel.StatusApproved))
		Expect(repo.stored(record.ID).LastSyncedAt).NotTo(BeNil())
	})

	It("should reject an unreadable body with 400", func() {
		rec := post(`{not json`)

		Expect(rec.Code).To(Equal(http.StatusBadRequest))
	})

	It("should acknowledge a notification without any identifier", func() {
		rec := post(`{"topic": "payment"}`)

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring("ignored"))
	})

	It("should acknowledge a notification for an unknown payment", func() {
		rec := post(`{"resource_id": "gw-missing", "status": "approved"}`)

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(repo.stored(record.ID).Status).To(Equal(paymentmodel.StatusPending))
	})

	It("should return 200 for duplicate deliveries", func() {
		first := post(`{"resource_id": "gw-1", "status": "approved"}`)
		second := post(`{"resource_id": "gw-1", "status": "approved"}`)

		Expect(first.Code).To(Equal(http.StatusOK))
		Expect(second.Code).To(Equal(http.StatusOK))
		Expect(repo.stored(record.ID).Status).To(Equal(paymentmodel.StatusApproved))
	})
})
