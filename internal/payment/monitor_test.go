package payment_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"

	paymentmodel "github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/payment"
	"github.com/frahmantamala/payment-reconciliation/internal/gateway"
	"github.com/frahmantamala/payment-reconciliation/internal/metrics"
	"github.com/frahmantamala/payment-reconciliation/internal/payment"
)

var _ = Describe("Monitor", func() {
	var (
		repo    *mockRepository
		gw      *mockGateway
		m       *metrics.ReconciliationMetrics
		monitor *payment.Monitor
		record  *paymentmodel.PaymentRecord
	)

	newMonitor := func(checkInterval, maxDuration time.Duration) *payment.Monitor {
		reconciler := payment.NewReconciler(repo, nil, m, testLogger())
		return payment.NewMonitor(repo, gw, reconciler, m, testLogger(), checkInterval, maxDuration)
	}

	run := func() {
		handle := &payment.MonitorHandle{PaymentID: record.ID}
		monitor.Run(context.Background(), handle)
	}

	BeforeEach(func() {
		repo = newMockRepository()
		gw = newMockGateway()
		m = testMetrics()
		gatewayID := "gw-1"
		record = repo.seed(&paymentmodel.PaymentRecord{
			TenantID:          "tenant-1",
			ExternalReference: "pay_abc",
			GatewayPaymentID:  &gatewayID,
			Status:            paymentmodel.StatusPending,
		})
	})

	It("should stop once the gateway reports a terminal status", func() {
		gw.setPayment(gateway.PaymentInfo{
			ID:                "gw-1",
			ExternalReference: "pay_abc",
			Status:            paymentmodel.StatusApproved,
		})
		monitor = newMonitor(5*time.Millisecond, time.Second)

		run()

		stored := repo.stored(record.ID)
		Expect(stored.Status).To(Equal(paymentmodel.StatusApproved))
		Expect(stored.PaidAt).ToNot(BeNil())
	})

	It("should stop without polling when the record is already terminal", func() {
		record.Status = paymentmodel.StatusRejected
		repo.seed(record)
		monitor = newMonitor(5*time.Millisecond, time.Second)

		run()

		Expect(gw.getCalls).To(Equal(0))
	})

	It("should keep polling through intermediate statuses", func() {
		gw.setPayment(gateway.PaymentInfo{ID: "gw-1", Status: paymentmodel.StatusInProcess})
		monitor = newMonitor(5*time.Millisecond, 100*time.Millisecond)

		go func() {
			time.Sleep(30 * time.Millisecond)
			gw.setPayment(gateway.PaymentInfo{ID: "gw-1", Status: paymentmodel.StatusApproved})
		}()

		run()

		Expect(repo.stored(record.ID).Status).To(Equal(paymentmodel.StatusApproved))
	})

	It("should tolerate the payment not being visible at the gateway yet", func() {
		// nothing registered on the gateway side at first
		monitor = newMonitor(5*time.Millisecond, 200*time.Millisecond)

		go func() {
			time.Sleep(30 * time.Millisecond)
			gw.setPayment(gateway.PaymentInfo{ID: "gw-1", Status: paymentmodel.StatusApproved})
		}()

		run()

		Expect(repo.stored(record.ID).Status).To(Equal(paymentmodel.StatusApproved))
	})

	It("should search by reference while the gateway id is unknown", func() {
		record.GatewayPaymentID = nil
		repo.seed(record)
		gw.setPayment(gateway.PaymentInfo{
			ID:                "gw-2",
			ExternalReference: "pay_abc",
			Status:            paymentmodel.StatusApproved,
		})
		monitor = newMonitor(5*time.Millisecond, time.Second)

		run()

		stored := repo.stored(record.ID)
		Expect(stored.Status).To(Equal(paymentmodel.StatusApproved))
		Expect(stored.GatewayPaymentID).ToNot(BeNil())
		Expect(*stored.GatewayPaymentID).To(Equal("gw-2"))
		Expect(gw.searchCalls).To(BeNumerically(">", 0))
	})

	It("should stop when a payment it has seen disappears from the gateway", func() {
		gw.setPayment(gateway.PaymentInfo{
			ID:                "gw-1",
			ExternalReference: "pay_abc",
			Status:            paymentmodel.StatusInProcess,
		})
		monitor = newMonitor(5*time.Millisecond, 2*time.Second)

		go func() {
			time.Sleep(30 * time.Millisecond)
			gw.removePayment("gw-1")
		}()

		start := time.Now()
		run()

		// exits on the first not-found after a successful fetch, well
		// before the duration budget
		Expect(time.Since(start)).To(BeNumerically("<", time.Second))
		Expect(repo.stored(record.ID).Status).To(Equal(paymentmodel.StatusInProcess))
		Expect(testutil.ToFloat64(m.MonitorTimeoutsTotal)).To(Equal(0.0))
	})

	It("should give up when the duration budget runs out", func() {
		gw.setPayment(gateway.PaymentInfo{ID: "gw-1", Status: paymentmodel.StatusPending})
		monitor = newMonitor(5*time.Millisecond, 50*time.Millisecond)

		start := time.Now()
		run()

		Expect(time.Since(start)).To(BeNumerically("<", 500*time.Millisecond))
		Expect(repo.stored(record.ID).Status).To(Equal(paymentmodel.StatusPending))
		Expect(testutil.ToFloat64(m.MonitorTimeoutsTotal)).To(Equal(1.0))
	})

	It("should keep polling across transient gateway errors", func() {
		gw.getErr = &gateway.TransientError{Op: "get", Err: context.DeadlineExceeded}
		monitor = newMonitor(5*time.Millisecond, 100*time.Millisecond)

		go func() {
			time.Sleep(30 * time.Millisecond)
			gw.mu.Lock()
			gw.getErr = nil
			gw.mu.Unlock()
			gw.setPayment(gateway.PaymentInfo{ID: "gw-1", Status: paymentmodel.StatusApproved})
		}()

		run()

		Expect(repo.stored(record.ID).Status).To(Equal(paymentmodel.StatusApproved))
	})

	It("should exit when cancelled", func() {
		gw.setPayment(gateway.PaymentInfo{ID: "gw-1", Status: paymentmodel.StatusPending})
		monitor = newMonitor(5*time.Millisecond, time.Minute)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			monitor.Run(ctx, &payment.MonitorHandle{PaymentID: record.ID})
			close(done)
		}()

		cancel()
		Eventually(done).Should(BeClosed())
	})
})
