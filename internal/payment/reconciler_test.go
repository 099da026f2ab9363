package payment_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	paymentmodel "github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/payment"
	"github.com/frahmantamala/payment-reconciliation/internal/core/events"
	"github.com/frahmantamala/payment-reconciliation/internal/payment"
)

var errStoreDown = errors.New("store unavailable")

var _ = Describe("Reconciler", func() {
	var (
		repo       *mockRepository
		reconciler *payment.Reconciler
		record     *paymentmodel.PaymentRecord
		ctx        context.Context
	)

	observe := func(status paymentmodel.Status) payment.Observation {
		return payment.Observation{
			Status:        status,
			ObservedAt:    time.Now(),
			Source:        payment.SourcePoll,
			Authoritative: true,
		}
	}

	BeforeEach(func() {
		ctx = context.Background()
		repo = newMockRepository()
		reconciler = payment.NewReconciler(repo, events.NewEventBus(testLogger()), testMetrics(), testLogger())
		record = repo.seed(&paymentmodel.PaymentRecord{
			TenantID:          "tenant-1",
			ExternalReference: "pay_abc",
			Status:            paymentmodel.StatusPending,
		})
	})

	Describe("forward transitions", func() {
		It("should accept each happy path step", func() {
			for _, status := range []paymentmodel.Status{
				paymentmodel.StatusInProcess,
				paymentmodel.StatusAuthorized,
				paymentmodel.StatusApproved,
			} {
				changed, err := reconciler.Reconcile(ctx, record, observe(status))
				Expect(err).ToNot(HaveOccurred())
				Expect(changed).To(BeTrue())
				Expect(record.Status).To(Equal(status))
			}
			Expect(repo.stored(record.ID).Status).To(Equal(paymentmodel.StatusApproved))
		})

		It("should allow jumping straight from pending to approved", func() {
			changed, err := reconciler.Reconcile(ctx, record, observe(paymentmodel.StatusApproved))

			Expect(err).ToNot(HaveOccurred())
			Expect(changed).To(BeTrue())
			Expect(record.PaidAt).ToNot(BeNil())
		})
	})

	Describe("out-of-order observations", func() {
		It("should ignore a lower-ranked status without error", func() {
			_, err := reconciler.Reconcile(ctx, record, observe(paymentmodel.StatusAuthorized))
			Expect(err).ToNot(HaveOccurred())

			changed, err := reconciler.Reconcile(ctx, record, observe(paymentmodel.StatusInProcess))

			Expect(err).ToNot(HaveOccurred())
			Expect(changed).To(BeFalse())
			Expect(record.Status).To(Equal(paymentmodel.StatusAuthorized))
		})

		It("should treat a duplicate status as a no-op", func() {
			_, err := reconciler.Reconcile(ctx, record, observe(paymentmodel.StatusInProcess))
			Expect(err).ToNot(HaveOccurred())

			changed, err := reconciler.Reconcile(ctx, record, observe(paymentmodel.StatusInProcess))

			Expect(err).ToNot(HaveOccurred())
			Expect(changed).To(BeFalse())
		})

		It("should keep a terminal status against any later observation", func() {
			_, err := reconciler.Reconcile(ctx, record, observe(paymentmodel.StatusRejected))
			Expect(err).ToNot(HaveOccurred())

			for _, status := range []paymentmodel.Status{
				paymentmodel.StatusPending,
				paymentmodel.StatusApproved,
				paymentmodel.StatusCancelled,
			} {
				changed, err := reconciler.Reconcile(ctx, record, observe(status))
				Expect(err).ToNot(HaveOccurred())
				Expect(changed).To(BeFalse())
				Expect(record.Status).To(Equal(paymentmodel.StatusRejected))
			}
		})
	})

	Describe("edge rules", func() {
		It("should refuse refunded unless the payment was approved", func() {
			changed, err := reconciler.Reconcile(ctx, record, observe(paymentmodel.StatusRefunded))

			Expect(err).ToNot(HaveOccurred())
			Expect(changed).To(BeFalse())
			Expect(record.Status).To(Equal(paymentmodel.StatusPending))
		})

		It("should accept refunded after approved", func() {
			_, err := reconciler.Reconcile(ctx, record, observe(paymentmodel.StatusApproved))
			Expect(err).ToNot(HaveOccurred())

			changed, err := reconciler.Reconcile(ctx, record, observe(paymentmodel.StatusRefunded))

			Expect(err).ToNot(HaveOccurred())
			Expect(changed).To(BeTrue())
			Expect(record.Status).To(Equal(paymentmodel.StatusRefunded))
		})

		It("should refuse cancelled once the payment is authorized", func() {
			_, err := reconciler.Reconcile(ctx, record, observe(paymentmodel.StatusAuthorized))
			Expect(err).ToNot(HaveOccurred())

			changed, err := reconciler.Reconcile(ctx, record, observe(paymentmodel.StatusCancelled))

			Expect(err).ToNot(HaveOccurred())
			Expect(changed).To(BeFalse())
		})
	})

	Describe("paidAt", func() {
		It("should set paidAt exactly once", func() {
			_, err := reconciler.Reconcile(ctx, record, observe(paymentmodel.StatusApproved))
			Expect(err).ToNot(HaveOccurred())
			firstPaidAt := *record.PaidAt

			_, err = reconciler.Reconcile(ctx, record, observe(paymentmodel.StatusRefunded))
			Expect(err).ToNot(HaveOccurred())

			Expect(*record.PaidAt).To(Equal(firstPaidAt))
		})
	})

	Describe("side effects of ignored observations", func() {
		It("should still learn the gateway payment id", func() {
			obs := observe(paymentmodel.StatusPending)
			obs.GatewayPaymentID = "gw-9"

			changed, err := reconciler.Reconcile(ctx, record, obs)

			Expect(err).ToNot(HaveOccurred())
			Expect(changed).To(BeFalse())
			stored := repo.stored(record.ID)
			Expect(stored.GatewayPaymentID).ToNot(BeNil())
			Expect(*stored.GatewayPaymentID).To(Equal("gw-9"))
		})

		It("should advance last synced time for authoritative duplicates", func() {
			changed, err := reconciler.Reconcile(ctx, record, observe(paymentmodel.StatusPending))

			Expect(err).ToNot(HaveOccurred())
			Expect(changed).To(BeFalse())
			Expect(repo.stored(record.ID).LastSyncedAt).ToNot(BeNil())
		})

		It("should not advance last synced time for webhook claims", func() {
			obs := observe(paymentmodel.StatusPending)
			obs.Source = payment.SourceWebhook
			obs.Authoritative = false

			_, err := reconciler.Reconcile(ctx, record, obs)

			Expect(err).ToNot(HaveOccurred())
			Expect(repo.stored(record.ID).LastSyncedAt).To(BeNil())
		})
	})

	Describe("version conflicts", func() {
		It("should refetch and retry until the write lands", func() {
			repo.forceConflicts = 2

			changed, err := reconciler.Reconcile(ctx, record, observe(paymentmodel.StatusApproved))

			Expect(err).ToNot(HaveOccurred())
			Expect(changed).To(BeTrue())
			Expect(repo.applyCalls).To(Equal(3))
		})

		It("should re-evaluate against the fresh record after losing the race", func() {
			// a concurrent writer moved the record to approved already
			repo.forceConflicts = 1
			concurrent := repo.stored(record.ID)
			concurrent.Status = paymentmodel.StatusApproved
			concurrent.Version++
			repo.seed(concurrent)

			changed, err := reconciler.Reconcile(ctx, record, observe(paymentmodel.StatusInProcess))

			Expect(err).ToNot(HaveOccurred())
			Expect(changed).To(BeFalse())
			Expect(record.Status).To(Equal(paymentmodel.StatusApproved))
		})

		It("should give up after exhausting retries", func() {
			repo.forceConflicts = 10

			_, err := reconciler.Reconcile(ctx, record, observe(paymentmodel.StatusApproved))

			Expect(err).To(MatchError(payment.ErrVersionConflict))
		})

		It("should leave the record untouched when the write fails outright", func() {
			repo.applyError = errStoreDown
			originalUpdatedAt := record.UpdatedAt

			obs := observe(paymentmodel.StatusApproved)
			obs.GatewayPaymentID = "gw-9"
			changed, err := reconciler.Reconcile(ctx, record, obs)

			Expect(err).To(MatchError(errStoreDown))
			Expect(changed).To(BeFalse())
			Expect(record.Status).To(Equal(paymentmodel.StatusPending))
			Expect(record.PaidAt).To(BeNil())
			Expect(record.GatewayPaymentID).To(BeNil())
			Expect(record.LastSyncedAt).To(BeNil())
			Expect(record.UpdatedAt).To(Equal(originalUpdatedAt))
		})
	})

	Describe("interleaved sources", func() {
		It("should converge when webhook and poll race each other", func() {
			webhook := payment.Observation{
				Status:     paymentmodel.StatusApproved,
				ObservedAt: time.Now(),
				Source:     payment.SourceWebhook,
			}
			changed, err := reconciler.Reconcile(ctx, record, webhook)
			Expect(err).ToNot(HaveOccurred())
			Expect(changed).To(BeTrue())

			// the poll still carries the older status
			late := repo.stored(record.ID)
			changed, err = reconciler.Reconcile(ctx, late, observe(paymentmodel.StatusInProcess))
			Expect(err).ToNot(HaveOccurred())
			Expect(changed).To(BeFalse())
			Expect(repo.stored(record.ID).Status).To(Equal(paymentmodel.StatusApproved))
		})
	})
})
