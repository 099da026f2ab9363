package payment_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/payment-reconciliation/internal/payment"
)

var _ = Describe("Registry", func() {
	var registry *payment.Registry

	BeforeEach(func() {
		registry = payment.NewRegistry(testMetrics(), testLogger())
	})

	blockUntilCancelled := func(ctx context.Context, handle *payment.MonitorHandle) {
		<-ctx.Done()
	}

	It("should run at most one monitor per payment", func() {
		Expect(registry.Start(1, blockUntilCancelled)).To(BeTrue())
		Expect(registry.Start(1, blockUntilCancelled)).To(BeFalse())
		Expect(registry.Len()).To(Equal(1))

		registry.StopAll(time.Second)
	})

	It("should track independent payments separately", func() {
		Expect(registry.Start(1, blockUntilCancelled)).To(BeTrue())
		Expect(registry.Start(2, blockUntilCancelled)).To(BeTrue())

		Expect(registry.Active()).To(Equal([]int64{1, 2}))

		registry.StopAll(time.Second)
	})

	It("should deregister a monitor when its run function returns", func() {
		started := make(chan struct{})
		release := make(chan struct{})

		registry.Start(7, func(ctx context.Context, handle *payment.MonitorHandle) {
			close(started)
			<-release
		})

		<-started
		Expect(registry.Len()).To(Equal(1))

		close(release)
		Eventually(registry.Len).Should(Equal(0))
	})

	It("should allow a new monitor after the old one finished", func() {
		done := make(chan struct{})
		registry.Start(3, func(ctx context.Context, handle *payment.MonitorHandle) {
			close(done)
		})
		<-done
		Eventually(registry.Len).Should(Equal(0))

		Expect(registry.Start(3, blockUntilCancelled)).To(BeTrue())
		registry.StopAll(time.Second)
	})

	Describe("Stop", func() {
		It("should cancel the monitor's context", func() {
			cancelled := make(chan struct{})
			registry.Start(5, func(ctx context.Context, handle *payment.MonitorHandle) {
				<-ctx.Done()
				close(cancelled)
			})

			Expect(registry.Stop(5)).To(BeTrue())
			Eventually(cancelled).Should(BeClosed())
			Eventually(registry.Len).Should(Equal(0))
		})

		It("should report false for an unknown payment", func() {
			Expect(registry.Stop(99)).To(BeFalse())
		})
	})

	Describe("StopAll", func() {
		It("should cancel every monitor and wait for them", func() {
			for id := int64(1); id <= 5; id++ {
				registry.Start(id, blockUntilCancelled)
			}
			Expect(registry.Len()).To(Equal(5))

			registry.StopAll(time.Second)

			Eventually(registry.Len).Should(Equal(0))
		})
	})
})
