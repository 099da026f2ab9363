package payment

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/frahmantamala/payment-reconciliation/internal/metrics"
)

// MonitorHandle is the registry's bookkeeping for one running monitor.
// It never outlives the monitor goroutine it belongs to.
type MonitorHandle struct {
	PaymentID int64
	StartedAt time.Time

	cancel     context.CancelFunc
	done       chan struct{}
	checkCount atomic.Int64
}

func (h *MonitorHandle) CheckCount() int64 {
	return h.checkCount.Load()
}

func (h *MonitorHandle) incrementChecks() {
	h.checkCount.Add(1)
}

// Registry keeps the process-wide table of running payment monitors
// and guarantees at most one monitor per payment. All membership
// changes go through the mutex; monitors deregister themselves on
// every exit path.
type Registry struct {
	mu       sync.Mutex
	monitors map[int64]*MonitorHandle
	logger   *slog.Logger
	metrics  *metrics.ReconciliationMetrics
}

func NewRegistry(m *metrics.ReconciliationMetrics, logger *slog.Logger) *Registry {
	return &Registry{
		monitors: make(map[int64]*MonitorHandle),
		logger:   logger,
		metrics:  m,
	}
}

// RunFunc is the monitor body executed in its own goroutine. The
// context carries the registry's cancellation signal.
type RunFunc func(ctx context.Context, handle *MonitorHandle)

// Start registers and launches a monitor for the payment. It is
// idempotent: a second call while a monitor is running is a no-op and
// returns false.
func (r *Registry) Start(paymentID int64, run RunFunc) bool {
	r.mu.Lock()
	if _, active := r.monitors[paymentID]; active {
		r.mu.Unlock()
		r.logger.Debug("monitor already active", "payment_id", paymentID)
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	handle := &MonitorHandle{
		PaymentID: paymentID,
		StartedAt: time.Now(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	r.monitors[paymentID] = handle
	r.metrics.ActiveMonitors.Set(float64(len(r.monitors)))
	r.mu.Unlock()

	go func() {
		defer func() {
			r.remove(paymentID)
			cancel()
			close(handle.done)
		}()
		run(ctx, handle)
	}()

	r.logger.Info("monitor started", "payment_id", paymentID)
	return true
}

// Stop cancels the payment's monitor if one is running. Cancellation
// is advisory; the monitor exits at its next tick and deregisters
// itself.
func (r *Registry) Stop(paymentID int64) bool {
	r.mu.Lock()
	handle, active := r.monitors[paymentID]
	r.mu.Unlock()

	if !active {
		return false
	}

	handle.cancel()
	r.logger.Info("monitor stop requested", "payment_id", paymentID)
	return true
}

// Active returns the payment ids with a running monitor, sorted for
// stable output.
func (r *Registry) Active() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]int64, 0, len(r.monitors))
	for id := range r.monitors {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.monitors)
}

// StopAll cancels every monitor and waits for them to exit, bounded by
// the given timeout. Used on shutdown.
func (r *Registry) StopAll(timeout time.Duration) {
	r.mu.Lock()
	handles := make([]*MonitorHandle, 0, len(r.monitors))
	for _, h := range r.monitors {
		h.cancel()
		handles = append(handles, h)
	}
	r.mu.Unlock()

	deadline := time.After(timeout)
	for _, h := range handles {
		select {
		case <-h.done:
		case <-deadline:
			r.logger.Warn("timed out waiting for monitors to stop",
				"remaining", r.Len())
			return
		}
	}
}

func (r *Registry) remove(paymentID int64) {
	r.mu.Lock()
	delete(r.monitors, paymentID)
	r.metrics.ActiveMonitors.Set(float64(len(r.monitors)))
	r.mu.Unlock()

	r.logger.Info("monitor deregistered", "payment_id", paymentID)
}
