package partner

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"vigil/cmd/internal/metrics"
	"vigil/cmd/security/token"
)

// Dispatcher sends notices in the background.
type Dispatcher struct {
	log      *slog.Logger
	notifier Notifier
	timeout  time.Duration
	metrics  *metrics.Metrics

	sem *semaphore.Weighted

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup

	// base is cancelled when Close gives up waiting.
	base   context.Context
	cancel context.CancelFunc
}

// NewDispatcher builds a Dispatcher. A nil notifier means NopNotifier.
func NewDispatcher(log *slog.Logger, notifier Notifier, cfg Config, m *metrics.Metrics) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = DefaultConfig().MaxInFlight
	}
	base, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		log:      log,
		notifier: notifier,
		timeout:  cfg.Timeout,
		metrics:  m,
		sem:      semaphore.NewWeighted(int64(cfg.MaxInFlight)),
		base:     base,
		cancel:   cancel,
	}
}

// Dispatch starts delivery of n and returns immediately.
// Failures are logged and counted, never returned.
func (d *Dispatcher) Dispatch(n Notice) {
	if d == nil {
		return
	}
	attrs := []any{
		"username", n.Username,
		"session_id", n.SessionID,
		"reason", n.Reason,
		"token_fp", token.Fingerprint(n.RevocationToken),
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.log.Warn("partner.notify.dropped", append(attrs, "cause", "shutting_down")...)
		d.metrics.PartnerNotified("dropped", 0)
		return
	}
	if !d.sem.TryAcquire(1) {
		d.mu.Unlock()
		d.log.Warn("partner.notify.dropped", append(attrs, "cause", "saturated")...)
		d.metrics.PartnerNotified("dropped", 0)
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		defer d.sem.Release(1)

		d.metrics.PartnerInflight(1)
		defer d.metrics.PartnerInflight(-1)

		ctx, cancel := context.WithTimeout(d.base, d.timeout)
		defer cancel()

		start := time.Now()
		err := d.notifier.NotifyLogout(ctx, n)
		took := time.Since(start)
		d.metrics.PartnerNotified(outcome(err), took)

		if err != nil {
			d.log.Warn("partner.notify.fail", append(attrs, "outcome", outcome(err), "err", err, "took", took)...)
			return
		}
		d.log.Info("partner.notify.ok", append(attrs, "took", took)...)
	}()
}

// Close stops accepting notices and waits for in-flight ones until ctx ends,
// at which point they are cancelled.
func (d *Dispatcher) Close(ctx context.Context) error {
	if d == nil {
		return nil
	}
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}
