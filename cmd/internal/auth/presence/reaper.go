package presence

import (
	"context"
	"log/slog"
	"time"
)

// Reaper runs ExpireStale on a fixed interval until its context ends.
type Reaper struct {
	c        *Controller
	log      *slog.Logger
	interval time.Duration
}

// NewReaper returns a Reaper for c. A non-positive interval uses the
// controller's ReapInterval.
func NewReaper(c *Controller, log *slog.Logger, interval time.Duration) *Reaper {
	if interval <= 0 {
		interval = c.cfg.ReapInterval
	}
	if interval <= 0 {
		interval = DefaultConfig().ReapInterval
	}
	if log == nil {
		log = c.log
	}
	return &Reaper{c: c, log: log, interval: interval}
}

// Run blocks until ctx is done. It always returns nil so it can sit in an
// errgroup next to the HTTP server.
func (r *Reaper) Run(ctx context.Context) error {
	t := time.NewTicker(r.interval)
	defer t.Stop()

	r.log.Info("presence.reaper.start", slog.Duration("interval", r.interval), slog.Duration("session_ttl", r.c.cfg.SessionTTL))
	for {
		select {
		case <-ctx.Done():
			r.log.Info("presence.reaper.stop")
			return nil
		case <-t.C:
			r.tick(ctx)
		}
	}
}

func (r *Reaper) tick(ctx context.Context) {
	n, err := r.c.ExpireStale(ctx, r.c.now())
	if err != nil {
		if ctx.Err() == nil {
			r.log.Error("presence.reaper.fail", slog.Any("err", err))
		}
		return
	}
	if n > 0 {
		r.log.Info("presence.reaper.expired", slog.Int("count", n))
	}
}
