/*
scheduler.go - Background reseal of cortes with unsealed sales

PURPOSE:
  Periodically retries the seal of sales that a close could not seal.
  Until they are sealed under their corte, the next close of the register
  would count them a second time.

DESIGN:
  - Runs a background goroutine with a configurable check interval
  - Looks at the most recent cortes only (Window)
  - Skips registers with a close in flight; they are retried next tick
  - Results are logged and counted in fiscal_resealed_total

CONFIGURATION:
  - CheckInterval: How often to check (default: 10 minutes)
  - Window: How many recent cortes to inspect (default: 20)
  - Enabled: Whether the scheduler is active (default: true)

USAGE:
  scheduler := NewResealScheduler(handler, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - fiscal/closer.go: Closer.Reseal
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ResealScheduler reseals leftovers of recent cortes in the background.
type ResealScheduler struct {
	Handler       *Handler
	CheckInterval time.Duration
	Window        int
	Enabled       bool

	log    *zap.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewResealScheduler creates a new scheduler.
func NewResealScheduler(handler *Handler, log *zap.Logger) *ResealScheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &ResealScheduler{
		Handler:       handler,
		CheckInterval: 10 * time.Minute,
		Window:        20,
		Enabled:       true,
		log:           log,
	}
}

// Start begins the scheduler.
func (rs *ResealScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled {
		rs.log.Info("reseal scheduler disabled")
		return
	}
	if rs.ticker != nil {
		return
	}

	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.stop = make(chan struct{})
	rs.wg.Add(1)

	go rs.run()

	rs.log.Info("reseal scheduler started", zap.Duration("interval", rs.CheckInterval))
}

// Stop stops the scheduler and waits for a running pass to finish.
func (rs *ResealScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker != nil {
		rs.ticker.Stop()
		close(rs.stop)
		rs.wg.Wait()
		rs.ticker = nil
		rs.log.Info("reseal scheduler stopped")
	}
}

func (rs *ResealScheduler) run() {
	defer rs.wg.Done()

	// Run immediately on start
	rs.RunNow()

	for {
		select {
		case <-rs.ticker.C:
			rs.RunNow()
		case <-rs.stop:
			return
		}
	}
}

// RunNow runs one reseal pass synchronously.
func (rs *ResealScheduler) RunNow() {
	ctx, cancel := context.WithTimeout(context.Background(), rs.CheckInterval)
	defer cancel()

	res, err := rs.Handler.Closer.Reseal(ctx, rs.Window)
	if err != nil {
		rs.log.Error("reseal pass failed", zap.Error(err))
		return
	}

	rs.Handler.Metrics.Resealed.Add(float64(res.Sealed))
	if res.Cortes > 0 || res.Skipped > 0 {
		rs.log.Info("reseal pass completed",
			zap.Int("cortes", res.Cortes),
			zap.Int("skipped", res.Skipped),
			zap.Int("sealed", res.Sealed),
			zap.Int("seal_failures", len(res.Failed)))
	}
}
