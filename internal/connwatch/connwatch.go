// Package connwatch tracks whether an external service is reachable.
//
// A [Watcher] probes once when started and then keeps probing in the
// background: at a steady interval while the service answers, and with
// exponential backoff while it does not. Callers consult [Watcher.Ready]
// before starting work that needs the service.
package connwatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ProbeFunc checks whether a service is reachable. Return nil if healthy.
type ProbeFunc func(ctx context.Context) error

// Backoff controls how quickly a down service is re-probed.
type Backoff struct {
	// Initial is the delay after the first failure (default: 5s).
	Initial time.Duration
	// Max caps the delay (default: 5m).
	Max time.Duration
	// Multiplier scales the delay after each further failure (default: 2).
	Multiplier float64
}

// Config configures a [Watcher].
type Config struct {
	// Name identifies the service in logs.
	Name string

	Probe   ProbeFunc
	Backoff Backoff

	// PollInterval is the delay between probes while healthy
	// (default: 10m).
	PollInterval time.Duration

	// ProbeTimeout bounds each probe (default: 15s).
	ProbeTimeout time.Duration

	// OnChange, if set, is called from the watcher goroutine whenever
	// readiness flips. It is not called for the initial probe.
	OnChange func(ready bool, err error)

	Logger *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.Backoff.Initial <= 0 {
		c.Backoff.Initial = 5 * time.Second
	}
	if c.Backoff.Max <= 0 {
		c.Backoff.Max = 5 * time.Minute
	}
	if c.Backoff.Max < c.Backoff.Initial {
		c.Backoff.Max = c.Backoff.Initial
	}
	if c.Backoff.Multiplier < 1 {
		c.Backoff.Multiplier = 2
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 10 * time.Minute
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 15 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Status is a point-in-time view of a watched service.
type Status struct {
	Name      string    `json:"name"`
	Ready     bool      `json:"ready"`
	LastCheck time.Time `json:"last_check"`
	LastError string    `json:"last_error,omitempty"`
	// Failures counts consecutive failed probes.
	Failures int `json:"failures"`
}

// Watcher monitors one service.
type Watcher struct {
	config Config
	logger *slog.Logger
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	ready     bool
	lastErr   error
	lastCheck time.Time
	failures  int
}

// Start probes the service once, then keeps watching it in the background
// until ctx is cancelled or Stop is called. Start blocks for at most one
// probe timeout.
//
// Panics if Probe is nil.
func Start(ctx context.Context, cfg Config) *Watcher {
	if cfg.Probe == nil {
		panic("connwatch: Config.Probe must not be nil")
	}
	cfg.applyDefaults()

	watchCtx, cancel := context.WithCancel(ctx)
	w := &Watcher{
		config: cfg,
		logger: cfg.Logger.With("component", "connwatch", "service", cfg.Name),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	err := w.check(watchCtx)
	if err != nil {
		w.logger.Warn("service unreachable at startup", "error", err)
	} else {
		w.logger.Info("service reachable")
	}

	go w.run(watchCtx)
	return w
}

// Ready reports whether the last probe succeeded.
func (w *Watcher) Ready() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ready
}

// Status returns the current health status.
func (w *Watcher) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()

	s := Status{
		Name:      w.config.Name,
		Ready:     w.ready,
		LastCheck: w.lastCheck,
		Failures:  w.failures,
	}
	if w.lastErr != nil {
		s.LastError = w.lastErr.Error()
	}
	return s
}

// Stop cancels the watcher and waits for its goroutine to exit.
func (w *Watcher) Stop() {
	w.cancel()
	<-w.done
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	timer := time.NewTimer(w.nextDelay())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		wasReady := w.Ready()
		err := w.check(ctx)
		if ctx.Err() != nil {
			return
		}

		switch {
		case wasReady && err != nil:
			w.logger.Warn("service became unreachable", "error", err)
			w.notify(false, err)
		case !wasReady && err == nil:
			w.logger.Info("service recovered")
			w.notify(true, nil)
		case err != nil:
			w.logger.Debug("service still unreachable", "failures", w.Status().Failures, "error", err)
		}

		timer.Reset(w.nextDelay())
	}
}

// check runs one probe and records the outcome.
func (w *Watcher) check(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, w.config.ProbeTimeout)
	defer cancel()

	err := w.config.Probe(probeCtx)
	if err == nil && probeCtx.Err() != nil {
		err = probeCtx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		err = errors.New("probe timed out after " + w.config.ProbeTimeout.String())
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastCheck = time.Now()
	w.lastErr = err
	w.ready = err == nil
	if err != nil {
		w.failures++
	} else {
		w.failures = 0
	}
	return err
}

// nextDelay is the poll interval while healthy and the backoff delay for
// the current failure streak otherwise.
func (w *Watcher) nextDelay() time.Duration {
	w.mu.Lock()
	failures := w.failures
	w.mu.Unlock()

	if failures == 0 {
		return w.config.PollInterval
	}
	b := w.config.Backoff
	delay := b.Initial
	for i := 1; i < failures && delay < b.Max; i++ {
		delay = time.Duration(float64(delay) * b.Multiplier)
	}
	return min(delay, b.Max)
}

func (w *Watcher) notify(ready bool, err error) {
	if w.config.OnChange != nil {
		w.config.OnChange(ready, err)
	}
}
