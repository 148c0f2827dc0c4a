package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// Ticker runs Tick on a cron spec such as "@every 10m". A tick that is still
// running when the next one fires causes that one to be skipped.
type Ticker struct {
	driver *Driver
	spec   string
	logger *slog.Logger

	mu     sync.Mutex
	cron   *cron.Cron
	cancel context.CancelFunc
}

// NewTicker creates a Ticker for driver.
func NewTicker(driver *Driver, spec string, logger *slog.Logger) *Ticker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ticker{driver: driver, spec: spec, logger: logger}
}

// Start registers the tick and starts the cron loop.
func (t *Ticker) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cron != nil {
		return fmt.Errorf("ticker already started")
	}

	tickCtx, cancel := context.WithCancel(ctx)
	logger := cronLogger{t.logger}
	c := cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	if _, err := c.AddFunc(t.spec, func() {
		if _, err := t.driver.Tick(tickCtx); err != nil {
			t.logger.ErrorContext(tickCtx, "tick failed", "error", err)
		}
	}); err != nil {
		cancel()
		return fmt.Errorf("parse scheduler interval %q: %w", t.spec, err)
	}

	c.Start()
	t.cron = c
	t.cancel = cancel
	t.logger.Info("scheduler ticker started", "interval", t.spec)
	return nil
}

// Stop cancels the running tick, if any, and waits for it to return.
func (t *Ticker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cron == nil {
		return
	}
	t.cancel()
	<-t.cron.Stop().Done()
	t.cron = nil
	t.cancel = nil
	t.logger.Info("scheduler ticker stopped")
}

// cronLogger routes robfig/cron logs to slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
