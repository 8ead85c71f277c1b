// Package watch polls the ledger for an externally driven state change and
// exposes the wait as a handle that can be awaited or canceled.
package watch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chainsafe/canton-cbtc/internal/metrics"
	sdkerrors "github.com/chainsafe/canton-cbtc/pkg/cantonsdk/errors"

	"go.uber.org/zap"
)

// DefaultInterval is the polling interval used when none is configured.
const DefaultInterval = 30 * time.Second

// CheckFunc observes the ledger once. done reports whether the awaited
// condition holds; retryable errors are logged and the poll continues.
type CheckFunc[T any] func(ctx context.Context) (result T, done bool, err error)

// Config controls a poll.
type Config struct {
	// Name labels logs and metrics.
	Name string
	// Interval between observations. Zero means DefaultInterval.
	Interval time.Duration
	// Timeout bounds the whole wait. Zero means wait until canceled or until
	// the parent context's deadline, which also ends in a timeout error.
	Timeout time.Duration
}

// Handle is a running poll.
type Handle[T any] struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	result T
	err    error
}

// Start begins polling in the background. The first observation happens
// immediately.
func Start[T any](ctx context.Context, cfg Config, check CheckFunc[T], logger *zap.Logger) *Handle[T] {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(ctx)
	h := &Handle[T]{cancel: cancel, done: make(chan struct{})}

	go h.run(ctx, cfg, check, logger.With(zap.String("watch", cfg.Name)))
	return h
}

func (h *Handle[T]) run(ctx context.Context, cfg Config, check CheckFunc[T], logger *zap.Logger) {
	defer close(h.done)
	defer h.cancel()

	var deadline <-chan time.Time
	if cfg.Timeout > 0 {
		timer := time.NewTimer(cfg.Timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	attempt := 0
	for {
		attempt++
		res, done, err := check(ctx)
		switch {
		case err != nil && ctx.Err() != nil:
			h.finish(res, stopped(ctx, cfg))
			return
		case err != nil && errors.Is(err, context.Canceled):
			h.finish(res, err)
			return
		case err != nil && !sdkerrors.IsRetryable(err):
			metrics.PollAttempts.WithLabelValues(cfg.Name, "failed").Inc()
			h.finish(res, err)
			return
		case err != nil:
			metrics.PollAttempts.WithLabelValues(cfg.Name, "retry").Inc()
			logger.Warn("poll failed, will retry", zap.Int("attempt", attempt), zap.Error(err))
		case done:
			metrics.PollAttempts.WithLabelValues(cfg.Name, "done").Inc()
			logger.Info("awaited state reached", zap.Int("attempts", attempt))
			h.finish(res, nil)
			return
		default:
			metrics.PollAttempts.WithLabelValues(cfg.Name, "pending").Inc()
			logger.Debug("still pending", zap.Int("attempt", attempt))
		}

		select {
		case <-ctx.Done():
			h.finish(res, stopped(ctx, cfg))
			return
		case <-deadline:
			h.finish(res, sdkerrors.TimeoutError(fmt.Errorf("%s not reached within %s", cfg.Name, cfg.Timeout)))
			return
		case <-ticker.C:
		}
	}
}

// stopped maps the end of ctx to the poll's error. A caller deadline is a
// timeout like cfg.Timeout; cancellation stays context.Canceled.
func stopped(ctx context.Context, cfg Config) error {
	err := ctx.Err()
	if errors.Is(err, context.DeadlineExceeded) {
		return sdkerrors.TimeoutError(fmt.Errorf("%s not reached before deadline: %w", cfg.Name, err))
	}
	return err
}

func (h *Handle[T]) finish(res T, err error) {
	h.mu.Lock()
	h.result, h.err = res, err
	h.mu.Unlock()
}

// Wait blocks until the poll ends and returns its outcome.
func (h *Handle[T]) Wait() (T, error) {
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result, h.err
}

// Done is closed when the poll ends.
func (h *Handle[T]) Done() <-chan struct{} {
	return h.done
}

// Cancel stops the poll. It only stops local observation; the awaited
// process continues on its own.
func (h *Handle[T]) Cancel() {
	h.cancel()
}
