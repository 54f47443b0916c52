// Copyright 2026 © The Kaiba Authors
// SPDX-License-Identifier: Apache-2.0

package scheduler

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"
	"time"
)

// Cycler runs one cycle. *Runner implements it.
type Cycler interface {
	RunCycle(ctx context.Context) (*Report, error)
}

// Worker runs cycles periodically until stopped.
type Worker struct {
	cycler   Cycler
	interval time.Duration
	log      *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewWorker creates a stopped worker.
func NewWorker(cycler Cycler, interval time.Duration) *Worker {
	return &Worker{cycler: cycler, interval: interval, log: slog.Default()}
}

// Start launches the loop. The first cycle runs after one full interval.
// Starting a running worker restarts it.
func (w *Worker) Start(ctx context.Context) {
	if w.interval <= 0 {
		w.log.Info("scheduler.worker.disabled", slog.Duration("interval", w.interval))
		return
	}
	w.Stop()

	w.mu.Lock()
	defer w.mu.Unlock()
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	w.cancel = cancel
	w.done = done
	go func() {
		defer close(done)
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		w.log.Info("scheduler.worker.start", slog.Duration("interval", w.interval))
		for {
			select {
			case <-ctx.Done():
				w.log.Info("scheduler.worker.stop")
				return
			case <-ticker.C:
				if _, err := w.cycler.RunCycle(ctx); err != nil && !stderrors.Is(err, context.Canceled) {
					w.log.Warn("scheduler.cycle.error", slog.String("error", err.Error()))
				}
			}
		}
	}()
}

// Stop cancels the loop, including a cycle in progress, and waits for it to exit.
func (w *Worker) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel, w.done = nil, nil
	w.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}
