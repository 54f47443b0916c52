// Copyright 2026 © The Kaiba Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Watcher polls the config file and its profile overlay and reloads the
// configuration when either changes. Listeners only see configurations that
// loaded and validated.
type Watcher struct {
	opts     Options
	paths    []string
	interval time.Duration
	logger   *slog.Logger

	mu        sync.RWMutex
	modTimes  map[string]time.Time
	config    *Config
	listeners []func(*Config)

	cancel context.CancelFunc
	done   chan struct{}
}

// WatcherOption configures the watcher.
type WatcherOption func(*Watcher)

// WithWatchInterval sets the polling interval.
func WithWatchInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithWatchLogger sets the logger for the watcher.
func WithWatchLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// NewWatcher loads the initial configuration from opts.
func NewWatcher(opts Options, wopts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		opts:     opts,
		interval: time.Second,
		logger:   slog.Default(),
		modTimes: make(map[string]time.Time),
	}
	for _, o := range wopts {
		o(w)
	}
	if opts.Path != "" {
		w.paths = append(w.paths, opts.Path)
		if opts.Profile != "" {
			w.paths = append(w.paths, ProfilePath(opts.Path, opts.Profile))
		}
	}
	w.changed()

	cfg, err := LoadWith(opts)
	if err != nil {
		return nil, err
	}
	w.config = cfg
	return w, nil
}

// OnChange registers fn to run after every successful reload.
func (w *Watcher) OnChange(fn func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listeners = append(w.listeners, fn)
}

// Config returns the current configuration.
func (w *Watcher) Config() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.config
}

// Start begins polling. Without a file there is nothing to watch.
func (w *Watcher) Start(ctx context.Context) {
	if len(w.paths) == 0 {
		return
	}
	w.Stop()
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	w.mu.Lock()
	w.cancel, w.done = cancel, done
	w.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if w.changed() {
					w.reload()
				}
			}
		}
	}()
}

// Stop ends polling and waits for the loop to exit.
func (w *Watcher) Stop() {
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

func (w *Watcher) changed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	changed := false
	for _, path := range w.paths {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if last, ok := w.modTimes[path]; !ok || !info.ModTime().Equal(last) {
			w.modTimes[path] = info.ModTime()
			changed = true
		}
	}
	return changed
}

func (w *Watcher) reload() {
	cfg, err := LoadWith(w.opts)
	if err != nil {
		w.logger.Error("config.reload.error", slog.String("error", err.Error()))
		return
	}

	w.mu.Lock()
	w.config = cfg
	listeners := make([]func(*Config), len(w.listeners))
	copy(listeners, w.listeners)
	w.mu.Unlock()

	w.logger.Info("config.reload.complete", slog.String("path", w.opts.Path))
	for _, fn := range listeners {
		fn(cfg)
	}
}
