// Copyright 2026 © The Kaiba Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/jllopis/kaiba/pkg/config"
	"github.com/jllopis/kaiba/pkg/core"
	"github.com/jllopis/kaiba/pkg/decision"
	"github.com/jllopis/kaiba/pkg/guardrails"
	"github.com/jllopis/kaiba/pkg/learning"
	"github.com/jllopis/kaiba/pkg/llm"
	geminillm "github.com/jllopis/kaiba/pkg/llm/gemini"
	"github.com/jllopis/kaiba/pkg/memory"
	geminiembed "github.com/jllopis/kaiba/pkg/memory/gemini"
	"github.com/jllopis/kaiba/pkg/memory/ollama"
	"github.com/jllopis/kaiba/pkg/memory/qdrant"
	"github.com/jllopis/kaiba/pkg/resilience"
	"github.com/jllopis/kaiba/pkg/scheduler"
	"github.com/jllopis/kaiba/pkg/search"
	"github.com/jllopis/kaiba/pkg/store"
	"github.com/jllopis/kaiba/pkg/webhook"
)

// app holds the services built from a configuration.
type app struct {
	cfg *config.Config
	log *slog.Logger

	reis       store.ReiRepository
	states     store.StateRepository
	webhooks   webhook.Repository
	deliverer  *webhook.Deliverer
	dispatcher *webhook.Dispatcher
	sweeper    *webhook.Sweeper
	kai        *memory.Kai
	learner    *learning.LearnExecutor
	digester   *learning.DigestExecutor
	runner     *scheduler.Runner
	health     *core.HealthRegistry

	closers []func() error
}

// newApp wires every service. Optional collaborators that cannot be built
// (no search key, unreachable LLM config) leave their executor unset and are
// reported as degraded; RunCycle then answers unavailable.
func newApp(ctx context.Context, cfg *config.Config, log *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log, health: core.NewHealthRegistry()}
	if err := a.openStores(); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.openMemory(ctx); err != nil {
		a.Close()
		return nil, err
	}

	a.deliverer = webhook.NewDeliverer(webhook.NewHTTPTransport(nil, cfg.Webhook.UserAgent), webhook.DelivererConfig{
		Backoff: resilience.Backoff{Base: cfg.Webhook.RetryBaseDelay, Max: cfg.Webhook.RetryMaxDelay},
		Logger:  log,
	})
	a.dispatcher = webhook.NewDispatcher(a.webhooks, a.deliverer, cfg.Webhook.DispatchConcurrency)
	a.sweeper = webhook.NewSweeper(a.webhooks, a.deliverer, webhook.SweeperConfig{
		Interval: cfg.Webhook.SweepInterval,
		MinAge:   cfg.Webhook.SweepMinAge,
	})

	if err := a.buildExecutors(ctx); err != nil {
		a.Close()
		return nil, err
	}

	deps := scheduler.Deps{
		Reis:     a.reis,
		States:   a.states,
		Memories: a.kai,
		Engine:   decision.NewEngine(cfg.Decision),
		Jitter:   scheduler.NewRandomJitterSource(),
		Logger:   log,
	}
	// Typed nil pointers must not reach the interfaces.
	if a.learner != nil {
		deps.Learner = a.learner
	}
	if a.digester != nil {
		deps.Digester = a.digester
	}
	if cfg.Scheduler.SingleFlight && cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.closers = append(a.closers, client.Close)
		a.health.Register("redis", core.PingChecker(func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}))
		deps.Locker = scheduler.NewRedisLock(client)
	}
	a.runner = scheduler.NewRunner(deps, cfg.Scheduler)
	return a, nil
}

func (a *app) openStores() error {
	switch a.cfg.Store.Driver {
	case "memory":
		ms := store.NewMemoryStore()
		a.reis, a.states = ms, ms
		a.webhooks = webhook.NewMemoryRepository()
		a.health.Register("store", core.StaticChecker(core.HealthHealthy, "in-memory"))
	default:
		db, err := sql.Open("sqlite", a.cfg.Store.DSN)
		if err != nil {
			return fmt.Errorf("open sqlite %s: %w", a.cfg.Store.DSN, err)
		}
		// SQLite serialises writers; one connection avoids SQLITE_BUSY.
		db.SetMaxOpenConns(1)
		a.closers = append(a.closers, db.Close)
		st, err := store.NewSQLiteStore(db)
		if err != nil {
			return err
		}
		repo, err := webhook.NewSQLiteRepository(db)
		if err != nil {
			return err
		}
		a.reis, a.states, a.webhooks = st, st, repo
		a.health.Register("store", core.PingChecker(st.Ping))
	}
	return nil
}

func (a *app) openMemory(ctx context.Context) error {
	mc := a.cfg.Memory
	var vectors memory.VectorStore
	switch mc.Provider {
	case "qdrant":
		q, err := qdrant.New(mc.QdrantAddr)
		if err != nil {
			return fmt.Errorf("connect qdrant %s: %w", mc.QdrantAddr, err)
		}
		a.closers = append(a.closers, q.Close)
		a.health.Register("memory", core.PingChecker(q.Ping))
		vectors = q
	default:
		vectors = memory.NewInMemoryStore()
		a.health.Register("memory", core.StaticChecker(core.HealthHealthy, "in-memory"))
	}

	var embedder memory.Embedder
	switch mc.EmbedderProvider {
	case "gemini":
		e, err := geminiembed.NewEmbedder(ctx, mc.GeminiAPIKey, mc.EmbedderModel)
		if err != nil {
			return fmt.Errorf("gemini embedder: %w", err)
		}
		embedder = e
	default:
		embedder = ollama.NewEmbedder(mc.EmbedderBaseURL, mc.EmbedderModel)
	}

	kai, err := memory.NewKai(vectors, embedder)
	if err != nil {
		return err
	}
	a.kai = kai
	return nil
}

func (a *app) buildExecutors(ctx context.Context) error {
	searcher := a.searcher(ctx)
	summarizer := a.summarizer(ctx)

	if searcher != nil {
		learner, err := learning.NewLearnExecutor(learning.LearnDeps{
			Reis:     a.reis,
			States:   a.states,
			Memories: a.kai,
			Searcher: searcher,
			Notifier: a.dispatcher,
			Logger:   a.log,
			Breaker: resilience.NewBreaker(resilience.BreakerConfig{
				Name:             "search",
				FailureThreshold: a.cfg.Search.BreakerThreshold,
				Cooldown:         a.cfg.Search.BreakerCooldown,
			}),
			Guard: guardrails.ForLearnedContent(),
		}, a.cfg.Learning)
		if err != nil {
			return err
		}
		a.learner = learner
	}
	if summarizer != nil {
		digester, err := learning.NewDigestExecutor(learning.DigestDeps{
			States:     a.states,
			Memories:   a.kai,
			Summarizer: summarizer,
			Model:      a.cfg.LLM.Model,
			Notifier:   a.dispatcher,
			Logger:     a.log,
		}, a.cfg.Learning)
		if err != nil {
			return err
		}
		a.digester = digester
	}
	return nil
}

func (a *app) searcher(ctx context.Context) search.Searcher {
	sc := a.cfg.Search
	if sc.Provider != "gemini" {
		a.health.Register("search", core.StaticChecker(core.HealthDegraded, "search disabled"))
		return nil
	}
	s, err := search.NewGeminiSearcher(ctx, sc.GeminiAPIKey, sc.Model)
	if err != nil {
		a.log.Warn("app.search.unavailable", slog.String("error", err.Error()))
		a.health.Register("search", core.StaticChecker(core.HealthDegraded, err.Error()))
		return nil
	}
	a.health.Register("search", core.StaticChecker(core.HealthHealthy, "gemini"))
	return s
}

func (a *app) summarizer(ctx context.Context) llm.Provider {
	lc := a.cfg.LLM
	if lc.Provider == "gemini" {
		p, err := geminillm.New(ctx, lc.GeminiAPIKey, geminillm.WithModel(lc.Model))
		if err != nil {
			a.log.Warn("app.llm.unavailable", slog.String("error", err.Error()))
			a.health.Register("llm", core.StaticChecker(core.HealthDegraded, err.Error()))
			return nil
		}
		a.health.Register("llm", core.StaticChecker(core.HealthHealthy, "gemini"))
		return p
	}
	a.health.Register("llm", core.StaticChecker(core.HealthHealthy, "ollama"))
	return llm.NewOllama(lc.BaseURL, lc.Model)
}

// seed loads the configured seed file, if any.
func (a *app) seed(ctx context.Context) error {
	path := a.cfg.Store.SeedFile
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close()
	reis, err := store.Seed(ctx, f, a.reis, a.states)
	if err != nil {
		return err
	}
	a.log.Info("app.seed.loaded", slog.String("file", path), slog.Int("reis", len(reis)))
	return nil
}

// Close waits for pending webhook notifications and releases connections.
func (a *app) Close() {
	if a.dispatcher != nil {
		a.dispatcher.Wait()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("app.close.error", slog.String("error", err.Error()))
		}
	}
	a.closers = nil
}
