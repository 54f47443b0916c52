// Copyright 2026 © The Kaiba Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads Kaiba settings from defaults, an optional YAML file
// with an optional profile overlay, KAIBA_ environment variables and
// explicit key=value overrides, in that order.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/jllopis/kaiba/pkg/decision"
	"github.com/jllopis/kaiba/pkg/learning"
	"github.com/jllopis/kaiba/pkg/scheduler"
	"github.com/jllopis/kaiba/pkg/telemetry"
)

// EnvPrefix marks environment variables read by Load. The first underscore
// after the prefix separates the section from the key:
// KAIBA_SCHEDULER_JITTER_MAX sets scheduler.jitter_max.
const EnvPrefix = "KAIBA_"

type Config struct {
	Log       LogConfig           `koanf:"log"`
	Telemetry telemetry.Config    `koanf:"telemetry"`
	Server    ServerConfig        `koanf:"server"`
	Store     StoreConfig         `koanf:"store"`
	Scheduler scheduler.Config    `koanf:"scheduler"`
	Decision  decision.Thresholds `koanf:"decision"`
	Learning  learning.Config     `koanf:"learning"`
	Webhook   WebhookConfig       `koanf:"webhook"`
	Memory    MemoryConfig        `koanf:"memory"`
	Search    SearchConfig        `koanf:"search"`
	LLM       LLMConfig           `koanf:"llm"`
	Redis     RedisConfig         `koanf:"redis"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type ServerConfig struct {
	Addr string `koanf:"addr"`
	// APIKey protects the /kaiba routes. Empty disables authentication.
	APIKey      string   `koanf:"api_key"`
	CORSOrigins []string `koanf:"cors_origins"`
}

type StoreConfig struct {
	Driver string `koanf:"driver"` // memory, sqlite
	DSN    string `koanf:"dsn"`
	// SeedFile is a YAML list of Reis loaded at startup.
	SeedFile string `koanf:"seed_file"`
}

type WebhookConfig struct {
	RetryBaseDelay      time.Duration `koanf:"retry_base_delay"`
	RetryMaxDelay       time.Duration `koanf:"retry_max_delay"`
	UserAgent           string        `koanf:"user_agent"`
	SweepInterval       time.Duration `koanf:"sweep_interval"`
	SweepMinAge         time.Duration `koanf:"sweep_min_age"`
	DispatchConcurrency int           `koanf:"dispatch_concurrency"`
}

type MemoryConfig struct {
	Provider         string `koanf:"provider"` // inmemory, qdrant
	QdrantAddr       string `koanf:"qdrant_addr"`
	EmbedderProvider string `koanf:"embedder_provider"` // ollama, gemini
	EmbedderBaseURL  string `koanf:"embedder_base_url"`
	EmbedderModel    string `koanf:"embedder_model"`
	GeminiAPIKey     string `koanf:"gemini_api_key"`
}

type SearchConfig struct {
	Provider     string `koanf:"provider"` // gemini, none
	GeminiAPIKey string `koanf:"gemini_api_key"`
	Model        string `koanf:"model"`
	// BreakerThreshold consecutive failures open the search circuit for BreakerCooldown.
	BreakerThreshold int           `koanf:"breaker_threshold"`
	BreakerCooldown  time.Duration `koanf:"breaker_cooldown"`
}

type LLMConfig struct {
	Provider     string `koanf:"provider"` // ollama, gemini
	Model        string `koanf:"model"`
	BaseURL      string `koanf:"base_url"`
	GeminiAPIKey string `koanf:"gemini_api_key"`
}

type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

// Options select the sources Load reads.
type Options struct {
	// Path is the base YAML file. Empty skips file loading.
	Path string
	// Profile loads <name>.<profile>.yaml next to Path on top of it when present.
	Profile string
	// Set holds key=value overrides applied last, e.g. "scheduler.interval=10m".
	Set []string
}

func defaults() map[string]any {
	sched := scheduler.DefaultConfig()
	thresholds := decision.DefaultThresholds()
	learn := learning.DefaultConfig()
	return map[string]any{
		"log.level":  "info",
		"log.format": "text",

		"telemetry.enabled":       false,
		"telemetry.exporter":      "stdout",
		"telemetry.otlp_endpoint": "localhost:4317",
		"telemetry.otlp_insecure": true,

		"server.addr":    ":8080",
		"server.api_key": "",

		"store.driver": "sqlite",
		"store.dsn":    "kaiba.db",

		"scheduler.enabled":       sched.Enabled,
		"scheduler.interval":      sched.Interval,
		"scheduler.jitter_max":    sched.JitterMax,
		"scheduler.single_flight": sched.SingleFlight,
		"scheduler.lock_ttl":      sched.LockTTL,

		"decision.min_tokens_action":   thresholds.MinTokensAction,
		"decision.min_energy_learn":    thresholds.MinEnergyLearn,
		"decision.min_energy_digest":   thresholds.MinEnergyDigest,
		"decision.memories_for_digest": thresholds.MemoriesForDigest,

		"learning.max_queries":        learn.MaxQueries,
		"learning.energy_per_search":  learn.EnergyPerSearch,
		"learning.digest_energy_cost": learn.DigestEnergyCost,
		"learning.memory_scan_limit":  learn.MemoryScanLimit,
		"learning.max_sources":        learn.MaxSources,

		"webhook.retry_base_delay":     time.Second,
		"webhook.retry_max_delay":      time.Minute,
		"webhook.user_agent":           "Kaiba-Webhook/1.0",
		"webhook.sweep_interval":       time.Minute,
		"webhook.sweep_min_age":        5 * time.Minute,
		"webhook.dispatch_concurrency": 8,

		"memory.provider":          "qdrant",
		"memory.qdrant_addr":       "localhost:6334",
		"memory.embedder_provider": "ollama",
		"memory.embedder_base_url": "http://localhost:11434",
		"memory.embedder_model":    "nomic-embed-text",

		"search.provider":          "gemini",
		"search.model":             "gemini-2.0-flash",
		"search.breaker_threshold": 5,
		"search.breaker_cooldown":  5 * time.Minute,

		"llm.provider": "ollama",
		"llm.model":    "llama3.2",
		"llm.base_url": "http://localhost:11434",

		"redis.addr": "localhost:6379",
		"redis.db":   0,
	}
}

// Load reads defaults, the file at path when set, and the environment.
func Load(path string) (*Config, error) {
	return LoadWith(Options{Path: path})
}

// LoadWith reads every source named in opts.
func LoadWith(opts Options) (*Config, error) {
	k := koanf.New(".")
	for key, val := range defaults() {
		if err := k.Set(key, val); err != nil {
			return nil, err
		}
	}

	if opts.Path != "" {
		if err := k.Load(file.Provider(opts.Path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config %s: %w", opts.Path, err)
		}
		if opts.Profile != "" {
			profilePath := ProfilePath(opts.Path, opts.Profile)
			if _, err := os.Stat(profilePath); err == nil {
				if err := k.Load(file.Provider(profilePath), yaml.Parser()); err != nil {
					return nil, fmt.Errorf("load profile %s: %w", profilePath, err)
				}
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, err
	}

	for _, kv := range opts.Set {
		key, val, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("invalid override %q, want key=value", kv)
		}
		if err := k.Set(strings.TrimSpace(key), val); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ProfilePath returns the overlay file of profile for the config at path:
// config.yaml with profile dev gives config.dev.yaml.
func ProfilePath(path, profile string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "." + profile + ext
}

func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.Replace(key, "_", ".", 1)
}

// Validate rejects settings the services cannot start with.
func (c *Config) Validate() error {
	var problems []string
	check := func(ok bool, format string, args ...any) {
		if !ok {
			problems = append(problems, fmt.Sprintf(format, args...))
		}
	}
	check(oneOf(c.Store.Driver, "memory", "sqlite"), "store.driver %q must be memory or sqlite", c.Store.Driver)
	check(c.Store.Driver != "sqlite" || c.Store.DSN != "", "store.dsn is required for sqlite")
	check(oneOf(c.Memory.Provider, "inmemory", "qdrant"), "memory.provider %q must be inmemory or qdrant", c.Memory.Provider)
	check(oneOf(c.Memory.EmbedderProvider, "ollama", "gemini"), "memory.embedder_provider %q must be ollama or gemini", c.Memory.EmbedderProvider)
	check(oneOf(c.Search.Provider, "gemini", "none"), "search.provider %q must be gemini or none", c.Search.Provider)
	check(oneOf(c.LLM.Provider, "ollama", "gemini"), "llm.provider %q must be ollama or gemini", c.LLM.Provider)
	check(c.Scheduler.JitterMax >= 0, "scheduler.jitter_max must not be negative")
	check(c.Webhook.RetryBaseDelay > 0, "webhook.retry_base_delay must be positive")
	check(c.Webhook.RetryMaxDelay >= c.Webhook.RetryBaseDelay, "webhook.retry_max_delay must be at least retry_base_delay")
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}
