// Copyright 2026 © The Kaiba Authors
// SPDX-License-Identifier: Apache-2.0

// Package server exposes the Kaiba HTTP API.
package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/jllopis/kaiba/pkg/core"
	"github.com/jllopis/kaiba/pkg/learning"
	"github.com/jllopis/kaiba/pkg/scheduler"
	"github.com/jllopis/kaiba/pkg/store"
	"github.com/jllopis/kaiba/pkg/telemetry"
	"github.com/jllopis/kaiba/pkg/webhook"
)

// DeliveriesLimit caps the deliveries listed per webhook.
const DeliveriesLimit = 50

// Learner runs a learning session on demand.
type Learner interface {
	Learn(ctx context.Context, reiID string) (*learning.Session, error)
}

// Deps are the services behind the API. Learner, Notifier, Health and
// Metrics are optional.
type Deps struct {
	Reis      store.ReiRepository
	States    store.StateRepository
	Webhooks  webhook.Repository
	Deliverer *webhook.Deliverer
	Cycler    scheduler.Cycler
	Learner   Learner
	Notifier  learning.Notifier
	Health    *core.HealthRegistry
	Metrics   *telemetry.ErrorMetrics
	Logger    *slog.Logger
}

// Config controls authentication and CORS.
type Config struct {
	// APIKey is the bearer token required on /kaiba routes. Empty disables authentication.
	APIKey      string
	CORSOrigins []string
}

type api struct {
	deps Deps
	log  *slog.Logger
}

// New builds the router.
func New(deps Deps, cfg Config) *gin.Engine {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Health == nil {
		deps.Health = core.NewHealthRegistry()
	}
	a := &api{deps: deps, log: deps.Logger}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(a.log))
	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:  cfg.CORSOrigins,
			AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders:  []string{"Origin", "Content-Type", "Authorization"},
			ExposeHeaders: []string{"Content-Length"},
			MaxAge:        12 * time.Hour,
		}))
	}

	r.GET("/health", a.health)

	k := r.Group("/kaiba")
	k.Use(apiKeyAuth(cfg.APIKey, a.log))
	{
		k.POST("/trigger", a.trigger)
		k.POST("/webhooks/verify", a.verifyEndpoint)

		k.GET("/rei", a.listReis)
		k.POST("/rei", a.createRei)
		k.GET("/rei/:rei_id", a.getRei)
		k.GET("/rei/:rei_id/state", a.getState)
		k.POST("/rei/:rei_id/recharge", a.recharge)
		k.POST("/rei/:rei_id/learn", a.learn)

		k.GET("/rei/:rei_id/webhooks", a.listWebhooks)
		k.POST("/rei/:rei_id/webhooks", a.createWebhook)
		k.GET("/rei/:rei_id/webhooks/:webhook_id", a.getWebhook)
		k.PUT("/rei/:rei_id/webhooks/:webhook_id", a.updateWebhook)
		k.DELETE("/rei/:rei_id/webhooks/:webhook_id", a.deleteWebhook)
		k.POST("/rei/:rei_id/webhooks/:webhook_id/trigger", a.triggerWebhook)
		k.GET("/rei/:rei_id/webhooks/:webhook_id/deliveries", a.listDeliveries)
	}
	return r
}

func (a *api) notify(ctx context.Context, reiID string, event webhook.EventType, data any) {
	if a.deps.Notifier != nil {
		a.deps.Notifier.Notify(ctx, reiID, event, data)
	}
}
