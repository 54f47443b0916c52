// Copyright 2026 © The Kaiba Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jllopis/kaiba/pkg/errors"
	"github.com/jllopis/kaiba/pkg/webhook"
)

// webhookView adds has_secret to the stored webhook; the secret itself is never returned.
type webhookView struct {
	*webhook.Webhook
	HasSecret bool `json:"has_secret"`
}

func viewOf(wh *webhook.Webhook) webhookView {
	return webhookView{Webhook: wh, HasSecret: wh.HasSecret()}
}

// webhookRequest is shared by create and update. Absent fields are nil.
type webhookRequest struct {
	Name          *string        `json:"name"`
	URL           *string        `json:"url"`
	Secret        *string        `json:"secret"`
	Enabled       *bool          `json:"enabled"`
	Events        []string       `json:"events"`
	Headers       map[string]any `json:"headers"`
	MaxRetries    *int           `json:"max_retries"`
	TimeoutMs     *int           `json:"timeout_ms"`
	PayloadFormat *string        `json:"payload_format"`
}

func (r webhookRequest) validate() *errors.KaibaError {
	if r.URL != nil {
		u, err := url.Parse(*r.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return badRequest("url must be an absolute http or https URL")
		}
	}
	if r.Name != nil && strings.TrimSpace(*r.Name) == "" {
		return badRequest("name must not be empty")
	}
	if r.MaxRetries != nil && *r.MaxRetries < 0 {
		return badRequest("max_retries must not be negative")
	}
	if r.TimeoutMs != nil && *r.TimeoutMs <= 0 {
		return badRequest("timeout_ms must be positive")
	}
	if r.PayloadFormat != nil && !webhook.KnownFormat(*r.PayloadFormat) {
		return badRequest("unknown payload_format " + *r.PayloadFormat)
	}
	return nil
}

// apply copies the provided fields onto wh.
func (r webhookRequest) apply(wh *webhook.Webhook) {
	if r.Name != nil {
		wh.Name = *r.Name
	}
	if r.URL != nil {
		wh.URL = *r.URL
	}
	if r.Secret != nil {
		if *r.Secret == "" {
			wh.Secret = nil
		} else {
			s := *r.Secret
			wh.Secret = &s
		}
	}
	if r.Enabled != nil {
		wh.Enabled = *r.Enabled
	}
	if r.Events != nil {
		wh.Events = webhook.ParseEventTypes(r.Events)
	}
	if r.Headers != nil {
		wh.Headers = r.Headers
	}
	if r.MaxRetries != nil {
		wh.MaxRetries = *r.MaxRetries
	}
	if r.TimeoutMs != nil {
		wh.TimeoutMs = *r.TimeoutMs
	}
	if r.PayloadFormat != nil {
		wh.PayloadFormat = *r.PayloadFormat
	}
}

func (a *api) bindWebhookRequest(c *gin.Context) (webhookRequest, bool) {
	var req webhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, badRequest("invalid request body: "+err.Error()))
		return req, false
	}
	if ke := req.validate(); ke != nil {
		abortError(c, ke)
		return req, false
	}
	return req, true
}

// ownedWebhook loads the webhook in the path and checks it belongs to the Rei
// in the path. Webhooks of another Rei are reported as not found.
func (a *api) ownedWebhook(c *gin.Context) (*webhook.Webhook, bool) {
	id := c.Param("webhook_id")
	wh, err := a.deps.Webhooks.FindByID(c.Request.Context(), id)
	if err != nil {
		a.fail(c, err)
		return nil, false
	}
	if wh.ReiID != c.Param("rei_id") {
		abortError(c, webhookNotFound(id))
		return nil, false
	}
	return wh, true
}

func (a *api) listWebhooks(c *gin.Context) {
	hooks, err := a.deps.Webhooks.FindByRei(c.Request.Context(), c.Param("rei_id"))
	if err != nil {
		a.fail(c, err)
		return
	}
	out := make([]webhookView, 0, len(hooks))
	for _, wh := range hooks {
		out = append(out, viewOf(wh))
	}
	c.JSON(http.StatusOK, out)
}

func (a *api) createWebhook(c *gin.Context) {
	req, ok := a.bindWebhookRequest(c)
	if !ok {
		return
	}
	if req.Name == nil || req.URL == nil {
		abortError(c, badRequest("name and url are required"))
		return
	}
	ctx := c.Request.Context()
	reiID := c.Param("rei_id")
	if _, err := a.deps.Reis.Get(ctx, reiID); err != nil {
		a.fail(c, err)
		return
	}
	wh := webhook.New(reiID, *req.Name, *req.URL)
	req.apply(wh)
	saved, err := a.deps.Webhooks.Save(ctx, wh)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, viewOf(saved))
}

func (a *api) getWebhook(c *gin.Context) {
	wh, ok := a.ownedWebhook(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, viewOf(wh))
}

func (a *api) updateWebhook(c *gin.Context) {
	req, ok := a.bindWebhookRequest(c)
	if !ok {
		return
	}
	wh, ok := a.ownedWebhook(c)
	if !ok {
		return
	}
	req.apply(wh)
	saved, err := a.deps.Webhooks.Save(c.Request.Context(), wh)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, viewOf(saved))
}

func (a *api) deleteWebhook(c *gin.Context) {
	wh, ok := a.ownedWebhook(c)
	if !ok {
		return
	}
	if err := a.deps.Webhooks.Delete(c.Request.Context(), wh.ID); err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "message": "Webhook deleted"})
}

type triggerRequest struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

var defaultTestData = json.RawMessage(`{"test":true,"message":"Test webhook trigger"}`)

// triggerWebhook delivers a test payload synchronously, retries included,
// and records the delivery. Disabled webhooks are still delivered to.
func (a *api) triggerWebhook(c *gin.Context) {
	if a.deps.Deliverer == nil {
		a.fail(c, errors.New(errors.CodeUnavailable, "webhook delivery not configured", nil))
		return
	}
	wh, ok := a.ownedWebhook(c)
	if !ok {
		return
	}
	var req triggerRequest
	if err := c.ShouldBindJSON(&req); err != nil && err != io.EOF {
		abortError(c, badRequest("invalid request body: "+err.Error()))
		return
	}
	event := webhook.Custom("test")
	if req.Event != "" {
		event = webhook.ParseEventType(req.Event)
	}
	data := req.Data
	if len(data) == 0 || string(data) == "null" {
		data = defaultTestData
	}

	ctx := c.Request.Context()
	del := a.deps.Deliverer.DeliverWithRetry(ctx, wh, webhook.NewPayload(event, wh.ReiID, data))
	if err := a.deps.Webhooks.SaveDelivery(ctx, del); err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, del)
}

func (a *api) listDeliveries(c *gin.Context) {
	wh, ok := a.ownedWebhook(c)
	if !ok {
		return
	}
	dels, err := a.deps.Webhooks.FindDeliveries(c.Request.Context(), wh.ID, DeliveriesLimit)
	if err != nil {
		a.fail(c, err)
		return
	}
	if dels == nil {
		dels = []*webhook.Delivery{}
	}
	c.JSON(http.StatusOK, dels)
}

type verifyRequest struct {
	URL string `json:"url" binding:"required"`
}

func (a *api) verifyEndpoint(c *gin.Context) {
	if a.deps.Deliverer == nil {
		a.fail(c, errors.New(errors.CodeUnavailable, "webhook delivery not configured", nil))
		return
	}
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, badRequest("url is required"))
		return
	}
	reachable := a.deps.Deliverer.VerifyEndpoint(c.Request.Context(), req.URL)
	c.JSON(http.StatusOK, gin.H{"url": req.URL, "reachable": reachable})
}
