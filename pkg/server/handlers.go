// Copyright 2026 © The Kaiba Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jllopis/kaiba/pkg/core"
	"github.com/jllopis/kaiba/pkg/errors"
	"github.com/jllopis/kaiba/pkg/webhook"
)

type healthResponse struct {
	Status     core.HealthStatus   `json:"status"`
	Components []core.HealthResult `json:"components"`
}

func (a *api) health(c *gin.Context) {
	ctx := c.Request.Context()
	results, overall := a.deps.Health.CheckAll(ctx)
	for _, r := range results {
		a.deps.Metrics.RecordHealth(ctx, r.Component, r.Status)
	}
	status := http.StatusOK
	if overall == core.HealthUnhealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, healthResponse{Status: overall, Components: results})
}

func (a *api) trigger(c *gin.Context) {
	if a.deps.Cycler == nil {
		a.fail(c, errors.New(errors.CodeUnavailable, "scheduler not configured", nil))
		return
	}
	report, err := a.deps.Cycler.RunCycle(c.Request.Context())
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (a *api) listReis(c *gin.Context) {
	reis, err := a.deps.Reis.List(c.Request.Context())
	if err != nil {
		a.fail(c, err)
		return
	}
	if reis == nil {
		reis = []*core.Rei{}
	}
	c.JSON(http.StatusOK, reis)
}

type createReiRequest struct {
	Name     string        `json:"name"`
	Role     string        `json:"role"`
	Avatar   string        `json:"avatar_url"`
	Manifest core.Manifest `json:"manifest"`
}

func (a *api) createRei(c *gin.Context) {
	var req createReiRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, badRequest("invalid request body: "+err.Error()))
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		abortError(c, badRequest("name is required"))
		return
	}
	rei, err := a.deps.Reis.Save(c.Request.Context(), &core.Rei{
		Name:     req.Name,
		Role:     req.Role,
		Avatar:   req.Avatar,
		Manifest: req.Manifest,
	})
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, rei)
}

func (a *api) getRei(c *gin.Context) {
	rei, err := a.deps.Reis.Get(c.Request.Context(), c.Param("rei_id"))
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rei)
}

func (a *api) getState(c *gin.Context) {
	st, err := a.deps.States.FindState(c.Request.Context(), c.Param("rei_id"))
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

type rechargeRequest struct {
	Energy *int `json:"energy"`
}

type rechargeResponse struct {
	ReiID              string `json:"rei_id"`
	PreviousEnergy     int    `json:"previous_energy"`
	CurrentEnergy      int    `json:"current_energy"`
	EnergyRegenPerHour int    `json:"energy_regen_per_hour"`
}

// recharge credits energy to a Rei. The result is clamped to the valid range.
func (a *api) recharge(c *gin.Context) {
	var req rechargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, badRequest("invalid request body: "+err.Error()))
		return
	}
	if req.Energy == nil {
		abortError(c, badRequest("energy is required"))
		return
	}
	ctx := c.Request.Context()
	reiID := c.Param("rei_id")
	change, err := a.deps.States.ApplyEnergyDelta(ctx, reiID, *req.Energy)
	if err != nil {
		a.fail(c, err)
		return
	}
	st, err := a.deps.States.FindState(ctx, reiID)
	if err != nil {
		a.fail(c, err)
		return
	}
	a.notify(ctx, reiID, webhook.EventStateChanged, map[string]any{
		"action":          "recharge",
		"previous_energy": change.Previous,
		"current_energy":  change.Current,
	})
	c.JSON(http.StatusOK, rechargeResponse{
		ReiID:              reiID,
		PreviousEnergy:     change.Previous,
		CurrentEnergy:      change.Current,
		EnergyRegenPerHour: st.EnergyRegenPerHour,
	})
}

type learnResponse struct {
	Success bool   `json:"success"`
	Session any    `json:"session"`
	Error   string `json:"error,omitempty"`
}

// learn runs a session outside the scheduler. Failures are reported in the
// body with a 200 so callers can inspect the partial session.
func (a *api) learn(c *gin.Context) {
	if a.deps.Learner == nil {
		a.fail(c, errors.New(errors.CodeUnavailable, "learning not configured", nil))
		return
	}
	session, err := a.deps.Learner.Learn(c.Request.Context(), c.Param("rei_id"))
	if err != nil {
		a.deps.Metrics.RecordError(c.Request.Context(), err, "learning")
		c.JSON(http.StatusOK, learnResponse{Success: false, Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, learnResponse{Success: true, Session: session})
}
