// Copyright 2026 © The Kaiba Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	stderrors "errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jllopis/kaiba/pkg/errors"
	"github.com/jllopis/kaiba/pkg/store"
	"github.com/jllopis/kaiba/pkg/webhook"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    errors.ErrorCode `json:"code"`
	Message string           `json:"message"`
}

// toKaibaError classifies err for the API. Repository not-found sentinels
// become 404; anything unclassified is an internal error.
func toKaibaError(err error) *errors.KaibaError {
	var ke *errors.KaibaError
	if stderrors.As(err, &ke) {
		return ke
	}
	if stderrors.Is(err, store.ErrNotFound) || stderrors.Is(err, webhook.ErrNotFound) {
		return errors.New(errors.CodeNotFound, err.Error(), err)
	}
	return errors.New(errors.CodeInternal, err.Error(), err)
}

func abortError(c *gin.Context, ke *errors.KaibaError) {
	c.AbortWithStatusJSON(ke.StatusCode, errorBody{Error: errorDetail{Code: ke.Code, Message: ke.Message}})
}

func (a *api) fail(c *gin.Context, err error) {
	ke := toKaibaError(err)
	a.deps.Metrics.RecordError(c.Request.Context(), err, "api")
	if ke.StatusCode >= http.StatusInternalServerError {
		a.log.ErrorContext(c.Request.Context(), "server.request.failed",
			slog.String("route", c.FullPath()),
			slog.String("code", string(ke.Code)),
			slog.String("error", err.Error()),
		)
	}
	abortError(c, ke)
}

func badRequest(msg string) *errors.KaibaError {
	return errors.New(errors.CodeInvalidInput, msg, nil)
}

func webhookNotFound(id string) *errors.KaibaError {
	return errors.New(errors.CodeNotFound, "webhook not found", nil).WithContext("webhook_id", id)
}
