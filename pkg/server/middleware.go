// Copyright 2026 © The Kaiba Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jllopis/kaiba/pkg/errors"
)

const bearerPrefix = "Bearer "

// apiKeyAuth requires "Authorization: Bearer <key>". An empty key lets every
// request through.
func apiKeyAuth(key string, log *slog.Logger) gin.HandlerFunc {
	if key == "" {
		log.Warn("server.auth.disabled", slog.String("reason", "no api key configured"))
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, bearerPrefix) {
			log.WarnContext(c.Request.Context(), "server.auth.rejected",
				slog.String("reason", "missing bearer token"),
				slog.String("client_ip", c.ClientIP()),
			)
			abortError(c, errors.New(errors.CodeUnauthorized, "missing bearer token", nil))
			return
		}
		token := header[len(bearerPrefix):]
		if subtle.ConstantTimeCompare([]byte(token), []byte(key)) != 1 {
			log.WarnContext(c.Request.Context(), "server.auth.rejected",
				slog.String("reason", "invalid api key"),
				slog.String("client_ip", c.ClientIP()),
			)
			abortError(c, errors.New(errors.CodeUnauthorized, "invalid api key", nil))
			return
		}
		c.Next()
	}
}

func requestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		level := slog.LevelInfo
		if status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		log.Log(c.Request.Context(), level, "http.request",
			slog.String("method", c.Request.Method),
			slog.String("route", c.FullPath()),
			slog.Int("status", status),
			slog.Duration("latency", time.Since(start)),
		)
	}
}
