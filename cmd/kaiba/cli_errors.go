// Copyright 2026 © The Kaiba Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/jllopis/kaiba/pkg/errors"
)

// CLIError adds a hint for the operator to a KaibaError.
type CLIError struct {
	*errors.KaibaError
	Hint string
}

// NewCLIError creates a new CLI error.
func NewCLIError(ke *errors.KaibaError, hint string) *CLIError {
	return &CLIError{KaibaError: ke, Hint: hint}
}

func (e *CLIError) Error() string {
	if e.KaibaError == nil {
		return "unknown error"
	}
	msg := e.KaibaError.Error()
	if e.Hint != "" {
		msg += "\n  Hint: " + e.Hint
	}
	return msg
}

// Unwrap exposes the KaibaError so errors.HasCode sees through the hint.
func (e *CLIError) Unwrap() error {
	if e.KaibaError == nil {
		return nil
	}
	return e.KaibaError
}

// PrintError writes the error to stderr, as JSON when asJSON is set.
func (e *CLIError) PrintError(asJSON bool) {
	if asJSON {
		_ = json.NewEncoder(os.Stderr).Encode(map[string]any{
			"error": map[string]string{
				"code":    string(e.Code),
				"message": e.Message,
				"hint":    e.Hint,
			},
		})
		return
	}
	fmt.Fprintf(os.Stderr, "Error [%s]: %s\n", e.Code, e.KaibaError.Error())
	if e.Hint != "" {
		fmt.Fprintf(os.Stderr, "  Hint: %s\n", e.Hint)
	}
}

// PrintSimpleError prints an error that carries no code.
func PrintSimpleError(err error, asJSON bool) {
	if asJSON {
		_ = json.NewEncoder(os.Stderr).Encode(map[string]any{
			"error": map[string]string{"code": "UNKNOWN", "message": err.Error()},
		})
		return
	}
	fmt.Fprintf(os.Stderr, "Error: %s\n", err.Error())
}

// NewConfigError reports a configuration that failed to load or validate.
func NewConfigError(err error, configPath string) *CLIError {
	ke := errors.New(errors.CodeInvalidInput, "configuration error", err).
		WithContext("config_path", configPath)
	hint := "check the KAIBA_ environment variables and --set overrides"
	if configPath != "" {
		hint = fmt.Sprintf("check %s and the KAIBA_ environment variables", configPath)
	}
	return NewCLIError(ke, hint)
}

// WrapConnectionError reports a server that could not be reached.
func WrapConnectionError(err error, addr string) *CLIError {
	ke := errors.New(errors.CodeUnavailable, "connection failed", err).
		WithContext("address", addr).
		WithRecoverable(true)
	return NewCLIError(ke, fmt.Sprintf("check that kaiba serve is running at %s", addr))
}

// NewRemoteError reports an error body returned by the server.
func NewRemoteError(status int, code errors.ErrorCode, message string) *CLIError {
	if code == "" {
		code = errors.CodeInternal
	}
	ke := errors.New(code, message, nil).WithContext("status", status)
	hint := ""
	switch code {
	case errors.CodeUnauthorized:
		hint = "set server.api_key (KAIBA_SERVER_API_KEY) to the key the server expects"
	case errors.CodeUnavailable:
		hint = "the server is missing a collaborator; check its health endpoint"
	}
	return NewCLIError(ke, hint)
}
