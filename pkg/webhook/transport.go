// Copyright 2026 © The Kaiba Authors
// SPDX-License-Identifier: Apache-2.0

package webhook

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"
)

// DefaultUserAgent identifies outbound webhook requests.
const DefaultUserAgent = "Kaiba-Webhook/1.0"

// maxResponseBody bounds how much of an endpoint response is kept on a delivery.
const maxResponseBody = 64 << 10

// Response is the part of an HTTP response a delivery records.
type Response struct {
	StatusCode int
	Body       []byte
}

// Transport performs the HTTP calls of a Deliverer.
type Transport interface {
	Post(ctx context.Context, url string, headers http.Header, body []byte, timeout time.Duration) (*Response, error)
	Head(ctx context.Context, url string, timeout time.Duration) (*Response, error)
}

// HTTPTransport is the net/http implementation of Transport.
type HTTPTransport struct {
	client    *http.Client
	userAgent string
}

// NewHTTPTransport creates a transport. A nil client uses a fresh http.Client.
func NewHTTPTransport(client *http.Client, userAgent string) *HTTPTransport {
	if client == nil {
		client = &http.Client{}
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return &HTTPTransport{client: client, userAgent: userAgent}
}

// Post sends body to url. Non-2xx responses are not errors.
func (t *HTTPTransport) Post(ctx context.Context, url string, headers http.Header, body []byte, timeout time.Duration) (*Response, error) {
	return t.do(ctx, http.MethodPost, url, headers, body, timeout)
}

// Head issues a HEAD request to url.
func (t *HTTPTransport) Head(ctx context.Context, url string, timeout time.Duration) (*Response, error) {
	return t.do(ctx, http.MethodHead, url, nil, nil, timeout)
}

func (t *HTTPTransport) do(ctx context.Context, method, url string, headers http.Header, body []byte, timeout time.Duration) (*Response, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	for k, values := range headers {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("User-Agent", t.userAgent)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		// The status line arrived; keep it and drop the partial body.
		data = nil
	}
	return &Response{StatusCode: resp.StatusCode, Body: data}, nil
}
