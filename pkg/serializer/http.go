// Copyright (c) 2025, NVIDIA CORPORATION.  All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package serializer

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/NVIDIA/stallwatch/pkg/defaults"
)

// RespondJSON writes a JSON response with the given status code and data.
// It buffers the JSON encoding before writing headers to prevent partial responses.
func RespondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")

	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(data); err != nil {
		slog.Error("json encoding failed", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(statusCode)
	if _, err := w.Write(buf.Bytes()); err != nil {
		// Connection is broken, log but can't recover
		slog.Warn("response write failed", "error", err)
	}
}

// RespondText writes a text/plain response.
func RespondText(w http.ResponseWriter, statusCode int, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(statusCode)
	if _, err := io.WriteString(w, text); err != nil {
		slog.Warn("response write failed", "error", err)
	}
}

const (
	HTTPClientUserAgent = "stallwatch/1.0"

	// maxResponseBytes caps bodies read from a daemon; captures of very large
	// processes can run to tens of megabytes.
	maxResponseBytes = 256 << 20
)

// StatusError is returned for non-2xx responses. Body holds the raw response
// body, typically the server's JSON error envelope.
type StatusError struct {
	StatusCode int
	Status     string
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected response status %s", e.Status)
}

// HTTPClientOption configures an HTTPClient.
type HTTPClientOption func(*HTTPClient)

// HTTPClient fetches data from a stallwatch daemon.
type HTTPClient struct {
	UserAgent          string
	TotalTimeout       time.Duration
	InsecureSkipVerify bool
	Client             *http.Client

	totalTimeoutSet bool
}

func WithUserAgent(userAgent string) HTTPClientOption {
	return func(c *HTTPClient) {
		c.UserAgent = userAgent
	}
}

func WithTotalTimeout(timeout time.Duration) HTTPClientOption {
	return func(c *HTTPClient) {
		c.TotalTimeout = timeout
		c.totalTimeoutSet = true
	}
}

func WithInsecureSkipVerify(skip bool) HTTPClientOption {
	return func(c *HTTPClient) {
		c.InsecureSkipVerify = skip
	}
}

// WithClient replaces the underlying *http.Client. Transport options are
// ignored for clients whose transport is not an *http.Transport.
func WithClient(client *http.Client) HTTPClientOption {
	return func(c *HTTPClient) {
		c.Client = client
	}
}

// NewHTTPClient creates an HTTPClient with the package default timeouts.
func NewHTTPClient(options ...HTTPClientOption) *HTTPClient {
	c := &HTTPClient{
		UserAgent:    HTTPClientUserAgent,
		TotalTimeout: defaults.HTTPClientTimeout,
	}
	for _, opt := range options {
		opt(c)
	}

	if c.Client == nil {
		tr := newDefaultHTTPTransport()
		// an explicit total timeout longer than the header timeout covers
		// servers that answer only once the work is done
		if c.totalTimeoutSet && c.TotalTimeout > tr.ResponseHeaderTimeout {
			tr.ResponseHeaderTimeout = c.TotalTimeout
		}
		c.Client = &http.Client{
			Timeout:   c.TotalTimeout,
			Transport: tr,
		}
	} else if c.totalTimeoutSet && c.TotalTimeout > 0 {
		c.Client.Timeout = c.TotalTimeout
	}

	if tr, ok := c.Client.Transport.(*http.Transport); ok && tr != nil {
		if tr.TLSClientConfig == nil {
			tr.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		tr.TLSClientConfig.InsecureSkipVerify = c.InsecureSkipVerify
	}
	if c.UserAgent == "" {
		c.UserAgent = HTTPClientUserAgent
	}
	return c
}

func newDefaultHTTPTransport() *http.Transport {
	return &http.Transport{
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 2,
		DialContext: (&net.Dialer{
			Timeout:   defaults.HTTPConnectTimeout,
			KeepAlive: defaults.HTTPKeepAlive,
		}).DialContext,
		TLSHandshakeTimeout:   defaults.HTTPTLSHandshakeTimeout,
		ResponseHeaderTimeout: defaults.HTTPResponseHeaderTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		IdleConnTimeout:       defaults.HTTPIdleConnTimeout,
		ForceAttemptHTTP2:     true,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}
}

// Get fetches url and returns the response body.
func (c *HTTPClient) Get(ctx context.Context, url string) ([]byte, error) {
	return c.Do(ctx, http.MethodGet, url, "")
}

// Post sends an empty POST to url and returns the response body.
func (c *HTTPClient) Post(ctx context.Context, url string) ([]byte, error) {
	return c.Do(ctx, http.MethodPost, url, "")
}

// Do performs a bodiless request. accept, when set, is sent as the Accept
// header. Non-2xx responses return *StatusError.
func (c *HTTPClient) Do(ctx context.Context, method, url, accept string) ([]byte, error) {
	if url == "" {
		return nil, fmt.Errorf("url is empty")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if c.Client == nil {
		return nil, fmt.Errorf("http client is nil")
	}

	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request for url %s: %w", url, err)
	}
	req.Header.Set("User-Agent", c.UserAgent)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed for url %s: %w", url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", url, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       data,
		}
	}
	return data, nil
}
