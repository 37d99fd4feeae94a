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

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	swerrors "github.com/NVIDIA/stallwatch/pkg/errors"
)

func TestErrorCodeMapping(t *testing.T) {
	tests := []struct {
		code      swerrors.ErrorCode
		status    int
		retryable bool
	}{
		{swerrors.ErrCodeInvalidRequest, http.StatusBadRequest, false},
		{swerrors.ErrCodeNotFound, http.StatusNotFound, false},
		{swerrors.ErrCodeMethodNotAllowed, http.StatusMethodNotAllowed, false},
		{swerrors.ErrCodeUnsupported, http.StatusNotImplemented, false},
		{swerrors.ErrCodeRateLimitExceeded, http.StatusTooManyRequests, true},
		{swerrors.ErrCodeUnavailable, http.StatusServiceUnavailable, true},
		{swerrors.ErrCodeTimeout, http.StatusGatewayTimeout, true},
		{swerrors.ErrCodeInternal, http.StatusInternalServerError, true},
		{swerrors.ErrorCode("WATCHDOG_GONE"), http.StatusInternalServerError, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.status, HTTPStatusFromCode(tt.code))
			assert.Equal(t, tt.retryable, retryableFromCode(tt.code))
		})
	}
}

func TestMergeDetails(t *testing.T) {
	assert.Nil(t, mergeDetails(nil, map[string]any{}))

	base := map[string]any{"session": "s1", "source": "stack"}
	got := mergeDetails(base, map[string]any{"source": "profile", "tasks": 3})
	assert.Equal(t, map[string]any{"session": "s1", "source": "profile", "tasks": 3}, got)
	assert.Equal(t, "stack", base["source"], "inputs are not modified")
}

func TestWriteErrorFromErr(t *testing.T) {
	captureTimeout := swerrors.NewWithContext(swerrors.ErrCodeTimeout,
		"capture did not complete", map[string]any{"timeout": "10s"})

	tests := []struct {
		name      string
		err       error
		details   map[string]any
		status    int
		code      swerrors.ErrorCode
		message   string
		retryable bool
		want      map[string]any
	}{
		{
			name:      "capture timeout",
			err:       captureTimeout,
			details:   map[string]any{"session": "s1"},
			status:    http.StatusGatewayTimeout,
			code:      swerrors.ErrCodeTimeout,
			message:   "capture did not complete",
			retryable: true,
			want:      map[string]any{"timeout": "10s", "session": "s1"},
		},
		{
			name:      "wrapped structured error",
			err:       fmt.Errorf("serve capture: %w", captureTimeout),
			status:    http.StatusGatewayTimeout,
			code:      swerrors.ErrCodeTimeout,
			message:   "capture did not complete",
			retryable: true,
			want:      map[string]any{"timeout": "10s"},
		},
		{
			name: "coredump unsupported with cause",
			err: swerrors.Wrap(swerrors.ErrCodeUnsupported, "coredump not supported",
				errors.New("gcore not found")),
			status:  http.StatusNotImplemented,
			code:    swerrors.ErrCodeUnsupported,
			message: "coredump not supported",
			want:    map[string]any{"error": "gcore not found"},
		},
		{
			name:      "plain error",
			err:       errors.New("dump sink closed"),
			details:   map[string]any{"sink": "file"},
			status:    http.StatusInternalServerError,
			code:      swerrors.ErrCodeInternal,
			message:   "capture failed",
			retryable: true,
			want:      map[string]any{"sink": "file", "error": "dump sink closed"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/capture", nil)
			req = req.WithContext(context.WithValue(req.Context(), contextKeyRequestID, "req-7"))
			rec := httptest.NewRecorder()

			WriteErrorFromErr(rec, req, tt.err, "capture failed", tt.details)

			require.Equal(t, tt.status, rec.Code)
			resp := decodeEnvelope(t, rec)
			assert.Equal(t, string(tt.code), resp.Code)
			assert.Equal(t, tt.message, resp.Message)
			assert.Equal(t, tt.retryable, resp.Retryable)
			assert.Equal(t, "req-7", resp.RequestID)
			assert.Equal(t, tt.want, resp.Details)
			assert.False(t, resp.Timestamp.IsZero())
		})
	}
}

func TestWriteError_GeneratesRequestIDOutsideChain(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, httptest.NewRequest(http.MethodGet, "/v1/coredump", nil),
		http.StatusNotImplemented, swerrors.ErrCodeUnsupported, "coredump not supported", false, nil)

	require.Equal(t, http.StatusNotImplemented, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	resp := decodeEnvelope(t, rec)
	_, err := uuid.Parse(resp.RequestID)
	assert.NoError(t, err)
	assert.Nil(t, resp.Details)
}
