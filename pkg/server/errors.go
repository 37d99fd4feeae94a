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
	stderrors "errors"
	"net/http"
	"time"

	swerrors "github.com/NVIDIA/stallwatch/pkg/errors"
	"github.com/NVIDIA/stallwatch/pkg/serializer"
	"github.com/google/uuid"
)

// ErrorResponse is the JSON error envelope returned by every API route.
type ErrorResponse struct {
	Code      string         `json:"code" yaml:"code"`
	Message   string         `json:"message" yaml:"message"`
	Details   map[string]any `json:"details,omitempty" yaml:"details,omitempty"`
	RequestID string         `json:"requestId" yaml:"requestId"`
	Timestamp time.Time      `json:"timestamp" yaml:"timestamp"`
	Retryable bool           `json:"retryable" yaml:"retryable"`
}

// HTTPStatusFromCode maps an error code to its HTTP status.
func HTTPStatusFromCode(code swerrors.ErrorCode) int {
	switch code {
	case swerrors.ErrCodeInvalidRequest:
		return http.StatusBadRequest
	case swerrors.ErrCodeNotFound:
		return http.StatusNotFound
	case swerrors.ErrCodeMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case swerrors.ErrCodeRateLimitExceeded:
		return http.StatusTooManyRequests
	case swerrors.ErrCodeUnavailable:
		return http.StatusServiceUnavailable
	case swerrors.ErrCodeTimeout:
		return http.StatusGatewayTimeout
	case swerrors.ErrCodeUnsupported:
		return http.StatusNotImplemented
	case swerrors.ErrCodeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func retryableFromCode(code swerrors.ErrorCode) bool {
	switch code {
	case swerrors.ErrCodeTimeout,
		swerrors.ErrCodeUnavailable,
		swerrors.ErrCodeRateLimitExceeded,
		swerrors.ErrCodeInternal:
		return true
	default:
		return false
	}
}

// mergeDetails returns a new map with b's entries overriding a's, or nil
// when both are empty.
func mergeDetails(a, b map[string]any) map[string]any {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	out := make(map[string]any, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}

// WriteError writes the error envelope with the request ID from context.
func WriteError(w http.ResponseWriter, r *http.Request, statusCode int,
	code swerrors.ErrorCode, message string, retryable bool, details map[string]any) {

	requestID, _ := r.Context().Value(contextKeyRequestID).(string)
	if requestID == "" {
		requestID = uuid.New().String()
	}

	errResp := ErrorResponse{
		Code:      string(code),
		Message:   message,
		Details:   details,
		RequestID: requestID,
		Timestamp: time.Now().UTC(),
		Retryable: retryable,
	}

	serializer.RespondJSON(w, statusCode, errResp)
}

// WriteErrorFromErr writes err as an error envelope. A StructuredError
// supplies the code, message and context; anything else is reported as
// INTERNAL with fallbackMsg. The underlying cause is added as details["error"].
func WriteErrorFromErr(w http.ResponseWriter, r *http.Request, err error, fallbackMsg string, details map[string]any) {
	var se *swerrors.StructuredError
	if stderrors.As(err, &se) {
		merged := mergeDetails(se.Context, details)
		if se.Cause != nil {
			merged = mergeDetails(merged, map[string]any{"error": se.Cause.Error()})
		}
		WriteError(w, r, HTTPStatusFromCode(se.Code), se.Code, se.Message,
			retryableFromCode(se.Code), merged)
		return
	}

	merged := details
	if err != nil {
		merged = mergeDetails(details, map[string]any{"error": err.Error()})
	}
	WriteError(w, r, http.StatusInternalServerError, swerrors.ErrCodeInternal, fallbackMsg,
		retryableFromCode(swerrors.ErrCodeInternal), merged)
}
