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

package taskdump

import (
	"fmt"
	"net/http"
	"strings"

	swerrors "github.com/NVIDIA/stallwatch/pkg/errors"
	"github.com/NVIDIA/stallwatch/pkg/serializer"
	"github.com/NVIDIA/stallwatch/pkg/server"
)

// Response formats accepted by HandleCapture.
const (
	FormatJSON = "json"
	FormatText = "text"
)

// HandleCapture serves a capture over HTTP.
//
// The request is validated and rate limited before the capture starts. Once
// it starts, Capture acknowledges the hand-off before this handler writes
// anything, so a slow or vanished client cannot cause termination.
//
// ?format=text returns text/plain task blocks; the default is a JSON Document.
// A failed snapshot is reported as 504 for a timeout and 500 otherwise.
func (c *Coordinator) HandleCapture(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		server.WriteError(w, r, http.StatusMethodNotAllowed, swerrors.ErrCodeMethodNotAllowed,
			"Method not allowed", false, map[string]any{"method": r.Method})
		return
	}

	format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))
	if format == "" {
		format = FormatJSON
	}
	if format != FormatJSON && format != FormatText {
		server.WriteError(w, r, http.StatusBadRequest, swerrors.ErrCodeInvalidRequest,
			fmt.Sprintf("unsupported format %q", format), false,
			map[string]any{"supported": []string{FormatJSON, FormatText}})
		return
	}

	if c.limiter != nil && !c.limiter.Allow() {
		w.Header().Set("Retry-After", "1")
		server.WriteError(w, r, http.StatusTooManyRequests, swerrors.ErrCodeRateLimitExceeded,
			"Capture rate limit exceeded", true, nil)
		return
	}

	res := c.Capture(r.Context())
	w.Header().Set("X-Capture-Session", res.SessionID)

	if format == FormatText {
		status := http.StatusOK
		if res.Failed() {
			status = server.HTTPStatusFromCode(failureCode(res))
		}
		serializer.RespondText(w, status, res.Text())
		return
	}

	if res.Failed() {
		code := failureCode(res)
		server.WriteError(w, r, server.HTTPStatusFromCode(code), code, res.Reason, true,
			map[string]any{"sessionId": res.SessionID})
		return
	}

	serializer.RespondJSON(w, http.StatusOK, NewDocument(res, c.version))
}

func failureCode(res Result) swerrors.ErrorCode {
	if res.Reason == ReasonTimeout {
		return swerrors.ErrCodeTimeout
	}
	return swerrors.ErrCodeInternal
}
