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

package introspect

import (
	"net/http"
	"runtime/debug"
	"strings"

	swerrors "github.com/NVIDIA/stallwatch/pkg/errors"
	"github.com/NVIDIA/stallwatch/pkg/header"
	"github.com/NVIDIA/stallwatch/pkg/serializer"
	"github.com/NVIDIA/stallwatch/pkg/server"
)

// StackResponse is the stack of a single goroutine.
type StackResponse struct {
	header.Header `json:",inline" yaml:",inline"`

	Stacktrace string `json:"stacktrace" yaml:"stacktrace"`
}

// Text implements serializer.Texter.
func (s *StackResponse) Text() string {
	return s.Stacktrace
}

// SelfStack returns the stack of the calling goroutine.
func SelfStack(version string) *StackResponse {
	resp := &StackResponse{Stacktrace: string(debug.Stack())}
	resp.Init(header.KindStacktrace, header.APIVersion, version)
	return resp
}

// Handler serves the introspection routes.
type Handler struct {
	version string
}

// NewHandler returns a Handler reporting version in document headers.
func NewHandler(version string) *Handler {
	return &Handler{version: version}
}

// HandleSelfStack returns the stack of the goroutine serving the request.
// Unlike a capture it never touches other goroutines, so it is cheap and
// carries no termination risk.
func (h *Handler) HandleSelfStack(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		server.WriteError(w, r, http.StatusMethodNotAllowed, swerrors.ErrCodeMethodNotAllowed,
			"Method not allowed", false, map[string]any{"method": r.Method})
		return
	}

	resp := SelfStack(h.version)
	if strings.EqualFold(r.URL.Query().Get("format"), "text") {
		serializer.RespondText(w, http.StatusOK, resp.Text())
		return
	}
	serializer.RespondJSON(w, http.StatusOK, resp)
}
