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
	"github.com/NVIDIA/stallwatch/pkg/header"
)

// Document is the serialized form of a capture returned over HTTP and
// printed by the CLI.
type Document struct {
	header.Header `json:",inline" yaml:",inline"`

	Result `json:",inline" yaml:",inline"`

	// Complete is true when the snapshot finished within the capture timeout.
	Complete bool `json:"complete" yaml:"complete"`

	// Stacktrace is the rendered text of all tasks.
	Stacktrace string `json:"stacktrace,omitempty" yaml:"stacktrace,omitempty"`
}

// NewDocument wraps res with a TaskDump header.
func NewDocument(res Result, version string) *Document {
	d := &Document{
		Result:   res,
		Complete: !res.Failed(),
	}
	d.Init(header.KindTaskDump, header.APIVersion, version)
	if d.Complete {
		d.Stacktrace = Render(res.Traces)
	}
	if res.SessionID != "" {
		d.Metadata["session"] = res.SessionID
	}
	return d
}

// Text returns the plain-text rendering of the capture.
func (d *Document) Text() string {
	return d.Result.Text()
}
