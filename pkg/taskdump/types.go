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
	"strings"
)

// ReasonTimeout is the failure reason reported when the scheduler snapshot
// does not finish within the capture timeout.
const ReasonTimeout = "scheduler did not respond in time"

// TaskTrace is the stack of one task (goroutine) in a snapshot.
// Index is the task's position in the source's enumeration order; it is
// stable within a snapshot and meaningless across snapshots.
type TaskTrace struct {
	Index int    `json:"index" yaml:"index"`
	Trace string `json:"trace" yaml:"trace"`
}

// Status discriminates a Result.
type Status string

const (
	// StatusSuccess marks a result carrying traces.
	StatusSuccess Status = "success"
	// StatusFailure marks a result carrying a failure reason.
	StatusFailure Status = "failure"
)

// Result is the outcome of one capture: either the ordered traces of a
// snapshot or the reason no snapshot could be taken.
type Result struct {
	SessionID string      `json:"sessionId,omitempty" yaml:"sessionId,omitempty"`
	Status    Status      `json:"status" yaml:"status"`
	Traces    []TaskTrace `json:"tasks,omitempty" yaml:"tasks,omitempty"`
	Reason    string      `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// Success returns a successful result holding traces in the given order.
func Success(traces []TaskTrace) Result {
	return Result{Status: StatusSuccess, Traces: traces}
}

// Failure returns a failed result with the given reason.
func Failure(reason string) Result {
	return Result{Status: StatusFailure, Reason: reason}
}

// Failed reports whether the result carries a failure reason instead of traces.
func (r Result) Failed() bool {
	return r.Status != StatusSuccess
}

// Text renders the result as human readable text: one block per task for a
// success, the reason for a failure.
func (r Result) Text() string {
	if r.Failed() {
		return fmt.Sprintf("Internal error: %s\n", r.Reason)
	}
	return Render(r.Traces)
}

// Render formats traces as text blocks headed by their index and separated
// by a blank line. Blocks keep the order of traces.
func Render(traces []TaskTrace) string {
	var b strings.Builder
	for i, t := range traces {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "Task %d:\n%s\n", t.Index, strings.TrimRight(t.Trace, "\n"))
	}
	return b.String()
}
