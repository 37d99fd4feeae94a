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

// Package taskdump captures the goroutines of the running process in a way
// that stays safe when the Go scheduler itself is wedged.
//
// A capture runs in three bounded steps:
//
//  1. A watchdog goroutine, locked to a fresh OS thread that is never
//     returned to the runtime, asks a Source for a snapshot. The snapshot is
//     bounded by Config.CaptureTimeout; a source that overruns is abandoned
//     and the capture fails with ReasonTimeout.
//  2. The Result is handed to the caller on a single-shot channel.
//  3. The caller acknowledges on a second single-shot channel. If the
//     acknowledgement does not arrive within Config.GraceWindow, the host is
//     treated as unable to make progress: the Result is written to the Sink
//     and the process exits with Config.ExitCode (57 by default).
//
// Most callers use Coordinator.Capture, which acknowledges before returning:
//
//	c, err := taskdump.NewCoordinator(&taskdump.StackSource{},
//		taskdump.WithSink(taskdump.MultiSink{taskdump.NewStderrSink(), fileSink}),
//	)
//	if err != nil {
//		return err
//	}
//	res := c.Capture(ctx)
//	fmt.Print(res.Text())
//
// Start and Handoff expose the two halves separately. Receive must be
// followed by Ack before any other work.
//
// Captures ignore cancellation of the caller's context. Once started, a
// session ends either acknowledged or with process termination.
//
// Exit status 57 is reserved for watchdog termination. Supervisors should
// treat it as "consult the diagnostic sink", not as an ordinary crash.
package taskdump
