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
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	swerrors "github.com/NVIDIA/stallwatch/pkg/errors"
	"github.com/NVIDIA/stallwatch/pkg/serializer"
	"github.com/NVIDIA/stallwatch/pkg/server"
)

// abortDelay lets the response reach the client before the process dies.
const abortDelay = 100 * time.Millisecond

// CoreLimit is the RLIMIT_CORE soft limit before and after raising it.
type CoreLimit struct {
	From uint64 `json:"from" yaml:"from"`
	To   uint64 `json:"to" yaml:"to"`
}

// CoredumpResponse is returned just before the process aborts.
type CoredumpResponse struct {
	PID        int       `json:"pid" yaml:"pid"`
	Executable string    `json:"executable" yaml:"executable"`
	Limit      CoreLimit `json:"limit" yaml:"limit"`
	Status     string    `json:"status" yaml:"status"`
}

// CoredumpOption configures a Coredumper.
type CoredumpOption func(*Coredumper)

// WithGuidanceOutput sets where operator guidance is written. Defaults to stderr.
func WithGuidanceOutput(w io.Writer) CoredumpOption {
	return func(c *Coredumper) {
		c.out = w
	}
}

// WithAbortFunc replaces the function that terminates the process.
func WithAbortFunc(abort func()) CoredumpOption {
	return func(c *Coredumper) {
		c.abort = abort
	}
}

// Coredumper terminates the process so that the kernel writes a core file.
type Coredumper struct {
	out   io.Writer
	abort func()
}

// NewCoredumper returns a Coredumper that aborts the real process.
func NewCoredumper(opts ...CoredumpOption) *Coredumper {
	c := &Coredumper{
		out:   os.Stderr,
		abort: abortProcess,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Guidance is the text printed before aborting. It tells the operator where
// to look for the core file and how to open it.
func Guidance(executable string) string {
	return fmt.Sprintf(`stallwatch: aborting to produce a coredump
If no core file appears:
  - check /proc/sys/kernel/core_pattern (see man 5 core) and that this process can write to it
  - check the hard limit with 'ulimit -c -H'; it caps the soft limit raised here
  - under systemd, check 'coredumpctl list' and LimitCORE= on the unit
Open the core with:
  dlv core %[1]s <core>
  gdb %[1]s <core>
`, executable)
}

// Prepare raises the core size limit and prints guidance. It does not abort.
func (c *Coredumper) Prepare() (*CoredumpResponse, error) {
	limit, err := raiseCoreLimit()
	if err != nil {
		return nil, err
	}

	exe, err := executablePath()
	if err != nil {
		exe = os.Args[0]
	}

	fmt.Fprintf(c.out, "stallwatch: raised coredump ulimit from %d to %d\n", limit.From, limit.To)
	fmt.Fprint(c.out, Guidance(exe))

	return &CoredumpResponse{
		PID:        os.Getpid(),
		Executable: exe,
		Limit:      limit,
		Status:     "aborting",
	}, nil
}

// HandleCoredump prepares a coredump, answers 202 and then aborts the
// process. Only POST is accepted.
func (c *Coredumper) HandleCoredump(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		server.WriteError(w, r, http.StatusMethodNotAllowed, swerrors.ErrCodeMethodNotAllowed,
			"Method not allowed", false, map[string]any{"method": r.Method})
		return
	}

	resp, err := c.Prepare()
	if err != nil {
		server.WriteErrorFromErr(w, r, err, "Failed to prepare coredump", nil)
		return
	}

	slog.Warn("coredump requested, aborting process",
		"pid", resp.PID, "limit_from", resp.Limit.From, "limit_to", resp.Limit.To)

	serializer.RespondJSON(w, http.StatusAccepted, resp)
	if err := http.NewResponseController(w).Flush(); err != nil {
		slog.Debug("failed to flush coredump response", "error", err)
	}

	time.AfterFunc(abortDelay, c.abort)
}
