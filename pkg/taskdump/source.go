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
	"bytes"
	"context"
	"errors"
	"fmt"
	"runtime"
	"runtime/pprof"
	"strings"
)

var (
	// ErrSourceUnavailable reports that no scheduler snapshot capability exists
	// in this build or environment. Capture is not offered when it is returned.
	ErrSourceUnavailable = errors.New("scheduler snapshot source unavailable")

	// ErrCaptureTimeout reports that a snapshot exceeded the capture timeout.
	ErrCaptureTimeout = errors.New(ReasonTimeout)
)

// Source produces a point-in-time listing of the scheduler's tasks.
// Implementations should honor ctx's deadline where they can; the
// Coordinator bounds them regardless.
type Source interface {
	Snapshot(ctx context.Context) ([]TaskTrace, error)
}

// Availability is implemented by sources whose capability depends on the
// build or runtime environment.
type Availability interface {
	Available() bool
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context) ([]TaskTrace, error)

// Snapshot calls f(ctx).
func (f SourceFunc) Snapshot(ctx context.Context) ([]TaskTrace, error) {
	return f(ctx)
}

// Source kinds accepted by NewSource.
const (
	SourceStack   = "stack"
	SourceProfile = "profile"
)

// SupportedSources returns the source kinds accepted by NewSource.
func SupportedSources() []string {
	return []string{SourceStack, SourceProfile}
}

// NewSource returns the built-in source of the given kind.
func NewSource(kind string) (Source, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", SourceStack:
		return &StackSource{}, nil
	case SourceProfile:
		return &ProfileSource{}, nil
	default:
		return nil, fmt.Errorf("unknown source %q (supported: %s)", kind, strings.Join(SupportedSources(), ", "))
	}
}

const defaultStackBufferSize = 64 << 10

// StackSource snapshots every goroutine with runtime.Stack. Each
// "goroutine N [state]:" block becomes one TaskTrace.
type StackSource struct {
	// InitialBufferSize is the first buffer size tried; it doubles until
	// the dump fits.
	InitialBufferSize int
}

// Snapshot implements Source.
func (s *StackSource) Snapshot(ctx context.Context) ([]TaskTrace, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	size := s.InitialBufferSize
	if size <= 0 {
		size = defaultStackBufferSize
	}
	return splitTraces(string(allStacks(size))), nil
}

// allStacks grows the buffer until runtime.Stack no longer truncates.
func allStacks(size int) []byte {
	buf := make([]byte, size)
	for {
		n := runtime.Stack(buf, true)
		if n < len(buf) {
			return buf[:n]
		}
		buf = make([]byte, 2*len(buf))
	}
}

// ProfileSource snapshots goroutines through the runtime "goroutine" profile.
// Goroutines with identical stacks are folded into one TaskTrace headed by
// their count.
type ProfileSource struct{}

// Available reports whether the goroutine profile is registered.
func (p *ProfileSource) Available() bool {
	return pprof.Lookup("goroutine") != nil
}

// Snapshot implements Source.
func (p *ProfileSource) Snapshot(ctx context.Context) ([]TaskTrace, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prof := pprof.Lookup("goroutine")
	if prof == nil {
		return nil, ErrSourceUnavailable
	}
	var buf bytes.Buffer
	if err := prof.WriteTo(&buf, 1); err != nil {
		return nil, fmt.Errorf("failed to write goroutine profile: %w", err)
	}

	text := buf.String()
	// drop the "goroutine profile: total N" header line
	if strings.HasPrefix(text, "goroutine profile:") {
		if i := strings.IndexByte(text, '\n'); i >= 0 {
			text = text[i+1:]
		}
	}
	return splitTraces(text), nil
}

// splitTraces cuts a dump into blank-line separated blocks, numbering them
// in the order they appear.
func splitTraces(dump string) []TaskTrace {
	blocks := strings.Split(dump, "\n\n")
	traces := make([]TaskTrace, 0, len(blocks))
	for _, block := range blocks {
		block = strings.Trim(block, "\n")
		if strings.TrimSpace(block) == "" {
			continue
		}
		traces = append(traces, TaskTrace{Index: len(traces), Trace: block})
	}
	return traces
}

// available reports whether src can produce snapshots at all.
func available(src Source) bool {
	if src == nil {
		return false
	}
	if a, ok := src.(Availability); ok {
		return a.Available()
	}
	return true
}
