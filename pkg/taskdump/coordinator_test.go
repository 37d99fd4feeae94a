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
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NVIDIA/stallwatch/pkg/defaults"
	swerrors "github.com/NVIDIA/stallwatch/pkg/errors"
)

const (
	testCaptureTimeout = 200 * time.Millisecond
	testGraceWindow    = 100 * time.Millisecond
	// slack absorbs scheduling overhead on loaded CI machines
	slack = time.Second
)

// syncBuffer is a bytes.Buffer safe for use from the watchdog goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type harness struct {
	c     *Coordinator
	dump  *syncBuffer
	exits chan int
}

func newHarness(t *testing.T, src Source, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		dump:  &syncBuffer{},
		exits: make(chan int, 4),
	}
	base := []Option{
		WithConfig(Config{
			CaptureTimeout: testCaptureTimeout,
			GraceWindow:    testGraceWindow,
			ExitCode:       defaults.WatchdogExitCode,
		}),
		WithSink(&WriterSink{W: h.dump}),
		WithExitFunc(func(code int) { h.exits <- code }),
	}
	c, err := NewCoordinator(src, append(base, opts...)...)
	require.NoError(t, err)
	h.c = c
	return h
}

// assertNoExit waits past the grace window and fails if the process would
// have been terminated.
func (h *harness) assertNoExit(t *testing.T) {
	t.Helper()
	select {
	case code := <-h.exits:
		t.Fatalf("unexpected termination with status %d", code)
	case <-time.After(3 * testGraceWindow):
	}
}

func staticSource(traces ...string) Source {
	return SourceFunc(func(context.Context) ([]TaskTrace, error) {
		out := make([]TaskTrace, len(traces))
		for i, tr := range traces {
			out[i] = TaskTrace{Index: i, Trace: tr}
		}
		return out, nil
	})
}

func blockingSource(t *testing.T) Source {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	return SourceFunc(func(context.Context) ([]TaskTrace, error) {
		<-release
		return nil, nil
	})
}

func TestCapture_HealthyScheduler(t *testing.T) {
	h := newHarness(t, staticSource("A", "B", "C"))

	res := h.c.Capture(context.Background())

	require.False(t, res.Failed())
	require.Len(t, res.Traces, 3)
	assert.NotEmpty(t, res.SessionID)
	assert.Equal(t, "Task 0:\nA\n\nTask 1:\nB\n\nTask 2:\nC\n", res.Text())
	h.assertNoExit(t)

	// the coordinator stays usable after an acknowledged session
	again := h.c.Capture(context.Background())
	require.False(t, again.Failed())
	assert.NotEqual(t, res.SessionID, again.SessionID)
	h.assertNoExit(t)
}

func TestCapture_UnresponsiveScheduler(t *testing.T) {
	h := newHarness(t, blockingSource(t))

	start := time.Now()
	res := h.c.Capture(context.Background())
	elapsed := time.Since(start)

	require.True(t, res.Failed())
	assert.Equal(t, ReasonTimeout, res.Reason)
	assert.Equal(t, "Internal error: scheduler did not respond in time\n", res.Text())
	assert.GreaterOrEqual(t, elapsed, testCaptureTimeout)
	assert.Less(t, elapsed, testCaptureTimeout+slack)
	h.assertNoExit(t)
}

func TestCapture_CallerNeverAcknowledges(t *testing.T) {
	h := newHarness(t, staticSource("goroutine 1 [running]:\nmain.main()"))

	handoff := h.c.Start(context.Background())
	res := handoff.Receive()
	require.False(t, res.Failed())

	select {
	case code := <-h.exits:
		assert.Equal(t, defaults.WatchdogExitCode, code)
	case <-time.After(testGraceWindow + slack):
		t.Fatal("watchdog did not terminate the process")
	}

	dump := h.dump.String()
	assert.Contains(t, dump, handoff.ID())
	assert.Contains(t, dump, "exiting with status 57")
	assert.Contains(t, dump, "Task 0:\ngoroutine 1 [running]:\nmain.main()\n")
}

func TestCapture_UnacknowledgedFailureIsDumped(t *testing.T) {
	h := newHarness(t, blockingSource(t))

	handoff := h.c.Start(context.Background())
	res := handoff.Receive()
	require.True(t, res.Failed())

	select {
	case code := <-h.exits:
		assert.Equal(t, defaults.WatchdogExitCode, code)
	case <-time.After(testGraceWindow + slack):
		t.Fatal("watchdog did not terminate the process")
	}
	assert.Contains(t, h.dump.String(), "Internal error: "+ReasonTimeout)
}

func TestCapture_CustomExitCode(t *testing.T) {
	h := newHarness(t, staticSource("x"), WithConfig(Config{
		CaptureTimeout: testCaptureTimeout,
		GraceWindow:    testGraceWindow,
		ExitCode:       99,
	}))

	h.c.Start(context.Background()).Receive()

	select {
	case code := <-h.exits:
		assert.Equal(t, 99, code)
	case <-time.After(testGraceWindow + slack):
		t.Fatal("watchdog did not terminate the process")
	}
}

func TestCapture_SourceError(t *testing.T) {
	h := newHarness(t, SourceFunc(func(context.Context) ([]TaskTrace, error) {
		return nil, errors.New("runtime refused")
	}))

	res := h.c.Capture(context.Background())

	require.True(t, res.Failed())
	assert.Equal(t, "runtime refused", res.Reason)
	h.assertNoExit(t)
}

func TestCapture_SourceReportsTimeout(t *testing.T) {
	h := newHarness(t, SourceFunc(func(ctx context.Context) ([]TaskTrace, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))

	res := h.c.Capture(context.Background())

	require.True(t, res.Failed())
	assert.Equal(t, ReasonTimeout, res.Reason)
}

func TestCapture_SourcePanics(t *testing.T) {
	h := newHarness(t, SourceFunc(func(context.Context) ([]TaskTrace, error) {
		panic("boom")
	}))

	res := h.c.Capture(context.Background())

	require.True(t, res.Failed())
	assert.Contains(t, res.Reason, "boom")
	h.assertNoExit(t)
}

func TestCapture_IgnoresCallerCancellation(t *testing.T) {
	h := newHarness(t, SourceFunc(func(ctx context.Context) ([]TaskTrace, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return []TaskTrace{{Index: 0, Trace: "alive"}}, nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := h.c.Capture(ctx)

	require.False(t, res.Failed())
	assert.Equal(t, "alive", res.Traces[0].Trace)
}

func TestCapture_ConcurrentSessionsAreIndependent(t *testing.T) {
	const (
		sessions = 8
		tasks    = 5
	)

	// every call returns its own traces; later calls finish first so the
	// sessions complete out of start order
	var calls atomic.Int32
	h := newHarness(t, SourceFunc(func(context.Context) ([]TaskTrace, error) {
		call := int(calls.Add(1))
		time.Sleep(time.Duration(sessions-call) * 3 * time.Millisecond)
		out := make([]TaskTrace, tasks)
		for j := range out {
			out[j] = TaskTrace{Index: j, Trace: fmt.Sprintf("call %d task %d", call, j)}
		}
		return out, nil
	}))

	var wg sync.WaitGroup
	results := make([]Result, sessions)
	for i := 0; i < sessions; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = h.c.Capture(context.Background())
		}(i)
	}
	wg.Wait()

	seenSessions := make(map[string]bool, sessions)
	seenCalls := make(map[int]bool, sessions)
	for _, res := range results {
		require.False(t, res.Failed())
		require.Len(t, res.Traces, tasks)
		assert.False(t, seenSessions[res.SessionID], "duplicate session %s", res.SessionID)
		seenSessions[res.SessionID] = true

		var call int
		_, err := fmt.Sscanf(res.Traces[0].Trace, "call %d task 0", &call)
		require.NoError(t, err)
		assert.False(t, seenCalls[call], "snapshot %d delivered to two sessions", call)
		seenCalls[call] = true

		for j, tr := range res.Traces {
			assert.Equal(t, j, tr.Index)
			assert.Equal(t, fmt.Sprintf("call %d task %d", call, j), tr.Trace)
		}
	}
	assert.Len(t, seenCalls, sessions)
	h.assertNoExit(t)
}

func TestCoordinator_WaitForAcknowledgedSessions(t *testing.T) {
	h := newHarness(t, staticSource("x"))

	h.c.Capture(context.Background())
	h.c.Capture(context.Background())

	done := make(chan struct{})
	go func() {
		h.c.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(slack):
		t.Fatal("Wait did not return after acknowledged sessions")
	}
	h.assertNoExit(t)
}

func TestCoordinator_WaitCoversDumpOfUnacknowledgedSession(t *testing.T) {
	h := newHarness(t, staticSource("pending"))

	h.c.Start(context.Background()).Receive()

	done := make(chan struct{})
	go func() {
		h.c.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(testGraceWindow + slack):
		t.Fatal("Wait did not return after the session ended")
	}
	require.Len(t, h.exits, 1)
	assert.Contains(t, h.dump.String(), "Task 0:\npending\n")
}

func TestCoordinator_InFlightGaugeSettledBeforeExit(t *testing.T) {
	before := testutil.ToFloat64(sessionsInFlight)
	atExit := make(chan float64, 1)
	h := newHarness(t, staticSource("pending"), WithExitFunc(func(int) {
		atExit <- testutil.ToFloat64(sessionsInFlight)
	}))

	h.c.Start(context.Background()).Receive()

	select {
	case got := <-atExit:
		assert.Equal(t, before, got)
	case <-time.After(testGraceWindow + slack):
		t.Fatal("unacknowledged session did not terminate")
	}
}

func TestCapture_OneSessionFailingDoesNotAffectAnother(t *testing.T) {
	slow := make(chan struct{})
	t.Cleanup(func() { close(slow) })

	var calls sync.Mutex
	n := 0
	h := newHarness(t, SourceFunc(func(context.Context) ([]TaskTrace, error) {
		calls.Lock()
		n++
		first := n == 1
		calls.Unlock()
		if first {
			<-slow
		}
		return []TaskTrace{{Index: 0, Trace: "ok"}}, nil
	}))

	stuck := make(chan Result, 1)
	go func() { stuck <- h.c.Capture(context.Background()) }()
	time.Sleep(20 * time.Millisecond)

	res := h.c.Capture(context.Background())
	require.False(t, res.Failed())

	first := <-stuck
	assert.Equal(t, ReasonTimeout, first.Reason)
	h.assertNoExit(t)
}

func TestHandoff_DoubleUsePanics(t *testing.T) {
	h := newHarness(t, staticSource("x"))

	handoff := h.c.Start(context.Background())
	handoff.Receive()
	handoff.Ack()

	assert.Panics(t, func() { handoff.Ack() })
	assert.Panics(t, func() { handoff.Receive() })
	h.assertNoExit(t)
}

type unavailableSource struct{}

func (unavailableSource) Snapshot(context.Context) ([]TaskTrace, error) { return nil, nil }
func (unavailableSource) Available() bool                               { return false }

func TestNewCoordinator(t *testing.T) {
	t.Run("nil source", func(t *testing.T) {
		_, err := NewCoordinator(nil)
		assert.ErrorIs(t, err, ErrSourceUnavailable)
	})

	t.Run("unavailable source", func(t *testing.T) {
		_, err := NewCoordinator(unavailableSource{})
		assert.ErrorIs(t, err, ErrSourceUnavailable)
	})

	t.Run("defaults", func(t *testing.T) {
		c, err := NewCoordinator(&StackSource{}, WithSink(nil), WithExitFunc(nil))
		require.NoError(t, err)
		assert.Equal(t, DefaultConfig(), c.Config())
		assert.NotNil(t, c.sink)
		assert.NotNil(t, c.exit)
	})

	t.Run("invalid config", func(t *testing.T) {
		_, err := NewCoordinator(&StackSource{}, WithConfig(Config{}))
		require.Error(t, err)
		assert.Equal(t, swerrors.ErrCodeInvalidRequest, swerrors.CodeOf(err))
	})
}

func TestConfig_Validate(t *testing.T) {
	valid := DefaultConfig()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "zero capture timeout", mutate: func(c *Config) { c.CaptureTimeout = 0 }, wantErr: true},
		{name: "negative grace", mutate: func(c *Config) { c.GraceWindow = -time.Second }, wantErr: true},
		{name: "exit code too low", mutate: func(c *Config) { c.ExitCode = 2 }, wantErr: true},
		{name: "exit code shell reserved", mutate: func(c *Config) { c.ExitCode = 126 }, wantErr: true},
		{name: "exit code signal range", mutate: func(c *Config) { c.ExitCode = 134 }, wantErr: true},
		{name: "exit code lower bound", mutate: func(c *Config) { c.ExitCode = 3 }},
		{name: "exit code upper bound", mutate: func(c *Config) { c.ExitCode = 125 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDumpText(t *testing.T) {
	cfg := DefaultConfig()
	res := Success([]TaskTrace{{Index: 0, Trace: "t0"}})

	got := string(dumpText("abc", cfg, res))

	want := fmt.Sprintf("stallwatch: capture abc not acknowledged within %s; exiting with status 57\n\nTask 0:\nt0\n", cfg.GraceWindow)
	assert.Equal(t, want, got)
	assert.True(t, strings.HasSuffix(got, res.Text()))
}
