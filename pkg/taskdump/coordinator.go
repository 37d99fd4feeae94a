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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/NVIDIA/stallwatch/pkg/defaults"
	swerrors "github.com/NVIDIA/stallwatch/pkg/errors"
)

// Config holds the capture protocol parameters.
type Config struct {
	// CaptureTimeout bounds the scheduler snapshot.
	CaptureTimeout time.Duration `json:"captureTimeout" yaml:"captureTimeout"`

	// GraceWindow is how long the watchdog waits for the acknowledgement
	// after delivering the result.
	GraceWindow time.Duration `json:"graceWindow" yaml:"graceWindow"`

	// ExitCode is the process status used when the watchdog terminates the process.
	ExitCode int `json:"exitCode" yaml:"exitCode"`
}

// DefaultConfig returns the protocol defaults.
func DefaultConfig() Config {
	return Config{
		CaptureTimeout: defaults.CaptureTimeout,
		GraceWindow:    defaults.AckGraceWindow,
		ExitCode:       defaults.WatchdogExitCode,
	}
}

// Validate checks that durations are positive and the exit code is in the
// reserved range.
func (c Config) Validate() error {
	if c.CaptureTimeout <= 0 {
		return swerrors.NewWithContext(swerrors.ErrCodeInvalidRequest,
			"capture timeout must be positive", map[string]any{"captureTimeout": c.CaptureTimeout.String()})
	}
	if c.GraceWindow <= 0 {
		return swerrors.NewWithContext(swerrors.ErrCodeInvalidRequest,
			"grace window must be positive", map[string]any{"graceWindow": c.GraceWindow.String()})
	}
	if c.ExitCode < defaults.MinWatchdogExitCode || c.ExitCode > defaults.MaxWatchdogExitCode {
		return swerrors.NewWithContext(swerrors.ErrCodeInvalidRequest,
			fmt.Sprintf("exit code must be within [%d, %d]", defaults.MinWatchdogExitCode, defaults.MaxWatchdogExitCode),
			map[string]any{"exitCode": c.ExitCode})
	}
	return nil
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithConfig replaces the protocol parameters.
func WithConfig(cfg Config) Option {
	return func(c *Coordinator) {
		c.config = cfg
	}
}

// WithSink sets where unacknowledged results are dumped before termination.
func WithSink(sink Sink) Option {
	return func(c *Coordinator) {
		c.sink = sink
	}
}

// WithExitFunc replaces os.Exit on the termination path.
func WithExitFunc(exit func(code int)) Option {
	return func(c *Coordinator) {
		c.exit = exit
	}
}

// WithVersion sets the version reported in capture documents.
func WithVersion(version string) Option {
	return func(c *Coordinator) {
		c.version = version
	}
}

// WithRateLimit limits how often HandleCapture starts a capture.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(c *Coordinator) {
		c.limiter = rate.NewLimiter(limit, burst)
	}
}

// Coordinator runs stall-safe captures. Each capture gets its own watchdog
// goroutine on a dedicated OS thread and its own pair of single-shot
// channels; captures share nothing but the immutable configuration.
type Coordinator struct {
	source  Source
	config  Config
	sink    Sink
	exit    func(code int)
	limiter *rate.Limiter
	version string

	sessions sync.WaitGroup
}

// NewCoordinator returns a Coordinator reading from src. It returns
// ErrSourceUnavailable when src is nil or reports itself unavailable.
func NewCoordinator(src Source, opts ...Option) (*Coordinator, error) {
	if !available(src) {
		return nil, ErrSourceUnavailable
	}

	c := &Coordinator{
		source: src,
		config: DefaultConfig(),
		sink:   NewStderrSink(),
		exit:   os.Exit,
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := c.config.Validate(); err != nil {
		return nil, err
	}
	if c.sink == nil {
		c.sink = NewStderrSink()
	}
	if c.exit == nil {
		c.exit = os.Exit
	}
	return c, nil
}

// Config returns the protocol parameters in use.
func (c *Coordinator) Config() Config {
	return c.config
}

// session is the state of one capture.
type session struct {
	id      string
	results *oneshot[Result]
	acks    *oneshot[struct{}]
}

// Handoff is the caller's end of a capture session.
type Handoff struct {
	s *session
}

// ID returns the session id.
func (h *Handoff) ID() string {
	return h.s.id
}

// Receive blocks until the watchdog delivers the result. It returns within
// the capture timeout plus scheduling overhead. The caller must call Ack
// before doing anything else, or the process is terminated once the grace
// window elapses.
func (h *Handoff) Receive() Result {
	return h.s.results.recv()
}

// Ack tells the watchdog the result was received.
func (h *Handoff) Ack() {
	h.s.acks.send(struct{}{})
}

// Start launches a capture session and returns the caller's end of it.
// The session ignores ctx cancellation: once started it always ends in
// either an acknowledged hand-off or process termination.
func (c *Coordinator) Start(ctx context.Context) *Handoff {
	s := &session{
		id:      uuid.New().String(),
		results: newOneshot[Result](),
		acks:    newOneshot[struct{}](),
	}

	sessionsInFlight.Inc()
	c.sessions.Add(1)
	go c.watch(context.WithoutCancel(ctx), s)

	return &Handoff{s: s}
}

// Wait blocks until every started session has ended, either acknowledged
// or after its dump was written. Each session is bounded by the capture
// timeout plus the grace window.
func (c *Coordinator) Wait() {
	c.sessions.Wait()
}

// Capture takes a scheduler snapshot and acknowledges its receipt before
// returning. A snapshot that exceeds the capture timeout yields a failed
// Result, not an error.
func (c *Coordinator) Capture(ctx context.Context) Result {
	h := c.Start(ctx)
	res := h.Receive()
	h.Ack()
	return res
}

// watch runs on a goroutine locked to a fresh OS thread. The thread is never
// unlocked, so the runtime destroys it when the session ends instead of
// returning it to the pool.
func (c *Coordinator) watch(ctx context.Context, s *session) {
	defer c.sessions.Done()
	runtime.LockOSThread()

	log := slog.With(
		slog.String("session", s.id),
		slog.Int("thread", threadID()),
	)
	log.Debug("capture started", slog.Duration("timeout", c.config.CaptureTimeout))

	start := time.Now()
	res := c.snapshot(ctx)
	res.SessionID = s.id
	captureDuration.Observe(time.Since(start).Seconds())
	captureTotal.WithLabelValues(string(res.Status)).Inc()
	if res.Failed() {
		log.Warn("capture failed", slog.String("reason", res.Reason))
	} else {
		captureTasks.Set(float64(len(res.Traces)))
	}

	s.results.send(res)

	if _, ok := s.acks.recvTimeout(c.config.GraceWindow); ok {
		ackTotal.WithLabelValues("acknowledged").Inc()
		sessionsInFlight.Dec()
		log.Debug("capture acknowledged", slog.Duration("elapsed", time.Since(start)))
		return
	}

	ackTotal.WithLabelValues("missed").Inc()
	c.terminate(log, s, res)
}

// snapshot runs the source on its own goroutine so a source that never
// returns cannot hold the watchdog past the capture timeout. Such a source
// goroutine is abandoned.
func (c *Coordinator) snapshot(ctx context.Context) Result {
	ctx, cancel := context.WithTimeout(ctx, c.config.CaptureTimeout)
	defer cancel()

	type outcome struct {
		traces []TaskTrace
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("snapshot source panicked: %v", r)}
			}
		}()
		traces, err := c.source.Snapshot(ctx)
		done <- outcome{traces: traces, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			if errors.Is(o.err, context.DeadlineExceeded) || errors.Is(o.err, ErrCaptureTimeout) {
				return Failure(ReasonTimeout)
			}
			return Failure(o.err.Error())
		}
		return Success(o.traces)
	case <-ctx.Done():
		return Failure(ReasonTimeout)
	}
}

// terminate preserves the diagnostic and ends the process. It runs only when
// the caller failed to acknowledge within the grace window, which is taken
// as proof that the host cannot make progress.
func (c *Coordinator) terminate(log *slog.Logger, s *session, res Result) {
	log.Error("capture not acknowledged, terminating process",
		slog.Duration("graceWindow", c.config.GraceWindow),
		slog.Int("exitCode", c.config.ExitCode),
	)

	if err := c.sink.Dump(s.id, dumpText(s.id, c.config, res)); err != nil {
		dumpFailures.Inc()
		log.Error("failed to write dump", slog.String("error", err.Error()))
	}

	sessionsInFlight.Dec()
	c.exit(c.config.ExitCode)
}

// dumpText prefixes the result text with the session and exit status so
// the sink entry can be matched to the process exit.
func dumpText(id string, cfg Config, res Result) []byte {
	header := fmt.Sprintf("stallwatch: capture %s not acknowledged within %s; exiting with status %d\n\n",
		id, cfg.GraceWindow, cfg.ExitCode)
	return []byte(header + res.Text())
}
