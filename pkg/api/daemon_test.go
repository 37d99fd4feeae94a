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

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/NVIDIA/stallwatch/pkg/config"
	"github.com/NVIDIA/stallwatch/pkg/heartbeat"
	"github.com/NVIDIA/stallwatch/pkg/taskdump"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.Port = 0
	cfg.Server.NotifySystemd = false
	cfg.Capture.Journal = false
	cfg.Capture.RateInterval = 0
	return cfg
}

var fixedSource = taskdump.SourceFunc(func(context.Context) ([]taskdump.TaskTrace, error) {
	return []taskdump.TaskTrace{
		{Index: 0, Trace: "goroutine 1 [running]:\nmain.main()"},
		{Index: 1, Trace: "goroutine 7 [select]:\nmain.worker()"},
	}, nil
})

type unavailableSource struct{}

func (unavailableSource) Snapshot(context.Context) ([]taskdump.TaskTrace, error) {
	return nil, taskdump.ErrSourceUnavailable
}

func (unavailableSource) Available() bool { return false }

// TestConstants verifies package constants are properly defined
func TestConstants(t *testing.T) {
	if name != "stallwatchd" {
		t.Errorf("name = %q, want %q", name, "stallwatchd")
	}

	if versionDefault != "dev" {
		t.Errorf("versionDefault = %q, want %q", versionDefault, "dev")
	}

	// Verify buildtime variables exist (they may have default values)
	if version == "" {
		t.Error("version should not be empty")
	}
	if commit == "" {
		t.Error("commit should not be empty")
	}
	if date == "" {
		t.Error("date should not be empty")
	}
}

func TestNewRoutes(t *testing.T) {
	tests := []struct {
		name     string
		coredump bool
		src      taskdump.Source
		want     []string
		notWant  []string
	}{
		{
			name:    "defaults",
			src:     fixedSource,
			want:    []string{"/", RouteCapture, RouteSelfStack, RouteBinaryInfo, "/health", "/ready", "/metrics"},
			notWant: []string{RouteCoredump},
		},
		{
			name:     "coredump enabled",
			coredump: true,
			src:      fixedSource,
			want:     []string{RouteCapture, RouteCoredump},
		},
		{
			name:    "source unavailable",
			src:     unavailableSource{},
			want:    []string{RouteSelfStack, RouteBinaryInfo},
			notWant: []string{RouteCapture},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.Coredump.Enabled = tt.coredump

			d, err := New(cfg, WithSource(tt.src))
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			defer d.Close()

			routes := d.Server().Routes()
			for _, r := range tt.want {
				if !slices.Contains(routes, r) {
					t.Errorf("route %s missing from %v", r, routes)
				}
			}
			for _, r := range tt.notWant {
				if slices.Contains(routes, r) {
					t.Errorf("route %s should not be registered", r)
				}
			}
		})
	}
}

func TestNewUnavailableSourceHasNoCoordinator(t *testing.T) {
	d, err := New(testConfig(), WithSource(unavailableSource{}))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if d.Coordinator() != nil {
		t.Error("expected nil coordinator for unavailable source")
	}
}

func TestNewInvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*config.Config)
	}{
		{"exit code out of range", func(c *config.Config) { c.Capture.ExitCode = 200 }},
		{"unknown source", func(c *config.Config) { c.Capture.Source = "perf" }},
		{"zero grace window", func(c *config.Config) { c.Capture.GraceWindow = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.modify(cfg)
			if _, err := New(cfg); err == nil {
				t.Error("expected error for invalid configuration")
			}
		})
	}
}

func TestNewNilConfig(t *testing.T) {
	d, err := New(nil, WithSource(fixedSource))
	if err != nil {
		t.Fatalf("New(nil) error = %v", err)
	}
	defer d.Close()

	if d.Coordinator() == nil {
		t.Fatal("expected coordinator")
	}
	if got := d.Coordinator().Config().ExitCode; got != 57 {
		t.Errorf("exit code = %d, want 57", got)
	}
}

func TestNewDumpFile(t *testing.T) {
	cfg := testConfig()
	cfg.Capture.DumpFile = filepath.Join(t.TempDir(), "stallwatch.dump")

	d, err := New(cfg, WithSource(fixedSource))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := d.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if _, err := os.Stat(cfg.Capture.DumpFile); err != nil {
		t.Errorf("dump file not created: %v", err)
	}
}

func TestCloseWaitsForPendingDump(t *testing.T) {
	cfg := testConfig()
	cfg.Capture.DumpFile = filepath.Join(t.TempDir(), "stallwatch.dump")
	cfg.Capture.Timeout = 200 * time.Millisecond
	cfg.Capture.GraceWindow = 100 * time.Millisecond

	exited := make(chan int, 1)
	d, err := New(cfg, WithSource(fixedSource),
		WithCoordinatorOptions(taskdump.WithExitFunc(func(code int) { exited <- code })))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	// received but never acknowledged; Close runs inside the grace window
	h := d.Coordinator().Start(context.Background())
	h.Receive()

	if err := d.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}

	select {
	case code := <-exited:
		if code != 57 {
			t.Errorf("exit code = %d, want 57", code)
		}
	default:
		t.Fatal("Close returned before the unacknowledged session ended")
	}

	data, err := os.ReadFile(cfg.Capture.DumpFile)
	if err != nil {
		t.Fatalf("read dump file: %v", err)
	}
	if !strings.Contains(string(data), h.ID()) {
		t.Errorf("dump file missing session %s:\n%s", h.ID(), data)
	}
	if !strings.Contains(string(data), "main.worker()") {
		t.Errorf("dump file missing traces:\n%s", data)
	}
}

func TestNewDumpFileUnwritable(t *testing.T) {
	cfg := testConfig()
	cfg.Capture.DumpFile = filepath.Join(t.TempDir(), "missing", "dir", "stallwatch.dump")

	if _, err := New(cfg, WithSource(fixedSource)); err == nil {
		t.Error("expected error for unwritable dump file")
	}
}

func waitForListener(t *testing.T, d *Daemon) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if addr := d.Server().Addr(); !strings.HasSuffix(addr, ":0") {
			return addr
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("server did not start listening")
	return ""
}

func TestStartServesCapture(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	exits := make(chan int, 1)
	d, err := Start(ctx, testConfig(),
		WithSource(fixedSource),
		WithVersion("v9.9.9"),
		WithCoordinatorOptions(taskdump.WithExitFunc(func(code int) { exits <- code })),
	)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	addr := waitForListener(t, d)

	resp, err := http.Get(fmt.Sprintf("http://%s%s", addr, RouteCapture))
	if err != nil {
		t.Fatalf("GET capture: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, body)
	}

	var doc taskdump.Document
	if err := json.Unmarshal(body, &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !doc.Complete || len(doc.Traces) != 2 {
		t.Errorf("unexpected document: %+v", doc)
	}
	if doc.Metadata["version"] != "v9.9.9" {
		t.Errorf("version = %q, want v9.9.9", doc.Metadata["version"])
	}

	cancel()
	if err := d.Wait(); err != nil {
		t.Errorf("Wait() error = %v", err)
	}

	select {
	case code := <-exits:
		t.Errorf("acknowledged capture terminated the process with %d", code)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWaitWithoutStart(t *testing.T) {
	d, err := New(testConfig(), WithSource(fixedSource))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := d.Wait(); err == nil {
		t.Error("expected error from Wait on a daemon not started with Start")
	}
}

func TestRunWithHeartbeat(t *testing.T) {
	pool := heartbeat.New(heartbeat.WithInterval(10 * time.Millisecond))
	d, err := New(testConfig(), WithSource(fixedSource), WithHeartbeat(pool))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	if err := d.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if pool.Beats() == 0 {
		t.Error("expected heartbeat to run alongside the server")
	}
}
