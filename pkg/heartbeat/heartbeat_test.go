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

package heartbeat

import (
	"bytes"
	"context"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

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

func testLogger(w *syncBuffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, nil))
}

func TestRunBeats(t *testing.T) {
	var out syncBuffer
	p := New(WithInterval(10*time.Millisecond), WithWorkers(3), WithLogger(testLogger(&out)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return p.Beats() >= 6 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not stop")
	}
	assert.Contains(t, out.String(), `"msg":"heartbeat"`)
}

func TestRunWedge(t *testing.T) {
	var out syncBuffer
	p := New(WithInterval(5*time.Millisecond), WithWorkers(2), WithWedge(true), WithLogger(testLogger(&out)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return p.Beats() == 2 }, 2*time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(2), p.Beats())

	buf := make([]byte, 1<<20)
	stacks := string(buf[:runtime.Stack(buf, true)])
	assert.True(t, strings.Contains(stacks, "heartbeat.wedged"))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("wedged pool did not stop")
	}
	assert.Contains(t, out.String(), "heartbeat worker wedged")
}

func TestRunInvalid(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
	}{
		{"zero interval", []Option{WithInterval(0)}},
		{"negative interval", []Option{WithInterval(-time.Second)}},
		{"no workers", []Option{WithWorkers(0)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.opts...).Run(context.Background())
			assert.Error(t, err)
		})
	}
}

func TestNewDefaults(t *testing.T) {
	p := New()
	assert.Equal(t, time.Second, p.interval)
	assert.Equal(t, 1, p.workers)
	assert.False(t, p.wedge)
	assert.NotNil(t, p.log)
}
