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

// Package heartbeat runs a small pool of goroutines that log at a fixed
// interval. It gives a capture something to show and, when wedged, shows
// what a stalled worker pool looks like in a task dump.
package heartbeat

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/NVIDIA/stallwatch/pkg/defaults"
	"golang.org/x/sync/errgroup"
)

// Option configures a Pool.
type Option func(*Pool)

// WithInterval sets the time between beats of each worker.
func WithInterval(d time.Duration) Option {
	return func(p *Pool) {
		p.interval = d
	}
}

// WithWorkers sets the number of workers.
func WithWorkers(n int) Option {
	return func(p *Pool) {
		p.workers = n
	}
}

// WithWedge makes every worker block after its first beat until the pool
// is stopped.
func WithWedge(wedge bool) Option {
	return func(p *Pool) {
		p.wedge = wedge
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Pool) {
		p.log = l
	}
}

// Pool is a set of heartbeat workers.
type Pool struct {
	interval time.Duration
	workers  int
	wedge    bool
	log      *slog.Logger
	beats    atomic.Int64
}

// New returns a Pool with one worker beating every second.
func New(opts ...Option) *Pool {
	p := &Pool{
		interval: defaults.HeartbeatInterval,
		workers:  1,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.log == nil {
		p.log = slog.Default()
	}
	return p
}

// Beats returns the number of beats logged so far across all workers.
func (p *Pool) Beats() int64 {
	return p.beats.Load()
}

// Run starts the workers and blocks until ctx is done.
func (p *Pool) Run(ctx context.Context) error {
	if p.interval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive, got %s", p.interval)
	}
	if p.workers < 1 {
		return fmt.Errorf("heartbeat workers must be at least 1, got %d", p.workers)
	}

	p.log.Info("starting heartbeat",
		"workers", p.workers, "interval", p.interval, "wedge", p.wedge)

	g, ctx := errgroup.WithContext(ctx)
	for i := range p.workers {
		g.Go(func() error {
			p.beat(ctx, i)
			return nil
		})
	}
	return g.Wait()
}

func (p *Pool) beat(ctx context.Context, worker int) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		n := p.beats.Add(1)
		p.log.Info("heartbeat", "worker", worker, "beat", n)

		if p.wedge {
			wedged(ctx, worker, p.log)
			return
		}
	}
}

// wedged parks the worker. It shows up by name in goroutine dumps.
func wedged(ctx context.Context, worker int, log *slog.Logger) {
	log.Warn("heartbeat worker wedged", "worker", worker)
	<-ctx.Done()
}
