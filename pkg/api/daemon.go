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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/NVIDIA/stallwatch/pkg/config"
	"github.com/NVIDIA/stallwatch/pkg/heartbeat"
	"github.com/NVIDIA/stallwatch/pkg/introspect"
	"github.com/NVIDIA/stallwatch/pkg/logging"
	"github.com/NVIDIA/stallwatch/pkg/server"
	"github.com/NVIDIA/stallwatch/pkg/taskdump"
	"golang.org/x/sync/errgroup"
)

// Routes served by the daemon.
const (
	RouteCapture    = "/v1/stacktrace/goroutines"
	RouteSelfStack  = "/v1/stacktrace/self"
	RouteBinaryInfo = "/v1/binary/info"
	RouteCoredump   = "/v1/coredump"
)

// Option configures a Daemon.
type Option func(*Daemon)

// WithVersion sets the version reported in documents and by the index.
func WithVersion(v string) Option {
	return func(d *Daemon) {
		d.version = v
	}
}

// WithSource replaces the configured capture source.
func WithSource(src taskdump.Source) Option {
	return func(d *Daemon) {
		d.source = src
	}
}

// WithCoordinatorOptions appends options applied after the ones derived
// from the configuration.
func WithCoordinatorOptions(opts ...taskdump.Option) Option {
	return func(d *Daemon) {
		d.coordOpts = append(d.coordOpts, opts...)
	}
}

// WithHeartbeat runs pool alongside the server.
func WithHeartbeat(pool *heartbeat.Pool) Option {
	return func(d *Daemon) {
		d.heartbeat = pool
	}
}

// Daemon is a configured stallwatch server with its diagnostic routes.
type Daemon struct {
	cfg       *config.Config
	version   string
	source    taskdump.Source
	coordOpts []taskdump.Option
	heartbeat *heartbeat.Pool

	coordinator *taskdump.Coordinator
	server      *server.Server
	closers     []io.Closer
	errc        chan error
}

// New builds a daemon from cfg. A nil cfg uses config.Default().
func New(cfg *config.Config, opts ...Option) (*Daemon, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	d := &Daemon{cfg: cfg, version: version}
	for _, opt := range opts {
		opt(d)
	}

	if d.source == nil {
		src, err := taskdump.NewSource(cfg.Capture.Source)
		if err != nil {
			return nil, fmt.Errorf("failed to create capture source: %w", err)
		}
		d.source = src
	}

	routes, err := d.routes()
	if err != nil {
		d.Close()
		return nil, err
	}

	d.server = server.New(
		server.WithConfig(cfg.ServerConfig(name, d.version)),
		server.WithHandler(routes),
	)
	return d, nil
}

func (d *Daemon) routes() (map[string]http.HandlerFunc, error) {
	intro := introspect.NewHandler(d.version)
	routes := map[string]http.HandlerFunc{
		RouteSelfStack:  intro.HandleSelfStack,
		RouteBinaryInfo: intro.HandleBinaryInfo,
	}

	if d.cfg.Coredump.Enabled {
		routes[RouteCoredump] = introspect.NewCoredumper().HandleCoredump
	}

	sink, err := d.sink()
	if err != nil {
		return nil, err
	}

	limit, burst := d.cfg.CaptureRateLimit()
	opts := append([]taskdump.Option{
		taskdump.WithConfig(d.cfg.TaskdumpConfig()),
		taskdump.WithSink(sink),
		taskdump.WithRateLimit(limit, burst),
		taskdump.WithVersion(d.version),
	}, d.coordOpts...)

	coord, err := taskdump.NewCoordinator(d.source, opts...)
	switch {
	case errors.Is(err, taskdump.ErrSourceUnavailable):
		slog.Warn("goroutine capture disabled", "reason", err, "route", RouteCapture)
	case err != nil:
		return nil, fmt.Errorf("failed to create capture coordinator: %w", err)
	default:
		d.coordinator = coord
		routes[RouteCapture] = coord.HandleCapture
	}

	return routes, nil
}

// sink assembles the durable sinks for unacknowledged captures. Stderr is
// always first.
func (d *Daemon) sink() (taskdump.Sink, error) {
	sinks := taskdump.MultiSink{taskdump.NewStderrSink()}

	if path := d.cfg.Capture.DumpFile; path != "" {
		fs, err := taskdump.NewFileSink(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open dump file: %w", err)
		}
		d.closers = append(d.closers, fs)
		sinks = append(sinks, fs)
	}

	if d.cfg.Capture.Journal {
		js := &taskdump.JournalSink{Identifier: name}
		if js.Available() {
			sinks = append(sinks, js)
		} else {
			slog.Debug("systemd journal not reachable, journal sink disabled")
		}
	}

	return sinks, nil
}

// Server returns the underlying HTTP server.
func (d *Daemon) Server() *server.Server {
	return d.server
}

// Coordinator returns the capture coordinator, or nil when capture is
// unavailable.
func (d *Daemon) Coordinator() *taskdump.Coordinator {
	return d.coordinator
}

// Run serves until ctx is done or the process is signaled.
func (d *Daemon) Run(ctx context.Context) error {
	defer d.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return d.server.Run(gctx)
	})
	if d.heartbeat != nil {
		g.Go(func() error {
			return d.heartbeat.Run(gctx)
		})
	}
	return g.Wait()
}

// Wait blocks until a daemon launched with Start stops and returns its
// error. It must be called at most once.
func (d *Daemon) Wait() error {
	if d.errc == nil {
		return errors.New("daemon was not started with Start")
	}
	return <-d.errc
}

// Close waits for in-flight capture sessions to end, then releases the
// dump file, if any. A session still inside its grace window may yet write
// its dump there.
func (d *Daemon) Close() error {
	if d.coordinator != nil {
		d.coordinator.Wait()
	}
	var errs []error
	for _, c := range d.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}

// Start embeds the daemon in a host program. The server runs in the
// background until ctx is done. Signals are left to the host.
func Start(ctx context.Context, cfg *config.Config, opts ...Option) (*Daemon, error) {
	d, err := New(cfg, opts...)
	if err != nil {
		return nil, err
	}

	d.errc = make(chan error, 1)
	go func() {
		defer d.Close()
		err := d.server.Start(ctx)
		if err != nil {
			slog.Error("stallwatch server stopped", "error", err)
		}
		d.errc <- err
	}()
	return d, nil
}

// Serve runs the daemon standalone and blocks until shutdown. The
// configuration file is read from STALLWATCH_CONFIG when set.
func Serve() error {
	cfg, err := config.Load(os.Getenv(config.EnvConfigFile))
	if err != nil {
		return err
	}

	logging.SetDefaultStructuredLoggerWithLevel(name, version, cfg.LogLevel)
	slog.Info("starting",
		"name", name,
		"version", version,
		"commit", commit,
		"date", date,
	)

	d, err := New(cfg)
	if err != nil {
		return err
	}

	if err := d.Run(context.Background()); err != nil {
		slog.Error("server exited with error", "error", err)
		return err
	}
	return nil
}
