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

// Package api assembles the stallwatch daemon: the goroutine capture
// coordinator, the introspection routes and the reusable pkg/server HTTP
// server, configured from pkg/config.
//
// # Usage
//
// Standalone:
//
//	func main() {
//	    if err := api.Serve(); err != nil {
//	        log.Fatalf("server error: %v", err)
//	    }
//	}
//
// Embedded in a long-running program, serving in the background until ctx
// is done:
//
//	d, err := api.Start(ctx, config.Default(), api.WithVersion(version))
//	if err != nil {
//	    return err
//	}
//	defer d.Wait()
//
// # Endpoints
//
// Application endpoints (with rate limiting):
//   - GET /                          - Service index with registered routes
//   - GET /v1/stacktrace/goroutines  - Capture all goroutines (?format=text|json)
//   - GET /v1/stacktrace/self        - Stack of the handling goroutine
//   - GET /v1/binary/info            - ELF .comment strings and Go build info
//   - POST /v1/coredump              - Abort with a coredump (only when enabled)
//
// System endpoints (no rate limiting):
//   - GET /health  - Health check (liveness probe)
//   - GET /ready   - Readiness check
//   - GET /metrics - Prometheus metrics
//
// The capture route is omitted when the configured source is unavailable.
//
// # Exit status
//
// When a capture is produced but never acknowledged, the process writes the
// capture to its dump sinks and exits with the watchdog status (57 unless
// configured otherwise).
//
// Version information is set at build time using ldflags:
//
//	go build -ldflags="-X 'github.com/NVIDIA/stallwatch/pkg/api.version=1.0.0'"
package api
