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

// Package server implements the HTTP transport of the stallwatch daemon.
//
// The server is deliberately small: a net/http ServeMux with a fixed
// middleware chain in front of every API route.
//
//   - Metrics (Prometheus RED metrics, labelled by route pattern)
//   - API version negotiation (Accept: application/vnd.nvidia.stallwatch.v1+json)
//   - Request ID tracking (X-Request-Id, UUID)
//   - Panic recovery
//   - Rate limiting using a token bucket (golang.org/x/time/rate)
//   - Debug request logging
//
// System endpoints bypass the chain:
//
//	GET /health   liveness
//	GET /ready    readiness, 503 until Start binds the listener
//	GET /metrics  Prometheus exposition
//
// The root route lists every registered route unless the caller supplies its
// own "/" handler.
//
// # Usage
//
//	s := server.New(
//		server.WithName("stallwatchd"),
//		server.WithVersion(version),
//		server.WithHandler(map[string]http.HandlerFunc{
//			"/v1/stacktrace/goroutines": coordinator.HandleCapture,
//		}),
//	)
//	if err := s.Run(ctx); err != nil {
//		return err
//	}
//
// Run stops on SIGINT or SIGTERM and shuts down gracefully within
// Config.ShutdownTimeout.
//
// # Errors
//
// Handlers report failures with WriteError or WriteErrorFromErr, which emit
// a JSON envelope:
//
//	{
//	  "code": "TIMEOUT",
//	  "message": "scheduler did not respond in time",
//	  "details": {...},
//	  "requestId": "550e8400-e29b-41d4-a716-446655440000",
//	  "timestamp": "2025-01-01T00:00:00Z",
//	  "retryable": true
//	}
//
// # systemd
//
// When Config.NotifySystemd is set (the default) the server sends READY=1
// once listening, STOPPING=1 on shutdown, and WATCHDOG=1 keepalives at half
// of WatchdogSec. All of these are no-ops outside a notify-type unit.
//
// # Configuration
//
// Defaults come from pkg/defaults. PORT and SHUTDOWN_TIMEOUT_SECONDS override
// the port and shutdown timeout.
package server
