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

package defaults

import "time"

// Capture timeouts for the goroutine capture protocol.
const (
	// CaptureTimeout bounds a single scheduler snapshot attempt. A snapshot
	// that does not finish in time is reported to the caller as a failure.
	CaptureTimeout = 10 * time.Second

	// AckGraceWindow is how long the watchdog waits for the caller to
	// acknowledge a delivered result before terminating the process.
	AckGraceWindow = 1 * time.Second

	// CaptureHandlerTimeout is the end-to-end budget of the capture endpoint.
	// It must cover CaptureTimeout plus the grace window. Configured capture
	// settings above the defaults grow the budget and the server write
	// timeout with it, keeping the same headroom.
	CaptureHandlerTimeout = 15 * time.Second

	// CaptureRateInterval is the minimum spacing between captures served over HTTP.
	CaptureRateInterval = 1 * time.Second

	// CaptureRateBurst is the number of captures allowed back to back.
	CaptureRateBurst = 2
)

// Watchdog exit status.
const (
	// WatchdogExitCode is the process exit status used only when the capture
	// watchdog terminates the process. It sits outside 0-2 (ordinary exits),
	// 126-127 (shell reserved) and 128+ (signal derived).
	WatchdogExitCode = 57

	// MinWatchdogExitCode and MaxWatchdogExitCode bound configurable exit codes.
	MinWatchdogExitCode = 3
	MaxWatchdogExitCode = 125
)

// Server defaults for the debug HTTP endpoint.
const (
	// ServerAddress binds to loopback; the endpoints expose process internals.
	ServerAddress = "127.0.0.1"

	// ServerPort is the default debug port.
	ServerPort = 7132

	// ServerReadTimeout is the maximum duration for reading request headers.
	ServerReadTimeout = 10 * time.Second

	// ServerReadHeaderTimeout prevents slow header attacks.
	ServerReadHeaderTimeout = 5 * time.Second

	// ServerWriteTimeout is the maximum duration for writing a response.
	// Captures can take up to CaptureHandlerTimeout.
	ServerWriteTimeout = 30 * time.Second

	// ServerIdleTimeout is the maximum duration to wait for the next request.
	ServerIdleTimeout = 120 * time.Second

	// ServerShutdownTimeout is the maximum duration for graceful shutdown.
	ServerShutdownTimeout = 30 * time.Second
)

// HTTP client timeouts for outbound requests made by the CLI.
const (
	// HTTPClientTimeout is the default total timeout for HTTP requests.
	// It exceeds CaptureHandlerTimeout so a slow capture is not cut short.
	HTTPClientTimeout = 30 * time.Second

	// HTTPConnectTimeout is the timeout for establishing connections.
	HTTPConnectTimeout = 5 * time.Second

	// HTTPTLSHandshakeTimeout is the timeout for TLS handshake.
	HTTPTLSHandshakeTimeout = 5 * time.Second

	// HTTPResponseHeaderTimeout is the timeout for reading response headers.
	HTTPResponseHeaderTimeout = 20 * time.Second

	// HTTPIdleConnTimeout is the timeout for idle connections in the pool.
	HTTPIdleConnTimeout = 90 * time.Second

	// HTTPKeepAlive is the keep-alive duration for connections.
	HTTPKeepAlive = 30 * time.Second
)

// Heartbeat defaults for the demo workload.
const (
	// HeartbeatInterval is the default period of the demo heartbeat.
	HeartbeatInterval = 1 * time.Second
)
