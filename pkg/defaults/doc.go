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

// Package defaults provides centralized configuration constants for stallwatch.
//
// This package defines timeout values, the watchdog exit status and other
// configuration defaults used across the codebase. Centralizing these values
// keeps the capture protocol, the HTTP server and the CLI client consistent.
//
// # Timeout Categories
//
// Timeouts are organized by component:
//
//   - Capture timeouts: snapshot bound, acknowledgement grace window
//   - Server timeouts: For HTTP server configuration
//   - HTTP client timeouts: For requests made by the CLI
//
// # Usage
//
// Import and use constants directly:
//
//	import "github.com/NVIDIA/stallwatch/pkg/defaults"
//
//	ctx, cancel := context.WithTimeout(ctx, defaults.CaptureTimeout)
//	defer cancel()
//
// # Timeout Guidelines
//
// The timeouts nest:
//
//	CaptureTimeout + AckGraceWindow < CaptureHandlerTimeout < ServerWriteTimeout
//	CaptureHandlerTimeout < HTTPClientTimeout
//
// Breaking that ordering lets a transport give up on a capture the watchdog
// still considers in flight. The daemon preserves it for configured capture
// timeouts by raising the server write timeout; clients pass a matching
// --timeout.
package defaults
