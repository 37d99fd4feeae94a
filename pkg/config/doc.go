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

// Package config loads the stallwatch daemon configuration.
//
// Settings are resolved in order: built-in defaults, an optional YAML or JSON
// file, then environment variables. The result is validated before use.
//
//	logLevel: info
//	server:
//	  address: 127.0.0.1
//	  port: 7132
//	capture:
//	  timeout: 10s
//	  graceWindow: 1s
//	  exitCode: 57
//	  source: stack
//	  dumpFile: /var/log/stallwatch.dump
//	  journal: true
//	coredump:
//	  enabled: false
//
// Durations in JSON files are integer nanoseconds.
package config
