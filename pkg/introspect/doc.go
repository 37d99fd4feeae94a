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

// Package introspect serves diagnostics about the running process that do
// not involve the scheduler capture protocol: the stack of the handling
// goroutine, information about the executable, and an on-demand coredump.
//
// Binary information and coredumps are Linux only. On other platforms the
// handlers answer 501 with code UNSUPPORTED.
package introspect
