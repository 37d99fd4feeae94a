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

//go:build linux

package introspect

import (
	"os"
	"runtime/debug"

	swerrors "github.com/NVIDIA/stallwatch/pkg/errors"
	"golang.org/x/sys/unix"
)

func raiseCoreLimit() (CoreLimit, error) {
	var rl unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_CORE, &rl); err != nil {
		return CoreLimit{}, swerrors.Wrap(swerrors.ErrCodeInternal, "failed to read RLIMIT_CORE", err)
	}

	limit := CoreLimit{From: rl.Cur, To: rl.Max}
	if rl.Cur == rl.Max {
		return limit, nil
	}

	rl.Cur = rl.Max
	if err := unix.Setrlimit(unix.RLIMIT_CORE, &rl); err != nil {
		return CoreLimit{}, swerrors.WrapWithContext(swerrors.ErrCodeInternal,
			"failed to raise RLIMIT_CORE", err, map[string]any{"from": limit.From, "to": limit.To})
	}
	return limit, nil
}

// abortProcess makes the runtime dump every goroutine and then dies on
// SIGABRT, which the kernel turns into a core file.
func abortProcess() {
	debug.SetTraceback("crash")
	if err := unix.Kill(os.Getpid(), unix.SIGABRT); err != nil {
		panic("stallwatch: failed to abort: " + err.Error())
	}
}
