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

package introspect

import (
	"net/http"
	"os"
	"path/filepath"
	"runtime/debug"

	swerrors "github.com/NVIDIA/stallwatch/pkg/errors"
	"github.com/NVIDIA/stallwatch/pkg/header"
	"github.com/NVIDIA/stallwatch/pkg/serializer"
	"github.com/NVIDIA/stallwatch/pkg/server"
)

// Module is a Go module linked into the executable.
type Module struct {
	Path    string `json:"path" yaml:"path"`
	Version string `json:"version,omitempty" yaml:"version,omitempty"`
	Sum     string `json:"sum,omitempty" yaml:"sum,omitempty"`
}

// BinaryInfo describes the running executable.
type BinaryInfo struct {
	header.Header `json:",inline" yaml:",inline"`

	// Path is the resolved path of the executable.
	Path string `json:"path" yaml:"path"`

	// Comments holds the NUL-separated strings of the ELF .comment section,
	// usually toolchain identification. Pure Go binaries have none.
	Comments []string `json:"comments" yaml:"comments"`

	GoVersion    string            `json:"goVersion,omitempty" yaml:"goVersion,omitempty"`
	Main         *Module           `json:"main,omitempty" yaml:"main,omitempty"`
	Settings     map[string]string `json:"settings,omitempty" yaml:"settings,omitempty"`
	Dependencies []Module          `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
}

// addBuildInfo fills the Go build fields from the runtime.
func (b *BinaryInfo) addBuildInfo() {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	b.GoVersion = bi.GoVersion
	b.Main = &Module{Path: bi.Main.Path, Version: bi.Main.Version, Sum: bi.Main.Sum}
	if len(bi.Settings) > 0 {
		b.Settings = make(map[string]string, len(bi.Settings))
		for _, s := range bi.Settings {
			b.Settings[s.Key] = s.Value
		}
	}
	for _, d := range bi.Deps {
		m := Module{Path: d.Path, Version: d.Version, Sum: d.Sum}
		if d.Replace != nil {
			m.Path, m.Version, m.Sum = d.Replace.Path, d.Replace.Version, d.Replace.Sum
		}
		b.Dependencies = append(b.Dependencies, m)
	}
}

// HandleBinaryInfo returns information about the running executable.
func (h *Handler) HandleBinaryInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		server.WriteError(w, r, http.StatusMethodNotAllowed, swerrors.ErrCodeMethodNotAllowed,
			"Method not allowed", false, map[string]any{"method": r.Method})
		return
	}

	info, err := ReadBinaryInfo(h.version)
	if err != nil {
		server.WriteErrorFromErr(w, r, err, "Failed to read binary information", nil)
		return
	}
	serializer.RespondJSON(w, http.StatusOK, info)
}

// executablePath resolves the running executable through symlinks.
func executablePath() (string, error) {
	path, err := os.Executable()
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		path = resolved
	}
	return path, nil
}
