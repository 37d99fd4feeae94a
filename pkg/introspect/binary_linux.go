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
	"bytes"
	"debug/elf"
	"fmt"

	swerrors "github.com/NVIDIA/stallwatch/pkg/errors"
	"github.com/NVIDIA/stallwatch/pkg/header"
)

// ReadBinaryInfo inspects the running executable.
func ReadBinaryInfo(version string) (*BinaryInfo, error) {
	path, err := executablePath()
	if err != nil {
		return nil, swerrors.Wrap(swerrors.ErrCodeInternal, "failed to resolve executable path", err)
	}

	comments, err := elfComments(path)
	if err != nil {
		return nil, swerrors.WrapWithContext(swerrors.ErrCodeInternal,
			"failed to read ELF file", err, map[string]any{"path": path})
	}

	info := &BinaryInfo{Path: path, Comments: comments}
	info.Init(header.KindBinaryInfo, header.APIVersion, version)
	info.addBuildInfo()
	return info, nil
}

// elfComments returns the non-empty strings of the .comment section. A
// missing section yields an empty list.
func elfComments(path string) ([]string, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	comments := []string{}
	section := f.Section(".comment")
	if section == nil {
		return comments, nil
	}

	data, err := section.Data()
	if err != nil {
		return nil, fmt.Errorf("failed to read .comment section: %w", err)
	}
	for _, part := range bytes.Split(data, []byte{0}) {
		if len(part) > 0 {
			comments = append(comments, string(part))
		}
	}
	return comments, nil
}
