//go:build !linux

package introspect

import (
	swerrors "github.com/NVIDIA/stallwatch/pkg/errors"
)

// ReadBinaryInfo is only implemented for ELF executables on Linux.
func ReadBinaryInfo(string) (*BinaryInfo, error) {
	return nil, swerrors.New(swerrors.ErrCodeUnsupported, "binary information is only available on Linux")
}
