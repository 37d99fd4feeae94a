//go:build !linux

package introspect

import (
	swerrors "github.com/NVIDIA/stallwatch/pkg/errors"
)

func raiseCoreLimit() (CoreLimit, error) {
	return CoreLimit{}, swerrors.New(swerrors.ErrCodeUnsupported, "coredumps are only available on Linux")
}

func abortProcess() {
	panic("stallwatch: coredumps are only available on Linux")
}
