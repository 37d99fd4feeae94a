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

package taskdump

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/coreos/go-systemd/v22/journal"
)

// Sink durably records the diagnostic of a session whose hand-off was not
// acknowledged. It is written right before the process terminates, so
// implementations must not buffer.
type Sink interface {
	Dump(sessionID string, text []byte) error
}

// WriterSink writes dumps to an unbuffered writer such as os.Stderr.
type WriterSink struct {
	W io.Writer
}

// NewStderrSink returns a sink writing to the process's stderr.
func NewStderrSink() *WriterSink {
	return &WriterSink{W: os.Stderr}
}

// Dump implements Sink.
func (s *WriterSink) Dump(_ string, text []byte) error {
	if _, err := s.W.Write(text); err != nil {
		return fmt.Errorf("failed to write dump: %w", err)
	}
	return nil
}

func (s *WriterSink) String() string { return "writer" }

// FileSink appends dumps to a file opened when the sink is created, so the
// failure path does not depend on being able to open files. Every dump is
// fsynced before Dump returns.
type FileSink struct {
	mu   sync.Mutex
	path string
	file *os.File
}

// NewFileSink opens path for appending, creating it with mode 0600.
func NewFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open dump file %s: %w", path, err)
	}
	return &FileSink{path: path, file: f}, nil
}

// Dump implements Sink.
func (s *FileSink) Dump(_ string, text []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return fmt.Errorf("dump file %s is closed", s.path)
	}
	if _, err := s.file.Write(text); err != nil {
		return fmt.Errorf("failed to append to %s: %w", s.path, err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync %s: %w", s.path, err)
	}
	return nil
}

// Close closes the underlying file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

func (s *FileSink) String() string { return "file:" + s.path }

// JournalSink sends dumps to the systemd journal at critical priority.
type JournalSink struct {
	// Identifier is used as SYSLOG_IDENTIFIER.
	Identifier string
}

// Available reports whether a journald socket is reachable.
func (s *JournalSink) Available() bool {
	return journal.Enabled()
}

// Dump implements Sink.
func (s *JournalSink) Dump(sessionID string, text []byte) error {
	if !journal.Enabled() {
		return errors.New("systemd journal is not available")
	}
	vars := map[string]string{
		"SYSLOG_IDENTIFIER":  s.Identifier,
		"STALLWATCH_SESSION": sessionID,
	}
	if err := journal.Send(string(text), journal.PriCrit, vars); err != nil {
		return fmt.Errorf("failed to send dump to journal: %w", err)
	}
	return nil
}

func (s *JournalSink) String() string { return "journal" }

// MultiSink writes to every sink even when earlier ones fail and joins the
// errors.
type MultiSink []Sink

// Dump implements Sink.
func (m MultiSink) Dump(sessionID string, text []byte) error {
	var errs []error
	for _, s := range m {
		if err := s.Dump(sessionID, text); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
