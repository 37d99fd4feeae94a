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

package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/NVIDIA/stallwatch/pkg/config"
	"github.com/NVIDIA/stallwatch/pkg/defaults"
	"github.com/NVIDIA/stallwatch/pkg/serializer"
)

// ExitStatus documents one exit status of the daemon.
type ExitStatus struct {
	Code    int    `json:"code" yaml:"code"`
	Meaning string `json:"meaning" yaml:"meaning"`
}

// ExitStatuses is the exit status contract of the daemon.
type ExitStatuses struct {
	Statuses []ExitStatus `json:"statuses" yaml:"statuses"`
}

// Text implements serializer.Texter.
func (e *ExitStatuses) Text() string {
	var sb strings.Builder
	for i, s := range e.Statuses {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "%3d  %s", s.Code, s.Meaning)
	}
	return sb.String()
}

// exitStatuses returns the statuses with watchdog as the configured
// watchdog exit code.
func exitStatuses(watchdog int) *ExitStatuses {
	return &ExitStatuses{Statuses: []ExitStatus{
		{Code: 0, Meaning: "clean shutdown"},
		{Code: 1, Meaning: "startup or runtime error (configuration, listener)"},
		{Code: 2, Meaning: "unrecovered panic or fatal error reported by the Go runtime"},
		{Code: watchdog, Meaning: "watchdog termination: a capture was not acknowledged; the capture is in the dump sinks"},
		{Code: 134, Meaning: "SIGABRT from the coredump endpoint (128+6)"},
	}}
}

func exitCodesCmd() *cli.Command {
	return &cli.Command{
		Name:  "exit-codes",
		Usage: "List the exit statuses used by the daemon",
		Description: fmt.Sprintf(`List the exit statuses a supervisor may observe. The watchdog status
defaults to %d and can be configured within [%d, %d]; pass --config to show
the configured value.`, defaults.WatchdogExitCode, defaults.MinWatchdogExitCode, defaults.MaxWatchdogExitCode),
		Before: initLogger,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to a daemon configuration file",
				Sources: cli.EnvVars(config.EnvConfigFile),
			},
			outputFlag,
			formatFlag(serializer.FormatText),
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := config.Load(cmd.String("config"))
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			return write(ctx, cmd, exitStatuses(cfg.Capture.ExitCode))
		},
	}
}
