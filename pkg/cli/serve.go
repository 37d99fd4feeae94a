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
	"log/slog"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/NVIDIA/stallwatch/pkg/api"
	"github.com/NVIDIA/stallwatch/pkg/config"
	"github.com/NVIDIA/stallwatch/pkg/heartbeat"
	"github.com/NVIDIA/stallwatch/pkg/logging"
	"github.com/NVIDIA/stallwatch/pkg/taskdump"
)

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the diagnostic daemon",
		Description: `Run the stallwatch HTTP daemon in the foreground.

Configuration is read from --config (or STALLWATCH_CONFIG), then
STALLWATCH_* environment variables, then the flags below, each overriding
the previous.

Use --heartbeat to run a demo workload that logs from a worker pool, and
--wedge to park that pool after its first beat:

  stallwatch serve --heartbeat 1s --heartbeat-workers 4 --wedge`,
		Before: initLogger,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to a YAML or JSON configuration file",
				Sources: cli.EnvVars(config.EnvConfigFile),
			},
			&cli.StringFlag{
				Name:  "address",
				Usage: "listen address",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "listen port",
			},
			&cli.DurationFlag{
				Name:  "capture-timeout",
				Usage: "maximum time a goroutine snapshot may take",
			},
			&cli.DurationFlag{
				Name:  "grace-window",
				Usage: "time the requester has to acknowledge a capture before the process exits",
			},
			&cli.IntFlag{
				Name:  "exit-code",
				Usage: "exit status used when a capture is not acknowledged (3-125)",
			},
			&cli.StringFlag{
				Name:  "source",
				Usage: fmt.Sprintf("capture source (supported values: %s)", strings.Join(taskdump.SupportedSources(), ", ")),
			},
			&cli.StringFlag{
				Name:  "dump-file",
				Usage: "file that receives unacknowledged captures in addition to stderr",
			},
			&cli.BoolFlag{
				Name:  "journal",
				Usage: "send unacknowledged captures to the systemd journal",
			},
			&cli.BoolFlag{
				Name:  "coredump",
				Usage: "enable the coredump endpoint",
			},
			&cli.DurationFlag{
				Name:  "heartbeat",
				Usage: "run a demo heartbeat workload at this interval (0 disables)",
			},
			&cli.IntFlag{
				Name:  "heartbeat-workers",
				Usage: "number of heartbeat workers",
				Value: 1,
			},
			&cli.BoolFlag{
				Name:  "wedge",
				Usage: "park every heartbeat worker after its first beat",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := config.Load(cmd.String("config"))
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			applyServeFlags(cmd, cfg)
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			if !cmd.IsSet("log-level") && cfg.LogLevel != "" {
				logging.SetDefaultStructuredLoggerWithLevel(name, version, cfg.LogLevel)
			}
			slog.Info("starting",
				"name", name,
				"version", version,
				"commit", commit,
				"date", date)

			opts := []api.Option{api.WithVersion(version)}
			if interval := cmd.Duration("heartbeat"); interval > 0 {
				opts = append(opts, api.WithHeartbeat(heartbeat.New(
					heartbeat.WithInterval(interval),
					heartbeat.WithWorkers(cmd.Int("heartbeat-workers")),
					heartbeat.WithWedge(cmd.Bool("wedge")),
				)))
			}

			d, err := api.New(cfg, opts...)
			if err != nil {
				return err
			}
			return d.Run(ctx)
		},
	}
}

// applyServeFlags overrides cfg with the flags given on the command line.
func applyServeFlags(cmd *cli.Command, cfg *config.Config) {
	if cmd.IsSet("address") {
		cfg.Server.Address = cmd.String("address")
	}
	if cmd.IsSet("port") {
		cfg.Server.Port = cmd.Int("port")
	}
	if cmd.IsSet("capture-timeout") {
		cfg.Capture.Timeout = cmd.Duration("capture-timeout")
	}
	if cmd.IsSet("grace-window") {
		cfg.Capture.GraceWindow = cmd.Duration("grace-window")
	}
	if cmd.IsSet("exit-code") {
		cfg.Capture.ExitCode = cmd.Int("exit-code")
	}
	if cmd.IsSet("source") {
		cfg.Capture.Source = cmd.String("source")
	}
	if cmd.IsSet("dump-file") {
		cfg.Capture.DumpFile = cmd.String("dump-file")
	}
	if cmd.IsSet("journal") {
		cfg.Capture.Journal = cmd.Bool("journal")
	}
	if cmd.IsSet("coredump") {
		cfg.Coredump.Enabled = cmd.Bool("coredump")
	}
}
