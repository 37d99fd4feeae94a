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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/urfave/cli/v3"

	"github.com/NVIDIA/stallwatch/pkg/api"
	"github.com/NVIDIA/stallwatch/pkg/introspect"
	"github.com/NVIDIA/stallwatch/pkg/serializer"
	"github.com/NVIDIA/stallwatch/pkg/server"
	"github.com/NVIDIA/stallwatch/pkg/taskdump"
)

// RemoteError is a daemon error decoded from its JSON error envelope.
type RemoteError struct {
	StatusCode int
	Response   server.ErrorResponse
}

func (e *RemoteError) Error() string {
	msg := fmt.Sprintf("daemon returned %d %s: %s", e.StatusCode, e.Response.Code, e.Response.Message)
	if session, ok := e.Response.Details["sessionId"].(string); ok && session != "" {
		msg += " (session " + session + ")"
	}
	return msg
}

// decodeRemoteError turns a *serializer.StatusError carrying an error
// envelope into a *RemoteError. Other errors are returned unchanged.
func decodeRemoteError(err error) error {
	var se *serializer.StatusError
	if !errors.As(err, &se) {
		return err
	}
	var resp server.ErrorResponse
	if jerr := json.Unmarshal(se.Body, &resp); jerr != nil || resp.Code == "" {
		return err
	}
	return &RemoteError{StatusCode: se.StatusCode, Response: resp}
}

// fetch performs a request against the daemon and decodes the JSON body.
func fetch[T any](ctx context.Context, cmd *cli.Command, method, path string) (*T, error) {
	url := daemonURL(cmd, path)
	slog.Debug("requesting", "method", method, "url", url)

	body, err := newClient(cmd).Do(ctx, method, url, "application/json")
	if err != nil {
		return nil, decodeRemoteError(err)
	}

	var v T
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, fmt.Errorf("failed to decode response from %s: %w", url, err)
	}
	return &v, nil
}

// write serializes v according to the --format and --output flags.
func write(ctx context.Context, cmd *cli.Command, v any) error {
	format, err := parseOutputFormat(cmd)
	if err != nil {
		return err
	}
	w := newOutputWriter(cmd, format)
	defer func() {
		if err := w.Close(); err != nil {
			slog.Warn("failed to close output", "error", err)
		}
	}()
	return w.Serialize(ctx, v)
}

func captureCmd() *cli.Command {
	return &cli.Command{
		Name:  "capture",
		Usage: "Capture every goroutine of a running daemon",
		Description: `Request a goroutine capture from a running stallwatch daemon.

The daemon snapshots all goroutines from a dedicated OS thread. If the
snapshot does not finish within the daemon's capture timeout the command
reports the timeout instead. If the daemon produces a capture but cannot
deliver it, it writes the capture to its dump sinks and exits with the
watchdog status (see 'stallwatch exit-codes').

Text output prints one block per goroutine:

  Task 0:
  goroutine 1 [running]:
  ...`,
		Before: initLogger,
		Flags: []cli.Flag{
			urlFlag,
			timeoutFlag,
			outputFlag,
			formatFlag(serializer.FormatText),
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if _, err := parseOutputFormat(cmd); err != nil {
				return err
			}
			doc, err := fetch[taskdump.Document](ctx, cmd, http.MethodGet,
				api.RouteCapture+"?format="+taskdump.FormatJSON)
			if err != nil {
				return fmt.Errorf("capture failed: %w", err)
			}
			return write(ctx, cmd, doc)
		},
	}
}

func stackCmd() *cli.Command {
	return &cli.Command{
		Name:  "stack",
		Usage: "Fetch the stack of the daemon's handler goroutine",
		Description: `Fetch the stack of the goroutine serving the request. Unlike capture this
never inspects other goroutines and cannot terminate the daemon, so it is
a cheap way to check that the daemon is responsive.`,
		Before: initLogger,
		Flags: []cli.Flag{
			urlFlag,
			timeoutFlag,
			outputFlag,
			formatFlag(serializer.FormatText),
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if _, err := parseOutputFormat(cmd); err != nil {
				return err
			}
			resp, err := fetch[introspect.StackResponse](ctx, cmd, http.MethodGet, api.RouteSelfStack)
			if err != nil {
				return fmt.Errorf("stack failed: %w", err)
			}
			return write(ctx, cmd, resp)
		},
	}
}

func infoCmd() *cli.Command {
	return &cli.Command{
		Name:   "info",
		Usage:  "Show executable and build information of a running daemon",
		Before: initLogger,
		Flags: []cli.Flag{
			urlFlag,
			timeoutFlag,
			outputFlag,
			formatFlag(serializer.FormatYAML),
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if _, err := parseOutputFormat(cmd); err != nil {
				return err
			}
			info, err := fetch[introspect.BinaryInfo](ctx, cmd, http.MethodGet, api.RouteBinaryInfo)
			if err != nil {
				return fmt.Errorf("info failed: %w", err)
			}
			return write(ctx, cmd, info)
		},
	}
}

func coredumpCmd() *cli.Command {
	return &cli.Command{
		Name:  "coredump",
		Usage: "Make a running daemon abort with a coredump",
		Description: `Ask the daemon to raise its core size limit and abort with SIGABRT. The
daemon process terminates. The endpoint must be enabled in the daemon
configuration (coredump.enabled or STALLWATCH_COREDUMP=true).`,
		Before: initLogger,
		Flags: []cli.Flag{
			urlFlag,
			timeoutFlag,
			outputFlag,
			formatFlag(serializer.FormatYAML),
			&cli.BoolFlag{
				Name:  "yes",
				Usage: "confirm that the daemon process should be terminated",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if !cmd.Bool("yes") {
				return errors.New("coredump terminates the daemon; pass --yes to confirm")
			}
			if _, err := parseOutputFormat(cmd); err != nil {
				return err
			}
			resp, err := fetch[introspect.CoredumpResponse](ctx, cmd, http.MethodPost, api.RouteCoredump)
			if err != nil {
				return fmt.Errorf("coredump failed: %w", err)
			}
			return write(ctx, cmd, resp)
		},
	}
}
