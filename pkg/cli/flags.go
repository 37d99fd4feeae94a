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
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/NVIDIA/stallwatch/pkg/defaults"
	"github.com/NVIDIA/stallwatch/pkg/serializer"
)

// EnvURL overrides the daemon URL for client commands.
const EnvURL = "STALLWATCH_URL"

var (
	defaultURL = fmt.Sprintf("http://%s:%d", defaults.ServerAddress, defaults.ServerPort)

	outputFlag = &cli.StringFlag{
		Name:    "output",
		Aliases: []string{"o"},
		Usage:   "output file path (default: stdout)",
	}

	urlFlag = &cli.StringFlag{
		Name:    "url",
		Aliases: []string{"u"},
		Usage:   "base URL of the stallwatch daemon",
		Value:   defaultURL,
		Sources: cli.EnvVars(EnvURL),
	}

	timeoutFlag = &cli.DurationFlag{
		Name:  "timeout",
		Usage: "total time allowed for the request",
		Value: defaults.HTTPClientTimeout,
	}
)

func formatFlag(def serializer.Format) *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"t"},
		Usage:   fmt.Sprintf("output format (supported values: %s)", strings.Join(serializer.SupportedFormats(), ", ")),
		Value:   string(def),
	}
}

// parseOutputFormat validates the --format flag.
func parseOutputFormat(cmd *cli.Command) (serializer.Format, error) {
	f := serializer.Format(strings.ToLower(strings.TrimSpace(cmd.String("format"))))
	if f.IsUnknown() {
		return "", fmt.Errorf("unknown output format: %q (supported values: %s)",
			cmd.String("format"), strings.Join(serializer.SupportedFormats(), ", "))
	}
	return f, nil
}

// newOutputWriter returns a writer for --output, or for the root command's
// writer when no output file is given.
func newOutputWriter(cmd *cli.Command, format serializer.Format) *serializer.Writer {
	if path := strings.TrimSpace(cmd.String("output")); path != "" {
		return serializer.NewFileWriterOrStdout(format, path)
	}
	return serializer.NewWriter(format, rootWriter(cmd))
}

func rootWriter(cmd *cli.Command) io.Writer {
	if w := cmd.Root().Writer; w != nil {
		return w
	}
	return os.Stdout
}

// daemonURL joins the --url flag and an API path.
func daemonURL(cmd *cli.Command, path string) string {
	return strings.TrimRight(cmd.String("url"), "/") + path
}

func newClient(cmd *cli.Command) *serializer.HTTPClient {
	return serializer.NewHTTPClient(
		serializer.WithUserAgent(fmt.Sprintf("%s/%s", name, version)),
		serializer.WithTotalTimeout(cmd.Duration("timeout")),
	)
}
