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

// Package serializer encodes and decodes stallwatch data for the CLI, the
// daemon configuration loader and HTTP responses.
//
// Supported formats:
//   - JSON: machine-readable, indented output
//   - YAML: human-readable, used for configuration files
//   - Table: flattened FIELD/VALUE listing for terminals
//   - Text: the value's own plain-text rendering (see Texter), used for
//     capture output
//
// Writing:
//
//	w := serializer.NewWriter(serializer.FormatYAML, os.Stdout)
//	defer w.Close()
//	if err := w.Serialize(ctx, data); err != nil {
//		return err
//	}
//
// Reading configuration:
//
//	cfg, err := serializer.FromFile[config.Config]("/etc/stallwatch.yaml")
//
// Talking to a running daemon:
//
//	c := serializer.NewHTTPClient(serializer.WithTotalTimeout(20 * time.Second))
//	body, err := c.Get(ctx, "http://127.0.0.1:7132/v1/stacktrace/goroutines")
//
// Non-2xx responses are returned as *StatusError carrying the response body,
// so callers can decode the server's error envelope.
package serializer
