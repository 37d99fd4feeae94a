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

package config

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/NVIDIA/stallwatch/pkg/defaults"
	swerrors "github.com/NVIDIA/stallwatch/pkg/errors"
	"github.com/NVIDIA/stallwatch/pkg/logging"
	"github.com/NVIDIA/stallwatch/pkg/serializer"
	"github.com/NVIDIA/stallwatch/pkg/server"
	"github.com/NVIDIA/stallwatch/pkg/taskdump"
)

// Environment variables that override file settings.
const (
	EnvConfigFile     = "STALLWATCH_CONFIG"
	EnvAddress        = "STALLWATCH_ADDRESS"
	EnvPort           = "STALLWATCH_PORT"
	EnvPortCompat     = "PORT"
	EnvCaptureTimeout = "STALLWATCH_CAPTURE_TIMEOUT"
	EnvGraceWindow    = "STALLWATCH_GRACE_WINDOW"
	EnvExitCode       = "STALLWATCH_EXIT_CODE"
	EnvSource         = "STALLWATCH_SOURCE"
	EnvDumpFile       = "STALLWATCH_DUMP_FILE"
	EnvJournal        = "STALLWATCH_JOURNAL"
	EnvCoredump       = "STALLWATCH_COREDUMP"
	EnvLogLevel       = logging.EnvLogLevel
)

// Config is the daemon configuration.
type Config struct {
	LogLevel string         `json:"logLevel" yaml:"logLevel"`
	Server   ServerConfig   `json:"server" yaml:"server"`
	Capture  CaptureConfig  `json:"capture" yaml:"capture"`
	Coredump CoredumpConfig `json:"coredump" yaml:"coredump"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Address         string        `json:"address" yaml:"address"`
	Port            int           `json:"port" yaml:"port"`
	RateLimit       float64       `json:"rateLimit" yaml:"rateLimit"`
	RateLimitBurst  int           `json:"rateLimitBurst" yaml:"rateLimitBurst"`
	ShutdownTimeout time.Duration `json:"shutdownTimeout" yaml:"shutdownTimeout"`
	NotifySystemd   bool          `json:"notifySystemd" yaml:"notifySystemd"`
}

// CaptureConfig configures the goroutine capture endpoint.
type CaptureConfig struct {
	Timeout     time.Duration `json:"timeout" yaml:"timeout"`
	GraceWindow time.Duration `json:"graceWindow" yaml:"graceWindow"`
	ExitCode    int           `json:"exitCode" yaml:"exitCode"`

	// Source is a taskdump source kind: "stack" or "profile".
	Source string `json:"source" yaml:"source"`

	// DumpFile, when set, receives unacknowledged captures in addition to stderr.
	DumpFile string `json:"dumpFile,omitempty" yaml:"dumpFile,omitempty"`

	// Journal sends unacknowledged captures to the systemd journal when it is reachable.
	Journal bool `json:"journal" yaml:"journal"`

	// RateInterval is the minimum spacing between captures; RateBurst
	// captures may run back to back.
	RateInterval time.Duration `json:"rateInterval" yaml:"rateInterval"`
	RateBurst    int           `json:"rateBurst" yaml:"rateBurst"`
}

// jsonDuration decodes a Go duration string such as "5s", or an integer
// count of nanoseconds.
type jsonDuration time.Duration

func (d *jsonDuration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case string:
		parsed, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", val, err)
		}
		*d = jsonDuration(parsed)
	case float64:
		*d = jsonDuration(time.Duration(val))
	default:
		return fmt.Errorf("invalid duration %s", b)
	}
	return nil
}

// UnmarshalJSON accepts duration strings for ShutdownTimeout.
func (s *ServerConfig) UnmarshalJSON(b []byte) error {
	type plain ServerConfig
	aux := struct {
		*plain
		ShutdownTimeout *jsonDuration `json:"shutdownTimeout"`
	}{
		plain:           (*plain)(s),
		ShutdownTimeout: (*jsonDuration)(&s.ShutdownTimeout),
	}
	return json.Unmarshal(b, &aux)
}

// UnmarshalJSON accepts duration strings for Timeout, GraceWindow and
// RateInterval.
func (c *CaptureConfig) UnmarshalJSON(b []byte) error {
	type plain CaptureConfig
	aux := struct {
		*plain
		Timeout      *jsonDuration `json:"timeout"`
		GraceWindow  *jsonDuration `json:"graceWindow"`
		RateInterval *jsonDuration `json:"rateInterval"`
	}{
		plain:        (*plain)(c),
		Timeout:      (*jsonDuration)(&c.Timeout),
		GraceWindow:  (*jsonDuration)(&c.GraceWindow),
		RateInterval: (*jsonDuration)(&c.RateInterval),
	}
	return json.Unmarshal(b, &aux)
}

// CoredumpConfig gates the coredump endpoint.
type CoredumpConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Server: ServerConfig{
			Address:         defaults.ServerAddress,
			Port:            defaults.ServerPort,
			RateLimit:       100,
			RateLimitBurst:  200,
			ShutdownTimeout: defaults.ServerShutdownTimeout,
			NotifySystemd:   true,
		},
		Capture: CaptureConfig{
			Timeout:      defaults.CaptureTimeout,
			GraceWindow:  defaults.AckGraceWindow,
			ExitCode:     defaults.WatchdogExitCode,
			Source:       taskdump.SourceStack,
			Journal:      true,
			RateInterval: defaults.CaptureRateInterval,
			RateBurst:    defaults.CaptureRateBurst,
		},
	}
}

// Load reads path over the defaults, then applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) readFile(path string) error {
	r, err := serializer.NewFileReader(serializer.FormatFromPath(path), path)
	if err != nil {
		return swerrors.WrapWithContext(swerrors.ErrCodeInvalidRequest,
			"failed to open config file", err, map[string]any{"path": path})
	}
	defer func() {
		if cerr := r.Close(); cerr != nil {
			slog.Warn("failed to close config file", "path", path, "error", cerr)
		}
	}()

	if err := r.Deserialize(c); err != nil && !stderrors.Is(err, io.EOF) {
		return swerrors.WrapWithContext(swerrors.ErrCodeInvalidRequest,
			"failed to parse config file", err, map[string]any{"path": path})
	}
	slog.Debug("loaded config file", "path", path)
	return nil
}

// ApplyEnv overrides settings from environment variables read through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	var errs []error
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	str(EnvLogLevel, &c.LogLevel)
	str(EnvAddress, &c.Server.Address)
	integer(EnvPortCompat, &c.Server.Port)
	integer(EnvPort, &c.Server.Port)
	duration(EnvCaptureTimeout, &c.Capture.Timeout)
	duration(EnvGraceWindow, &c.Capture.GraceWindow)
	integer(EnvExitCode, &c.Capture.ExitCode)
	str(EnvSource, &c.Capture.Source)
	str(EnvDumpFile, &c.Capture.DumpFile)
	boolean(EnvJournal, &c.Capture.Journal)
	boolean(EnvCoredump, &c.Coredump.Enabled)

	if err := stderrors.Join(errs...); err != nil {
		return swerrors.Wrap(swerrors.ErrCodeInvalidRequest, "invalid environment override", err)
	}
	return nil
}

// Validate checks the configuration for values the daemon cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return swerrors.NewWithContext(swerrors.ErrCodeInvalidRequest,
			"port must be within [0, 65535]", map[string]any{"port": c.Server.Port})
	}
	if c.Server.RateLimit <= 0 || c.Server.RateLimitBurst <= 0 {
		return swerrors.NewWithContext(swerrors.ErrCodeInvalidRequest,
			"server rate limit and burst must be positive",
			map[string]any{"rateLimit": c.Server.RateLimit, "rateLimitBurst": c.Server.RateLimitBurst})
	}
	if c.Capture.RateInterval < 0 || c.Capture.RateBurst <= 0 {
		return swerrors.NewWithContext(swerrors.ErrCodeInvalidRequest,
			"capture rate interval must not be negative and burst must be positive",
			map[string]any{"rateInterval": c.Capture.RateInterval.String(), "rateBurst": c.Capture.RateBurst})
	}
	if _, err := taskdump.NewSource(c.Capture.Source); err != nil {
		return swerrors.Wrap(swerrors.ErrCodeInvalidRequest, "invalid capture source", err)
	}
	return c.TaskdumpConfig().Validate()
}

// TaskdumpConfig returns the capture protocol parameters.
func (c *Config) TaskdumpConfig() taskdump.Config {
	return taskdump.Config{
		CaptureTimeout: c.Capture.Timeout,
		GraceWindow:    c.Capture.GraceWindow,
		ExitCode:       c.Capture.ExitCode,
	}
}

// CaptureRateLimit returns the limiter settings for captures. A zero
// interval disables the limit.
func (c *Config) CaptureRateLimit() (rate.Limit, int) {
	if c.Capture.RateInterval == 0 {
		return rate.Inf, c.Capture.RateBurst
	}
	return rate.Every(c.Capture.RateInterval), c.Capture.RateBurst
}

// CaptureHandlerBudget is the longest the capture endpoint may take to
// answer. It keeps the default headroom over the capture timeout and grace
// window, and never drops below defaults.CaptureHandlerTimeout.
func (c *Config) CaptureHandlerBudget() time.Duration {
	headroom := defaults.CaptureHandlerTimeout - (defaults.CaptureTimeout + defaults.AckGraceWindow)
	return max(defaults.CaptureHandlerTimeout, c.Capture.Timeout+c.Capture.GraceWindow+headroom)
}

// ServerConfig returns the HTTP server configuration. The write timeout is
// raised when the capture budget would otherwise outlast it.
func (c *Config) ServerConfig(name, version string) *server.Config {
	sc := server.NewConfig()
	sc.Name = name
	sc.Version = version
	sc.Address = c.Server.Address
	sc.Port = c.Server.Port
	sc.RateLimit = rate.Limit(c.Server.RateLimit)
	sc.RateLimitBurst = c.Server.RateLimitBurst
	if c.Server.ShutdownTimeout > 0 {
		sc.ShutdownTimeout = c.Server.ShutdownTimeout
	}
	sc.NotifySystemd = c.Server.NotifySystemd

	writeHeadroom := defaults.ServerWriteTimeout - defaults.CaptureHandlerTimeout
	if need := c.CaptureHandlerBudget() + writeHeadroom; sc.WriteTimeout < need {
		slog.Debug("raising server write timeout to fit capture budget",
			slog.Duration("from", sc.WriteTimeout), slog.Duration("to", need))
		sc.WriteTimeout = need
		sc.IdleTimeout = max(sc.IdleTimeout, need)
	}
	return sc
}
