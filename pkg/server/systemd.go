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

package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// notifyReady tells systemd the service is up. It is a no-op outside a
// notify-type unit.
func notifyReady() {
	sdNotify(daemon.SdNotifyReady)
}

func notifyStopping() {
	sdNotify(daemon.SdNotifyStopping)
}

func sdNotify(state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		slog.Warn("systemd notification failed", "state", state, "error", err)
		return
	}
	if sent {
		slog.Debug("systemd notified", "state", state)
	}
}

// keepAlive pings the systemd watchdog at half its interval until ctx is done.
// The pings come from an ordinary goroutine, so a wedged scheduler stops them
// and systemd restarts the unit.
func keepAlive(ctx context.Context) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		slog.Warn("failed to read systemd watchdog settings", "error", err)
		return
	}
	if interval <= 0 {
		return
	}

	period := interval / 2
	slog.Info("systemd watchdog enabled", "interval", interval, "period", period)

	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sdNotify(daemon.SdNotifyWatchdog)
		}
	}
}
