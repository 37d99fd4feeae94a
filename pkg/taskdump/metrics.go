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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	captureTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stallwatch_capture_total",
			Help: "Total number of goroutine captures by outcome",
		},
		[]string{"status"}, // success or failure
	)

	captureDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stallwatch_capture_duration_seconds",
			Help:    "Time taken by the scheduler snapshot",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		},
	)

	captureTasks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stallwatch_capture_tasks",
			Help: "Number of tasks in the last successful capture",
		},
	)

	ackTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stallwatch_capture_ack_total",
			Help: "Capture hand-offs by acknowledgement result",
		},
		[]string{"result"}, // acknowledged or missed
	)

	sessionsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stallwatch_capture_sessions_in_flight",
			Help: "Watchdog sessions that have not reached a terminal outcome",
		},
	)

	dumpFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stallwatch_capture_dump_failures_total",
			Help: "Failed writes to the diagnostic sink on the termination path",
		},
	)
)
