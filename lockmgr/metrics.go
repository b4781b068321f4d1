// Copyright 2025 The go-felt Authors
// This file is part of the go-felt library.
//
// The go-felt library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-felt library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-felt library. If not, see <http://www.gnu.org/licenses/>.

package lockmgr

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	lockRetryAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lock_retry_attempts",
		Help: "Acquisition attempts on the smart-retry path.",
	}, []string{"type", "attempt"})

	lockRetrySuccess = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lock_retry_success",
		Help: "Smart-retry acquisitions that needed more than one attempt.",
	}, []string{"type"})

	lockAcquisitionSuccess = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lock_acquisition_success",
		Help: "Successful smart-retry acquisitions by attempt index.",
	}, []string{"type", "attempt"})

	lockWaitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lock_wait_duration_seconds",
		Help:    "Time spent waiting for lock acquisition.",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 16),
	})

	lockQueueDepth = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lock_queue_depth",
		Help:    "Observed distributed wait-queue depth at acquisition time.",
		Buckets: prometheus.LinearBuckets(0, 1, 16),
	})
)
