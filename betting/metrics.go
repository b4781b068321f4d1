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

package betting

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	actionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "action_duration_seconds",
		Help:    "End-to-end betting action latency.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
	}, []string{"action"})

	actionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "betting_actions_total",
		Help: "Betting actions handled, by action and outcome.",
	}, []string{"action", "status"})

	stateConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "betting_state_conflicts_total",
		Help: "CAS saves lost to a concurrent writer, each one refunded.",
	})
)
