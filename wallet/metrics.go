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

package wallet

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	reserveCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reserve_total",
		Help: "Reservation attempts by outcome.",
	}, []string{"status"})

	commitCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "commit_total",
		Help: "Commit attempts by outcome.",
	}, []string{"status"})

	rollbackCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rollback_total",
		Help: "Rollback attempts by outcome.",
	}, []string{"status"})

	dlqCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dlq_total",
		Help: "Reservations routed to the dead-letter queue.",
	})

	operationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wallet_operation_duration_seconds",
		Help:    "Wallet operation latency.",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 16),
	}, []string{"operation"})
)
