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

// Package budget caps the outbound messages a single betting round may emit.
// Counters live per (chat, round) and are purely in-memory; a restart starts
// every round fresh, which errs on the side of sending.
package budget

import (
	"math"
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
)

// Category names one outbound message class.
type Category string

const (
	CategoryTurn      Category = "turn"
	CategoryStage     Category = "stage"
	CategoryInline    Category = "inline"
	CategoryCountdown Category = "countdown"
)

// VerboseEnv enables per-consume debug logging when set to a non-empty value.
const VerboseEnv = "FELT_BUDGET_VERBOSE"

var (
	consumedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "budget_consumed_total",
		Help: "Budget slots consumed, by category.",
	}, []string{"category"})
	rejectedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "budget_rejected_total",
		Help: "Consume attempts rejected at the cap, by category.",
	}, []string{"category"})
)

type roundKey struct {
	chatID  int64
	roundID int64
}

type roundState struct {
	counts   map[Category]int
	total    int
	notified bool
}

// Tracker owns the per-round counters.
type Tracker struct {
	limit     int
	threshold int
	verbose   bool
	log       *logrus.Entry

	mu     sync.Mutex
	rounds map[roundKey]*roundState
}

// NewTracker builds a tracker with the given total cap per round.
func NewTracker(limit int) *Tracker {
	if limit <= 0 {
		limit = 10
	}
	return &Tracker{
		limit:     limit,
		threshold: int(math.Ceil(float64(limit) * 0.75)),
		verbose:   os.Getenv(VerboseEnv) != "",
		log:       logrus.WithField("component", "budget"),
		rounds:    make(map[roundKey]*roundState),
	}
}

// Limit reports the per-round cap.
func (t *Tracker) Limit() int { return t.limit }

func (t *Tracker) stateFor(k roundKey) *roundState {
	st, ok := t.rounds[k]
	if !ok {
		st = &roundState{counts: make(map[Category]int)}
		t.rounds[k] = st
	}
	return st
}

// TryConsume claims one slot in the round's budget. It returns false, and
// changes nothing, when the round total would exceed the cap.
func (t *Tracker) TryConsume(chatID, roundID int64, cat Category) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.stateFor(roundKey{chatID, roundID})
	if st.total+1 > t.limit {
		rejectedCounter.WithLabelValues(string(cat)).Inc()
		t.log.WithFields(logrus.Fields{
			"chat": chatID, "round": roundID, "category": cat, "total": st.total,
		}).Warn("budget exhausted")
		return false
	}
	st.counts[cat]++
	st.total++
	consumedCounter.WithLabelValues(string(cat)).Inc()

	if !st.notified && st.total >= t.threshold {
		st.notified = true
		t.log.WithFields(logrus.Fields{
			"chat": chatID, "round": roundID, "total": st.total, "limit": t.limit,
		}).Info("budget threshold crossed")
	}
	if t.verbose {
		t.log.WithFields(logrus.Fields{
			"chat": chatID, "round": roundID, "category": cat,
			"count": st.counts[cat], "total": st.total,
		}).Debug("budget consume")
	}
	return true
}

// Release returns one slot. Counters never go below zero.
func (t *Tracker) Release(chatID, roundID int64, cat Category) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.rounds[roundKey{chatID, roundID}]
	if !ok || st.counts[cat] == 0 {
		return
	}
	st.counts[cat]--
	st.total--
	if t.verbose {
		t.log.WithFields(logrus.Fields{
			"chat": chatID, "round": roundID, "category": cat, "total": st.total,
		}).Debug("budget release")
	}
}

// Usage reports the round's per-category counts and total.
func (t *Tracker) Usage(chatID, roundID int64) (map[Category]int, int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.rounds[roundKey{chatID, roundID}]
	if !ok {
		return map[Category]int{}, 0
	}
	out := make(map[Category]int, len(st.counts))
	for k, v := range st.counts {
		out[k] = v
	}
	return out, st.total
}

// Reset drops the round's counters. Called when a round ends.
func (t *Tracker) Reset(chatID, roundID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.rounds, roundKey{chatID, roundID})
}

// ResetChat drops every round of the chat.
func (t *Tracker) ResetChat(chatID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k := range t.rounds {
		if k.chatID == chatID {
			delete(t.rounds, k)
		}
	}
}
