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

package health

import (
	"encoding/json"
	"net/http"
	"time"
)

type endpointMetrics struct {
	TotalActions  int64   `json:"total_actions"`
	SuccessRate   float64 `json:"success_rate"`
	ErrorRate     float64 `json:"error_rate"`
	LockErrorRate float64 `json:"lock_error_rate"`
}

type endpointResponse struct {
	Healthy bool            `json:"healthy"`
	Metrics endpointMetrics `json:"metrics"`

	Chats map[int64]chatDetail `json:"chats,omitempty"`
}

type chatDetail struct {
	Actions     int64 `json:"actions"`
	Failures    int64 `json:"failures"`
	LockErrors  int64 `json:"lock_errors"`
	Unhealthy   int   `json:"consecutive_unhealthy"`
	WindowMs    int64 `json:"window_ms"`
	MeanWaitMs  int64 `json:"mean_lock_wait_ms,omitempty"`
	MeanTimeMs  int64 `json:"mean_action_ms,omitempty"`
}

// Handler serves the aggregate health document. Pass detail=1 for the
// per-chat window breakdown.
func (m *Monitor) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t := m.TotalsSnapshot()

		resp := endpointResponse{Healthy: true}
		resp.Metrics.TotalActions = t.Actions
		resp.Metrics.SuccessRate = 1
		if t.Actions > 0 {
			resp.Metrics.ErrorRate = float64(t.Failures) / float64(t.Actions)
			resp.Metrics.SuccessRate = 1 - resp.Metrics.ErrorRate
		}
		if t.LockOps > 0 {
			resp.Metrics.LockErrorRate = float64(t.LockErrors) / float64(t.LockOps)
		}
		if resp.Metrics.ErrorRate > m.cfg.MaxErrorRate ||
			resp.Metrics.LockErrorRate > m.cfg.MaxLockErrorRate {
			resp.Healthy = false
		}

		if r.URL.Query().Get("detail") == "1" {
			resp.Chats = m.chatDetails()
		}

		w.Header().Set("Content-Type", "application/json")
		if !resp.Healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(resp)
	})
}

func (m *Monitor) chatDetails() map[int64]chatDetail {
	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[int64]chatDetail, len(m.chats))
	for chatID, win := range m.chats {
		d := chatDetail{
			Actions:    win.actions,
			Failures:   win.failures,
			LockErrors: win.lockErrors,
			Unhealthy:  m.unhealthy[chatID],
			WindowMs:   now.Sub(win.start).Milliseconds(),
		}
		if win.lockSamples > 0 {
			d.MeanWaitMs = (win.lockWait / time.Duration(win.lockSamples)).Milliseconds()
		}
		if win.actions > 0 {
			d.MeanTimeMs = (win.actionTime / time.Duration(win.actions)).Milliseconds()
		}
		out[chatID] = d
	}
	return out
}
