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

package mclock

import (
	"container/heap"
	"sync"
	"time"
)

// Simulated implements Clock with a virtual timeline that only advances when
// Run is called. Goroutines sleeping on the simulated clock park until the
// timeline passes their wakeup point.
//
// The zero value is usable; the timeline starts at the zero time.Time.
type Simulated struct {
	mu       sync.Mutex
	now      time.Time
	scheduled simTimerHeap
	lastID   uint64
	cond     *sync.Cond
}

type simTimer struct {
	s     *Simulated
	at    time.Time
	id    uint64 // breaks ties so expiry order is stable
	do    func()
	ch    chan time.Time
	index int // position in the heap, -1 once fired or stopped
}

func (s *Simulated) init() {
	if s.cond == nil {
		s.cond = sync.NewCond(&s.mu)
	}
}

// Run advances the virtual timeline by d, firing every timer scheduled within
// the window in expiry order. AfterFunc callbacks run on the calling
// goroutine, matching their ordering guarantees in tests.
func (s *Simulated) Run(d time.Duration) {
	s.mu.Lock()
	s.init()
	end := s.now.Add(d)

	var fire []*simTimer
	for len(s.scheduled) > 0 && !s.scheduled[0].at.After(end) {
		t := heap.Pop(&s.scheduled).(*simTimer)
		s.now = t.at
		fire = append(fire, t)
	}
	s.now = end
	s.cond.Broadcast()
	s.mu.Unlock()

	for _, t := range fire {
		if t.do != nil {
			t.do()
		}
		if t.ch != nil {
			t.ch <- t.at
		}
	}
}

// ActiveTimers returns the number of timers that have not fired.
func (s *Simulated) ActiveTimers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.scheduled)
}

// WaitForTimers blocks until the clock has at least n scheduled timers.
func (s *Simulated) WaitForTimers(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.init()
	for len(s.scheduled) < n {
		s.cond.Wait()
	}
}

// Now returns the current virtual time.
func (s *Simulated) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Sleep blocks until the virtual timeline has passed the wakeup point.
func (s *Simulated) Sleep(d time.Duration) {
	<-s.After(d)
}

// After returns a channel which receives the virtual time after d has passed.
func (s *Simulated) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	s.schedule(d, nil, ch)
	return ch
}

// AfterFunc runs fn after the virtual timeline has passed the given duration.
func (s *Simulated) AfterFunc(d time.Duration, fn func()) Timer {
	return s.schedule(d, fn, nil)
}

func (s *Simulated) schedule(d time.Duration, fn func(), ch chan time.Time) *simTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.init()

	s.lastID++
	t := &simTimer{s: s, at: s.now.Add(d), id: s.lastID, do: fn, ch: ch}
	heap.Push(&s.scheduled, t)
	s.cond.Broadcast()
	return t
}

// Stop implements Timer.
func (t *simTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.index < 0 {
		return false
	}
	heap.Remove(&t.s.scheduled, t.index)
	t.index = -1
	return true
}

type simTimerHeap []*simTimer

func (h simTimerHeap) Len() int { return len(h) }

func (h simTimerHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].id < h[j].id
	}
	return h[i].at.Before(h[j].at)
}

func (h simTimerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *simTimerHeap) Push(x interface{}) {
	t := x.(*simTimer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *simTimerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}
