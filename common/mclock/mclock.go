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

// Package mclock decouples time-dependent code from the system clock.
//
// Reservation expiry, health windows, lock reaping and retry backoff all
// take a Clock so tests can drive them deterministically with Simulated.
package mclock

import "time"

// Clock is the interface consumed by everything that sleeps, schedules or
// timestamps. System is the production implementation.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
	After(d time.Duration) <-chan time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a cancellable event returned by AfterFunc.
type Timer interface {
	// Stop cancels the timer. It returns false if the timer has already
	// expired or been stopped.
	Stop() bool
}

// System implements Clock using the real system clock.
type System struct{}

// Now returns the current time.
func (System) Now() time.Time { return time.Now() }

// Sleep blocks for the given duration.
func (System) Sleep(d time.Duration) { time.Sleep(d) }

// After returns a channel which receives the current time after d has elapsed.
func (System) After(d time.Duration) <-chan time.Time { return time.After(d) }

// AfterFunc runs f on a new goroutine after the duration has elapsed.
func (System) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
