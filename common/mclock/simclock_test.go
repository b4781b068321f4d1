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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulatedAfterFuncOrder(t *testing.T) {
	var c Simulated
	var fired []int

	c.AfterFunc(3*time.Second, func() { fired = append(fired, 3) })
	c.AfterFunc(time.Second, func() { fired = append(fired, 1) })
	c.AfterFunc(2*time.Second, func() { fired = append(fired, 2) })
	require.Equal(t, 3, c.ActiveTimers())

	c.Run(90 * time.Second)
	assert.Equal(t, []int{1, 2, 3}, fired)
	assert.Zero(t, c.ActiveTimers())
}

func TestSimulatedPartialAdvance(t *testing.T) {
	var c Simulated
	var fired []int

	c.AfterFunc(time.Second, func() { fired = append(fired, 1) })
	c.AfterFunc(10*time.Second, func() { fired = append(fired, 10) })

	c.Run(5 * time.Second)
	assert.Equal(t, []int{1}, fired)
	assert.Equal(t, 1, c.ActiveTimers())

	c.Run(5 * time.Second)
	assert.Equal(t, []int{1, 10}, fired)
}

func TestSimulatedStop(t *testing.T) {
	var c Simulated
	fired := false

	timer := c.AfterFunc(time.Second, func() { fired = true })
	require.True(t, timer.Stop())
	c.Run(time.Minute)
	assert.False(t, fired)

	// Stopping after expiry reports false.
	timer = c.AfterFunc(time.Second, func() {})
	c.Run(time.Minute)
	assert.False(t, timer.Stop())
}

func TestSimulatedNowAdvances(t *testing.T) {
	var c Simulated
	start := c.Now()
	c.Run(42 * time.Second)
	assert.Equal(t, 42*time.Second, c.Now().Sub(start))
}

func TestSimulatedAfterChannel(t *testing.T) {
	var c Simulated
	ch := c.After(time.Second)

	select {
	case <-ch:
		t.Fatal("fired before the timeline reached it")
	default:
	}

	c.Run(2 * time.Second)
	select {
	case at := <-ch:
		assert.Equal(t, time.Second, at.Sub(time.Time{}))
	default:
		t.Fatal("channel not delivered")
	}
}
