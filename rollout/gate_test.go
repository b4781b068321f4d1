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

package rollout

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feltlabs/go-felt/kvstore"
	"github.com/feltlabs/go-felt/params"
)

func TestBucketDeterministic(t *testing.T) {
	g := New(kvstore.NewMemory(nil), true, 50)
	for _, chat := range []int64{1, 42, 1000, -7, 999999999} {
		first := g.IsEnabledForChat(chat)
		for i := 0; i < 10; i++ {
			assert.Equal(t, first, g.IsEnabledForChat(chat), "chat %d flapped", chat)
		}
	}
}

func TestBoundaryPercentages(t *testing.T) {
	kv := kvstore.NewMemory(nil)

	g := New(kv, true, 100)
	assert.True(t, g.IsEnabledForChat(1))
	assert.True(t, g.IsEnabledForChat(123456))

	g = New(kv, true, 0)
	assert.False(t, g.IsEnabledForChat(1))

	g = New(kv, false, 100)
	assert.False(t, g.IsEnabledForChat(1), "disabled switch wins over percentage")
}

func TestPercentageMonotonic(t *testing.T) {
	// A chat inside the rollout at p stays inside for every p' > p.
	kv := kvstore.NewMemory(nil)
	for _, chat := range []int64{3, 77, 4242} {
		in := false
		for p := int64(0); p <= 100; p += 5 {
			g := New(kv, true, p)
			now := g.IsEnabledForChat(chat)
			if in {
				assert.True(t, now, "chat %d dropped out at %d%%", chat, p)
			}
			in = now
		}
		assert.True(t, in)
	}
}

func TestReloadFromConstants(t *testing.T) {
	ctx := context.Background()
	kv := kvstore.NewMemory(nil)
	require.NoError(t, kv.HSet(ctx, params.SystemConstantsKey, map[string]string{
		params.ConstFineGrainedEnabled: "true",
		params.ConstRolloutPercentage:  "30",
		params.ConstRetryMaxAttempts:   "5",
		params.ConstRetryBackoffDelays: "0.5, 1, 2",
		params.ConstRetryGraceBuffer:   "3",
	}))

	g := New(kv, false, 0)
	var got Constants
	g.Subscribe(func(c Constants) { got = c })
	require.NoError(t, g.Reload(ctx))

	assert.True(t, g.Enabled())
	assert.Equal(t, int64(30), g.Percentage())
	assert.Equal(t, 5, got.RetryMaxAttempts)
	assert.Equal(t, []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second}, got.RetryBackoffDelays)
	assert.Equal(t, 3*time.Second, got.RetryGraceBuffer)
	assert.Equal(t, got, g.Constants())
}

func TestSetPercentagePersists(t *testing.T) {
	ctx := context.Background()
	kv := kvstore.NewMemory(nil)
	g := New(kv, true, 80)

	require.NoError(t, g.SetPercentage(ctx, 40))
	assert.Equal(t, int64(40), g.Percentage())

	fields, err := kv.HGetAll(ctx, params.SystemConstantsKey)
	require.NoError(t, err)
	assert.Equal(t, "40", fields[params.ConstRolloutPercentage])

	// Out-of-range values clamp.
	require.NoError(t, g.SetPercentage(ctx, 250))
	assert.Equal(t, int64(100), g.Percentage())
	require.NoError(t, g.SetPercentage(ctx, -10))
	assert.Equal(t, int64(0), g.Percentage())
}
