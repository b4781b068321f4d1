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

package params

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 30*time.Second, cfg.Lock.WriteTimeout)
	assert.Equal(t, 3, cfg.Lock.MaxRetries)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, cfg.Lock.SmartBackoffDelays)
	assert.Equal(t, 5*time.Minute, cfg.Wallet.ReservationTTL)
	assert.Equal(t, time.Minute, cfg.Health.Window)
	assert.Equal(t, 3, cfg.Health.UnhealthyThreshold)
	assert.Equal(t, 0.05, cfg.Health.MaxErrorRate)
	assert.Equal(t, 10, cfg.Budget.Limit)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "felt.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level = "debug"
http_addr = ":9000"

[valkey]
addr = "10.0.0.5:6379"
db = 2

[lock]
max_retries = 5
queue_depth_limit = 16

[budget]
limit = 4
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, ":9000", cfg.HTTPAddr)
	assert.Equal(t, "10.0.0.5:6379", cfg.Valkey.Addr)
	assert.Equal(t, 2, cfg.Valkey.DB)
	assert.Equal(t, 5, cfg.Lock.MaxRetries)
	assert.Equal(t, int64(16), cfg.Lock.QueueDepthLimit)
	assert.Equal(t, 4, cfg.Budget.Limit)

	// Untouched sections keep their defaults.
	assert.Equal(t, 30*time.Second, cfg.Lock.WriteTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Wallet.ReservationTTL)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}
