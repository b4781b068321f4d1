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

// Package params holds static configuration and the schema of the dynamic
// system_constants document in the KV store.
package params

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml"
)

// Key layout in the KV store.
const (
	ReservationKeyPrefix = "poker:reservation:"
	GameStateKeyPrefix   = "poker:game_state:"
	ActionLockKeyPrefix  = "action:lock:"
	LockQueueKeyPrefix   = "lock:queue:"
	DLQKey               = "poker:wallet:dlq"
	SystemConstantsKey   = "system:constants"
)

// Fields of the system_constants hash.
const (
	ConstFineGrainedEnabled = "lock_manager.enable_fine_grained_locks"
	ConstRolloutPercentage  = "lock_manager.rollout_percentage"
	ConstRetryMaxAttempts   = "lock_manager.lock_retry.max_attempts"
	ConstRetryBackoffDelays = "lock_manager.lock_retry.backoff_delays_seconds"
	ConstRetryGraceBuffer   = "lock_manager.lock_retry.grace_buffer_seconds"
)

// LockConfig tunes the lock service.
type LockConfig struct {
	// WriteTimeout bounds a betting action's table write acquisition.
	WriteTimeout time.Duration `toml:"write_timeout"`
	// MaxRetries is retried attempts beyond the first.
	MaxRetries int `toml:"max_retries"`
	// RetryBackoffBase is doubled per attempt on the plain retry path.
	RetryBackoffBase time.Duration `toml:"retry_backoff_base"`
	// SmartBackoffDelays is the distributed-contention backoff schedule.
	SmartBackoffDelays []time.Duration `toml:"smart_backoff_delays"`
	// SmartGraceBuffer extends the total smart-retry wait past the timeout.
	SmartGraceBuffer time.Duration `toml:"smart_grace_buffer"`
	// QueueDepthLimit aborts smart acquisition when the KV wait queue is
	// deeper than this.
	QueueDepthLimit int64 `toml:"queue_depth_limit"`
	// IdleReapAfter is how long a released lock entry survives unused.
	IdleReapAfter time.Duration `toml:"idle_reap_after"`
	// ReapInterval is the sweep period.
	ReapInterval time.Duration `toml:"reap_interval"`
	// ReapBatch bounds entries removed per batch (all batches run each sweep).
	ReapBatch int `toml:"reap_batch"`
	// ActionTokenTTL bounds a durable per-(chat, user, action) token.
	ActionTokenTTL time.Duration `toml:"action_token_ttl"`
}

// WalletConfig tunes the 2PC engine.
type WalletConfig struct {
	ReservationTTL time.Duration `toml:"reservation_ttl"`
	ExpiryGrace    time.Duration `toml:"expiry_grace"`
}

// HealthConfig tunes the per-chat health monitor.
type HealthConfig struct {
	Window             time.Duration `toml:"window"`
	UnhealthyThreshold int           `toml:"unhealthy_threshold"`
	MaxErrorRate       float64       `toml:"max_error_rate"`
	MaxLockErrorRate   float64       `toml:"max_lock_error_rate"`
	MaxMeanActionTime  time.Duration `toml:"max_mean_action_time"`
}

// BudgetConfig tunes the per-(chat, round) request budget.
type BudgetConfig struct {
	Limit int `toml:"limit"`
}

// ValkeyConfig locates the KV store.
type ValkeyConfig struct {
	Addr           string        `toml:"addr"`
	Password       string        `toml:"password"`
	DB             int           `toml:"db"`
	CommandTimeout time.Duration `toml:"command_timeout"`
}

// Config is the static daemon configuration. The rollout percentage and the
// retry schedule can additionally be overridden at runtime through the
// system_constants document.
type Config struct {
	LogLevel string `toml:"log_level"`
	LogFile  string `toml:"log_file"`
	HTTPAddr string `toml:"http_addr"`

	LedgerDSN string `toml:"ledger_dsn"`

	Valkey ValkeyConfig `toml:"valkey"`
	Lock   LockConfig   `toml:"lock"`
	Wallet WalletConfig `toml:"wallet"`
	Health HealthConfig `toml:"health"`
	Budget BudgetConfig `toml:"budget"`
}

// DefaultConfig mirrors the documented defaults.
func DefaultConfig() Config {
	return Config{
		LogLevel: "info",
		HTTPAddr: ":8790",
		Valkey: ValkeyConfig{
			Addr:           "127.0.0.1:6379",
			CommandTimeout: 30 * time.Second,
		},
		Lock: LockConfig{
			WriteTimeout:       30 * time.Second,
			MaxRetries:         3,
			RetryBackoffBase:   50 * time.Millisecond,
			SmartBackoffDelays: []time.Duration{time.Second, 2 * time.Second, 4 * time.Second},
			SmartGraceBuffer:   2 * time.Second,
			QueueDepthLimit:    8,
			IdleReapAfter:      5 * time.Minute,
			ReapInterval:       time.Minute,
			ReapBatch:          100,
			ActionTokenTTL:     30 * time.Second,
		},
		Wallet: WalletConfig{
			ReservationTTL: 5 * time.Minute,
			ExpiryGrace:    5 * time.Second,
		},
		Health: HealthConfig{
			Window:             time.Minute,
			UnhealthyThreshold: 3,
			MaxErrorRate:       0.05,
			MaxLockErrorRate:   0.01,
			MaxMeanActionTime:  200 * time.Millisecond,
		},
		Budget: BudgetConfig{Limit: 10},
	}
}

// Load reads a TOML config file over the defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("params: read %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("params: parse %s: %w", path, err)
	}
	return cfg, nil
}
