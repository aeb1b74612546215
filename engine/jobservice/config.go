// Copyright 2024 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package jobservice

import (
	"github.com/pingcap/buildflow/pkg/errors"
	"github.com/pingcap/buildflow/pkg/retry"
)

const (
	defaultGraphCacheSize   = 256
	defaultRetryBaseDelayMs = 10
	defaultRetryMaxDelayMs  = 1000
)

// Config is the configuration of the job service.
type Config struct {
	// GraphCacheSize is the number of decoded graphs kept in memory.
	GraphCacheSize int `toml:"graph-cache-size" json:"graph-cache-size"`
	// UpdateRetry tunes the retry loop of the conditional writes.
	UpdateRetry RetryConfig `toml:"update-retry" json:"update-retry"`
}

// RetryConfig is the backoff used when a conditional write loses a race.
type RetryConfig struct {
	BaseDelayMs int64 `toml:"base-delay-ms" json:"base-delay-ms"`
	MaxDelayMs  int64 `toml:"max-delay-ms" json:"max-delay-ms"`
	// MaxTries is the number of attempts, 0 retries until the context is done.
	MaxTries int64 `toml:"max-tries" json:"max-tries"`
}

// DefaultConfig returns the default job service config.
func DefaultConfig() Config {
	return Config{
		GraphCacheSize: defaultGraphCacheSize,
		UpdateRetry: RetryConfig{
			BaseDelayMs: defaultRetryBaseDelayMs,
			MaxDelayMs:  defaultRetryMaxDelayMs,
		},
	}
}

// Validate checks the config.
func (c *Config) Validate() error {
	if c.GraphCacheSize <= 0 {
		return errors.ErrInvalidConfig.GenWithStackByArgs("graph-cache-size must be positive")
	}
	r := c.UpdateRetry
	if r.BaseDelayMs < 0 || r.MaxDelayMs < 0 || r.MaxTries < 0 {
		return errors.ErrInvalidConfig.GenWithStackByArgs("update-retry values must not be negative")
	}
	if r.MaxDelayMs != 0 && r.MaxDelayMs < r.BaseDelayMs {
		return errors.ErrInvalidConfig.GenWithStackByArgs("update-retry max-delay-ms is below base-delay-ms")
	}
	return nil
}

func (c *Config) retryOptions() []retry.Option {
	return []retry.Option{
		retry.WithBackoffBaseDelay(c.UpdateRetry.BaseDelayMs),
		retry.WithBackoffMaxDelay(c.UpdateRetry.MaxDelayMs),
		retry.WithMaxTries(c.UpdateRetry.MaxTries),
		retry.WithIsRetryableErr(errors.IsRetryableConflict),
	}
}
