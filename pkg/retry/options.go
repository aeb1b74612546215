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


package retry

import "time"

const (
	defaultBaseDelay = 10 * time.Millisecond
	defaultMaxDelay  = 100 * time.Millisecond
	defaultMaxTries  = 3
)

// Option configures Do.
type Option func(*retryOptions)

// IsRetryableErr checks the error is safe to retry or not, eg. "context.Canceled" better not retry
type IsRetryableErr func(error) bool

type retryOptions struct {
	// maxTries is zero when only the context bounds the retries
	maxTries    uint64
	baseDelay   time.Duration
	maxDelay    time.Duration
	isRetryable IsRetryableErr
	onRetry     func(attempt int, err error)
}

func newRetryOptions() *retryOptions {
	return &retryOptions{
		maxTries:    defaultMaxTries,
		baseDelay:   defaultBaseDelay,
		maxDelay:    defaultMaxDelay,
		isRetryable: func(error) bool { return true },
		onRetry:     func(int, error) {},
	}
}

// WithBackoffBaseDelay configures the initial delay in milliseconds.
func WithBackoffBaseDelay(delayInMs int64) Option {
	return func(o *retryOptions) {
		if delayInMs > 0 {
			o.baseDelay = time.Duration(delayInMs) * time.Millisecond
		}
	}
}

// WithBackoffMaxDelay configures the maximum delay in milliseconds.
func WithBackoffMaxDelay(delayInMs int64) Option {
	return func(o *retryOptions) {
		if delayInMs > 0 {
			o.maxDelay = time.Duration(delayInMs) * time.Millisecond
		}
	}
}

// WithMaxTries configures maximum tries, a non-positive value means
// retrying until the context is done.
func WithMaxTries(tries int64) Option {
	return func(o *retryOptions) {
		if tries > 0 {
			o.maxTries = uint64(tries)
		} else {
			o.maxTries = 0
		}
	}
}

// WithInfiniteTries retries until success or the context is done.
func WithInfiniteTries() Option {
	return WithMaxTries(0)
}

// WithIsRetryableErr configures the error handler, if not set, retry by default
func WithIsRetryableErr(f IsRetryableErr) Option {
	return func(o *retryOptions) {
		if f != nil {
			o.isRetryable = f
		}
	}
}

// WithOnRetry registers a callback invoked before each retry.
func WithOnRetry(f func(attempt int, err error)) Option {
	return func(o *retryOptions) {
		if f != nil {
			o.onRetry = f
		}
	}
}
