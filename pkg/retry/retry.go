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

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pingcap/buildflow/pkg/errors"
)

// Operation is the action need to retry
type Operation func() error

// Do executes the specified function at most maxTries times until it succeeds
// or got canceled. Errors rejected by the IsRetryableErr option are returned
// at once.
func Do(ctx context.Context, operation Operation, opts ...Option) error {
	retryOption := newRetryOptions()
	for _, opt := range opts {
		opt(retryOption)
	}
	return run(ctx, operation, retryOption)
}

func run(ctx context.Context, op Operation, retryOption *retryOptions) error {
	if err := ctx.Err(); err != nil {
		return errors.Trace(err)
	}

	var b backoff.BackOff = newExponentialBackOff(retryOption)
	if retryOption.maxTries > 0 {
		b = backoff.WithMaxRetries(b, retryOption.maxTries-1)
	}
	b = backoff.WithContext(b, ctx)

	attempt := 0
	wrapped := func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		if !retryOption.isRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, _ time.Duration) {
		retryOption.onRetry(attempt, err)
	}

	err := backoff.RetryNotify(wrapped, b, notify)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return errors.Trace(ctxErr)
	}
	return err
}

func newExponentialBackOff(o *retryOptions) *backoff.ExponentialBackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = o.baseDelay
	eb.MaxInterval = o.maxDelay
	// bounded by tries and the context only
	eb.MaxElapsedTime = 0
	eb.Reset()
	return eb
}
