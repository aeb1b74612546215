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

package clock

import (
	"time"

	bclock "github.com/benbjohnson/clock"
	"github.com/gavv/monotime"
)

type (
	// Timer is an alias of benbjohnson/clock.Timer
	Timer = bclock.Timer
	// MonotonicTime is a duration since an arbitrary point, only meaningful
	// when compared with another MonotonicTime of the same process.
	MonotonicTime time.Duration
)

var unixEpoch = time.Unix(0, 0)

// Clock is the time source of the job service. Timestamps written into
// job documents always come from a Clock, so tests can pin them.
type Clock interface {
	bclock.Clock
	// Mono returns the monotonic time, used to measure elapsed durations.
	Mono() MonotonicTime
}

type withRealMono struct {
	bclock.Clock
}

func (r withRealMono) Mono() MonotonicTime {
	return MonoNow()
}

// Mock is a manually driven Clock.
type Mock struct {
	*bclock.Mock
}

// Mono implements Clock.
func (r Mock) Mono() MonotonicTime {
	return MonotonicTime(r.Now().Sub(unixEpoch))
}

// New returns a Clock backed by the system time.
func New() Clock {
	return withRealMono{bclock.New()}
}

// NewMock returns a Mock clock starting at the unix epoch.
func NewMock() *Mock {
	return &Mock{bclock.NewMock()}
}

// NewMockAt returns a Mock clock starting at t.
func NewMockAt(t time.Time) *Mock {
	m := NewMock()
	m.Set(t)
	return m
}

// UTCNow returns the current time of c in UTC, truncated to microseconds
// so it survives a round trip through the metastore unchanged.
func UTCNow(c Clock) time.Time {
	return c.Now().UTC().Truncate(time.Microsecond)
}

// Sub returns the duration m-other.
func (m MonotonicTime) Sub(other MonotonicTime) time.Duration {
	return time.Duration(m - other)
}

// MonoNow returns the monotonic time of the process.
func MonoNow() MonotonicTime {
	return MonotonicTime(monotime.Now())
}
