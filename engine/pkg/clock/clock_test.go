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
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMockClock(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 3, 1, 8, 0, 0, 123456789, time.UTC)
	m := NewMockAt(start)
	require.Equal(t, start, m.Now().UTC())
	require.Equal(t, start.Truncate(time.Microsecond), UTCNow(m))

	before := m.Mono()
	m.Add(5 * time.Second)
	require.Equal(t, 5*time.Second, m.Mono().Sub(before))
}

func TestRealMonoIsIncreasing(t *testing.T) {
	t.Parallel()

	c := New()
	a := c.Mono()
	time.Sleep(time.Millisecond)
	require.Greater(t, c.Mono().Sub(a), time.Duration(0))
	require.GreaterOrEqual(t, MonoNow().Sub(a), time.Duration(0))
}
