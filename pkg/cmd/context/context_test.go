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

package context

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultContext(t *testing.T) {
	require.Equal(t, context.Background(), GetDefaultContext())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	SetDefaultContext(ctx)
	defer SetDefaultContext(context.Background())
	require.Equal(t, ctx, GetDefaultContext())
}
