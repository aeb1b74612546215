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
	"sync"
)

var (
	defaultContextMu sync.RWMutex
	defaultContext   = context.Background()
)

// SetDefaultContext sets the context shared by the commands of one process.
func SetDefaultContext(ctx context.Context) {
	defaultContextMu.Lock()
	defer defaultContextMu.Unlock()
	defaultContext = ctx
}

// GetDefaultContext returns the context set by SetDefaultContext, or
// context.Background if none was set.
func GetDefaultContext() context.Context {
	defaultContextMu.RLock()
	defer defaultContextMu.RUnlock()
	return defaultContext
}
