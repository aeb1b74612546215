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


package uuid

import (
	"fmt"
	"sync"
)

// MockGenerator returns the pushed ids in order. Once they are used up it
// falls back to sequential ids with the given prefix.
type MockGenerator struct {
	mu     sync.Mutex
	list   []string
	prefix string
	seq    int
}

// NewMock creates a MockGenerator whose fallback ids look like "mock-1".
func NewMock() *MockGenerator {
	return &MockGenerator{prefix: "mock"}
}

// NewString implements Generator.
func (g *MockGenerator) NewString() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.list) > 0 {
		ret := g.list[0]
		g.list = g.list[1:]
		return ret
	}
	g.seq++
	return fmt.Sprintf("%s-%d", g.prefix, g.seq)
}

// Push appends ids to be returned by NewString.
func (g *MockGenerator) Push(ids ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.list = append(g.list, ids...)
}
