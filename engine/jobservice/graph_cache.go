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
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pingcap/buildflow/engine/model"
	"github.com/pingcap/buildflow/engine/pkg/orm"
	"github.com/pingcap/buildflow/pkg/errors"
)

// graphCache keeps decoded graphs by hash. Graphs are immutable, so every
// caller shares the cached instance.
type graphCache struct {
	store orm.GraphClient
	cache *lru.Cache

	// loadMu makes concurrent misses of one hash load it only once
	loadMu sync.Mutex
}

func newGraphCache(store orm.GraphClient, size int) (*graphCache, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, errors.ErrInvalidArgument.Wrap(err).GenWithStackByArgs("graph cache size")
	}
	return &graphCache{store: store, cache: cache}, nil
}

func (c *graphCache) get(ctx context.Context, hash string) (*model.Graph, error) {
	if v, ok := c.cache.Get(hash); ok {
		graphCacheCounter.WithLabelValues("hit").Inc()
		return v.(*model.Graph), nil
	}

	c.loadMu.Lock()
	defer c.loadMu.Unlock()
	if v, ok := c.cache.Get(hash); ok {
		graphCacheCounter.WithLabelValues("hit").Inc()
		return v.(*model.Graph), nil
	}
	graphCacheCounter.WithLabelValues("miss").Inc()

	graph, err := c.store.GetGraphByHash(ctx, hash)
	if err != nil {
		if orm.IsNotFoundError(err) {
			return nil, errors.ErrGraphNotFound.Wrap(err).GenWithStackByArgs(hash)
		}
		return nil, err
	}
	c.cache.Add(hash, graph)
	return graph, nil
}

// put stores the graph and caches it. A graph already cached under the same
// hash is kept and returned.
func (c *graphCache) put(ctx context.Context, graph *model.Graph) (*model.Graph, error) {
	if v, ok := c.cache.Get(graph.Hash); ok {
		return v.(*model.Graph), nil
	}
	if err := c.store.UpsertGraph(ctx, graph); err != nil {
		return nil, err
	}

	c.loadMu.Lock()
	defer c.loadMu.Unlock()
	if v, ok := c.cache.Get(graph.Hash); ok {
		return v.(*model.Graph), nil
	}
	c.cache.Add(graph.Hash, graph)
	return graph, nil
}
