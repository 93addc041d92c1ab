// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package iocdb

import (
	lru "github.com/hashicorp/golang-lru"
)

// resultCache is the optional bounded cache of recent LookupString/
// LookupBytes results. A zero CacheCapacity means Database never
// constructs one, so the no-cache path
// carries no lock or map at all. lru.Cache is already safe for concurrent
// use, so no additional locking is needed here.
type resultCache struct {
	c *lru.Cache
}

func newResultCache(capacity int) (*resultCache, error) {
	c, err := lru.New(capacity)
	if err != nil {
		return nil, err
	}
	return &resultCache{c: c}, nil
}

func (r *resultCache) get(key []byte) (QueryResult, bool) {
	v, ok := r.c.Get(string(key))
	if !ok {
		return QueryResult{}, false
	}
	return v.(QueryResult), true
}

func (r *resultCache) put(key []byte, v QueryResult) {
	r.c.Add(string(key), v)
}
