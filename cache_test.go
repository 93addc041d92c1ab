// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package iocdb

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResultCacheGetPut(t *testing.T) {
	c, err := newResultCache(2)
	require.NoError(t, err)

	_, ok := c.get([]byte("k1"))
	require.False(t, ok)

	want := QueryResult{Kind: IPResult, PrefixLen: 24}
	c.put([]byte("k1"), want)
	got, ok := c.get([]byte("k1"))
	require.True(t, ok)
	require.Equal(t, want, got)
}

func TestResultCacheEvictsOldestBeyondCapacity(t *testing.T) {
	c, err := newResultCache(1)
	require.NoError(t, err)

	c.put([]byte("k1"), QueryResult{Kind: IPResult})
	c.put([]byte("k2"), QueryResult{Kind: PatternResult})

	_, ok := c.get([]byte("k1"))
	require.False(t, ok, "capacity-1 cache must have evicted the first entry")

	_, ok = c.get([]byte("k2"))
	require.True(t, ok)
}
