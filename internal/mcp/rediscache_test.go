// Copyright 2025 NexusGate
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mcp

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func newTestRedisCache(t *testing.T) *RedisSessionCache {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	cache, err := NewRedisSessionCache("redis://"+mr.Addr(), time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })
	return cache
}

func TestRedisSessionCacheRoundTrip(t *testing.T) {
	cache := newTestRedisCache(t)
	ctx := context.Background()

	_, ok := cache.Get(ctx, "agent-1")
	require.False(t, ok)

	cache.Set(ctx, "agent-1", "sess-abc")
	id, ok := cache.Get(ctx, "agent-1")
	require.True(t, ok)
	require.Equal(t, "sess-abc", id)

	cache.Delete(ctx, "agent-1")
	_, ok = cache.Get(ctx, "agent-1")
	require.False(t, ok)
}

func TestClientWithRedisSessionStoreSharesSessionAcrossClients(t *testing.T) {
	cache := newTestRedisCache(t)

	clientA := NewWithSessionStore(time.Second, nil, cache)
	clientB := NewWithSessionStore(time.Second, nil, cache)

	ctx := context.Background()
	cache.Set(ctx, "agent-1", "sess-shared")

	idA, ok := clientA.cachedSession(ctx, "agent-1")
	require.True(t, ok)
	idB, ok := clientB.cachedSession(ctx, "agent-1")
	require.True(t, ok)
	require.Equal(t, idA, idB)
}
