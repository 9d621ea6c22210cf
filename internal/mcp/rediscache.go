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
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/nexusgate/gateway/internal/logger"
)

const sessionKeyPrefix = "nexusgate:mcp-session:"

// RedisSessionCache is a sessionStore backed by Redis, letting multiple
// gateway replicas share downstream MCP session ids for the same
// agent instead of each replica re-running `initialize` on its first
// request. Grounded on platform/connectors/redis's go-redis client
// construction; a lookup miss or any Redis error is treated as a cache
// miss rather than a hard failure, since InitializeSession degrades
// gracefully to a fresh `initialize` call either way.
type RedisSessionCache struct {
	rdb *redis.Client
	ttl time.Duration
	log *logger.Logger
}

// NewRedisSessionCache parses redisURL (a redis:// connection string)
// and builds a client for it. No connection is opened here; only a
// malformed URL makes it fail.
func NewRedisSessionCache(redisURL string, ttl time.Duration) (*RedisSessionCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = defaultTimeout
	}
	return &RedisSessionCache{
		rdb: redis.NewClient(opts),
		ttl: ttl,
		log: logger.New("mcp-session-cache"),
	}, nil
}

func (c *RedisSessionCache) Get(ctx context.Context, agentID string) (string, bool) {
	val, err := c.rdb.Get(ctx, sessionKeyPrefix+agentID).Result()
	if err == redis.Nil {
		return "", false
	}
	if err != nil {
		c.log.Warn("", "redis session cache get failed", map[string]interface{}{"agent": agentID, "error": err.Error()})
		return "", false
	}
	return val, true
}

func (c *RedisSessionCache) Set(ctx context.Context, agentID, sessionID string) {
	if err := c.rdb.Set(ctx, sessionKeyPrefix+agentID, sessionID, c.ttl).Err(); err != nil {
		c.log.Warn("", "redis session cache set failed", map[string]interface{}{"agent": agentID, "error": err.Error()})
	}
}

func (c *RedisSessionCache) Delete(ctx context.Context, agentID string) {
	if err := c.rdb.Del(ctx, sessionKeyPrefix+agentID).Err(); err != nil {
		c.log.Warn("", "redis session cache delete failed", map[string]interface{}{"agent": agentID, "error": err.Error()})
	}
}

// Close releases the underlying Redis connection pool.
func (c *RedisSessionCache) Close() error {
	return c.rdb.Close()
}
