/*
Copyright 2024 Sunogate Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package sunogate

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/sunogate/sunogate/config"
	"github.com/sunogate/sunogate/database"
	"github.com/sunogate/sunogate/internal/cache"
	"github.com/sunogate/sunogate/model"
	"github.com/sunogate/sunogate/suno"
)

// MockUpstream is a mock implementation of the suno.Upstream interface.
type MockUpstream struct {
	mock.Mock
}

func (m *MockUpstream) Authenticate(ctx context.Context, cookie string) (string, error) {
	args := m.Called(ctx, cookie)
	return args.String(0), args.Error(1)
}

func (m *MockUpstream) GetBalance(ctx context.Context, token string) (int, error) {
	args := m.Called(ctx, token)
	return args.Int(0), args.Error(1)
}

func (m *MockUpstream) SubmitGeneration(ctx context.Context, token string, req model.GenerationRequest) (*model.GenerationStart, error) {
	args := m.Called(ctx, token, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.GenerationStart), args.Error(1)
}

func (m *MockUpstream) PollFeed(ctx context.Context, token string, clipIDs []string) (*model.FeedSnapshot, error) {
	args := m.Called(ctx, token, clipIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.FeedSnapshot), args.Error(1)
}

// NewMemoryCache returns an in-process cache.Cache for tests that do not
// need a Redis instance.
func NewMemoryCache() cache.Cache {
	return newMemoryCache()
}

// memoryCache is an in-process cache.Cache for tests that do not need a
// Redis instance.
type memoryCache struct {
	mu      sync.Mutex
	entries map[string]interface{}
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: map[string]interface{}{}}
}

func (c *memoryCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = value
	return nil
}

func (c *memoryCache) Get(_ context.Context, key string, data interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.entries[key]; ok {
		if target, ok := data.(*string); ok {
			if s, ok := v.(string); ok {
				*target = s
			}
		}
	}
	return nil
}

func (c *memoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

// newTestService wires a Sunogate instance from test doubles.
func newTestService(ds database.IDataSource, upstream suno.Upstream, conf *config.Configuration) *Sunogate {
	config.MockConfig(conf)
	loaded, _ := config.Fetch()
	return &Sunogate{
		datasource:   ds,
		upstream:     upstream,
		cache:        newMemoryCache(),
		conf:         loaded,
		pollInterval: 5 * time.Millisecond,
		maxPollTime:  time.Second,
	}
}
