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

// Package sunogate exposes the Suno.ai music generator through an
// OpenAI-compatible chat-completions surface, multiplexing requests over
// a pool of scraped session credentials kept in Postgres.
package sunogate

import (
	"embed"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sunogate/sunogate/config"
	"github.com/sunogate/sunogate/database"
	"github.com/sunogate/sunogate/internal/cache"
	redis_db "github.com/sunogate/sunogate/internal/redis-db"
	"github.com/sunogate/sunogate/suno"
)

// Sunogate represents the main struct for the application.
type Sunogate struct {
	datasource database.IDataSource
	upstream   suno.Upstream
	cache      cache.Cache
	redis      redis.UniversalClient
	conf       *config.Configuration

	// polling knobs, taken from config on construction
	pollInterval time.Duration
	maxPollTime  time.Duration
}

//go:embed sql/*.sql
var SQLFiles embed.FS

// NewSunogate initializes a new instance of Sunogate with the provided
// database datasource. It fetches the configuration and wires the Redis
// client, token cache, and upstream API client.
func NewSunogate(db database.IDataSource) (*Sunogate, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	redisClient, err := redis_db.NewRedisClient(configuration.Redis.Dns)
	if err != nil {
		return nil, err
	}
	tokenCache, err := cache.NewCache()
	if err != nil {
		return nil, err
	}
	newSunogate := &Sunogate{
		datasource:   db,
		upstream:     suno.NewClient(configuration),
		cache:        tokenCache,
		redis:        redisClient.Client(),
		conf:         configuration,
		pollInterval: configuration.PollInterval(),
		maxPollTime:  configuration.MaxTime(),
	}
	return newSunogate, nil
}

// NewWithDeps wires a Sunogate from explicit dependencies. It backs both
// NewSunogate and test setups that substitute the upstream or the store.
func NewWithDeps(db database.IDataSource, upstream suno.Upstream, tokenCache cache.Cache, configuration *config.Configuration) *Sunogate {
	return &Sunogate{
		datasource:   db,
		upstream:     upstream,
		cache:        tokenCache,
		conf:         configuration,
		pollInterval: configuration.PollInterval(),
		maxPollTime:  configuration.MaxTime(),
	}
}

// Config returns the loaded configuration.
func (s *Sunogate) Config() *config.Configuration {
	return s.conf
}
