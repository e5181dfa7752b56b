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

package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "8000"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	SSL     bool   `json:"ssl" envconfig:"SUNOGATE_SERVER_SSL"`
	Domain  string `json:"domain" envconfig:"SUNOGATE_SERVER_SSL_DOMAIN"`
	Email   string `json:"ssl_email" envconfig:"SUNOGATE_SERVER_SSL_EMAIL"`
	Port    string `json:"port" envconfig:"SUNOGATE_SERVER_PORT"`
	AuthKey string `json:"auth_key" envconfig:"SUNOGATE_AUTH_KEY"`
	// Prefix prepended to the cookie admin routes, e.g. "/admin".
	RoutePrefix string `json:"route_prefix" envconfig:"SUNOGATE_ROUTE_PREFIX"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"SUNOGATE_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns string `json:"dns" envconfig:"SUNOGATE_REDIS_DNS"`
}

// UpstreamConfig holds the endpoints and secrets for the music generation
// service and the captcha solver. Everything here is owned by the upstream
// and may change without notice, which is why it is configurable.
type UpstreamConfig struct {
	BaseURL      string `json:"base_url" envconfig:"SUNOGATE_UPSTREAM_BASE_URL"`
	ClerkBaseURL string `json:"clerk_base_url" envconfig:"SUNOGATE_UPSTREAM_CLERK_BASE_URL"`
	CapsolverKey string `json:"capsolver_key" envconfig:"SUNOGATE_CAPSOLVER_KEY"`
	CapsolverURL string `json:"capsolver_url" envconfig:"SUNOGATE_CAPSOLVER_URL"`
}

// GenerationConfig controls the polling state machine for a single job.
type GenerationConfig struct {
	Retries             int `json:"retries" envconfig:"SUNOGATE_RETRIES"`
	MaxTimeMinutes      int `json:"max_time_minutes" envconfig:"SUNOGATE_MAX_TIME"`
	PollIntervalSeconds int `json:"poll_interval_seconds" envconfig:"SUNOGATE_POLL_INTERVAL_SECONDS"`
}

// PoolConfig controls credential pool maintenance.
type PoolConfig struct {
	RefreshBatchSize       int `json:"refresh_batch_size" envconfig:"SUNOGATE_BATCH_SIZE"`
	StaleClaimThresholdMin int `json:"stale_claim_threshold_minutes" envconfig:"SUNOGATE_STALE_CLAIM_THRESHOLD_MINUTES"`
}

type QueueConfig struct {
	RefreshQueue   string `json:"refresh_queue" envconfig:"SUNOGATE_QUEUE_REFRESH"`
	EvictQueue     string `json:"evict_queue" envconfig:"SUNOGATE_QUEUE_EVICT"`
	SweepQueue     string `json:"sweep_queue" envconfig:"SUNOGATE_QUEUE_SWEEP"`
	RefreshCron    string `json:"refresh_cron" envconfig:"SUNOGATE_REFRESH_CRON"`
	EvictCron      string `json:"evict_cron" envconfig:"SUNOGATE_EVICT_CRON"`
	SweepCron      string `json:"sweep_cron" envconfig:"SUNOGATE_SWEEP_CRON"`
	MonitoringPort string `json:"monitoring_port" envconfig:"SUNOGATE_QUEUE_MONITORING_PORT"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"SUNOGATE_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"SUNOGATE_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"SUNOGATE_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type Configuration struct {
	ProjectName string           `json:"project_name" envconfig:"SUNOGATE_PROJECT_NAME"`
	Server      ServerConfig     `json:"server"`
	DataSource  DataSourceConfig `json:"data_source"`
	Redis       RedisConfig      `json:"redis"`
	Upstream    UpstreamConfig   `json:"upstream"`
	Generation  GenerationConfig `json:"generation"`
	Pool        PoolConfig       `json:"pool"`
	Queue       QueueConfig      `json:"queue"`
	RateLimit   RateLimitConfig  `json:"rate_limit"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}
	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("sunogate", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called sunogate.json with your config ❌")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		cnf.ProjectName = "Sunogate Server"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	if cnf.Server.AuthKey == "" {
		log.Println("Error: Auth key is empty. It's a required field.")
		return errors.New("auth key is required")
	}

	// Trim white spaces from fields
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.Server.RoutePrefix = strings.TrimSuffix(strings.TrimSpace(cnf.Server.RoutePrefix), "/")
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)

	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	if cnf.Upstream.BaseURL == "" {
		cnf.Upstream.BaseURL = "https://studio-api.prod.suno.com"
	}
	if cnf.Upstream.ClerkBaseURL == "" {
		cnf.Upstream.ClerkBaseURL = "https://clerk.suno.com"
	}
	if cnf.Upstream.CapsolverURL == "" {
		cnf.Upstream.CapsolverURL = "https://api.capsolver.com"
	}

	if cnf.Generation.Retries <= 0 {
		cnf.Generation.Retries = 3
	}
	if cnf.Generation.MaxTimeMinutes <= 0 {
		cnf.Generation.MaxTimeMinutes = 5
	}
	if cnf.Generation.PollIntervalSeconds <= 0 {
		cnf.Generation.PollIntervalSeconds = 3
	}

	if cnf.Pool.RefreshBatchSize <= 0 {
		cnf.Pool.RefreshBatchSize = 20
	}
	if cnf.Pool.StaleClaimThresholdMin <= 0 {
		cnf.Pool.StaleClaimThresholdMin = 15
	}

	if cnf.Queue.RefreshQueue == "" {
		cnf.Queue.RefreshQueue = "credentials:refresh"
	}
	if cnf.Queue.EvictQueue == "" {
		cnf.Queue.EvictQueue = "credentials:evict"
	}
	if cnf.Queue.SweepQueue == "" {
		cnf.Queue.SweepQueue = "credentials:sweep"
	}
	if cnf.Queue.RefreshCron == "" {
		// nightly balance refresh, same hour the cookie farm rotates
		cnf.Queue.RefreshCron = "0 3 * * *"
	}
	if cnf.Queue.EvictCron == "" {
		cnf.Queue.EvictCron = "30 3 * * *"
	}
	if cnf.Queue.SweepCron == "" {
		cnf.Queue.SweepCron = "*/10 * * * *"
	}
	if cnf.Queue.MonitoringPort == "" {
		cnf.Queue.MonitoringPort = "5004"
	}

	// Rate limiting is disabled by default (when both RPS and Burst are nil)
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
		log.Printf("Warning: Rate limit burst not specified. Setting default value: %d", defaultBurst)
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
		log.Printf("Warning: Rate limit RPS not specified. Setting default value: %.2f", defaultRPS)
	}
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800 // 3 hours in seconds
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	return nil
}

// MaxTime returns the per-job polling wall clock cap.
func (cnf *Configuration) MaxTime() time.Duration {
	return time.Duration(cnf.Generation.MaxTimeMinutes) * time.Minute
}

// PollInterval returns the delay between feed polls within one job.
func (cnf *Configuration) PollInterval() time.Duration {
	return time.Duration(cnf.Generation.PollIntervalSeconds) * time.Second
}

// StaleClaimThreshold returns the age past which a claimed credential is
// considered abandoned by a crashed job.
func (cnf *Configuration) StaleClaimThreshold() time.Duration {
	return time.Duration(cnf.Pool.StaleClaimThresholdMin) * time.Minute
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	_ = mockConfig.validateAndAddDefaults()
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
