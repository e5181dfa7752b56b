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

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sunogate/sunogate/config"
	redis_db "github.com/sunogate/sunogate/internal/redis-db"

	"github.com/hibiken/asynq"
	"github.com/hibiken/asynqmon"
)

// refreshCredentials re-validates every cookie in the pool against the
// upstream billing endpoint and updates the stored balances.
func (b *sunogateInstance) refreshCredentials(ctx context.Context, t *asynq.Task) error {
	summary, err := b.sunogate.RefreshAll(ctx)
	if err != nil {
		logrus.Error(err)
		return err
	}

	log.Printf(" [*] Pool refreshed: %d updated, %d evicted, %d failed", summary.Refreshed, summary.Evicted, summary.Failed)
	return nil
}

// evictInvalidCredentials removes cookies that have been marked invalid
// since the last refresh pass.
func (b *sunogateInstance) evictInvalidCredentials(ctx context.Context, t *asynq.Task) error {
	evicted, err := b.sunogate.EvictInvalid(ctx)
	if err != nil {
		logrus.Error(err)
		return err
	}

	log.Printf(" [*] Evicted %d invalid cookies", evicted)
	return nil
}

// sweepStaleClaims releases credentials whose claims were never settled,
// usually because a generation worker died mid-flight.
func (b *sunogateInstance) sweepStaleClaims(ctx context.Context, t *asynq.Task) error {
	released, err := b.sunogate.SweepStaleClaims(ctx)
	if err != nil {
		logrus.Error(err)
		return err
	}

	if released > 0 {
		log.Printf(" [*] Released %d stale claims", released)
	}
	return nil
}

func initializeQueues() map[string]int {
	cfg, err := config.Fetch()
	if err != nil {
		log.Printf("Error fetching config, using defaults: %v", err)
		return nil
	}

	queues := make(map[string]int)
	queues[cfg.Queue.RefreshQueue] = 1
	queues[cfg.Queue.EvictQueue] = 1
	queues[cfg.Queue.SweepQueue] = 3
	return queues
}

func initializeWorkerServer(conf *config.Configuration, queues map[string]int) (*asynq.Server, error) {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns)
	if err != nil {
		return nil, fmt.Errorf("error parsing Redis URL: %v", err)
	}

	return asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:      redisOption.Addr,
			Password:  redisOption.Password,
			DB:        redisOption.DB,
			TLSConfig: redisOption.TLSConfig,
		},
		asynq.Config{
			Concurrency: 1,
			Queues:      queues,
		},
	), nil
}

func initializeTaskHandlers(b *sunogateInstance, mux *asynq.ServeMux) {
	cfg, err := config.Fetch()
	if err != nil {
		log.Printf("Error fetching config, using defaults: %v", err)
		return
	}

	mux.HandleFunc(cfg.Queue.RefreshQueue, b.refreshCredentials)
	mux.HandleFunc(cfg.Queue.EvictQueue, b.evictInvalidCredentials)
	mux.HandleFunc(cfg.Queue.SweepQueue, b.sweepStaleClaims)
}

// initializeScheduler registers the periodic maintenance tasks. The cron
// expressions come from the queue configuration.
func initializeScheduler(conf *config.Configuration, redisOpt asynq.RedisClientOpt) (*asynq.Scheduler, error) {
	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{})

	entries := []struct {
		cron  string
		queue string
	}{
		{conf.Queue.RefreshCron, conf.Queue.RefreshQueue},
		{conf.Queue.EvictCron, conf.Queue.EvictQueue},
		{conf.Queue.SweepCron, conf.Queue.SweepQueue},
	}

	for _, e := range entries {
		task := asynq.NewTask(e.queue, nil)
		if _, err := scheduler.Register(e.cron, task, asynq.Queue(e.queue)); err != nil {
			return nil, fmt.Errorf("error registering %s: %v", e.queue, err)
		}
	}

	return scheduler, nil
}

// workerCommands defines the "workers" command to start worker processes.
// The workers run the pool maintenance tasks: cookie refresh, eviction of
// invalid cookies, and stale claim sweeping.
func workerCommands(b *sunogateInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start sunogate workers",
		Run: func(cmd *cobra.Command, args []string) {
			conf, err := config.Fetch()
			if err != nil {
				log.Fatal("Error fetching config:", err)
			}

			queues := initializeQueues()

			srv, err := initializeWorkerServer(conf, queues)
			if err != nil {
				log.Fatal(err)
			}

			mux := asynq.NewServeMux()
			initializeTaskHandlers(b, mux)

			redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns)
			if err != nil {
				log.Fatal(err)
			}
			redisOpt := asynq.RedisClientOpt{
				Addr:      redisOption.Addr,
				Password:  redisOption.Password,
				DB:        redisOption.DB,
				TLSConfig: redisOption.TLSConfig,
			}

			scheduler, err := initializeScheduler(conf, redisOpt)
			if err != nil {
				log.Fatal(err)
			}
			go func() {
				if err := scheduler.Run(); err != nil {
					log.Fatalf("could not run scheduler: %v", err)
				}
			}()

			// Start asynqmon server for health checks and monitoring
			h := asynqmon.New(asynqmon.Options{
				RootPath:     "/monitoring",
				RedisConnOpt: redisOpt,
			})

			go func() {
				monitoringAddr := fmt.Sprintf(":%s", conf.Queue.MonitoringPort)
				log.Printf("Asynqmon server listening on %s/monitoring", monitoringAddr)
				if err := http.ListenAndServe(monitoringAddr, h); err != nil {
					log.Fatalf("could not start asynqmon server: %v", err)
				}
			}()

			if err := srv.Run(mux); err != nil {
				log.Fatalf("could not run server: %v", err)
			}
		},
	}

	return cmd
}
