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
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/sunogate/sunogate/database"
	"github.com/sunogate/sunogate/internal/apierror"
	redlock "github.com/sunogate/sunogate/internal/lock"
	"github.com/sunogate/sunogate/model"
	"github.com/sunogate/sunogate/suno"
)

const (
	// claimAttempts bounds how many dead credentials one request may churn
	// through before giving up.
	claimAttempts = 3

	// tokenTTL keeps verified session tokens slightly under the upstream
	// JWT lifetime so a cached token is never served expired.
	tokenTTL = 45 * time.Second

	// refreshLockTTL caps how long a refresh pass may hold the pool lock
	// before another worker is allowed to take over.
	refreshLockTTL = 5 * time.Minute
)

// RefreshSummary reports the outcome of a pool-wide balance refresh.
type RefreshSummary struct {
	Refreshed int `json:"refreshed"`
	Evicted   int `json:"evicted"`
	Failed    int `json:"failed"`
}

// ClaimCredential claims one usable credential and returns it together
// with a verified session token. The upstream balance is checked before the
// credential is handed out; a cookie with no live session or no credits
// left is evicted on the spot and the claim moves on to the next row.
func (s *Sunogate) ClaimCredential(ctx context.Context) (*model.Credential, string, error) {
	for attempt := 0; attempt < claimAttempts; attempt++ {
		cred, err := s.datasource.ClaimCredential(ctx)
		if err != nil {
			if errors.Is(err, database.ErrNoUsableCredential) {
				return nil, "", apierror.NewAPIError(apierror.ErrPoolExhausted, "No usable credentials in the pool", err)
			}
			return nil, "", err
		}

		token, err := s.sessionToken(ctx, cred.Secret)
		if err == nil {
			var balance int
			balance, err = s.upstream.GetBalance(ctx, token)
			if err == nil {
				if balance > 0 {
					return cred, token, nil
				}
				// the stored balance was stale; drain the row and move on
				logrus.WithField("secret", tokenCacheKey(cred.Secret)).Warn("claimed credential is out of credits")
				if drainErr := s.datasource.SetRemainingUses(ctx, cred.Secret, 0); drainErr != nil {
					logrus.WithError(drainErr).Error("failed to drain credential balance")
				}
				s.releaseQuietly(ctx, cred.Secret)
				continue
			}
		}

		logrus.WithError(err).Warn("claimed credential failed verification, evicting")
		s.invalidateToken(ctx, cred.Secret)
		if evictErr := s.EvictCredential(ctx, cred.Secret); evictErr != nil {
			logrus.WithError(evictErr).Error("failed to evict dead credential")
		}
	}
	return nil, "", apierror.NewAPIError(apierror.ErrPoolExhausted, "Every claimed credential failed verification", nil)
}

// ReleaseCredential returns a claimed credential to the pool.
func (s *Sunogate) ReleaseCredential(ctx context.Context, secret string) error {
	return s.datasource.ReleaseCredential(ctx, secret)
}

// UpdateCredential overwrites one credential's stored balance.
func (s *Sunogate) UpdateCredential(ctx context.Context, secret string, remainingUses int) error {
	return s.datasource.SetRemainingUses(ctx, secret, remainingUses)
}

// AdjustCredential applies a signed delta to one credential's stored
// balance.
func (s *Sunogate) AdjustCredential(ctx context.Context, secret string, delta int) error {
	return s.datasource.AdjustBalance(ctx, secret, delta)
}

// EvictCredential removes a credential and its cached session token.
func (s *Sunogate) EvictCredential(ctx context.Context, secret string) error {
	if err := s.cache.Delete(ctx, tokenCacheKey(secret)); err != nil {
		logrus.WithError(err).Warn("failed to drop cached session token")
	}
	return s.datasource.DeleteCredential(ctx, secret)
}

// AddCookies verifies each cookie against the upstream and stores the ones
// that map to a live session with their actual generation balance. Returns
// the number of cookies admitted to the pool.
func (s *Sunogate) AddCookies(ctx context.Context, cookies []string) (int, error) {
	added := 0
	for _, cookie := range cookies {
		balance, err := s.fetchBalance(ctx, cookie)
		if err != nil {
			logrus.WithError(err).Warn("rejected cookie during intake")
			continue
		}
		if _, err := s.datasource.AddCredentials(ctx, []string{cookie}, balance); err != nil {
			return added, err
		}
		added++
	}
	return added, nil
}

// RefreshAll re-checks the balance of every credential in the pool against
// the upstream. Credentials that fail verification are evicted. The pool is
// walked with a bounded number of concurrent workers so a large pool does
// not hammer the identity service.
func (s *Sunogate) RefreshAll(ctx context.Context) (*RefreshSummary, error) {
	if s.redis != nil {
		locker := redlock.NewLocker(s.redis, "credential-pool-refresh", uuid.New().String())
		if err := locker.Lock(ctx, refreshLockTTL); err != nil {
			return nil, errors.Wrap(err, "refresh already in progress")
		}
		defer func() {
			if err := locker.Unlock(context.Background()); err != nil {
				logrus.WithError(err).Error("failed to release refresh lock")
			}
		}()
	}

	creds, err := s.datasource.GetAllCredentials(ctx)
	if err != nil {
		return nil, err
	}

	var (
		summary RefreshSummary
		mu      sync.Mutex
		wg      sync.WaitGroup
	)
	sem := make(chan struct{}, s.conf.Pool.RefreshBatchSize)

	for i := range creds {
		cred := creds[i]
		if cred.Status == model.StatusClaimed {
			// a claim in flight settles its own balance on release
			continue
		}

		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			balance, err := s.fetchBalance(ctx, cred.Secret)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				// only a cookie with no live session is gone for good; a
				// billing blip parks the row at -1 for the evict pass
				if errors.Is(err, suno.ErrSessionInvalid) {
					if evictErr := s.EvictCredential(ctx, cred.Secret); evictErr != nil {
						logrus.WithError(evictErr).Error("failed to evict credential during refresh")
						return
					}
					summary.Evicted++
					return
				}
				logrus.WithError(err).Warn("balance check failed during refresh")
				if parkErr := s.datasource.SetRemainingUses(ctx, cred.Secret, -1); parkErr != nil {
					logrus.WithError(parkErr).Error("failed to park unverified credential")
					return
				}
				summary.Failed++
				return
			}
			if err := s.datasource.SetRemainingUses(ctx, cred.Secret, balance); err != nil {
				logrus.WithError(err).Error("failed to store refreshed balance")
				return
			}
			summary.Refreshed++
		}()
	}
	wg.Wait()

	logrus.WithFields(logrus.Fields{
		"refreshed": summary.Refreshed,
		"evicted":   summary.Evicted,
		"failed":    summary.Failed,
	}).Info("credential pool refreshed")
	return &summary, nil
}

// EvictInvalid removes every credential with no balance left. Returns the
// number of rows removed.
func (s *Sunogate) EvictInvalid(ctx context.Context) (int, error) {
	creds, err := s.datasource.GetExhaustedCredentials(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	for i := range creds {
		if err := s.EvictCredential(ctx, creds[i].Secret); err != nil {
			logrus.WithError(err).Error("failed to evict exhausted credential")
			continue
		}
		removed++
	}
	return removed, nil
}

// SweepStaleClaims frees claims held longer than the configured threshold.
func (s *Sunogate) SweepStaleClaims(ctx context.Context) (int64, error) {
	return s.datasource.ReleaseStaleClaims(ctx, s.conf.StaleClaimThreshold())
}

// PoolStats returns the aggregate state of the credential pool.
func (s *Sunogate) PoolStats(ctx context.Context) (*model.PoolStats, error) {
	return s.datasource.GetPoolStats(ctx)
}

// GetAllCredentials lists every credential in the pool.
func (s *Sunogate) GetAllCredentials(ctx context.Context) ([]model.Credential, error) {
	return s.datasource.GetAllCredentials(ctx)
}

// sessionToken returns a verified session token for the cookie, served
// from cache when a fresh one is already known.
func (s *Sunogate) sessionToken(ctx context.Context, secret string) (string, error) {
	key := tokenCacheKey(secret)

	var token string
	if err := s.cache.Get(ctx, key, &token); err == nil && token != "" {
		return token, nil
	}

	token, err := s.upstream.Authenticate(ctx, secret)
	if err != nil {
		return "", err
	}
	if err := s.cache.Set(ctx, key, token, tokenTTL); err != nil {
		logrus.WithError(err).Warn("failed to cache session token")
	}
	return token, nil
}

// invalidateToken drops a cached token the upstream has stopped accepting.
func (s *Sunogate) invalidateToken(ctx context.Context, secret string) {
	if err := s.cache.Delete(ctx, tokenCacheKey(secret)); err != nil {
		logrus.WithError(err).Warn("failed to invalidate session token")
	}
}

// fetchBalance authenticates a cookie and asks the upstream how many
// generations it has left.
func (s *Sunogate) fetchBalance(ctx context.Context, secret string) (int, error) {
	token, err := s.upstream.Authenticate(ctx, secret)
	if err != nil {
		return -1, err
	}
	return s.upstream.GetBalance(ctx, token)
}

func tokenCacheKey(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return "session-token:" + hex.EncodeToString(sum[:8])
}
