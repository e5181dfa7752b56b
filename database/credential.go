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

package database

import (
	"context"
	"database/sql"
	"math/rand"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/sunogate/sunogate/internal/apierror"
	"github.com/sunogate/sunogate/model"
)

// ErrNoUsableCredential is returned by ClaimCredential when no row is both
// available and funded.
var ErrNoUsableCredential = errors.New("no usable credential in pool")

const credentialColumns = "secret, remaining_uses, status, claimed_at, last_touched, added_at"

// AddCredentials inserts the given secrets with the provided starting
// balance. A secret already in the pool has its balance overwritten and its
// claim state reset. Returns the number of rows written.
func (d Datasource) AddCredentials(ctx context.Context, secrets []string, remainingUses int) (int64, error) {
	if len(secrets) == 0 {
		return 0, nil
	}

	query := `
		INSERT INTO sunogate.credentials (secret, remaining_uses, status, last_touched, added_at)
		SELECT unnest($1::text[]), $2, $3, NOW(), NOW()
		ON CONFLICT (secret) DO UPDATE
		SET remaining_uses = EXCLUDED.remaining_uses,
		    status = EXCLUDED.status,
		    claimed_at = NULL,
		    last_touched = NOW()
	`

	status := model.StatusAvailable
	if remainingUses <= 0 {
		status = model.StatusExhausted
	}

	result, err := d.Conn.ExecContext(ctx, query, pq.Array(secrets), remainingUses, status)
	if err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to add credentials", err)
	}
	rows, _ := result.RowsAffected()
	return rows, nil
}

// UpdateCredential sets the balance of one credential.
func (d Datasource) UpdateCredential(ctx context.Context, secret string, remainingUses int) error {
	return d.SetRemainingUses(ctx, secret, remainingUses)
}

// DeleteCredential removes one credential from the pool.
func (d Datasource) DeleteCredential(ctx context.Context, secret string) error {
	result, err := d.Conn.ExecContext(ctx, `DELETE FROM sunogate.credentials WHERE secret = $1`, secret)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to delete credential", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, "Credential not found", secret)
	}
	return nil
}

// ClaimCredential atomically claims one usable credential, decrementing its
// balance in the same statement. SELECT FOR UPDATE SKIP LOCKED lets
// concurrent claimers pass over rows another transaction is taking, so two
// requests never receive the same row.
func (d Datasource) ClaimCredential(ctx context.Context) (*model.Credential, error) {
	query := `
		UPDATE sunogate.credentials
		SET status = $1, claimed_at = NOW(), remaining_uses = remaining_uses - 1, last_touched = NOW()
		WHERE id IN (
			SELECT id FROM sunogate.credentials
			WHERE status = $2 AND remaining_uses > 0
			ORDER BY RANDOM()
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + credentialColumns

	var cred model.Credential
	err := d.withRetry(ctx, func() error {
		row := d.Conn.QueryRowContext(ctx, query, model.StatusClaimed, model.StatusAvailable)
		return scanCredential(row, &cred)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoUsableCredential
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to claim credential", err)
	}
	return &cred, nil
}

// ReleaseCredential returns a claimed credential to the pool. A drained row
// goes to exhausted instead of available. Releasing a row that is not
// claimed is a no-op, so double release after a retry is harmless.
func (d Datasource) ReleaseCredential(ctx context.Context, secret string) error {
	query := `
		UPDATE sunogate.credentials
		SET status = CASE WHEN remaining_uses > 0 THEN $1 ELSE $2 END,
		    claimed_at = NULL,
		    last_touched = NOW()
		WHERE secret = $3 AND status = $4
	`
	_, err := d.Conn.ExecContext(ctx, query, model.StatusAvailable, model.StatusExhausted, secret, model.StatusClaimed)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to release credential", err)
	}
	return nil
}

// SetRemainingUses overwrites a credential's balance, typically after a
// refresh asked the upstream how many generations are actually left. A
// claimed row keeps its claim; its status settles on release.
func (d Datasource) SetRemainingUses(ctx context.Context, secret string, remainingUses int) error {
	query := `
		UPDATE sunogate.credentials
		SET remaining_uses = $1,
		    status = CASE WHEN status = $2 THEN status
		                  WHEN $1 > 0 THEN $3
		                  ELSE $4 END,
		    last_touched = NOW()
		WHERE secret = $5
	`
	result, err := d.Conn.ExecContext(ctx, query,
		remainingUses, model.StatusClaimed, model.StatusAvailable, model.StatusExhausted, secret)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update credential balance", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, "Credential not found", secret)
	}
	return nil
}

// AdjustBalance applies a signed delta to a credential's balance. The
// result is clamped at zero so a large negative delta cannot push the row
// below empty. A claimed row keeps its claim; its status settles on
// release.
func (d Datasource) AdjustBalance(ctx context.Context, secret string, delta int) error {
	query := `
		UPDATE sunogate.credentials
		SET remaining_uses = GREATEST(remaining_uses + $1, 0),
		    status = CASE WHEN status = $2 THEN status
		                  WHEN remaining_uses + $1 > 0 THEN $3
		                  ELSE $4 END,
		    last_touched = NOW()
		WHERE secret = $5
	`
	result, err := d.Conn.ExecContext(ctx, query,
		delta, model.StatusClaimed, model.StatusAvailable, model.StatusExhausted, secret)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to adjust credential balance", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, "Credential not found", secret)
	}
	return nil
}

// GetCredential retrieves one credential by secret.
func (d Datasource) GetCredential(ctx context.Context, secret string) (*model.Credential, error) {
	row := d.Conn.QueryRowContext(ctx,
		`SELECT `+credentialColumns+` FROM sunogate.credentials WHERE secret = $1`, secret)

	var cred model.Credential
	if err := scanCredential(row, &cred); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "Credential not found", secret)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get credential", err)
	}
	return &cred, nil
}

// GetAllCredentials retrieves every credential in the pool, newest first.
func (d Datasource) GetAllCredentials(ctx context.Context) ([]model.Credential, error) {
	return d.queryCredentials(ctx,
		`SELECT `+credentialColumns+` FROM sunogate.credentials ORDER BY added_at DESC`)
}

// GetExhaustedCredentials retrieves credentials with no balance left.
func (d Datasource) GetExhaustedCredentials(ctx context.Context) ([]model.Credential, error) {
	return d.queryCredentials(ctx,
		`SELECT `+credentialColumns+` FROM sunogate.credentials WHERE remaining_uses <= 0 OR status = $1`,
		model.StatusExhausted)
}

func (d Datasource) queryCredentials(ctx context.Context, query string, args ...interface{}) ([]model.Credential, error) {
	rows, err := d.Conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to query credentials", err)
	}
	defer func() { _ = rows.Close() }()

	var creds []model.Credential
	for rows.Next() {
		var cred model.Credential
		if err := scanCredential(rows, &cred); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan credential", err)
		}
		creds = append(creds, cred)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to iterate credentials", err)
	}
	return creds, nil
}

// GetPoolStats aggregates the remaining balance across the pool together
// with valid and invalid credential counts.
func (d Datasource) GetPoolStats(ctx context.Context) (*model.PoolStats, error) {
	query := `
		SELECT COALESCE(SUM(GREATEST(remaining_uses, 0)), 0),
		       COUNT(*) FILTER (WHERE remaining_uses > 0),
		       COUNT(*) FILTER (WHERE remaining_uses <= 0)
		FROM sunogate.credentials
	`
	var stats model.PoolStats
	err := d.Conn.QueryRowContext(ctx, query).Scan(&stats.TotalRemaining, &stats.ValidCount, &stats.InvalidCount)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to aggregate pool stats", err)
	}
	return &stats, nil
}

// ReleaseStaleClaims frees claims older than the threshold. A crashed
// request leaves its row claimed forever otherwise. Returns the number of
// rows freed.
func (d Datasource) ReleaseStaleClaims(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	query := `
		UPDATE sunogate.credentials
		SET status = CASE WHEN remaining_uses > 0 THEN $1 ELSE $2 END,
		    claimed_at = NULL,
		    last_touched = NOW()
		WHERE status = $3 AND claimed_at < $4
	`
	result, err := d.Conn.ExecContext(ctx, query,
		model.StatusAvailable, model.StatusExhausted, model.StatusClaimed, cutoff)
	if err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to release stale claims", err)
	}
	freed, _ := result.RowsAffected()
	if freed > 0 {
		logrus.WithField("count", freed).Warn("released stale credential claims")
	}
	return freed, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCredential(row rowScanner, cred *model.Credential) error {
	var claimedAt sql.NullTime
	err := row.Scan(
		&cred.Secret,
		&cred.RemainingUses,
		&cred.Status,
		&claimedAt,
		&cred.LastTouched,
		&cred.AddedAt,
	)
	if err != nil {
		return err
	}
	if claimedAt.Valid {
		cred.ClaimedAt = &claimedAt.Time
	}
	return nil
}

const (
	retryAttempts  = 3
	retryBaseDelay = 50 * time.Millisecond
)

// withRetry reruns fn on serialization failures and deadlocks with a short
// jittered delay between attempts.
func (d Datasource) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		err = fn()
		if err == nil || !isRetriable(err) {
			return err
		}

		delay := retryBaseDelay<<uint(attempt) + time.Duration(rand.Int63n(int64(retryBaseDelay)))
		logrus.WithError(err).WithField("attempt", attempt+1).Warn("retrying credential store operation")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

func isRetriable(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// serialization_failure and deadlock_detected
		return pqErr.Code == "40001" || pqErr.Code == "40P01"
	}
	return false
}
